package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"rplportal/models"
)

// ErrEmailTaken возвращается, если email уже зарегистрирован
var ErrEmailTaken = errors.New("пользователь с таким email уже существует")

type UserService struct {
	users UserStore
}

type CreateUserRequest struct {
	FirstName string      `json:"firstName" validate:"required,min=1,max=50"`
	LastName  string      `json:"lastName" validate:"required,min=1,max=50"`
	Email     string      `json:"email" validate:"required,email,max=100"`
	Phone     string      `json:"phone" validate:"max=32"`
	Password  string      `json:"password" validate:"required,min=8"`
	Role      models.Role `json:"role"`
	AgentID   string      `json:"agentId"`
}

type UserResponse struct {
	ID        string      `json:"id"`
	FirstName string      `json:"firstName"`
	LastName  string      `json:"lastName"`
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
}

func NewUserService(users UserStore) *UserService {
	return &UserService{users: users}
}

// ToResponse превращает пользователя в ответ без чувствительных полей
func ToResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Role:      u.Role,
	}
}

// CreateUser создает нового пользователя
func (s *UserService) CreateUser(ctx context.Context, req CreateUserRequest) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	// Проверяем, существует ли пользователь с таким email
	if _, err := s.users.FindUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	// Хешируем пароль
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	role := req.Role
	if role == "" {
		role = models.RoleCustomer
	}

	user := &models.User{
		ID:        uuid.NewString(),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Email:     email,
		Phone:     req.Phone,
		Password:  string(hashedPassword),
		Role:      role,
		AgentID:   req.AgentID,
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

// Authenticate проверяет email и пароль
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.users.FindUserByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// GetUser ищет пользователя по ID
func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.users.GetUser(ctx, id)
}
