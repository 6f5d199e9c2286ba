package controllers

import (
	"net/http"
	"regexp"

	"github.com/go-playground/validator/v10"

	"rplportal/middleware"
	"rplportal/models"
	"rplportal/services"
)

type AuthController struct {
	users     *services.UserService
	twoFactor *services.TwoFactorService
	tokens    *services.TokenService
	validate  *validator.Validate
}

type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type SignUpRequest struct {
	FirstName string `json:"firstName" validate:"required,min=1,max=50"`
	LastName  string `json:"lastName" validate:"required,min=1,max=50"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone" validate:"max=32"`
	Password  string `json:"password" validate:"required,min=8,password"`
}

type VerifyTwoFactorRequest struct {
	UserID string `json:"userId" validate:"required"`
	Code   string `json:"code" validate:"required,len=6,numeric"`
}

type ExchangeTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

type AuthResponse struct {
	Token string                 `json:"token"`
	User  services.UserResponse `json:"user"`
}

func NewAuthController(users *services.UserService, twoFactor *services.TwoFactorService, tokens *services.TokenService) *AuthController {
	validate := validator.New()

	// Регистрация кастомной валидации для пароля
	var (
		hasNumber  = regexp.MustCompile(`[0-9]`)
		hasUpper   = regexp.MustCompile(`[A-Z]`)
		hasLower   = regexp.MustCompile(`[a-z]`)
		hasSpecial = regexp.MustCompile(`[!@#$%^&*]`)
	)
	validate.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		password := fl.Field().String()
		return hasNumber.MatchString(password) && hasUpper.MatchString(password) &&
			hasLower.MatchString(password) && hasSpecial.MatchString(password)
	})

	return &AuthController{
		users:     users,
		twoFactor: twoFactor,
		tokens:    tokens,
		validate:  validate,
	}
}

func (c *AuthController) SignUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Валидация запроса
	if err := c.validate.Struct(req); err != nil {
		writeError(w, err)
		return
	}

	user, err := c.users.CreateUser(r.Context(), services.CreateUserRequest{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Password:  req.Password,
		Role:      models.RoleCustomer,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := c.tokens.IssueSessionToken(user)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, AuthResponse{Token: token, User: services.ToResponse(user)})
}

// SignIn проверяет пароль и отправляет код второго фактора
func (c *AuthController) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := c.validate.Struct(req); err != nil {
		writeError(w, err)
		return
	}

	user, err := c.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := c.twoFactor.Issue(r.Context(), user); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"userId":            user.ID,
		"twoFactorRequired": true,
	})
}

// VerifyTwoFactor проверяет код и выдает токен сессии
func (c *AuthController) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req VerifyTwoFactorRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := c.validate.Struct(req); err != nil {
		writeError(w, err)
		return
	}

	if err := c.twoFactor.Verify(r.Context(), req.UserID, req.Code); err != nil {
		writeError(w, err)
		return
	}

	c.issueSession(w, r, req.UserID)
}

// ExchangeLoginToken меняет токен из письма на токен сессии
func (c *AuthController) ExchangeLoginToken(w http.ResponseWriter, r *http.Request) {
	var req ExchangeTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := c.validate.Struct(req); err != nil {
		writeError(w, err)
		return
	}

	claims, err := c.tokens.ParseToken(req.Token, services.PurposeLogin)
	if err != nil {
		writeError(w, err)
		return
	}

	c.issueSession(w, r, claims.UserID)
}

// Me возвращает текущего пользователя
func (c *AuthController) Me(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.GetUserFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	user, err := c.users.GetUser(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, services.ToResponse(user))
}

func (c *AuthController) issueSession(w http.ResponseWriter, r *http.Request, userID string) {
	user, err := c.users.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	token, err := c.tokens.IssueSessionToken(user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{Token: token, User: services.ToResponse(user)})
}
