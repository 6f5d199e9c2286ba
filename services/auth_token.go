package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"rplportal/models"
	"rplportal/utils"
)

// Назначение токена
const (
	PurposeSession = "session"
	PurposeLogin   = "login"
)

// TokenIssuer выдает одноразовые токены для ссылок входа в письмах
type TokenIssuer interface {
	CreateLoginToken(userID string) (string, error)
}

// Claims - содержимое JWT
type Claims struct {
	UserID  string      `json:"user_id"`
	Email   string      `json:"email,omitempty"`
	Role    models.Role `json:"role,omitempty"`
	Purpose string      `json:"purpose"`
	jwt.RegisteredClaims
}

// TokenService подписывает и проверяет JWT
type TokenService struct {
	secret     []byte
	sessionTTL time.Duration
	loginTTL   time.Duration
	now        func() time.Time
}

// NewTokenService создает сервис токенов
func NewTokenService(secret string, sessionTTL, loginTTL time.Duration) *TokenService {
	return &TokenService{
		secret:     []byte(secret),
		sessionTTL: sessionTTL,
		loginTTL:   loginTTL,
		now:        time.Now,
	}
}

// CreateLoginToken создает токен для ссылки {ClientURL}/existing-applications?token=...
func (s *TokenService) CreateLoginToken(userID string) (string, error) {
	return s.sign(Claims{UserID: userID, Purpose: PurposeLogin}, s.loginTTL)
}

// IssueSessionToken создает токен сессии
func (s *TokenService) IssueSessionToken(user *models.User) (string, error) {
	return s.sign(Claims{
		UserID:  user.ID,
		Email:   user.Email,
		Role:    user.Role,
		Purpose: PurposeSession,
	}, s.sessionTTL)
}

func (s *TokenService) sign(claims Claims, ttl time.Duration) (string, error) {
	now := s.now()
	jti, err := utils.GenerateSecureToken(16)
	if err != nil {
		return "", fmt.Errorf("ошибка генерации идентификатора токена: %w", err)
	}
	claims.ID = jti
	claims.Subject = claims.UserID
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("ошибка подписи токена: %w", err)
	}
	return signed, nil
}

// ParseToken проверяет подпись, срок и назначение токена
func (s *TokenService) ParseToken(tokenString, purpose string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Purpose != purpose || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
