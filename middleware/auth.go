package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"rplportal/models"
	"rplportal/services"
)

type contextKey string

const claimsKey contextKey = "claims"

// TokenParser проверяет токен сессии
type TokenParser interface {
	ParseToken(token, purpose string) (*services.Claims, error)
}

// AuthMiddleware проверяет JWT сессии и кладет claims в контекст запроса
func AuthMiddleware(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Получаем токен из заголовка
			tokenString := r.Header.Get("Authorization")
			if tokenString == "" {
				http.Error(w, "Authorization header is required", http.StatusUnauthorized)
				return
			}

			// Убираем префикс "Bearer " если он есть
			tokenString = strings.TrimPrefix(tokenString, "Bearer ")

			claims, err := tokens.ParseToken(tokenString, services.PurposeSession)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole пропускает только пользователей с одной из ролей
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := GetUserFromContext(r)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "Forbidden", http.StatusForbidden)
		})
	}
}

// GetUserFromContext получает информацию о пользователе из контекста
func GetUserFromContext(r *http.Request) (*services.Claims, error) {
	claims, ok := r.Context().Value(claimsKey).(*services.Claims)
	if !ok {
		return nil, errors.New("claims not found in context")
	}
	return claims, nil
}

// WithClaims кладет claims в контекст; используется в тестах обработчиков
func WithClaims(ctx context.Context, claims *services.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}
