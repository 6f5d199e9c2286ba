package utils

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
	"time"
)

// GenerateSecureToken генерирует безопасный токен
func GenerateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateNumericCode генерирует код из digits цифр, например для 2FA
func GenerateNumericCode(digits int) (string, error) {
	if digits <= 0 || digits > 18 {
		return "", fmt.Errorf("invalid code length: %d", digits)
	}
	upper := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, upper)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %v", err)
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}

// EqualCodes сравнивает коды за постоянное время
func EqualCodes(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GenerateExpirationTime генерирует время истечения срока действия
func GenerateExpirationTime(now time.Time, duration time.Duration) time.Time {
	return now.Add(duration)
}

// IsExpired проверяет, истек ли срок действия
func IsExpired(now, expirationTime time.Time) bool {
	return now.After(expirationTime)
}
