package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rplportal/models"
	"rplportal/utils"
)

const twoFactorDigits = 6

// TwoFactorService выдает и проверяет одноразовые коды входа
type TwoFactorService struct {
	store       TwoFactorStore
	mailer      Mailer
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
}

// NewTwoFactorService создает новый экземпляр TwoFactorService
func NewTwoFactorService(store TwoFactorStore, mailer Mailer, ttl time.Duration, maxAttempts int) *TwoFactorService {
	return &TwoFactorService{
		store:       store,
		mailer:      mailer,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Issue создает новый код, заменяя прежний, и отправляет его на почту
func (s *TwoFactorService) Issue(ctx context.Context, user *models.User) error {
	code, err := utils.GenerateNumericCode(twoFactorDigits)
	if err != nil {
		return err
	}

	now := s.now()
	rec := &models.TwoFactorAuth{
		UserID:    user.ID,
		Code:      code,
		ExpiresAt: utils.GenerateExpirationTime(now, s.ttl),
		Attempts:  s.maxAttempts,
		Email:     user.Email,
		CreatedAt: now,
	}
	if err := s.store.SaveTwoFactor(ctx, rec); err != nil {
		return fmt.Errorf("ошибка сохранения кода: %w", err)
	}

	subject, body, err := RenderEmail(TemplateTwoFactorCode, TemplateData{
		FirstName:    user.FirstName,
		Code:         code,
		ValidMinutes: int(s.ttl.Minutes()),
	})
	if err != nil {
		return err
	}
	if err := s.mailer.SendEmail(user.Email, subject, body); err != nil {
		utils.EmailsSent.WithLabelValues(string(TemplateTwoFactorCode), "error").Inc()
		return fmt.Errorf("ошибка отправки кода: %w", err)
	}
	utils.EmailsSent.WithLabelValues(string(TemplateTwoFactorCode), "sent").Inc()
	return nil
}

// Verify проверяет код. Запись удаляется при успехе, при исчерпании попыток и по истечении срока.
func (s *TwoFactorService) Verify(ctx context.Context, userID, code string) error {
	rec, err := s.store.GetTwoFactor(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return ErrInvalidCode
	}
	if err != nil {
		return err
	}

	if utils.IsExpired(s.now(), rec.ExpiresAt) {
		s.discard(ctx, userID)
		return ErrCodeExpired
	}

	if utils.EqualCodes(rec.Code, code) {
		s.discard(ctx, userID)
		return nil
	}

	rec.Attempts--
	if rec.Attempts <= 0 {
		s.discard(ctx, userID)
		return ErrTooManyAttempts
	}
	if err := s.store.SaveTwoFactor(ctx, rec); err != nil {
		return fmt.Errorf("ошибка сохранения попытки: %w", err)
	}
	return ErrInvalidCode
}

func (s *TwoFactorService) discard(ctx context.Context, userID string) {
	if err := s.store.DeleteTwoFactor(ctx, userID); err != nil {
		utils.LogError("Ошибка удаления кода 2FA пользователя %s: %v", userID, err)
	}
}
