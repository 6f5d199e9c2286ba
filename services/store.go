package services

import (
	"context"
	"errors"
	"time"

	"rplportal/models"
)

// Ошибки сервисного слоя
var (
	ErrInvalidCode        = errors.New("неверный код подтверждения")
	ErrCodeExpired        = errors.New("срок действия кода истек")
	ErrTooManyAttempts    = errors.New("превышено число попыток ввода кода")
	ErrInstallmentSettled = errors.New("платеж уже не ожидает оплаты")
	ErrAlreadyArchived    = errors.New("заявка уже в архиве")
	ErrInvalidPaymentPlan = errors.New("неверные параметры плана платежей")
	ErrInvalidCredentials = errors.New("неверный email или пароль")
	ErrInvalidToken       = errors.New("недействительный токен")
	ErrValidation         = errors.New("ошибка валидации")
)

// ApplicationStore хранит заявки
type ApplicationStore interface {
	GetApplication(ctx context.Context, id string) (*models.Application, error)
	ListApplications(ctx context.Context) ([]models.Application, error)
	FindActivePaymentPlans(ctx context.Context) ([]models.Application, error)
	FindScheduledAutoDebits(ctx context.Context, before time.Time) ([]models.Application, error)
	CreateApplication(ctx context.Context, app *models.Application, initial *models.InitialScreeningForm, intake *models.StudentIntakeForm, docs *models.DocumentsForm) error
	// UpdateApplication выполняет fn в транзакции; ошибка fn отменяет запись
	UpdateApplication(ctx context.Context, id string, fn func(*models.Application) error) (*models.Application, error)
	NextApplicationID(ctx context.Context) (string, error)
}

// FormStore хранит связанные с заявкой анкеты
type FormStore interface {
	GetStudentIntakeForm(ctx context.Context, id string) (*models.StudentIntakeForm, error)
	SaveStudentIntakeForm(ctx context.Context, form *models.StudentIntakeForm) error
	GetDocumentsForm(ctx context.Context, id string) (*models.DocumentsForm, error)
	SaveDocumentsForm(ctx context.Context, form *models.DocumentsForm) error
}

// UserStore хранит пользователей
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUsersByRole(ctx context.Context, role models.Role) ([]models.User, error)
}

// TwoFactorStore хранит одноразовые коды
type TwoFactorStore interface {
	SaveTwoFactor(ctx context.Context, rec *models.TwoFactorAuth) error
	GetTwoFactor(ctx context.Context, userID string) (*models.TwoFactorAuth, error)
	DeleteTwoFactor(ctx context.Context, userID string) error
}
