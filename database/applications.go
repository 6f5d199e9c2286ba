package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"rplportal/models"
)

// Методы для работы с заявками

func (d *Database) GetApplication(ctx context.Context, id string) (*models.Application, error) {
	var app models.Application
	if err := d.DB.WithContext(ctx).First(&app, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &app, nil
}

// ListApplications возвращает неархивные заявки, новые первыми
func (d *Database) ListApplications(ctx context.Context) ([]models.Application, error) {
	var apps []models.Application
	err := d.DB.WithContext(ctx).
		Where("archive = ?", false).
		Order("created_at DESC").
		Find(&apps).Error
	return apps, err
}

// FindActivePaymentPlans возвращает заявки с включенным и активным планом платежей
func (d *Database) FindActivePaymentPlans(ctx context.Context) ([]models.Application, error) {
	var apps []models.Application
	err := activePaymentPlans(d.DB.WithContext(ctx)).Find(&apps).Error
	return apps, err
}

func activePaymentPlans(tx *gorm.DB) *gorm.DB {
	return tx.
		Where("archive = ?", false).
		Where("payment_plan_enabled = ?", true).
		Where(datatypes.JSONQuery("payment_plan").Equals(string(models.PlanStatusActive), "status"))
}

// FindScheduledAutoDebits возвращает заявки с запланированным списанием не позже before
func (d *Database) FindScheduledAutoDebits(ctx context.Context, before time.Time) ([]models.Application, error) {
	var candidates []models.Application
	err := d.DB.WithContext(ctx).
		Where("archive = ?", false).
		Where(datatypes.JSONQuery("auto_debit").Equals(true, "enabled")).
		Where(datatypes.JSONQuery("auto_debit").Equals(string(models.DebitStatusScheduled), "status")).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	// Дата внутри JSONB сравнивается на стороне приложения
	apps := candidates[:0]
	for _, app := range candidates {
		if app.AutoDebit != nil && !app.AutoDebit.ScheduledDate.After(before) {
			apps = append(apps, app)
		}
	}
	return apps, nil
}

// CreateApplication атомарно создает заявку вместе с тремя связанными анкетами
func (d *Database) CreateApplication(ctx context.Context, app *models.Application, initial *models.InitialScreeningForm, intake *models.StudentIntakeForm, docs *models.DocumentsForm) error {
	// Начинаем транзакцию
	tx := d.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("ошибка при начале транзакции: %w", tx.Error)
	}

	if err := tx.Create(initial).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("ошибка при создании первичной анкеты: %w", err)
	}
	if err := tx.Create(intake).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("ошибка при создании анкеты студента: %w", err)
	}
	if err := tx.Create(docs).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("ошибка при создании формы документов: %w", err)
	}

	app.InitialFormID = initial.ID
	app.StudentFormID = intake.ID
	app.DocumentsFormID = docs.ID
	if err := tx.Create(app).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("ошибка при создании заявки: %w", err)
	}

	// Подтверждаем транзакцию
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("ошибка при подтверждении транзакции: %w", err)
	}
	return nil
}

// UpdateApplication читает заявку под блокировкой строки, применяет fn и сохраняет результат.
// Если fn возвращает ошибку, изменения не записываются.
func (d *Database) UpdateApplication(ctx context.Context, id string, fn func(*models.Application) error) (*models.Application, error) {
	var app models.Application
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&app, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		if err := fn(&app); err != nil {
			return err
		}
		return tx.Save(&app).Error
	})
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// NextApplicationID выдает следующий номер заявки из последовательности
func (d *Database) NextApplicationID(ctx context.Context) (string, error) {
	var n int64
	if err := d.DB.WithContext(ctx).Raw("SELECT nextval('application_number_seq')").Scan(&n).Error; err != nil {
		return "", fmt.Errorf("ошибка получения номера заявки: %w", err)
	}
	return FormatApplicationID(n), nil
}

// Методы для работы с анкетами

func (d *Database) GetStudentIntakeForm(ctx context.Context, id string) (*models.StudentIntakeForm, error) {
	var form models.StudentIntakeForm
	if err := d.DB.WithContext(ctx).First(&form, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &form, nil
}

func (d *Database) SaveStudentIntakeForm(ctx context.Context, form *models.StudentIntakeForm) error {
	return d.DB.WithContext(ctx).Save(form).Error
}

func (d *Database) GetDocumentsForm(ctx context.Context, id string) (*models.DocumentsForm, error) {
	var form models.DocumentsForm
	if err := d.DB.WithContext(ctx).First(&form, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &form, nil
}

func (d *Database) SaveDocumentsForm(ctx context.Context, form *models.DocumentsForm) error {
	return d.DB.WithContext(ctx).Save(form).Error
}
