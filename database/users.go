package database

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"rplportal/models"
)

// Методы для работы с пользователями

func (d *Database) CreateUser(ctx context.Context, user *models.User) error {
	return d.DB.WithContext(ctx).Create(user).Error
}

func (d *Database) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := d.DB.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// FindUserByEmail ищет пользователя по email (игнорируя регистр и пробелы)
func (d *Database) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := d.DB.WithContext(ctx).Where("LOWER(TRIM(email)) = LOWER(TRIM(?))", email).First(&user).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (d *Database) FindUsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	var users []models.User
	err := d.DB.WithContext(ctx).Where("role = ?", role).Find(&users).Error
	return users, err
}

// Методы для работы с кодами 2FA

func (d *Database) SaveTwoFactor(ctx context.Context, rec *models.TwoFactorAuth) error {
	return d.DB.WithContext(ctx).Save(rec).Error
}

func (d *Database) GetTwoFactor(ctx context.Context, userID string) (*models.TwoFactorAuth, error) {
	var rec models.TwoFactorAuth
	if err := d.DB.WithContext(ctx).First(&rec, "user_id = ?", userID).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (d *Database) DeleteTwoFactor(ctx context.Context, userID string) error {
	err := d.DB.WithContext(ctx).Delete(&models.TwoFactorAuth{}, "user_id = ?", userID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return nil
}
