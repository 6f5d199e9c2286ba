package models

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Role представляет роль пользователя
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	RoleAgent    Role = "agent"
	RoleRTO      Role = "rto"
	RoleAssessor Role = "assessor"
	RoleManager  Role = "manager"
	RoleCEO      Role = "ceo"
)

type User struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	FirstName string    `gorm:"column:first_name;not null;size:50" json:"firstName"`
	LastName  string    `gorm:"column:last_name;not null;size:50" json:"lastName"`
	Email     string    `gorm:"column:email;unique;not null;size:100;index" json:"email"`
	Phone     string    `gorm:"column:phone;size:32" json:"phone"`
	Password  string    `gorm:"column:password;size:100" json:"-"`
	Role      Role      `gorm:"column:role;not null;size:16;default:'customer';index" json:"role"`
	Verified  bool      `gorm:"column:verified;not null;default:false" json:"verified"`
	AgentID   string    `gorm:"column:agent_id;size:36" json:"agentId,omitempty"`
	CreatedAt time.Time `gorm:"column:created_at;default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}

// FullName возвращает имя и фамилию через пробел
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// BeforeCreate хук для валидации перед созданием
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if len(u.FirstName) < 1 || len(u.FirstName) > 50 {
		return errors.New("first name must be between 1 and 50 characters")
	}
	if len(u.LastName) < 1 || len(u.LastName) > 50 {
		return errors.New("last name must be between 1 and 50 characters")
	}
	if len(u.Email) < 3 || len(u.Email) > 100 {
		return errors.New("email must be between 3 and 100 characters")
	}
	return nil
}

// TwoFactorAuth представляет одноразовый код второго фактора
type TwoFactorAuth struct {
	UserID    string    `gorm:"primaryKey;type:varchar(36)" json:"userId"`
	Code      string    `gorm:"column:code;not null;size:6" json:"-"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null" json:"expiresAt"`
	Attempts  int       `gorm:"column:attempts;not null" json:"attempts"`
	Email     string    `gorm:"column:email;not null;size:100" json:"email"`
	CreatedAt time.Time `gorm:"column:created_at" json:"createdAt"`
}

func (TwoFactorAuth) TableName() string {
	return "two_factor_auth"
}
