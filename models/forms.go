package models

import (
	"strings"
	"time"
)

// InitialScreeningForm представляет первичную анкету соискателя
type InitialScreeningForm struct {
	ID                string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID            string    `gorm:"column:user_id;index;size:36" json:"userId"`
	Industry          string    `gorm:"column:industry;size:100" json:"industry"`
	Qualification     string    `gorm:"column:qualification;size:200" json:"qualification"`
	YearsOfExperience int       `gorm:"column:years_of_experience" json:"yearsOfExperience"`
	State             string    `gorm:"column:state;size:32" json:"state"`
	CreatedAt         time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt         time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (InitialScreeningForm) TableName() string {
	return "initial_screening_forms"
}

// StudentIntakeForm представляет анкету студента
type StudentIntakeForm struct {
	ID          string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID      string     `gorm:"column:user_id;index;size:36" json:"userId"`
	FirstName   string     `gorm:"column:first_name;size:50" json:"firstName"`
	LastName    string     `gorm:"column:last_name;size:50" json:"lastName"`
	DateOfBirth *time.Time `gorm:"column:date_of_birth" json:"dateOfBirth,omitempty"`
	USI         string     `gorm:"column:usi;size:10" json:"usi"`
	Address     string     `gorm:"column:address;size:255" json:"address"`
	Agree       bool       `gorm:"column:agree;not null;default:false" json:"agree"`
	SubmittedAt *time.Time `gorm:"column:submitted_at" json:"submittedAt,omitempty"`
	CreatedAt   time.Time  `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"column:updated_at" json:"updatedAt"`
}

func (StudentIntakeForm) TableName() string {
	return "student_intake_forms"
}

// IsFilled проверяет заполненность анкеты по содержимому, без учета флага в заявке
func (f *StudentIntakeForm) IsFilled() bool {
	if f == nil {
		return false
	}
	return strings.TrimSpace(f.FirstName) != "" && strings.TrimSpace(f.LastName) != "" && f.Agree
}

// UploadedDocument описывает загруженный файл
type UploadedDocument struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Key         string    `json:"key"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// DocumentsForm хранит метаданные загруженных документов
type DocumentsForm struct {
	ID        string             `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string             `gorm:"column:user_id;index;size:36" json:"userId"`
	Documents []UploadedDocument `gorm:"column:documents;type:jsonb;serializer:json" json:"documents"`
	CreatedAt time.Time          `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt time.Time          `gorm:"column:updated_at" json:"updatedAt"`
}

func (DocumentsForm) TableName() string {
	return "documents_forms"
}
