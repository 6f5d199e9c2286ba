package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Наименования этапов, которые пишутся в историю статусов заявки
const (
	StatusStudentIntakeForm = "Student Intake Form"
	StatusUploadDocuments   = "Upload Documents"
	StatusPayment           = "Payment"
	StatusSentToAssessor    = "Sent to Assessor"
	StatusSentToRTO         = "Sent to RTO"
	StatusCertificateIssued = "Certificate Issued"
)

// StatusEvent представляет одну запись в истории статусов заявки
type StatusEvent struct {
	StatusName string    `json:"statusname"`
	Time       time.Time `json:"time"`
}

// Expense представляет расход, привязанный к заявке
type Expense struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Date        time.Time       `json:"date"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// LeadColor представляет цветовую классификацию лида
type LeadColor string

const (
	LeadColorRed       LeadColor = "red"
	LeadColorOrange    LeadColor = "orange"
	LeadColorGray      LeadColor = "gray"
	LeadColorYellow    LeadColor = "yellow"
	LeadColorLightBlue LeadColor = "lightblue"
	LeadColorPink      LeadColor = "pink"
	LeadColorGreen     LeadColor = "green"
	LeadColorWhite     LeadColor = "white"
)

var leadColorLabels = map[LeadColor]string{
	LeadColorRed:       "Hot Lead",
	LeadColorOrange:    "Warm Lead",
	LeadColorGray:      "Cold Lead",
	LeadColorYellow:    "Follow Up",
	LeadColorLightBlue: "In Progress",
	LeadColorPink:      "Awaiting Documents",
	LeadColorGreen:     "Converted",
	LeadColorWhite:     "Unclassified",
}

// Label возвращает человекочитаемое название цвета
func (c LeadColor) Label() string {
	if label, ok := leadColorLabels[c]; ok {
		return label
	}
	return ""
}

// Valid проверяет, что цвет входит в допустимый набор
func (c LeadColor) Valid() bool {
	_, ok := leadColorLabels[c]
	return ok
}

// Application представляет заявку на RPL-сертификацию
type Application struct {
	ID            string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ApplicationID string `gorm:"column:application_id;uniqueIndex;not null;size:16" json:"applicationId"`

	UserID          string `gorm:"column:user_id;index;not null;size:36" json:"userId"`
	InitialFormID   string `gorm:"column:initial_form_id;size:36" json:"initialFormId"`
	StudentFormID   string `gorm:"column:student_form_id;size:36" json:"studentFormId"`
	DocumentsFormID string `gorm:"column:documents_form_id;size:36" json:"documentsFormId"`

	Status        []StatusEvent `gorm:"column:status;type:jsonb;serializer:json" json:"status"`
	CurrentStatus string        `gorm:"column:current_status;size:64" json:"currentStatus"`

	StudentIntakeFormSubmitted bool `gorm:"column:student_intake_form_submitted;not null;default:false" json:"studentIntakeFormSubmitted"`
	DocumentsUploaded          bool `gorm:"column:documents_uploaded;not null;default:false" json:"documentsUploaded"`
	Paid                       bool `gorm:"column:paid;not null;default:false" json:"paid"`
	FullPaid                   bool `gorm:"column:full_paid;not null;default:false" json:"full_paid"`
	Verified                   bool `gorm:"column:verified;not null;default:false" json:"verified"`

	Price              decimal.Decimal     `gorm:"column:price;type:decimal(12,2);not null;default:0" json:"price"`
	Discount           decimal.Decimal     `gorm:"column:discount;type:decimal(12,2);not null;default:0" json:"discount"`
	AmountPaid         decimal.NullDecimal `gorm:"column:amount_paid;type:decimal(12,2)" json:"amount_paid"`
	PartialScheme      bool                `gorm:"column:partial_scheme;not null;default:false" json:"partialScheme"`
	Payment1           decimal.Decimal     `gorm:"column:payment1;type:decimal(12,2);not null;default:0" json:"payment1"`
	Payment2           decimal.Decimal     `gorm:"column:payment2;type:decimal(12,2);not null;default:0" json:"payment2"`
	Payment2Deadline   *time.Time          `gorm:"column:payment2_deadline" json:"payment2Deadline,omitempty"`
	PaymentPlanEnabled bool                `gorm:"column:payment_plan_enabled;not null;default:false;index" json:"paymentPlanEnabled"`
	PaymentPlan        *PaymentPlan        `gorm:"column:payment_plan;type:jsonb;serializer:json" json:"paymentPlan,omitempty"`
	AutoDebit          *AutoDebit          `gorm:"column:auto_debit;type:jsonb;serializer:json" json:"autoDebit,omitempty"`

	Archive bool `gorm:"column:archive;not null;default:false;index" json:"archive"`

	Expenses        []Expense `gorm:"column:expenses;type:jsonb;serializer:json" json:"expenses"`
	AssignedAdmin   string    `gorm:"column:assigned_admin;size:36" json:"assignedAdmin,omitempty"`
	ContactAttempts int       `gorm:"column:contact_attempts;not null;default:0" json:"contactAttempts"`
	ContactStatus   string    `gorm:"column:contact_status;size:64" json:"contactStatus,omitempty"`
	Color           LeadColor `gorm:"column:color;size:16" json:"color,omitempty"`
	Source          string    `gorm:"column:source;size:16" json:"source,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName возвращает имя таблицы для модели Application
func (Application) TableName() string {
	return "applications"
}

// AppendStatus добавляет событие в историю и синхронизирует CurrentStatus
func (a *Application) AppendStatus(name string, at time.Time) {
	a.Status = append(a.Status, StatusEvent{StatusName: name, Time: at})
	a.CurrentStatus = name
}

// HasStatus проверяет, встречался ли этап в истории заявки
func (a *Application) HasStatus(name string) bool {
	for _, ev := range a.Status {
		if ev.StatusName == name {
			return true
		}
	}
	return false
}

// NetPrice возвращает стоимость с учетом скидки
func (a *Application) NetPrice() decimal.Decimal {
	return a.Price.Sub(a.Discount)
}

// HasActivePaymentPlan проверяет, что у заявки включен активный план платежей
func (a *Application) HasActivePaymentPlan() bool {
	return a.PaymentPlanEnabled && a.PaymentPlan != nil && a.PaymentPlan.Status == PlanStatusActive
}
