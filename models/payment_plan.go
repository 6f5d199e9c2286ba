package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PlanStatus представляет статус плана платежей
type PlanStatus string

const (
	PlanStatusActive    PlanStatus = "ACTIVE"
	PlanStatusCompleted PlanStatus = "COMPLETED"
)

// InstallmentStatus представляет статус отдельного платежа по плану
type InstallmentStatus string

const (
	InstallmentPending   InstallmentStatus = "PENDING"
	InstallmentCompleted InstallmentStatus = "COMPLETED"
)

// DebitStatus представляет статус автоматического списания
type DebitStatus string

const (
	DebitStatusScheduled DebitStatus = "SCHEDULED"
	DebitStatusCompleted DebitStatus = "COMPLETED"
	DebitStatusFailed    DebitStatus = "FAILED"
)

// ScheduleEntry представляет один платеж в графике
type ScheduleEntry struct {
	PaymentNumber  int               `json:"paymentNumber"`
	Amount         decimal.Decimal   `json:"amount"`
	DueDate        time.Time         `json:"dueDate"`
	Status         InstallmentStatus `json:"status"`
	PaidDate       *time.Time        `json:"paidDate,omitempty"`
	TransactionID  string            `json:"transactionId,omitempty"`
	FailedAttempts int               `json:"failedAttempts,omitempty"`
}

// DirectDebit представляет разрешение на автоматическое списание по плану
type DirectDebit struct {
	Enabled          bool        `json:"enabled"`
	SquareCardID     string      `json:"squareCardId,omitempty"`
	SquareCustomerID string      `json:"squareCustomerId,omitempty"`
	Status           DebitStatus `json:"status,omitempty"`
	LastError        string      `json:"lastError,omitempty"`
	LastFailedAt     *time.Time  `json:"lastFailedAt,omitempty"`
}

// PaymentPlan представляет план платежей из N частей
type PaymentPlan struct {
	Status            PlanStatus      `json:"status"`
	NumberOfPayments  int             `json:"numberOfPayments"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	CompletedPayments int             `json:"completedPayments"`
	TotalPaidAmount   decimal.Decimal `json:"totalPaidAmount"`
	PaymentSchedule   []ScheduleEntry `json:"paymentSchedule"`
	DirectDebit       DirectDebit     `json:"directDebit"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// NextDueInstallment возвращает самый ранний неоплаченный платеж со сроком не позже now
func (p *PaymentPlan) NextDueInstallment(now time.Time) (ScheduleEntry, bool) {
	entries := make([]ScheduleEntry, len(p.PaymentSchedule))
	copy(entries, p.PaymentSchedule)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].PaymentNumber < entries[j].PaymentNumber
	})

	for _, e := range entries {
		if e.Status == InstallmentPending && !e.DueDate.After(now) {
			return e, true
		}
	}
	return ScheduleEntry{}, false
}

// Entry возвращает указатель на платеж с заданным номером
func (p *PaymentPlan) Entry(paymentNumber int) *ScheduleEntry {
	for i := range p.PaymentSchedule {
		if p.PaymentSchedule[i].PaymentNumber == paymentNumber {
			return &p.PaymentSchedule[i]
		}
	}
	return nil
}

// CountCompleted считает оплаченные платежи в графике
func (p *PaymentPlan) CountCompleted() int {
	n := 0
	for _, e := range p.PaymentSchedule {
		if e.Status == InstallmentCompleted {
			n++
		}
	}
	return n
}

// IsFullyPaid проверяет, что оплачены все платежи плана
func (p *PaymentPlan) IsFullyPaid() bool {
	return p.NumberOfPayments > 0 && p.CompletedPayments >= p.NumberOfPayments
}

// AutoDebit представляет одно запланированное прямое списание вне плана платежей
type AutoDebit struct {
	Enabled          bool            `json:"enabled"`
	Status           DebitStatus     `json:"status"`
	Amount           decimal.Decimal `json:"amount"`
	ScheduledDate    time.Time       `json:"scheduledDate"`
	SquareCardID     string          `json:"squareCardId,omitempty"`
	SquareCustomerID string          `json:"squareCustomerId,omitempty"`
	TransactionID    string          `json:"transactionId,omitempty"`
	PaidDate         *time.Time      `json:"paidDate,omitempty"`
	LastError        string          `json:"lastError,omitempty"`
	LastFailedAt     *time.Time      `json:"lastFailedAt,omitempty"`
	FailedAttempts   int             `json:"failedAttempts,omitempty"`
}
