package services

import (
	"time"

	"github.com/shopspring/decimal"

	"rplportal/models"
)

// PaymentState описывает стадию оплаты заявки
type PaymentState int

const (
	PaymentNone PaymentState = iota
	PaymentPartial
	PaymentFull
)

func (p PaymentState) String() string {
	switch p {
	case PaymentPartial:
		return "partial"
	case PaymentFull:
		return "full"
	default:
		return "none"
	}
}

// ApplicationStatus - снимок состояния заявки, вычисленный из ее полей
type ApplicationStatus struct {
	SIFCompleted bool
	// SIFHealed означает, что анкета заполнена, а флаг в заявке еще не выставлен
	SIFHealed          bool
	DocsCompleted      bool
	PaymentCompleted   bool
	PartialPaymentMade bool
	FullPaymentMade    bool
	RemainingPayment   decimal.Decimal
	AmountPaid         decimal.Decimal
}

// PaymentState сводит флаги оплаты к одной из трех стадий
func (s ApplicationStatus) PaymentState() PaymentState {
	switch {
	case s.FullPaymentMade:
		return PaymentFull
	case s.PartialPaymentMade:
		return PaymentPartial
	default:
		return PaymentNone
	}
}

// Complete проверяет, что пройдены все три обязательных шага
func (s ApplicationStatus) Complete() bool {
	return s.SIFCompleted && s.DocsCompleted && s.FullPaymentMade
}

// ComputeStatus вычисляет состояние заявки. Функция чистая: intake передает вызывающий,
// запись исправленного флага SIF тоже остается за ним.
func ComputeStatus(app *models.Application, intake *models.StudentIntakeForm) ApplicationStatus {
	st := ApplicationStatus{
		DocsCompleted:    app.DocumentsUploaded,
		PaymentCompleted: app.Paid,
		RemainingPayment: decimal.Zero,
		AmountPaid:       decimal.Zero,
	}

	st.SIFCompleted = app.StudentIntakeFormSubmitted
	if !st.SIFCompleted && intake.IsFilled() {
		st.SIFCompleted = true
		st.SIFHealed = true
	}

	st.PartialPaymentMade = app.PartialScheme && app.Paid && !app.FullPaid
	st.FullPaymentMade = app.Paid && (app.FullPaid || !app.PartialScheme)

	if st.PartialPaymentMade {
		st.RemainingPayment = app.Payment2
	}

	switch {
	case app.AmountPaid.Valid && !app.AmountPaid.Decimal.IsZero():
		st.AmountPaid = app.AmountPaid.Decimal
	case app.Paid && app.PartialScheme:
		st.AmountPaid = app.Payment1
	case app.Paid:
		st.AmountPaid = app.NetPrice()
	}

	return st
}

// RiskLevel - уровень риска неоплаты
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskScore начисляет баллы риска по сроку платежа, контактам, схеме оплаты и возрасту заявки
func RiskScore(app *models.Application, dueDate, now time.Time) int {
	score := 0

	daysUntilDue := dueDate.Sub(now).Hours() / 24
	switch {
	case daysUntilDue < 0:
		score += 3
	case daysUntilDue <= 7:
		score += 2
	case daysUntilDue <= 30:
		score += 1
	}

	switch {
	case app.ContactAttempts >= 3:
		score += 2
	case app.ContactAttempts >= 1:
		score += 1
	}

	if app.PartialScheme && !app.FullPaid {
		score++
	}

	ageDays := now.Sub(app.CreatedAt).Hours() / 24
	switch {
	case ageDays > 60:
		score += 2
	case ageDays > 30:
		score += 1
	}

	return score
}

// RiskLevelFor переводит баллы в уровень риска
func RiskLevelFor(score int) RiskLevel {
	switch {
	case score <= 2:
		return RiskLow
	case score <= 4:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// AssessRisk вычисляет уровень риска для платежа со сроком dueDate
func AssessRisk(app *models.Application, dueDate, now time.Time) RiskLevel {
	return RiskLevelFor(RiskScore(app, dueDate, now))
}
