package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestAppendStatusKeepsCurrentStatus(t *testing.T) {
	var app Application
	start := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	for i, name := range []string{StatusStudentIntakeForm, StatusUploadDocuments, StatusPayment} {
		app.AppendStatus(name, start.Add(time.Duration(i)*time.Hour))
		if app.CurrentStatus != app.Status[len(app.Status)-1].StatusName {
			t.Fatalf("after %q current status is %q", name, app.CurrentStatus)
		}
	}
	if !app.HasStatus(StatusUploadDocuments) || app.HasStatus(StatusSentToRTO) {
		t.Error("HasStatus mismatch")
	}
}

func TestNetPriceAndActivePlan(t *testing.T) {
	app := Application{Price: decimal.RequireFromString("1500"), Discount: decimal.RequireFromString("250.50")}
	if !app.NetPrice().Equal(decimal.RequireFromString("1249.50")) {
		t.Errorf("NetPrice = %s", app.NetPrice())
	}

	if app.HasActivePaymentPlan() {
		t.Error("no plan must not be active")
	}
	app.PaymentPlan = &PaymentPlan{Status: PlanStatusActive}
	if app.HasActivePaymentPlan() {
		t.Error("plan without the enabled flag must not be active")
	}
	app.PaymentPlanEnabled = true
	if !app.HasActivePaymentPlan() {
		t.Error("enabled active plan not detected")
	}
	app.PaymentPlan.Status = PlanStatusCompleted
	if app.HasActivePaymentPlan() {
		t.Error("completed plan must not be active")
	}
}

func TestPaymentPlanInstallments(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	plan := PaymentPlan{
		NumberOfPayments: 3,
		PaymentSchedule: []ScheduleEntry{
			{PaymentNumber: 3, DueDate: now.AddDate(0, 0, -1), Status: InstallmentPending},
			{PaymentNumber: 1, DueDate: now.AddDate(0, 0, -29), Status: InstallmentCompleted},
			{PaymentNumber: 2, DueDate: now.AddDate(0, 0, -15), Status: InstallmentPending},
		},
	}

	entry, ok := plan.NextDueInstallment(now)
	if !ok || entry.PaymentNumber != 2 {
		t.Errorf("NextDueInstallment = %+v, %v; want payment 2", entry, ok)
	}
	if plan.PaymentSchedule[0].PaymentNumber != 3 {
		t.Error("NextDueInstallment must not reorder the schedule")
	}
	if _, ok := plan.NextDueInstallment(now.AddDate(0, 0, -20)); ok {
		t.Error("nothing is due before payment 2")
	}

	if plan.CountCompleted() != 1 {
		t.Errorf("CountCompleted = %d", plan.CountCompleted())
	}
	if e := plan.Entry(3); e == nil || e.PaymentNumber != 3 {
		t.Errorf("Entry(3) = %+v", e)
	}
	if plan.Entry(9) != nil {
		t.Error("Entry(9) must be nil")
	}

	plan.CompletedPayments = 3
	if !plan.IsFullyPaid() {
		t.Error("all payments completed")
	}
	if (&PaymentPlan{}).IsFullyPaid() {
		t.Error("empty plan is not fully paid")
	}
}

func TestLeadColor(t *testing.T) {
	if LeadColorRed.Label() != "Hot Lead" || !LeadColorGreen.Valid() {
		t.Error("known colours")
	}
	if LeadColor("purple").Valid() || LeadColor("purple").Label() != "" {
		t.Error("unknown colour accepted")
	}
}

func TestIntakeFormIsFilled(t *testing.T) {
	var nilForm *StudentIntakeForm
	if nilForm.IsFilled() {
		t.Error("nil form is not filled")
	}
	form := &StudentIntakeForm{FirstName: "Jane", LastName: "  ", Agree: true}
	if form.IsFilled() {
		t.Error("blank last name must not count")
	}
	form.LastName = "Doe"
	if !form.IsFilled() {
		t.Error("complete form not detected")
	}
}

func TestUserFullName(t *testing.T) {
	if got := (User{FirstName: "Jane", LastName: "Doe"}).FullName(); got != "Jane Doe" {
		t.Errorf("FullName = %q", got)
	}
	if got := (User{FirstName: "Jane"}).FullName(); got != "Jane" {
		t.Errorf("FullName = %q", got)
	}
}
