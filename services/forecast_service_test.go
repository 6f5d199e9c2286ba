package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rplportal/models"
)

var forecastNow = time.Date(2026, 5, 12, 10, 0, 0, 0, time.UTC)

func newTestForecast(store *memStore) *ForecastService {
	svc := NewForecastService(store, store, time.UTC)
	svc.now = fixedClock(forecastNow)
	return svc
}

func currentMonth() (time.Time, time.Time) {
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0).Add(-time.Nanosecond)
}

func TestForecastPaymentPlanMonth(t *testing.T) {
	store := newMemStore()
	seedApplicant(store)
	store.putApp(&models.Application{
		ID:                 "a1",
		ApplicationID:      "APP0001",
		UserID:             "u1",
		CreatedAt:          forecastNow,
		PaymentPlanEnabled: true,
		PaymentPlan: &models.PaymentPlan{
			Status:           models.PlanStatusActive,
			NumberOfPayments: 3,
			PaymentSchedule: []models.ScheduleEntry{
				{PaymentNumber: 1, Amount: money("100"), DueDate: time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC), Status: models.InstallmentCompleted},
				{PaymentNumber: 2, Amount: money("200"), DueDate: time.Date(2026, 5, 16, 0, 0, 0, 0, time.UTC), Status: models.InstallmentPending},
				{PaymentNumber: 3, Amount: money("300"), DueDate: time.Date(2026, 5, 30, 0, 0, 0, 0, time.UTC), Status: models.InstallmentPending},
			},
		},
	})

	from, to := currentMonth()
	fc, err := newTestForecast(store).GetForecast(context.Background(), from, to)
	if err != nil {
		t.Fatalf("GetForecast: %v", err)
	}
	if len(fc.Months) != 1 {
		t.Fatalf("months = %d, want 1", len(fc.Months))
	}

	m := fc.Months[0]
	if m.Month != "2026-05" {
		t.Errorf("month = %s", m.Month)
	}
	if !m.ExpectedRevenue.Equal(money("500")) || !m.PaymentPlanRevenue.Equal(money("500")) || m.PaymentCount != 2 {
		t.Errorf("month = expected %s plan %s count %d", m.ExpectedRevenue, m.PaymentPlanRevenue, m.PaymentCount)
	}
	if !fc.Summary.AverageMonthlyRevenue.Equal(money("500")) {
		t.Errorf("average = %s", fc.Summary.AverageMonthlyRevenue)
	}
	if len(fc.Receivables) != 2 || fc.Receivables[0].PaymentNumber != 2 {
		t.Fatalf("receivables = %+v", fc.Receivables)
	}
	if fc.Receivables[0].CustomerEmail != "jane@example.test" || fc.Receivables[0].CustomerName != "Jane Doe" {
		t.Errorf("contact details = %+v", fc.Receivables[0])
	}
}

func TestForecastBuckets(t *testing.T) {
	deadline := forecastNow.AddDate(0, 0, 10)
	store := newMemStore()
	seedApplicant(store)
	store.putApp(&models.Application{
		ID: "partial1", UserID: "u1", CreatedAt: forecastNow,
		PartialScheme: true, Payment1: money("400"), Payment2: money("600"),
	})
	store.putApp(&models.Application{
		ID: "partial2", UserID: "u1", CreatedAt: forecastNow,
		PartialScheme: true, Paid: true, Payment1: money("400"), Payment2: money("600"), Payment2Deadline: &deadline,
	})
	store.putApp(&models.Application{
		ID: "debit", UserID: "u1", CreatedAt: forecastNow,
		AutoDebit: &models.AutoDebit{Enabled: true, Status: models.DebitStatusScheduled, Amount: money("250"), ScheduledDate: forecastNow.AddDate(0, 0, 3)},
	})
	store.putApp(&models.Application{
		ID: "unpaid", UserID: "u1", CreatedAt: forecastNow.AddDate(0, 0, -2), Price: money("900"), Discount: money("100"),
	})
	store.putApp(&models.Application{ID: "done", UserID: "u1", CreatedAt: forecastNow, Paid: true, Price: money("900")})
	store.putApp(&models.Application{ID: "archived", UserID: "u1", CreatedAt: forecastNow, Archive: true, Price: money("900")})

	svc := newTestForecast(store)
	from, to := svc.DefaultWindow()
	fc, err := svc.GetForecast(context.Background(), from, to)
	if err != nil {
		t.Fatal(err)
	}
	if len(fc.Months) != 13 {
		t.Errorf("default window months = %d, want 13", len(fc.Months))
	}

	got := map[string]Receivable{}
	for _, r := range fc.Receivables {
		got[r.ApplicationID] = r
	}
	if len(got) != 4 {
		t.Fatalf("receivables = %+v", fc.Receivables)
	}

	if r := got["partial1"]; r.PaymentNumber != 1 || !r.Amount.Equal(money("400")) || !r.Estimated || !r.DueDate.Equal(forecastNow.AddDate(0, 0, 7)) {
		t.Errorf("first partial payment = %+v", r)
	}
	if r := got["partial2"]; r.PaymentNumber != 2 || !r.Amount.Equal(money("600")) || r.Estimated || !r.DueDate.Equal(deadline) {
		t.Errorf("second partial payment = %+v", r)
	}
	if r := got["debit"]; r.Type != BucketDirectDebit || !r.Amount.Equal(money("250")) {
		t.Errorf("direct debit = %+v", r)
	}
	if r := got["unpaid"]; !r.Amount.Equal(money("800")) || r.Risk != RiskMedium || !r.DueDate.Equal(forecastNow.AddDate(0, 0, 14)) {
		t.Errorf("unpaid = %+v", r)
	}

	if !fc.Summary.DirectDebitRevenue.Equal(money("250")) || !fc.Summary.RegularRevenue.Equal(money("1800")) {
		t.Errorf("summary = %+v", fc.Summary)
	}
	if fc.Summary.TotalPayments != 4 {
		t.Errorf("total payments = %d", fc.Summary.TotalPayments)
	}
	riskTotal := fc.Summary.Risk.Low.Add(fc.Summary.Risk.Medium).Add(fc.Summary.Risk.High)
	if !riskTotal.Equal(fc.Summary.TotalExpectedRevenue) {
		t.Errorf("risk split %s does not add up to %s", riskTotal, fc.Summary.TotalExpectedRevenue)
	}
}

func TestClassifyForecastExclusive(t *testing.T) {
	scheduled := &models.AutoDebit{Enabled: true, Status: models.DebitStatusScheduled}
	tests := []struct {
		name string
		app  models.Application
		want ForecastBucket
	}{
		{"plan wins over everything", models.Application{PaymentPlanEnabled: true, PartialScheme: true, AutoDebit: scheduled}, BucketPaymentPlan},
		{"partial over direct debit", models.Application{PartialScheme: true, AutoDebit: scheduled}, BucketPartialPayment},
		{"direct debit", models.Application{AutoDebit: scheduled, Paid: true}, BucketDirectDebit},
		{"failed debit falls back to unpaid", models.Application{AutoDebit: &models.AutoDebit{Enabled: true, Status: models.DebitStatusFailed}}, BucketUnpaid},
		{"unpaid", models.Application{}, BucketUnpaid},
		{"paid", models.Application{Paid: true}, BucketNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyForecast(&tt.app); got != tt.want {
				t.Errorf("ClassifyForecast = %s, want %s", got, tt.want)
			}
		})
	}

	// Каждое сочетание флагов дает ровно одну корзину
	for mask := 0; mask < 1<<4; mask++ {
		app := models.Application{
			PaymentPlanEnabled: mask&1 != 0,
			PartialScheme:      mask&2 != 0,
			Paid:               mask&8 != 0,
		}
		if mask&4 != 0 {
			app.AutoDebit = scheduled
		}
		b := ClassifyForecast(&app)
		switch b {
		case BucketPaymentPlan, BucketPartialPayment, BucketDirectDebit, BucketUnpaid, BucketNone:
		default:
			t.Errorf("mask %b: unknown bucket %q", mask, b)
		}
	}
}

func TestGetForecastRejectsInvertedWindow(t *testing.T) {
	svc := newTestForecast(newMemStore())
	_, err := svc.GetForecast(context.Background(), forecastNow, forecastNow.AddDate(0, 0, -1))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestGetOverduePayments(t *testing.T) {
	store := newMemStore()
	seedApplicant(store)
	pastDeadline := forecastNow.AddDate(0, 0, -3)
	store.putApp(&models.Application{
		ID: "plan", ApplicationID: "APP0001", UserID: "u1", CreatedAt: forecastNow,
		PaymentPlanEnabled: true,
		PaymentPlan: &models.PaymentPlan{
			Status: models.PlanStatusActive,
			PaymentSchedule: []models.ScheduleEntry{
				{PaymentNumber: 1, Amount: money("100"), DueDate: forecastNow.AddDate(0, 0, -20), Status: models.InstallmentPending},
				{PaymentNumber: 2, Amount: money("100"), DueDate: forecastNow.AddDate(0, 0, -6), Status: models.InstallmentCompleted},
				{PaymentNumber: 3, Amount: money("100"), DueDate: forecastNow.AddDate(0, 0, 8), Status: models.InstallmentPending},
			},
		},
	})
	store.putApp(&models.Application{
		ID: "partial", ApplicationID: "APP0002", UserID: "u1", CreatedAt: forecastNow,
		PartialScheme: true, Paid: true, Payment2: money("600"), Payment2Deadline: &pastDeadline,
	})
	// Первый платеж разбивки без дедлайна не считается просроченным
	store.putApp(&models.Application{
		ID: "estimated", ApplicationID: "APP0003", UserID: "u1", CreatedAt: forecastNow.AddDate(0, -3, 0),
		PartialScheme: true, Payment1: money("300"),
	})

	overdue, err := newTestForecast(store).GetOverduePayments(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(overdue) != 2 {
		t.Fatalf("overdue = %+v", overdue)
	}
	if overdue[0].ApplicationID != "plan" || overdue[0].DaysPastDue != 20 || overdue[0].PaymentNumber != 1 {
		t.Errorf("first overdue = %+v", overdue[0])
	}
	if overdue[1].ApplicationID != "partial" || overdue[1].DaysPastDue != 3 || !overdue[1].Amount.Equal(decimal.RequireFromString("600")) {
		t.Errorf("second overdue = %+v", overdue[1])
	}
	if overdue[0].CustomerPhone != "" || overdue[0].CustomerEmail != "jane@example.test" {
		t.Errorf("contacts = %+v", overdue[0])
	}
}
