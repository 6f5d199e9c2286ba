package services

import (
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rplportal/models"
)

func TestComputeStatusPartialScheme(t *testing.T) {
	app := &models.Application{
		StudentIntakeFormSubmitted: true,
		PartialScheme:              true,
		Paid:                       true,
		FullPaid:                   false,
		Price:                      money("1500"),
		Payment1:                   money("1000"),
		Payment2:                   money("500"),
	}

	st := ComputeStatus(app, nil)

	if !st.PartialPaymentMade || st.FullPaymentMade {
		t.Fatalf("partial=%v full=%v, want partial only", st.PartialPaymentMade, st.FullPaymentMade)
	}
	if !st.RemainingPayment.Equal(money("500")) {
		t.Errorf("RemainingPayment = %s, want 500", st.RemainingPayment)
	}
	if !st.AmountPaid.Equal(money("1000")) {
		t.Errorf("AmountPaid = %s, want payment1", st.AmountPaid)
	}
	if st.PaymentState() != PaymentPartial {
		t.Errorf("PaymentState = %s", st.PaymentState())
	}
}

func TestComputeStatusSIFFallback(t *testing.T) {
	app := &models.Application{StudentIntakeFormSubmitted: false}
	intake := &models.StudentIntakeForm{FirstName: "Jane", LastName: "Doe", Agree: true}

	st := ComputeStatus(app, intake)
	if !st.SIFCompleted || !st.SIFHealed {
		t.Fatalf("SIFCompleted=%v SIFHealed=%v, want both true", st.SIFCompleted, st.SIFHealed)
	}
	if app.StudentIntakeFormSubmitted {
		t.Error("ComputeStatus must not write the flag")
	}

	intake.Agree = false
	if st := ComputeStatus(app, intake); st.SIFCompleted {
		t.Error("intake without agreement must not count as submitted")
	}

	app.StudentIntakeFormSubmitted = true
	if st := ComputeStatus(app, nil); !st.SIFCompleted || st.SIFHealed {
		t.Errorf("flagged record: SIFCompleted=%v SIFHealed=%v", st.SIFCompleted, st.SIFHealed)
	}
}

func TestComputeStatusPayment(t *testing.T) {
	tests := []struct {
		name        string
		app         models.Application
		wantFull    bool
		wantPartial bool
		wantPaid    string
	}{
		{
			name:     "unpaid",
			app:      models.Application{Price: money("900")},
			wantPaid: "0",
		},
		{
			name:     "paid in full without scheme",
			app:      models.Application{Paid: true, Price: money("900"), Discount: money("100")},
			wantFull: true,
			wantPaid: "800",
		},
		{
			name:     "split completed",
			app:      models.Application{Paid: true, FullPaid: true, PartialScheme: true, Payment1: money("400"), Payment2: money("500")},
			wantFull: true,
			wantPaid: "400",
		},
		{
			name:     "stored amount wins",
			app:      models.Application{Paid: true, Price: money("900"), AmountPaid: decimal.NewNullDecimal(money("650"))},
			wantFull: true,
			wantPaid: "650",
		},
		{
			name:     "zero stored amount counts as unset",
			app:      models.Application{Paid: true, Price: money("900"), AmountPaid: decimal.NewNullDecimal(decimal.Zero)},
			wantFull: true,
			wantPaid: "900",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := ComputeStatus(&tt.app, nil)
			if st.FullPaymentMade != tt.wantFull || st.PartialPaymentMade != tt.wantPartial {
				t.Errorf("full=%v partial=%v, want %v/%v", st.FullPaymentMade, st.PartialPaymentMade, tt.wantFull, tt.wantPartial)
			}
			if !st.AmountPaid.Equal(money(tt.wantPaid)) {
				t.Errorf("AmountPaid = %s, want %s", st.AmountPaid, tt.wantPaid)
			}
			if !st.RemainingPayment.IsZero() {
				t.Errorf("RemainingPayment = %s, want 0", st.RemainingPayment)
			}
		})
	}
}

func TestComputeStatusDeterministic(t *testing.T) {
	app := &models.Application{
		StudentIntakeFormSubmitted: true,
		DocumentsUploaded:          true,
		PartialScheme:              true,
		Paid:                       true,
		Payment1:                   money("300"),
		Payment2:                   money("200"),
	}
	intake := &models.StudentIntakeForm{FirstName: "A", LastName: "B", Agree: true}

	first := ComputeStatus(app, intake)
	second := ComputeStatus(app, intake)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("ComputeStatus is not deterministic: %+v vs %+v", first, second)
	}
}

func TestApplicationStatusComplete(t *testing.T) {
	st := ApplicationStatus{SIFCompleted: true, DocsCompleted: true, FullPaymentMade: true}
	if !st.Complete() {
		t.Error("all three steps done must be complete")
	}
	st.FullPaymentMade = false
	st.PartialPaymentMade = true
	if st.Complete() {
		t.Error("partial payment must not be complete")
	}
}

func TestRiskScore(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		app   models.Application
		due   time.Time
		score int
		level RiskLevel
	}{
		{
			name:  "fresh application due far away",
			app:   models.Application{CreatedAt: now},
			due:   now.AddDate(0, 0, 90),
			score: 0,
			level: RiskLow,
		},
		{
			name:  "due within a week",
			app:   models.Application{CreatedAt: now, ContactAttempts: 1},
			due:   now.AddDate(0, 0, 5),
			score: 3,
			level: RiskMedium,
		},
		{
			name:  "overdue old partial with many contacts",
			app:   models.Application{CreatedAt: now.AddDate(0, 0, -90), ContactAttempts: 4, PartialScheme: true},
			due:   now.AddDate(0, 0, -1),
			score: 3 + 2 + 1 + 2,
			level: RiskHigh,
		},
		{
			name:  "due within a month, month old",
			app:   models.Application{CreatedAt: now.AddDate(0, 0, -45)},
			due:   now.AddDate(0, 0, 20),
			score: 2,
			level: RiskLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RiskScore(&tt.app, tt.due, now); got != tt.score {
				t.Errorf("RiskScore = %d, want %d", got, tt.score)
			}
			if got := AssessRisk(&tt.app, tt.due, now); got != tt.level {
				t.Errorf("AssessRisk = %s, want %s", got, tt.level)
			}
		})
	}
}

func TestRiskLevelBoundaries(t *testing.T) {
	cases := map[int]RiskLevel{0: RiskLow, 2: RiskLow, 3: RiskMedium, 4: RiskMedium, 5: RiskHigh, 10: RiskHigh}
	for score, want := range cases {
		if got := RiskLevelFor(score); got != want {
			t.Errorf("RiskLevelFor(%d) = %s, want %s", score, got, want)
		}
	}
}
