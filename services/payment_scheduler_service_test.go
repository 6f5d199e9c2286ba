package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rplportal/cache"
	"rplportal/events"
	"rplportal/models"
	"rplportal/payments"
)

var schedulerNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type schedulerFixture struct {
	store     *memStore
	gateway   *fakeGateway
	mailer    *fakeMailer
	publisher *fakePublisher
	locker    *cache.MemoryLocker
	svc       *PaymentSchedulerService
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	f := &schedulerFixture{
		store:     newMemStore(),
		gateway:   &fakeGateway{},
		mailer:    &fakeMailer{},
		publisher: &fakePublisher{},
		locker:    cache.NewMemoryLocker(time.Now),
	}
	notifier := newTestNotifier(f.store, f.mailer)
	f.svc = NewPaymentSchedulerService(f.store, f.store, f.gateway, f.locker, f.mailer, notifier, f.publisher, SchedulerOptions{
		AdminEmails: []string{testAdmin},
		Currency:    "AUD",
		Location:    time.UTC,
	})
	f.svc.now = fixedClock(schedulerNow)
	seedApplicant(f.store)
	return f
}

// planApp собирает заявку с активным планом; первые paid платежей уже оплачены
func planApp(id, card string, amounts []string, firstDue time.Time, paid int) *models.Application {
	plan := &models.PaymentPlan{
		Status:           models.PlanStatusActive,
		NumberOfPayments: len(amounts),
		TotalAmount:      decimal.Zero,
		TotalPaidAmount:  decimal.Zero,
		DirectDebit: models.DirectDebit{
			Enabled:          card != "",
			SquareCardID:     card,
			SquareCustomerID: "cust-" + id,
			Status:           models.DebitStatusScheduled,
		},
	}
	for i, a := range amounts {
		e := models.ScheduleEntry{
			PaymentNumber: i + 1,
			Amount:        money(a),
			DueDate:       firstDue.AddDate(0, 0, 14*i),
			Status:        models.InstallmentPending,
		}
		if i < paid {
			e.Status = models.InstallmentCompleted
			plan.TotalPaidAmount = plan.TotalPaidAmount.Add(e.Amount)
		}
		plan.TotalAmount = plan.TotalAmount.Add(e.Amount)
		plan.PaymentSchedule = append(plan.PaymentSchedule, e)
	}
	plan.CompletedPayments = paid

	app := &models.Application{
		ID:                         id,
		ApplicationID:              "APP-" + id,
		UserID:                     "u1",
		StudentIntakeFormSubmitted: true,
		DocumentsUploaded:          true,
		Price:                      plan.TotalAmount,
		PaymentPlanEnabled:         true,
		PaymentPlan:                plan,
	}
	if paid > 0 {
		app.AmountPaid = decimal.NewNullDecimal(plan.TotalPaidAmount)
	}
	return app
}

func TestProcessDuePaymentsChargesOneInstallment(t *testing.T) {
	f := newSchedulerFixture(t)
	// Первые два платежа уже наступили, списывается только самый ранний
	f.store.putApp(planApp("a1", "card-1", []string{"100", "100", "100"}, schedulerNow.AddDate(0, 0, -20), 0))

	summary, err := f.svc.ProcessDuePayments(context.Background())
	if err != nil {
		t.Fatalf("ProcessDuePayments: %v", err)
	}
	if summary != (ChargeSummary{Total: 1, Processed: 1}) {
		t.Errorf("summary = %+v", summary)
	}

	calls := f.gateway.calls()
	if len(calls) != 1 {
		t.Fatalf("charges = %d, want 1", len(calls))
	}
	if calls[0].AmountMinor != 10000 || calls[0].IdempotencyKey != "APP-a1-1-1" || calls[0].PaymentMethodRef != "card-1" {
		t.Errorf("charge request = %+v", calls[0])
	}

	app := f.store.app(t, "a1")
	plan := app.PaymentPlan
	if plan.PaymentSchedule[0].Status != models.InstallmentCompleted || plan.PaymentSchedule[0].TransactionID != "txn-1" {
		t.Errorf("entry 1 = %+v", plan.PaymentSchedule[0])
	}
	if plan.PaymentSchedule[1].Status != models.InstallmentPending {
		t.Error("entry 2 must stay pending until the next run")
	}
	if plan.CompletedPayments != 1 || !plan.TotalPaidAmount.Equal(money("100")) {
		t.Errorf("completed=%d paid=%s", plan.CompletedPayments, plan.TotalPaidAmount)
	}
	if !app.AmountPaid.Valid || !app.AmountPaid.Decimal.Equal(money("100")) {
		t.Errorf("amount_paid = %v", app.AmountPaid)
	}
	if plan.Status != models.PlanStatusActive || app.FullPaid {
		t.Error("plan must stay active")
	}
	if f.mailer.count("jane@example.test", TemplateInstallmentPaid) != 1 {
		t.Error("applicant confirmation missing")
	}
	if f.mailer.count(testAdmin, TemplateAdminInstallment) != 1 {
		t.Error("admin installment notice missing")
	}
	if got := f.publisher.types(); len(got) != 1 || got[0] != events.InstallmentPaid {
		t.Errorf("events = %v", got)
	}

	// Второй запуск берет следующий наступивший платеж, а не повторяет первый
	if _, err := f.svc.ProcessDuePayments(context.Background()); err != nil {
		t.Fatal(err)
	}
	calls = f.gateway.calls()
	if len(calls) != 2 || calls[1].IdempotencyKey != "APP-a1-2-1" {
		t.Fatalf("second run charges = %+v", calls)
	}
}

func TestProcessDuePaymentsCompletesPlan(t *testing.T) {
	f := newSchedulerFixture(t)
	f.store.putApp(planApp("a1", "card-1", []string{"100", "100", "100.01"}, schedulerNow.AddDate(0, 0, -28), 2))

	summary, err := f.svc.ProcessDuePayments(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Processed != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	app := f.store.app(t, "a1")
	if app.PaymentPlan.Status != models.PlanStatusCompleted {
		t.Errorf("plan status = %s", app.PaymentPlan.Status)
	}
	if !app.Paid || !app.FullPaid {
		t.Errorf("paid=%v full_paid=%v", app.Paid, app.FullPaid)
	}
	if app.CurrentStatus != models.StatusSentToAssessor {
		t.Errorf("current status = %q", app.CurrentStatus)
	}
	if !app.AmountPaid.Decimal.Equal(money("300.01")) {
		t.Errorf("amount_paid = %s", app.AmountPaid.Decimal)
	}

	last, _ := f.mailer.last("jane@example.test")
	if !strings.Contains(last.body, "fully paid") {
		t.Error("confirmation must congratulate on the completed plan")
	}
	types := f.publisher.types()
	if len(types) != 2 || types[1] != events.PaymentPlanCompleted {
		t.Errorf("events = %v", types)
	}

	// Завершенный план больше не попадает в выборку
	if _, err := f.svc.ProcessDuePayments(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(f.gateway.calls()); n != 1 {
		t.Errorf("charges after completion = %d, want 1", n)
	}
}

func TestProcessDuePaymentsFailureSummary(t *testing.T) {
	f := newSchedulerFixture(t)
	f.gateway.failFor = map[string]error{"card-bad": errors.New("card declined")}
	f.store.putApp(planApp("a1", "card-bad", []string{"100", "100"}, schedulerNow.AddDate(0, 0, -1), 0))
	f.store.putApp(planApp("a2", "card-ok", []string{"100", "100"}, schedulerNow.AddDate(0, 0, -1), 0))

	summary, err := f.svc.ProcessDuePayments(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary != (ChargeSummary{Total: 2, Processed: 1, Failed: 1}) {
		t.Errorf("summary = %+v", summary)
	}

	failed := f.store.app(t, "a1")
	dd := failed.PaymentPlan.DirectDebit
	if dd.Status != models.DebitStatusFailed || dd.LastError == "" || dd.LastFailedAt == nil {
		t.Errorf("direct debit after failure = %+v", dd)
	}
	if failed.PaymentPlan.PaymentSchedule[0].FailedAttempts != 1 {
		t.Error("failed attempt not counted")
	}
	if f.store.app(t, "a2").PaymentPlan.CompletedPayments != 1 {
		t.Error("failure of one plan must not stop the batch")
	}
	if f.mailer.count("jane@example.test", TemplateInstallmentFailed) != 1 {
		t.Error("applicant failure email missing")
	}
	if f.mailer.count(testAdmin, TemplateAdminChargeSummary) != 1 {
		t.Error("admin summary missing")
	}
	if last, _ := f.mailer.last(testAdmin); !strings.Contains(last.body, "Failed: 1") {
		t.Errorf("admin summary body = %s", last.body)
	}
	if failed.PaymentPlan.CompletedPayments != 0 || failed.PaymentPlan.PaymentSchedule[0].Status != models.InstallmentPending {
		t.Error("failed installment must stay pending")
	}

	// Повтор после зафиксированной неудачи идет с новым ключом
	f.gateway.failFor = nil
	if _, err := f.svc.ProcessDuePayments(context.Background()); err != nil {
		t.Fatal(err)
	}
	var retryKey string
	for _, c := range f.gateway.calls() {
		if c.PaymentMethodRef == "card-bad" {
			retryKey = c.IdempotencyKey
		}
	}
	if retryKey != "APP-a1-1-2" {
		t.Errorf("retry key = %q, want APP-a1-1-2", retryKey)
	}
}

func TestProcessDuePaymentsDeclinedStatus(t *testing.T) {
	f := newSchedulerFixture(t)
	f.gateway.status = "PENDING"
	f.store.putApp(planApp("a1", "card-1", []string{"50"}, schedulerNow.AddDate(0, 0, -1), 0))

	summary, err := f.svc.ProcessDuePayments(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Failed != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if !strings.Contains(f.store.app(t, "a1").PaymentPlan.DirectDebit.LastError, "PENDING") {
		t.Error("provider status must be recorded")
	}
}

func TestProcessDuePaymentsSkips(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *schedulerFixture)
	}{
		{"not yet due", func(f *schedulerFixture) {
			f.store.putApp(planApp("a1", "card-1", []string{"100"}, schedulerNow.AddDate(0, 0, 1), 0))
		}},
		{"direct debit disabled", func(f *schedulerFixture) {
			f.store.putApp(planApp("a1", "", []string{"100"}, schedulerNow.AddDate(0, 0, -1), 0))
		}},
		{"locked by another run", func(f *schedulerFixture) {
			f.store.putApp(planApp("a1", "card-1", []string{"100"}, schedulerNow.AddDate(0, 0, -1), 0))
			if _, ok, _ := f.locker.Acquire(context.Background(), "payment-plan:a1", time.Minute); !ok {
				t.Fatal("could not pre-acquire lock")
			}
		}},
		{"archived", func(f *schedulerFixture) {
			app := planApp("a1", "card-1", []string{"100"}, schedulerNow.AddDate(0, 0, -1), 0)
			app.Archive = true
			f.store.putApp(app)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSchedulerFixture(t)
			tt.setup(f)

			summary, err := f.svc.ProcessDuePayments(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if n := len(f.gateway.calls()); n != 0 {
				t.Errorf("charges = %d, want 0", n)
			}
			if summary.Processed != 0 || summary.Failed != 0 {
				t.Errorf("summary = %+v", summary)
			}
		})
	}
}

func TestInstallmentIdempotencyKey(t *testing.T) {
	entry := models.ScheduleEntry{PaymentNumber: 2}
	first := InstallmentIdempotencyKey("APP0007", entry)
	if first != InstallmentIdempotencyKey("APP0007", entry) {
		t.Error("key must be stable between runs")
	}
	entry.FailedAttempts = 1
	if InstallmentIdempotencyKey("APP0007", entry) == first {
		t.Error("key must change after a recorded failure")
	}
}

func TestSendPaymentReminders(t *testing.T) {
	f := newSchedulerFixture(t)
	tomorrow := time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)
	f.store.putApp(planApp("a1", "", []string{"100", "100"}, tomorrow, 0))
	f.store.putApp(planApp("a2", "card-1", []string{"100"}, tomorrow, 0))
	f.store.putApp(planApp("a3", "", []string{"100"}, tomorrow.AddDate(0, 0, 1), 0))

	sent, err := f.svc.SendPaymentReminders(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	last, _ := f.mailer.last("jane@example.test")
	if !strings.Contains(last.body, "11 Mar 2026") || !strings.Contains(last.body, "token=tok-u1") {
		t.Errorf("reminder body = %s", last.body)
	}
	if len(f.gateway.calls()) != 0 {
		t.Error("reminders must not charge")
	}
}

func autoDebitApp(card string, scheduled time.Time) *models.Application {
	return &models.Application{
		ID:                         "a1",
		ApplicationID:              "APP0001",
		UserID:                     "u1",
		StudentIntakeFormSubmitted: true,
		DocumentsUploaded:          true,
		Price:                      money("300"),
		AutoDebit: &models.AutoDebit{
			Enabled:       true,
			Status:        models.DebitStatusScheduled,
			Amount:        money("300"),
			ScheduledDate: scheduled,
			SquareCardID:  card,
		},
	}
}

func TestProcessAutoDebitsSuccess(t *testing.T) {
	f := newSchedulerFixture(t)
	f.store.putApp(autoDebitApp("card-1", schedulerNow.Add(-time.Hour)))

	summary, err := f.svc.ProcessAutoDebits(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary != (ChargeSummary{Total: 1, Processed: 1}) {
		t.Errorf("summary = %+v", summary)
	}

	app := f.store.app(t, "a1")
	if app.AutoDebit.Status != models.DebitStatusCompleted || app.AutoDebit.TransactionID != "txn-1" {
		t.Errorf("auto debit = %+v", app.AutoDebit)
	}
	if !app.Paid || !app.FullPaid || !app.AmountPaid.Decimal.Equal(money("300")) {
		t.Errorf("paid=%v full=%v amount=%v", app.Paid, app.FullPaid, app.AmountPaid)
	}
	if !app.HasStatus(models.StatusSentToAssessor) {
		t.Error("complete application must move to the assessor stage")
	}
	if f.mailer.count("jane@example.test", TemplateApplicationSubmitted) != 1 {
		t.Error("payment notification missing")
	}

	if _, err := f.svc.ProcessAutoDebits(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(f.gateway.calls()); n != 1 {
		t.Errorf("completed debit charged again: %d calls", n)
	}
}

func TestProcessAutoDebitsFailure(t *testing.T) {
	f := newSchedulerFixture(t)
	f.gateway.err = payments.ErrDeclined
	f.store.putApp(autoDebitApp("card-1", schedulerNow.Add(-time.Hour)))

	summary, err := f.svc.ProcessAutoDebits(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Failed != 1 {
		t.Errorf("summary = %+v", summary)
	}
	app := f.store.app(t, "a1")
	if app.AutoDebit.Status != models.DebitStatusFailed || app.AutoDebit.FailedAttempts != 1 || app.Paid {
		t.Errorf("auto debit after failure = %+v paid=%v", app.AutoDebit, app.Paid)
	}
	if f.mailer.count("jane@example.test", TemplateAutoDebitFailed) != 1 {
		t.Error("failure email missing")
	}
}

func TestProcessAutoDebitsNotDue(t *testing.T) {
	f := newSchedulerFixture(t)
	f.store.putApp(autoDebitApp("card-1", schedulerNow.Add(time.Hour)))

	summary, err := f.svc.ProcessAutoDebits(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Total != 0 || len(f.gateway.calls()) != 0 {
		t.Errorf("future debit processed: %+v", summary)
	}
}

func TestRunJobRecoversAndAlerts(t *testing.T) {
	f := newSchedulerFixture(t)
	f.svc.runJob("broken", func(context.Context) error { panic("boom") })
	f.svc.runJob("failing", func(context.Context) error { return errors.New("db gone") })

	if n := f.mailer.count(testAdmin, TemplateAdminSchedulerError); n != 2 {
		t.Errorf("scheduler error emails = %d, want 2", n)
	}
}

func TestStartRejectsBadCron(t *testing.T) {
	svc := NewPaymentSchedulerService(newMemStore(), newMemStore(), &fakeGateway{}, cache.NewMemoryLocker(time.Now), &fakeMailer{}, nil, nil, SchedulerOptions{
		ChargeCron: "not a cron",
	})
	if err := svc.Start(); err == nil {
		svc.Stop()
		t.Fatal("Start accepted an invalid cron spec")
	}
	<-svc.Stop().Done()
}

func TestProcessDuePaymentsKeepsEarlierPayments(t *testing.T) {
	f := newSchedulerFixture(t)
	app := planApp("a1", "card-1", []string{"300", "300"}, schedulerNow.AddDate(0, 0, -1), 0)
	app.Price = money("1000")
	app.AmountPaid = decimal.NewNullDecimal(money("400"))
	f.store.putApp(app)

	if _, err := f.svc.ProcessDuePayments(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := f.store.app(t, "a1").AmountPaid.Decimal; !got.Equal(money("700")) {
		t.Fatalf("amount_paid after first installment = %s, want 700", got)
	}

	f.svc.now = fixedClock(schedulerNow.AddDate(0, 0, 14))
	if _, err := f.svc.ProcessDuePayments(context.Background()); err != nil {
		t.Fatal(err)
	}
	done := f.store.app(t, "a1")
	if !done.AmountPaid.Decimal.Equal(money("1000")) || done.PaymentPlan.Status != models.PlanStatusCompleted {
		t.Errorf("amount_paid = %s plan = %s", done.AmountPaid.Decimal, done.PaymentPlan.Status)
	}
	if !ComputeStatus(done, nil).AmountPaid.Equal(money("1000")) {
		t.Errorf("status amount = %s", ComputeStatus(done, nil).AmountPaid)
	}
}

func TestProcessPlanSkipsApplicationArchivedAfterQuery(t *testing.T) {
	f := newSchedulerFixture(t)
	listed := planApp("a1", "card-1", []string{"100"}, schedulerNow.AddDate(0, 0, -1), 0)
	stored := *listed
	stored.Archive = true
	f.store.putApp(&stored)

	if got := f.svc.processPlan(context.Background(), listed); got != outcomeSkipped {
		t.Errorf("outcome = %v, want skipped", got)
	}
	if n := len(f.gateway.calls()); n != 0 {
		t.Errorf("charges = %d, want 0", n)
	}
}
