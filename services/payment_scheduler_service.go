package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"rplportal/cache"
	"rplportal/events"
	"rplportal/models"
	"rplportal/payments"
	"rplportal/utils"
)

// SchedulerOptions содержит настройки фоновых задач
type SchedulerOptions struct {
	AdminEmails   []string
	Currency      string
	ChargeDelay   time.Duration
	LockTTL       time.Duration
	Location      *time.Location
	ChargeCron    string
	ReminderCron  string
	AutoDebitCron string
	HeartbeatCron string
	JobTimeout    time.Duration
}

// ChargeSummary - итоги одного прохода списаний
type ChargeSummary struct {
	Total     int
	Processed int
	Failed    int
	Skipped   int
}

type chargeOutcome int

const (
	outcomeSkipped chargeOutcome = iota
	outcomePaid
	outcomeFailed
)

// PaymentSchedulerService списывает платежи по планам и рассылает напоминания
type PaymentSchedulerService struct {
	apps      ApplicationStore
	users     UserStore
	gateway   payments.Gateway
	locker    cache.Locker
	mailer    Mailer
	notifier  *NotificationService
	publisher events.Publisher
	limiter   *rate.Limiter
	opts      SchedulerOptions
	now       func() time.Time
	cron      *cron.Cron
}

// NewPaymentSchedulerService создает новый экземпляр PaymentSchedulerService
func NewPaymentSchedulerService(apps ApplicationStore, users UserStore, gateway payments.Gateway, locker cache.Locker, mailer Mailer, notifier *NotificationService, publisher events.Publisher, opts SchedulerOptions) *PaymentSchedulerService {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = time.Hour
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	// Пауза между обращениями к провайдеру
	limit := rate.Inf
	if opts.ChargeDelay > 0 {
		limit = rate.Every(opts.ChargeDelay)
	}

	return &PaymentSchedulerService{
		apps:      apps,
		users:     users,
		gateway:   gateway,
		locker:    locker,
		mailer:    mailer,
		notifier:  notifier,
		publisher: publisher,
		limiter:   rate.NewLimiter(limit, 1),
		opts:      opts,
		now:       time.Now,
	}
}

// Start регистрирует задачи в cron и запускает его
func (s *PaymentSchedulerService) Start() error {
	c := cron.New(
		cron.WithLocation(s.opts.Location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)

	jobs := []struct {
		spec string
		name string
		fn   func(ctx context.Context) error
	}{
		{s.opts.ChargeCron, "payment_plan_charges", func(ctx context.Context) error {
			_, err := s.ProcessDuePayments(ctx)
			return err
		}},
		{s.opts.ReminderCron, "payment_reminders", func(ctx context.Context) error {
			_, err := s.SendPaymentReminders(ctx)
			return err
		}},
		{s.opts.AutoDebitCron, "auto_debits", func(ctx context.Context) error {
			_, err := s.ProcessAutoDebits(ctx)
			return err
		}},
		{s.opts.HeartbeatCron, "heartbeat", func(ctx context.Context) error {
			s.Heartbeat()
			return nil
		}},
	}

	for _, job := range jobs {
		job := job
		if job.spec == "" {
			continue
		}
		if _, err := c.AddFunc(job.spec, func() { s.runJob(job.name, job.fn) }); err != nil {
			return fmt.Errorf("ошибка регистрации задачи %s (%q): %w", job.name, job.spec, err)
		}
	}

	c.Start()
	s.cron = c
	utils.LogInfo("Планировщик платежей запущен (charges=%q, reminders=%q, auto_debit=%q)",
		s.opts.ChargeCron, s.opts.ReminderCron, s.opts.AutoDebitCron)
	return nil
}

// Stop останавливает cron и ждет завершения текущих задач
func (s *PaymentSchedulerService) Stop() context.Context {
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.cron.Stop()
}

// runJob выполняет задачу; ошибки и паники не выходят за пределы планировщика
func (s *PaymentSchedulerService) runJob(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.JobTimeout)
	defer cancel()

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn(ctx)
	}()

	utils.LogOperation(name, start, err)
	if err != nil {
		s.notifyAdminsOfError(name, err)
	}
}

// notifyAdminsOfError отправляет администраторам письмо об ошибке задачи
func (s *PaymentSchedulerService) notifyAdminsOfError(job string, jobErr error) {
	defer func() {
		if r := recover(); r != nil {
			utils.LogError("Ошибка при отправке уведомления об ошибке задачи %s: %v", job, r)
		}
	}()
	sendToAdmins(s.mailer, s.opts.AdminEmails, TemplateAdminSchedulerError, TemplateData{
		Job:   job,
		Error: jobErr.Error(),
	})
}

// Heartbeat отмечает, что планировщик жив
func (s *PaymentSchedulerService) Heartbeat() {
	now := s.now()
	utils.SchedulerHeartbeat.Set(float64(now.Unix()))
	utils.Log().Info("scheduler heartbeat", "time", now.In(s.opts.Location).Format(time.RFC3339))
}

// ProcessDuePayments списывает наступившие платежи по активным планам с прямым списанием
func (s *PaymentSchedulerService) ProcessDuePayments(ctx context.Context) (ChargeSummary, error) {
	apps, err := s.apps.FindActivePaymentPlans(ctx)
	if err != nil {
		return ChargeSummary{}, fmt.Errorf("ошибка получения активных планов платежей: %w", err)
	}

	summary := ChargeSummary{Total: len(apps)}
	for i := range apps {
		switch s.processPlan(ctx, &apps[i]) {
		case outcomePaid:
			summary.Processed++
		case outcomeFailed:
			summary.Failed++
		default:
			summary.Skipped++
		}
	}

	utils.LogInfo("Проход списаний завершен: всего %d, оплачено %d, ошибок %d, пропущено %d",
		summary.Total, summary.Processed, summary.Failed, summary.Skipped)

	if summary.Failed > 0 {
		sendToAdmins(s.mailer, s.opts.AdminEmails, TemplateAdminChargeSummary, TemplateData{
			Total:     summary.Total,
			Processed: summary.Processed,
			Failed:    summary.Failed,
		})
	}
	return summary, nil
}

// processPlan пытается списать один наступивший платеж заявки
func (s *PaymentSchedulerService) processPlan(ctx context.Context, app *models.Application) chargeOutcome {
	if app.Archive || app.PaymentPlan == nil || !app.PaymentPlan.DirectDebit.Enabled {
		return outcomeSkipped
	}
	if _, due := app.PaymentPlan.NextDueInstallment(s.now()); !due {
		return outcomeSkipped
	}

	if err := s.limiter.Wait(ctx); err != nil {
		utils.LogWarn("Проход списаний прерван: %v", err)
		return outcomeSkipped
	}

	// Блокировка не дает двум запускам списать один платеж
	release, ok, err := s.locker.Acquire(ctx, "payment-plan:"+app.ID, s.opts.LockTTL)
	if err != nil {
		utils.LogError("Заявка %s пропущена: %v", app.ApplicationID, err)
		return outcomeSkipped
	}
	if !ok {
		utils.LogInfo("Заявка %s уже обрабатывается другим запуском", app.ApplicationID)
		return outcomeSkipped
	}
	defer release()

	// Перечитываем заявку под блокировкой
	fresh, err := s.apps.GetApplication(ctx, app.ID)
	if err != nil {
		utils.LogError("Ошибка повторного чтения заявки %s: %v", app.ApplicationID, err)
		return outcomeSkipped
	}
	if fresh.Archive || !fresh.HasActivePaymentPlan() || !fresh.PaymentPlan.DirectDebit.Enabled {
		return outcomeSkipped
	}
	now := s.now()
	entry, due := fresh.PaymentPlan.NextDueInstallment(now)
	if !due {
		return outcomeSkipped
	}

	user, err := s.users.GetUser(ctx, fresh.UserID)
	if err != nil {
		utils.LogWarn("Пользователь %s заявки %s не загружен: %v", fresh.UserID, fresh.ApplicationID, err)
	}

	dd := fresh.PaymentPlan.DirectDebit
	res, chargeErr := s.gateway.Charge(ctx, payments.ChargeRequest{
		AmountMinor:      payments.ToMinorUnits(entry.Amount),
		Currency:         s.opts.Currency,
		IdempotencyKey:   InstallmentIdempotencyKey(fresh.ApplicationID, entry),
		CustomerRef:      dd.SquareCustomerID,
		PaymentMethodRef: dd.SquareCardID,
		Note:             fmt.Sprintf("%s payment %d of %d", fresh.ApplicationID, entry.PaymentNumber, fresh.PaymentPlan.NumberOfPayments),
	})
	if chargeErr == nil && !res.Succeeded() {
		chargeErr = fmt.Errorf("%w: статус %s", payments.ErrDeclined, res.Status)
	}

	if chargeErr != nil {
		utils.ChargeAttempts.WithLabelValues("payment_plan", "failed").Inc()
		utils.LogError("Списание платежа %d по заявке %s не прошло: %v", entry.PaymentNumber, fresh.ApplicationID, chargeErr)
		s.recordInstallmentFailure(ctx, fresh, entry, user, chargeErr, now)
		return outcomeFailed
	}

	utils.ChargeAttempts.WithLabelValues("payment_plan", "success").Inc()
	if err := s.recordInstallmentSuccess(ctx, fresh, entry, user, res.TransactionID, now); err != nil {
		return outcomeSkipped
	}
	return outcomePaid
}

// InstallmentIdempotencyKey не зависит от времени: повторный запуск до записи результата
// получает тот же ключ, а после зафиксированной неудачи ключ меняется.
func InstallmentIdempotencyKey(applicationID string, entry models.ScheduleEntry) string {
	return fmt.Sprintf("%s-%d-%d", applicationID, entry.PaymentNumber, entry.FailedAttempts+1)
}

func (s *PaymentSchedulerService) recordInstallmentSuccess(ctx context.Context, app *models.Application, entry models.ScheduleEntry, user *models.User, transactionID string, now time.Time) error {
	var completed bool
	updated, err := s.apps.UpdateApplication(ctx, app.ID, func(a *models.Application) error {
		plan := a.PaymentPlan
		if plan == nil {
			return ErrInstallmentSettled
		}
		e := plan.Entry(entry.PaymentNumber)
		if e == nil || e.Status != models.InstallmentPending {
			return ErrInstallmentSettled
		}

		paidAt := now
		e.Status = models.InstallmentCompleted
		e.PaidDate = &paidAt
		e.TransactionID = transactionID

		plan.CompletedPayments = plan.CountCompleted()
		plan.TotalPaidAmount = plan.TotalPaidAmount.Add(e.Amount)
		plan.DirectDebit.Status = models.DebitStatusScheduled
		plan.DirectDebit.LastError = ""
		plan.DirectDebit.LastFailedAt = nil
		// Платежи до плана уже учтены в amount_paid
		a.AmountPaid = decimal.NewNullDecimal(paidSoFar(a).Add(e.Amount))

		if plan.IsFullyPaid() {
			plan.Status = models.PlanStatusCompleted
			a.Paid = true
			a.FullPaid = true
			a.AppendStatus(models.StatusSentToAssessor, now)
			completed = true
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInstallmentSettled) {
			utils.LogError("Платеж %d по заявке %s уже закрыт, транзакция %s требует проверки", entry.PaymentNumber, app.ApplicationID, transactionID)
		} else {
			utils.LogError("Ошибка сохранения платежа %d по заявке %s (транзакция %s): %v", entry.PaymentNumber, app.ApplicationID, transactionID, err)
		}
		return err
	}

	utils.LogInfo("Платеж %d по заявке %s списан, транзакция %s", entry.PaymentNumber, app.ApplicationID, transactionID)
	s.publish(ctx, events.InstallmentPaid, updated.ID, map[string]interface{}{
		"paymentNumber": entry.PaymentNumber,
		"amount":        entry.Amount.String(),
		"transactionId": transactionID,
	})
	if completed {
		utils.PaymentPlansCompleted.Inc()
		s.publish(ctx, events.PaymentPlanCompleted, updated.ID, map[string]interface{}{
			"totalPaidAmount": updated.PaymentPlan.TotalPaidAmount.String(),
		})
	}

	data := s.installmentData(updated, user, entry)
	data.TransactionID = transactionID
	data.PlanCompleted = completed
	if user != nil {
		sendTemplate(s.mailer, user.Email, TemplateInstallmentPaid, data)
	}
	sendToAdmins(s.mailer, s.opts.AdminEmails, TemplateAdminInstallment, data)
	return nil
}

func (s *PaymentSchedulerService) recordInstallmentFailure(ctx context.Context, app *models.Application, entry models.ScheduleEntry, user *models.User, chargeErr error, now time.Time) {
	_, err := s.apps.UpdateApplication(ctx, app.ID, func(a *models.Application) error {
		if a.PaymentPlan == nil {
			return ErrInstallmentSettled
		}
		failedAt := now
		dd := &a.PaymentPlan.DirectDebit
		dd.Status = models.DebitStatusFailed
		dd.LastError = chargeErr.Error()
		dd.LastFailedAt = &failedAt
		if e := a.PaymentPlan.Entry(entry.PaymentNumber); e != nil && e.Status == models.InstallmentPending {
			e.FailedAttempts++
		}
		return nil
	})
	if err != nil {
		utils.LogError("Ошибка сохранения неудачного списания по заявке %s: %v", app.ApplicationID, err)
	}

	s.publish(ctx, events.InstallmentFailed, app.ID, map[string]interface{}{
		"paymentNumber": entry.PaymentNumber,
		"error":         chargeErr.Error(),
	})

	if user != nil {
		data := s.installmentData(app, user, entry)
		data.Error = chargeErr.Error()
		sendTemplate(s.mailer, user.Email, TemplateInstallmentFailed, data)
	}
}

// SendPaymentReminders напоминает о платежах на завтра по планам без прямого списания
func (s *PaymentSchedulerService) SendPaymentReminders(ctx context.Context) (int, error) {
	apps, err := s.apps.FindActivePaymentPlans(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения активных планов платежей: %w", err)
	}

	tomorrow := dateOnly(s.now().In(s.opts.Location)).AddDate(0, 0, 1)
	sent := 0
	for i := range apps {
		app := &apps[i]
		if app.PaymentPlan == nil || app.PaymentPlan.DirectDebit.Enabled {
			continue
		}
		entry, ok := dueOn(app.PaymentPlan, tomorrow, s.opts.Location)
		if !ok {
			continue
		}
		user, err := s.users.GetUser(ctx, app.UserID)
		if err != nil {
			utils.LogError("Напоминание по заявке %s не отправлено: %v", app.ApplicationID, err)
			continue
		}
		data := s.installmentData(app, user, entry)
		if s.notifier != nil {
			data.LoginURL = s.notifier.LoginLink(user.ID)
		}
		if sendTemplate(s.mailer, user.Email, TemplateInstallmentReminder, data) {
			sent++
		}
	}

	utils.LogInfo("Отправлено напоминаний о платежах: %d", sent)
	return sent, nil
}

// dueOn возвращает первый неоплаченный платеж с датой day
func dueOn(plan *models.PaymentPlan, day time.Time, loc *time.Location) (models.ScheduleEntry, bool) {
	for _, e := range plan.PaymentSchedule {
		if e.Status == models.InstallmentPending && dateOnly(e.DueDate.In(loc)).Equal(day) {
			return e, true
		}
	}
	return models.ScheduleEntry{}, false
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ProcessAutoDebits списывает разовые запланированные платежи вне плана
func (s *PaymentSchedulerService) ProcessAutoDebits(ctx context.Context) (ChargeSummary, error) {
	apps, err := s.apps.FindScheduledAutoDebits(ctx, s.now())
	if err != nil {
		return ChargeSummary{}, fmt.Errorf("ошибка получения запланированных списаний: %w", err)
	}

	summary := ChargeSummary{Total: len(apps)}
	for i := range apps {
		switch s.processAutoDebit(ctx, &apps[i]) {
		case outcomePaid:
			summary.Processed++
		case outcomeFailed:
			summary.Failed++
		default:
			summary.Skipped++
		}
	}

	if summary.Failed > 0 {
		sendToAdmins(s.mailer, s.opts.AdminEmails, TemplateAdminChargeSummary, TemplateData{
			Total:     summary.Total,
			Processed: summary.Processed,
			Failed:    summary.Failed,
		})
	}
	return summary, nil
}

func autoDebitDue(app *models.Application, now time.Time) bool {
	ad := app.AutoDebit
	return ad != nil && ad.Enabled && ad.Status == models.DebitStatusScheduled && !ad.ScheduledDate.After(now)
}

func (s *PaymentSchedulerService) processAutoDebit(ctx context.Context, app *models.Application) chargeOutcome {
	if !autoDebitDue(app, s.now()) {
		return outcomeSkipped
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return outcomeSkipped
	}

	release, ok, err := s.locker.Acquire(ctx, "auto-debit:"+app.ID, s.opts.LockTTL)
	if err != nil || !ok {
		if err != nil {
			utils.LogError("Заявка %s пропущена: %v", app.ApplicationID, err)
		}
		return outcomeSkipped
	}
	defer release()

	fresh, err := s.apps.GetApplication(ctx, app.ID)
	now := s.now()
	if err != nil || !autoDebitDue(fresh, now) {
		return outcomeSkipped
	}
	ad := *fresh.AutoDebit

	res, chargeErr := s.gateway.Charge(ctx, payments.ChargeRequest{
		AmountMinor:      payments.ToMinorUnits(ad.Amount),
		Currency:         s.opts.Currency,
		IdempotencyKey:   fmt.Sprintf("%s-autodebit-%d", fresh.ApplicationID, ad.FailedAttempts+1),
		CustomerRef:      ad.SquareCustomerID,
		PaymentMethodRef: ad.SquareCardID,
		Note:             fresh.ApplicationID + " direct debit",
	})
	if chargeErr == nil && !res.Succeeded() {
		chargeErr = fmt.Errorf("%w: статус %s", payments.ErrDeclined, res.Status)
	}

	if chargeErr != nil {
		utils.ChargeAttempts.WithLabelValues("auto_debit", "failed").Inc()
		utils.LogError("Автосписание по заявке %s не прошло: %v", fresh.ApplicationID, chargeErr)
		_, err := s.apps.UpdateApplication(ctx, fresh.ID, func(a *models.Application) error {
			if a.AutoDebit == nil {
				return ErrInstallmentSettled
			}
			failedAt := now
			a.AutoDebit.Status = models.DebitStatusFailed
			a.AutoDebit.LastError = chargeErr.Error()
			a.AutoDebit.LastFailedAt = &failedAt
			a.AutoDebit.FailedAttempts++
			return nil
		})
		if err != nil {
			utils.LogError("Ошибка сохранения неудачного автосписания по заявке %s: %v", fresh.ApplicationID, err)
		}
		if user, err := s.users.GetUser(ctx, fresh.UserID); err == nil {
			sendTemplate(s.mailer, user.Email, TemplateAutoDebitFailed, TemplateData{
				FirstName:         user.FirstName,
				LastName:          user.LastName,
				ApplicationID:     fresh.ApplicationID,
				InstallmentAmount: formatMoney(ad.Amount),
				Currency:          s.opts.Currency,
				Error:             chargeErr.Error(),
			})
		}
		return outcomeFailed
	}

	utils.ChargeAttempts.WithLabelValues("auto_debit", "success").Inc()
	_, err = s.apps.UpdateApplication(ctx, fresh.ID, func(a *models.Application) error {
		if !autoDebitDue(a, now) {
			return ErrInstallmentSettled
		}
		paidAt := now
		a.AutoDebit.Status = models.DebitStatusCompleted
		a.AutoDebit.TransactionID = res.TransactionID
		a.AutoDebit.PaidDate = &paidAt
		a.AutoDebit.LastError = ""
		a.Paid = true
		a.FullPaid = true
		a.AmountPaid = decimal.NewNullDecimal(paidSoFar(a).Add(ad.Amount))
		syncStage(a, now)
		return nil
	})
	if err != nil {
		utils.LogError("Ошибка сохранения автосписания по заявке %s (транзакция %s): %v", fresh.ApplicationID, res.TransactionID, err)
		return outcomeSkipped
	}

	s.publish(ctx, events.ApplicationPaymentRecorded, fresh.ID, map[string]interface{}{
		"source":        "auto_debit",
		"amount":        ad.Amount.String(),
		"transactionId": res.TransactionID,
	})
	if s.notifier != nil {
		if _, err := s.notifier.Notify(ctx, fresh.ID, TriggerPaymentMade); err != nil {
			utils.LogError("Ошибка уведомления по заявке %s: %v", fresh.ApplicationID, err)
		}
	}
	return outcomePaid
}

func (s *PaymentSchedulerService) installmentData(app *models.Application, user *models.User, entry models.ScheduleEntry) TemplateData {
	data := TemplateData{
		ApplicationID:     app.ApplicationID,
		PaymentNumber:     entry.PaymentNumber,
		InstallmentAmount: formatMoney(entry.Amount),
		DueDate:           formatDate(entry.DueDate.In(s.opts.Location)),
		Currency:          s.opts.Currency,
	}
	if app.PaymentPlan != nil {
		data.NumberOfPayments = app.PaymentPlan.NumberOfPayments
	}
	if user != nil {
		data.FirstName = user.FirstName
		data.LastName = user.LastName
	}
	return data
}

func (s *PaymentSchedulerService) publish(ctx context.Context, eventType, applicationID string, payload map[string]interface{}) {
	err := s.publisher.Publish(ctx, events.Event{
		Type:          eventType,
		ApplicationID: applicationID,
		Payload:       payload,
		OccurredAt:    s.now(),
	})
	if err != nil {
		utils.LogWarn("Событие %s по заявке %s не опубликовано: %v", eventType, applicationID, err)
	}
}
