package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"rplportal/cache"
	"rplportal/events"
	"rplportal/models"
	"rplportal/storage"
	"rplportal/utils"
)

const applicationsCachePrefix = "applications:"

// Частота платежей плана
const (
	FrequencyWeekly      = "weekly"
	FrequencyFortnightly = "fortnightly"
	FrequencyMonthly     = "monthly"
)

// Виды ручного платежа
const (
	PaymentKindFull   = "full"
	PaymentKindFirst  = "first"
	PaymentKindSecond = "second"
)

// ApplicationService управляет жизненным циклом заявок
type ApplicationService struct {
	apps      ApplicationStore
	forms     FormStore
	users     UserStore
	blobs     storage.BlobStore
	cache     cache.Cache
	cacheTTL  time.Duration
	notifier  *NotificationService
	publisher events.Publisher
	validate  *validator.Validate
	now       func() time.Time
}

// NewApplicationService создает новый экземпляр ApplicationService
func NewApplicationService(apps ApplicationStore, forms FormStore, users UserStore, blobs storage.BlobStore, c cache.Cache, cacheTTL time.Duration, notifier *NotificationService, publisher events.Publisher) *ApplicationService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &ApplicationService{
		apps:      apps,
		forms:     forms,
		users:     users,
		blobs:     blobs,
		cache:     c,
		cacheTTL:  cacheTTL,
		notifier:  notifier,
		publisher: publisher,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// CreateApplicationRequest - данные для регистрации заявки
type CreateApplicationRequest struct {
	UserID            string          `json:"userId" validate:"required"`
	AgentID           string          `json:"agentId"`
	Source            string          `json:"source" validate:"omitempty,oneof=self agent import"`
	Price             decimal.Decimal `json:"price"`
	Discount          decimal.Decimal `json:"discount"`
	Industry          string          `json:"industry" validate:"max=100"`
	Qualification     string          `json:"qualification" validate:"max=200"`
	YearsOfExperience int             `json:"yearsOfExperience" validate:"gte=0"`
	State             string          `json:"state" validate:"max=32"`
}

// CreateApplication создает заявку вместе с тремя анкетами одной транзакцией
func (s *ApplicationService) CreateApplication(ctx context.Context, req CreateApplicationRequest) (*models.Application, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	if req.Price.IsNegative() || req.Discount.IsNegative() || req.Discount.GreaterThan(req.Price) {
		return nil, fmt.Errorf("%w: неверная цена или скидка", ErrValidation)
	}

	user, err := s.users.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки пользователя: %w", err)
	}

	applicationID, err := s.apps.NextApplicationID(ctx)
	if err != nil {
		return nil, err
	}

	source := req.Source
	if source == "" {
		source = "self"
		if req.AgentID != "" {
			source = "agent"
		}
	}

	now := s.now()
	initial := &models.InitialScreeningForm{
		ID:                uuid.NewString(),
		UserID:            user.ID,
		Industry:          req.Industry,
		Qualification:     req.Qualification,
		YearsOfExperience: req.YearsOfExperience,
		State:             req.State,
	}
	intake := &models.StudentIntakeForm{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	}
	docs := &models.DocumentsForm{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Documents: []models.UploadedDocument{},
	}
	app := &models.Application{
		ID:            uuid.NewString(),
		ApplicationID: applicationID,
		UserID:        user.ID,
		Price:         req.Price,
		Discount:      req.Discount,
		Source:        source,
		Color:         models.LeadColorWhite,
		Expenses:      []models.Expense{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	app.AppendStatus(models.StatusStudentIntakeForm, now)

	if err := s.apps.CreateApplication(ctx, app, initial, intake, docs); err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	s.publish(ctx, events.ApplicationCreated, app.ID, map[string]interface{}{
		"applicationId": app.ApplicationID,
		"source":        source,
		"agentId":       req.AgentID,
	})
	utils.LogInfo("Создана заявка %s для пользователя %s", app.ApplicationID, user.ID)
	return app, nil
}

// GetApplication возвращает заявку по id
func (s *ApplicationService) GetApplication(ctx context.Context, id string) (*models.Application, error) {
	return s.apps.GetApplication(ctx, id)
}

// GetStatus возвращает вычисленное состояние заявки
func (s *ApplicationService) GetStatus(ctx context.Context, id string) (ApplicationStatus, error) {
	app, err := s.apps.GetApplication(ctx, id)
	if err != nil {
		return ApplicationStatus{}, err
	}
	var intake *models.StudentIntakeForm
	if app.StudentFormID != "" {
		intake, err = s.forms.GetStudentIntakeForm(ctx, app.StudentFormID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return ApplicationStatus{}, err
		}
	}
	return ComputeStatus(app, intake), nil
}

// ListApplications возвращает неархивные заявки, используя кэш
func (s *ApplicationService) ListApplications(ctx context.Context) ([]models.Application, error) {
	key := applicationsCachePrefix + "list"
	if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var apps []models.Application
		if err := json.Unmarshal(raw, &apps); err == nil {
			return apps, nil
		}
	} else if err != nil {
		utils.LogWarn("Ошибка чтения кэша заявок: %v", err)
	}

	apps, err := s.apps.ListApplications(ctx)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(apps); err == nil {
		if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
			utils.LogWarn("Ошибка записи кэша заявок: %v", err)
		}
	}
	return apps, nil
}

// StudentIntakeRequest - поля анкеты студента
type StudentIntakeRequest struct {
	FirstName   string     `json:"firstName" validate:"required,max=50"`
	LastName    string     `json:"lastName" validate:"required,max=50"`
	DateOfBirth *time.Time `json:"dateOfBirth"`
	USI         string     `json:"usi" validate:"omitempty,len=10,alphanum"`
	Address     string     `json:"address" validate:"max=255"`
	Agree       bool       `json:"agree" validate:"required"`
}

// SubmitStudentIntake сохраняет анкету студента и выставляет флаг в заявке
func (s *ApplicationService) SubmitStudentIntake(ctx context.Context, id string, req StudentIntakeRequest) (*models.Application, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	app, err := s.apps.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	form, err := s.forms.GetStudentIntakeForm(ctx, app.StudentFormID)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки анкеты студента: %w", err)
	}

	now := s.now()
	form.FirstName = strings.TrimSpace(req.FirstName)
	form.LastName = strings.TrimSpace(req.LastName)
	form.DateOfBirth = req.DateOfBirth
	form.USI = strings.ToUpper(req.USI)
	form.Address = req.Address
	form.Agree = req.Agree
	form.SubmittedAt = &now
	if err := s.forms.SaveStudentIntakeForm(ctx, form); err != nil {
		return nil, fmt.Errorf("ошибка сохранения анкеты студента: %w", err)
	}

	updated, err := s.apps.UpdateApplication(ctx, id, func(a *models.Application) error {
		a.StudentIntakeFormSubmitted = true
		syncStage(a, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterChange(ctx, updated, TriggerSIFCompleted)
	return updated, nil
}

// UploadFile - один загружаемый файл
type UploadFile struct {
	Name        string
	ContentType string
	Size        int64
	Content     io.Reader
}

// UploadDocuments кладет файлы в хранилище и отмечает документы загруженными
func (s *ApplicationService) UploadDocuments(ctx context.Context, id string, files []UploadFile) (*models.Application, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: нет файлов", ErrValidation)
	}

	app, err := s.apps.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	form, err := s.forms.GetDocumentsForm(ctx, app.DocumentsFormID)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки формы документов: %w", err)
	}

	now := s.now()
	uploaded := make([]models.UploadedDocument, 0, len(files))
	for _, f := range files {
		key := storage.DocumentKey(app.ID, f.Name)
		if err := s.blobs.Put(ctx, key, f.Content, f.ContentType); err != nil {
			s.removeBlobs(ctx, uploaded)
			return nil, fmt.Errorf("ошибка загрузки файла %s: %w", f.Name, err)
		}
		uploaded = append(uploaded, models.UploadedDocument{
			ID:          uuid.NewString(),
			Name:        f.Name,
			Key:         key,
			ContentType: f.ContentType,
			Size:        f.Size,
			UploadedAt:  now,
		})
	}

	form.Documents = append(form.Documents, uploaded...)
	if err := s.forms.SaveDocumentsForm(ctx, form); err != nil {
		s.removeBlobs(ctx, uploaded)
		return nil, fmt.Errorf("ошибка сохранения формы документов: %w", err)
	}

	updated, err := s.apps.UpdateApplication(ctx, id, func(a *models.Application) error {
		a.DocumentsUploaded = true
		syncStage(a, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterChange(ctx, updated, TriggerDocsUploaded)
	return updated, nil
}

// DocumentURL выдает временную ссылку на загруженный документ
func (s *ApplicationService) DocumentURL(ctx context.Context, id, documentID string) (string, error) {
	app, err := s.apps.GetApplication(ctx, id)
	if err != nil {
		return "", err
	}
	form, err := s.forms.GetDocumentsForm(ctx, app.DocumentsFormID)
	if err != nil {
		return "", err
	}
	for _, d := range form.Documents {
		if d.ID == documentID {
			return s.blobs.SignedURL(ctx, d.Key, 15*time.Minute)
		}
	}
	return "", models.ErrNotFound
}

func (s *ApplicationService) removeBlobs(ctx context.Context, docs []models.UploadedDocument) {
	for _, d := range docs {
		if err := s.blobs.Delete(ctx, d.Key); err != nil {
			utils.LogWarn("Не удалось удалить файл %s: %v", d.Key, err)
		}
	}
}

// PartialSchemeRequest - разбивка оплаты на два платежа
type PartialSchemeRequest struct {
	Payment1         decimal.Decimal `json:"payment1"`
	Payment2         decimal.Decimal `json:"payment2"`
	Payment2Deadline *time.Time      `json:"payment2Deadline"`
}

// ConfigurePartialScheme включает ручную оплату двумя платежами
func (s *ApplicationService) ConfigurePartialScheme(ctx context.Context, id string, req PartialSchemeRequest) (*models.Application, error) {
	if !req.Payment1.IsPositive() || !req.Payment2.IsPositive() {
		return nil, fmt.Errorf("%w: суммы платежей должны быть положительными", ErrValidation)
	}
	updated, err := s.apps.UpdateApplication(ctx, id, func(a *models.Application) error {
		if a.HasActivePaymentPlan() {
			return fmt.Errorf("%w: у заявки активен план платежей", ErrValidation)
		}
		if a.Paid {
			return fmt.Errorf("%w: оплата уже начата", ErrValidation)
		}
		a.PartialScheme = true
		a.Payment1 = req.Payment1
		a.Payment2 = req.Payment2
		a.Payment2Deadline = req.Payment2Deadline
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return updated, nil
}

// RecordPaymentRequest - ручная отметка об оплате
type RecordPaymentRequest struct {
	Kind          string          `json:"kind" validate:"required,oneof=full first second"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transactionId"`
}

// RecordPayment отмечает полную оплату или один из двух платежей разбивки
func (s *ApplicationService) RecordPayment(ctx context.Context, id string, req RecordPaymentRequest) (*models.Application, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	if req.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: отрицательная сумма", ErrValidation)
	}

	now := s.now()
	updated, err := s.apps.UpdateApplication(ctx, id, func(a *models.Application) error {
		switch req.Kind {
		case PaymentKindFull:
			amount := a.NetPrice()
			if req.Amount.IsPositive() {
				amount = req.Amount
			}
			a.Paid = true
			a.FullPaid = true
			a.AmountPaid = decimal.NewNullDecimal(amount)
		case PaymentKindFirst:
			if !a.PartialScheme {
				return fmt.Errorf("%w: разбивка оплаты не включена", ErrValidation)
			}
			a.Paid = true
			a.FullPaid = false
			a.AmountPaid = decimal.NewNullDecimal(a.Payment1)
		case PaymentKindSecond:
			if !a.PartialScheme || !a.Paid {
				return fmt.Errorf("%w: первый платеж еще не получен", ErrValidation)
			}
			a.FullPaid = true
			a.AmountPaid = decimal.NewNullDecimal(a.Payment1.Add(a.Payment2))
		}
		syncStage(a, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.ApplicationPaymentRecorded, updated.ID, map[string]interface{}{
		"kind":          req.Kind,
		"amountPaid":    updated.AmountPaid.Decimal.String(),
		"transactionId": req.TransactionID,
	})
	s.afterChange(ctx, updated, TriggerPaymentMade)
	return updated, nil
}

// PaymentPlanRequest - параметры плана платежей
type PaymentPlanRequest struct {
	NumberOfPayments int       `json:"numberOfPayments" validate:"required,min=1,max=52"`
	Frequency        string    `json:"frequency" validate:"required,oneof=weekly fortnightly monthly"`
	FirstDueDate     time.Time `json:"firstDueDate" validate:"required"`
	DirectDebit      bool      `json:"directDebit"`
	SquareCardID     string    `json:"squareCardId" validate:"required_if=DirectDebit true"`
	SquareCustomerID string    `json:"squareCustomerId"`
}

// SetupPaymentPlan делит остаток поровну на N платежей, остаток от деления - в последний
func (s *ApplicationService) SetupPaymentPlan(ctx context.Context, id string, req PaymentPlanRequest) (*models.Application, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	now := s.now()
	updated, err := s.apps.UpdateApplication(ctx, id, func(a *models.Application) error {
		if a.PaymentPlan != nil && a.PaymentPlan.Status == models.PlanStatusActive && a.PaymentPlan.CountCompleted() > 0 {
			return fmt.Errorf("%w: по текущему плану уже есть платежи", ErrInvalidPaymentPlan)
		}
		outstanding := a.NetPrice().Sub(paidSoFar(a))
		if !outstanding.IsPositive() {
			return fmt.Errorf("%w: нет остатка к оплате", ErrInvalidPaymentPlan)
		}

		schedule, err := BuildSchedule(outstanding, req.NumberOfPayments, req.Frequency, req.FirstDueDate)
		if err != nil {
			return err
		}

		dd := models.DirectDebit{Enabled: req.DirectDebit}
		if req.DirectDebit {
			dd.SquareCardID = req.SquareCardID
			dd.SquareCustomerID = req.SquareCustomerID
			dd.Status = models.DebitStatusScheduled
		}

		a.PaymentPlanEnabled = true
		a.PaymentPlan = &models.PaymentPlan{
			Status:           models.PlanStatusActive,
			NumberOfPayments: req.NumberOfPayments,
			TotalAmount:      outstanding,
			TotalPaidAmount:  decimal.Zero,
			PaymentSchedule:  schedule,
			DirectDebit:      dd,
			CreatedAt:        now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	utils.LogInfo("Для заявки %s создан план из %d платежей", updated.ApplicationID, req.NumberOfPayments)
	return updated, nil
}

// BuildSchedule строит график платежей
func BuildSchedule(total decimal.Decimal, n int, frequency string, first time.Time) ([]models.ScheduleEntry, error) {
	if n < 1 || !total.IsPositive() {
		return nil, ErrInvalidPaymentPlan
	}

	base := total.Div(decimal.NewFromInt(int64(n))).RoundDown(2)
	last := total.Sub(base.Mul(decimal.NewFromInt(int64(n - 1))))

	schedule := make([]models.ScheduleEntry, 0, n)
	for i := 0; i < n; i++ {
		var due time.Time
		switch frequency {
		case FrequencyWeekly:
			due = first.AddDate(0, 0, 7*i)
		case FrequencyFortnightly:
			due = first.AddDate(0, 0, 14*i)
		case FrequencyMonthly:
			due = first.AddDate(0, i, 0)
		default:
			return nil, fmt.Errorf("%w: неизвестная частота %q", ErrInvalidPaymentPlan, frequency)
		}

		amount := base
		if i == n-1 {
			amount = last
		}
		schedule = append(schedule, models.ScheduleEntry{
			PaymentNumber: i + 1,
			Amount:        amount,
			DueDate:       due,
			Status:        models.InstallmentPending,
		})
	}
	return schedule, nil
}

// AutoDebitRequest - разовое прямое списание
type AutoDebitRequest struct {
	Amount           decimal.Decimal `json:"amount"`
	ScheduledDate    time.Time       `json:"scheduledDate" validate:"required"`
	SquareCardID     string          `json:"squareCardId" validate:"required"`
	SquareCustomerID string          `json:"squareCustomerId"`
}

// ScheduleAutoDebit планирует разовое списание остатка
func (s *ApplicationService) ScheduleAutoDebit(ctx context.Context, id string, req AutoDebitRequest) (*models.Application, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	updated, err := s.apps.UpdateApplication(ctx, id, func(a *models.Application) error {
		if a.HasActivePaymentPlan() {
			return fmt.Errorf("%w: у заявки активен план платежей", ErrValidation)
		}
		amount := req.Amount
		if !amount.IsPositive() {
			amount = a.NetPrice().Sub(paidSoFar(a))
		}
		if !amount.IsPositive() {
			return fmt.Errorf("%w: нет остатка к оплате", ErrValidation)
		}
		attempts := 0
		if a.AutoDebit != nil {
			attempts = a.AutoDebit.FailedAttempts
		}
		a.AutoDebit = &models.AutoDebit{
			Enabled:          true,
			Status:           models.DebitStatusScheduled,
			Amount:           amount,
			ScheduledDate:    req.ScheduledDate,
			SquareCardID:     req.SquareCardID,
			SquareCustomerID: req.SquareCustomerID,
			FailedAttempts:   attempts,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return updated, nil
}

// UpdateStatus добавляет этап в историю заявки
func (s *ApplicationService) UpdateStatus(ctx context.Context, id, statusName string) (*models.Application, error) {
	statusName = strings.TrimSpace(statusName)
	if statusName == "" {
		return nil, fmt.Errorf("%w: пустой статус", ErrValidation)
	}
	now := s.now()
	updated, err := s.apps.UpdateApplication(ctx, id, func(a *models.Application) error {
		a.AppendStatus(statusName, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	s.publish(ctx, events.ApplicationStatusChanged, updated.ID, map[string]interface{}{"status": statusName})
	return updated, nil
}

// Archive переносит заявку в архив без удаления
func (s *ApplicationService) Archive(ctx context.Context, id string) (*models.Application, error) {
	updated, err := s.apps.UpdateApplication(ctx, id, func(a *models.Application) error {
		if a.Archive {
			return ErrAlreadyArchived
		}
		a.Archive = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return updated, nil
}

// ExpenseRequest - расход по заявке
type ExpenseRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"required,max=255"`
	Date        time.Time       `json:"date"`
}

// AddExpense добавляет расход в конец списка
func (s *ApplicationService) AddExpense(ctx context.Context, id string, req ExpenseRequest) (*models.Expense, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: сумма расхода должна быть положительной", ErrValidation)
	}

	now := s.now()
	expense := models.Expense{
		ID:          uuid.NewString(),
		Amount:      req.Amount,
		Description: req.Description,
		Date:        req.Date,
		CreatedAt:   now,
	}
	if expense.Date.IsZero() {
		expense.Date = now
	}

	_, err := s.apps.UpdateApplication(ctx, id, func(a *models.Application) error {
		a.Expenses = append(a.Expenses, expense)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return &expense, nil
}

// RecordContactAttempt увеличивает счетчик попыток связаться с соискателем
func (s *ApplicationService) RecordContactAttempt(ctx context.Context, id, contactStatus string) (*models.Application, error) {
	updated, err := s.apps.UpdateApplication(ctx, id, func(a *models.Application) error {
		a.ContactAttempts++
		if contactStatus != "" {
			a.ContactStatus = contactStatus
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return updated, nil
}

// SetLeadColor задает цвет лида
func (s *ApplicationService) SetLeadColor(ctx context.Context, id string, color models.LeadColor) (*models.Application, error) {
	if !color.Valid() {
		return nil, fmt.Errorf("%w: неизвестный цвет %q", ErrValidation, color)
	}
	updated, err := s.apps.UpdateApplication(ctx, id, func(a *models.Application) error {
		a.Color = color
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return updated, nil
}

// AssignAdmin назначает ответственного администратора
func (s *ApplicationService) AssignAdmin(ctx context.Context, id, adminID string) (*models.Application, error) {
	updated, err := s.apps.UpdateApplication(ctx, id, func(a *models.Application) error {
		a.AssignedAdmin = adminID
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return updated, nil
}

// TriggerNotification отправляет письмо по текущему состоянию заявки
func (s *ApplicationService) TriggerNotification(ctx context.Context, id string) (Selection, error) {
	return s.notifier.Notify(ctx, id, TriggerManual)
}

// afterChange выполняется после фиксации изменения: сброс кэша, событие и письма
func (s *ApplicationService) afterChange(ctx context.Context, app *models.Application, trigger Trigger) {
	s.invalidate(ctx)
	s.publish(ctx, events.ApplicationStatusChanged, app.ID, map[string]interface{}{
		"status":  app.CurrentStatus,
		"trigger": string(trigger),
	})
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Notify(ctx, app.ID, trigger); err != nil {
		utils.LogError("Ошибка уведомления по заявке %s: %v", app.ApplicationID, err)
	}
}

func (s *ApplicationService) invalidate(ctx context.Context) {
	if err := s.cache.DeletePrefix(ctx, applicationsCachePrefix); err != nil {
		utils.LogWarn("Ошибка сброса кэша заявок: %v", err)
	}
}

func (s *ApplicationService) publish(ctx context.Context, eventType, applicationID string, payload map[string]interface{}) {
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

// paidSoFar возвращает уже оплаченную сумму
func paidSoFar(a *models.Application) decimal.Decimal {
	if a.AmountPaid.Valid {
		return a.AmountPaid.Decimal
	}
	return decimal.Zero
}

// currentStage определяет этап по флагам заявки
func currentStage(a *models.Application) string {
	st := ComputeStatus(a, nil)
	switch {
	case !st.SIFCompleted:
		return models.StatusStudentIntakeForm
	case !st.DocsCompleted:
		return models.StatusUploadDocuments
	case !st.FullPaymentMade:
		return models.StatusPayment
	default:
		return models.StatusSentToAssessor
	}
}

// syncStage добавляет в историю этап, до которого дошла заявка, если его там еще нет.
// "Sent to Assessor" по плану платежей выставляет планировщик.
func syncStage(a *models.Application, now time.Time) {
	stage := currentStage(a)
	if stage == models.StatusSentToAssessor && a.HasActivePaymentPlan() {
		return
	}
	if !a.HasStatus(stage) {
		a.AppendStatus(stage, now)
	}
}
