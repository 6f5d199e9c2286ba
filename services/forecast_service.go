package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"rplportal/models"
	"rplportal/utils"
)

// ForecastBucket - способ оплаты, по которому заявка попадает в прогноз
type ForecastBucket string

const (
	BucketPaymentPlan    ForecastBucket = "payment_plan"
	BucketPartialPayment ForecastBucket = "partial_payment"
	BucketDirectDebit    ForecastBucket = "direct_debit"
	BucketUnpaid         ForecastBucket = "unpaid"
	BucketNone           ForecastBucket = "none"
)

// Окно прогноза по умолчанию: текущий месяц и еще двенадцать
const defaultForecastMonths = 13

// partialEstimateDays - оценочный срок платежа разбивки без сохраненного дедлайна
const partialEstimateDays = 7

// Receivable - ожидаемое поступление по одной заявке
type Receivable struct {
	ApplicationID   string          `json:"applicationId"`
	ApplicationCode string          `json:"applicationCode"`
	Type            ForecastBucket  `json:"type"`
	PaymentNumber   int             `json:"paymentNumber,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	DueDate         time.Time       `json:"dueDate"`
	Estimated       bool            `json:"estimated"`
	Risk            RiskLevel       `json:"riskLevel"`
	CustomerName    string          `json:"customerName"`
	CustomerEmail   string          `json:"customerEmail"`
	CustomerPhone   string          `json:"customerPhone"`
}

// RiskAmounts - суммы по уровням риска
type RiskAmounts struct {
	Low    decimal.Decimal `json:"low"`
	Medium decimal.Decimal `json:"medium"`
	High   decimal.Decimal `json:"high"`
}

func (r *RiskAmounts) add(level RiskLevel, amount decimal.Decimal) {
	switch level {
	case RiskLow:
		r.Low = r.Low.Add(amount)
	case RiskMedium:
		r.Medium = r.Medium.Add(amount)
	default:
		r.High = r.High.Add(amount)
	}
}

// MonthForecast - строка помесячной разбивки
type MonthForecast struct {
	Month              string          `json:"month"`
	Start              time.Time       `json:"start"`
	End                time.Time       `json:"end"`
	ExpectedRevenue    decimal.Decimal `json:"expectedRevenue"`
	PaymentPlanRevenue decimal.Decimal `json:"paymentPlanRevenue"`
	DirectDebitRevenue decimal.Decimal `json:"directDebitRevenue"`
	RegularRevenue     decimal.Decimal `json:"regularRevenue"`
	PaymentCount       int             `json:"paymentCount"`
	Risk               RiskAmounts     `json:"risk"`
}

// ForecastSummary - итоги по всему окну
type ForecastSummary struct {
	TotalExpectedRevenue  decimal.Decimal `json:"totalExpectedRevenue"`
	PaymentPlanRevenue    decimal.Decimal `json:"paymentPlanRevenue"`
	DirectDebitRevenue    decimal.Decimal `json:"directDebitRevenue"`
	RegularRevenue        decimal.Decimal `json:"regularRevenue"`
	AverageMonthlyRevenue decimal.Decimal `json:"averageMonthlyRevenue"`
	TotalPayments         int             `json:"totalPayments"`
	Risk                  RiskAmounts     `json:"risk"`
}

// RiskAnalysis - перекрестная таблица риска по способу оплаты и сроку до платежа
type RiskAnalysis struct {
	ByMethod    map[ForecastBucket]RiskAmounts `json:"byMethod"`
	Within30    RiskAmounts                    `json:"within30Days"`
	Within60    RiskAmounts                    `json:"within60Days"`
	Beyond60    RiskAmounts                    `json:"beyond60Days"`
	OverdueRisk RiskAmounts                    `json:"overdue"`
}

// Forecast - отчет о поступлениях
type Forecast struct {
	From         time.Time       `json:"from"`
	To           time.Time       `json:"to"`
	Months       []MonthForecast `json:"monthlyBreakdown"`
	Summary      ForecastSummary `json:"summary"`
	RiskAnalysis RiskAnalysis    `json:"riskAnalysis"`
	Receivables  []Receivable    `json:"receivables"`
}

// OverduePayment - просроченный платеж
type OverduePayment struct {
	ApplicationID   string          `json:"applicationId"`
	ApplicationCode string          `json:"applicationCode"`
	Type            ForecastBucket  `json:"type"`
	PaymentNumber   int             `json:"paymentNumber,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	DueDate         time.Time       `json:"dueDate"`
	DaysPastDue     int             `json:"daysPastDue"`
	CustomerName    string          `json:"customerName"`
	CustomerEmail   string          `json:"customerEmail"`
	CustomerPhone   string          `json:"customerPhone"`
}

// ForecastService строит отчеты о поступлениях. Ничего не записывает.
type ForecastService struct {
	apps  ApplicationStore
	users UserStore
	loc   *time.Location
	now   func() time.Time
}

// NewForecastService создает новый экземпляр ForecastService
func NewForecastService(apps ApplicationStore, users UserStore, loc *time.Location) *ForecastService {
	if loc == nil {
		loc = time.UTC
	}
	return &ForecastService{apps: apps, users: users, loc: loc, now: time.Now}
}

// DefaultWindow возвращает окно от начала текущего месяца до конца двенадцатого следующего
func (s *ForecastService) DefaultWindow() (time.Time, time.Time) {
	now := s.now().In(s.loc)
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc)
	to := from.AddDate(0, defaultForecastMonths, 0).Add(-time.Nanosecond)
	return from, to
}

// ClassifyForecast относит заявку ровно к одной корзине прогноза
func ClassifyForecast(app *models.Application) ForecastBucket {
	switch {
	case app.PaymentPlanEnabled:
		return BucketPaymentPlan
	case app.PartialScheme:
		return BucketPartialPayment
	case app.AutoDebit != nil && app.AutoDebit.Enabled && app.AutoDebit.Status == models.DebitStatusScheduled:
		return BucketDirectDebit
	case !app.Paid:
		return BucketUnpaid
	default:
		return BucketNone
	}
}

// GetForecast строит прогноз на окно [from, to]
func (s *ForecastService) GetForecast(ctx context.Context, from, to time.Time) (*Forecast, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: конец окна раньше начала", ErrValidation)
	}

	apps, err := s.apps.ListApplications(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки заявок: %w", err)
	}

	now := s.now()
	contacts := newContactBook(s.users)
	var receivables []Receivable
	for i := range apps {
		app := &apps[i]
		if app.Archive {
			continue
		}
		for _, r := range s.receivablesFor(app, now) {
			if r.DueDate.Before(from) || r.DueDate.After(to) {
				continue
			}
			contacts.fill(ctx, app.UserID, &r)
			receivables = append(receivables, r)
		}
	}

	sort.SliceStable(receivables, func(i, j int) bool {
		return receivables[i].DueDate.Before(receivables[j].DueDate)
	})

	months := s.monthlyBreakdown(from, to, receivables)
	return &Forecast{
		From:         from,
		To:           to,
		Months:       months,
		Summary:      summarize(months),
		RiskAnalysis: analyzeRisk(receivables, now),
		Receivables:  receivables,
	}, nil
}

// receivablesFor разворачивает заявку в ожидаемые поступления
func (s *ForecastService) receivablesFor(app *models.Application, now time.Time) []Receivable {
	base := Receivable{ApplicationID: app.ID, ApplicationCode: app.ApplicationID}

	switch ClassifyForecast(app) {
	case BucketPaymentPlan:
		if app.PaymentPlan == nil {
			return nil
		}
		var out []Receivable
		for _, e := range app.PaymentPlan.PaymentSchedule {
			if e.Status != models.InstallmentPending {
				continue
			}
			r := base
			r.Type = BucketPaymentPlan
			r.PaymentNumber = e.PaymentNumber
			r.Amount = e.Amount
			r.DueDate = e.DueDate
			r.Risk = AssessRisk(app, e.DueDate, now)
			out = append(out, r)
		}
		return out

	case BucketPartialPayment:
		r := base
		r.Type = BucketPartialPayment
		switch {
		case !app.Paid:
			r.PaymentNumber = 1
			r.Amount = app.Payment1
			r.DueDate = now.AddDate(0, 0, partialEstimateDays)
			r.Estimated = true
		case !app.FullPaid:
			r.PaymentNumber = 2
			r.Amount = app.Payment2
			if app.Payment2Deadline != nil {
				r.DueDate = *app.Payment2Deadline
			} else {
				r.DueDate = now.AddDate(0, 0, partialEstimateDays)
				r.Estimated = true
			}
		default:
			return nil
		}
		r.Risk = AssessRisk(app, r.DueDate, now)
		return []Receivable{r}

	case BucketDirectDebit:
		r := base
		r.Type = BucketDirectDebit
		r.Amount = app.AutoDebit.Amount
		r.DueDate = app.AutoDebit.ScheduledDate
		r.Risk = AssessRisk(app, r.DueDate, now)
		return []Receivable{r}

	case BucketUnpaid:
		r := base
		r.Type = BucketUnpaid
		r.Amount = app.NetPrice().Sub(paidSoFar(app))
		if !r.Amount.IsPositive() {
			return nil
		}
		r.Estimated = true
		ageDays := now.Sub(app.CreatedAt).Hours() / 24
		switch {
		case ageDays <= 7:
			r.DueDate = now.AddDate(0, 0, 14)
			r.Risk = RiskMedium
		case ageDays <= 30:
			r.DueDate = now.AddDate(0, 0, 30)
			r.Risk = RiskHigh
		default:
			r.DueDate = now.AddDate(0, 0, 60)
			r.Risk = RiskHigh
		}
		return []Receivable{r}
	}
	return nil
}

func (s *ForecastService) monthlyBreakdown(from, to time.Time, receivables []Receivable) []MonthForecast {
	var months []MonthForecast
	start := from.In(s.loc)
	cursor := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, s.loc)
	for !cursor.After(to) {
		next := cursor.AddDate(0, 1, 0)
		m := MonthForecast{
			Month: cursor.Format("2006-01"),
			Start: cursor,
			End:   next.Add(-time.Nanosecond),
		}
		for _, r := range receivables {
			if r.DueDate.Before(m.Start) || r.DueDate.After(m.End) {
				continue
			}
			m.ExpectedRevenue = m.ExpectedRevenue.Add(r.Amount)
			switch r.Type {
			case BucketPaymentPlan:
				m.PaymentPlanRevenue = m.PaymentPlanRevenue.Add(r.Amount)
			case BucketDirectDebit:
				m.DirectDebitRevenue = m.DirectDebitRevenue.Add(r.Amount)
			default:
				m.RegularRevenue = m.RegularRevenue.Add(r.Amount)
			}
			m.PaymentCount++
			m.Risk.add(r.Risk, r.Amount)
		}
		months = append(months, m)
		cursor = next
	}
	return months
}

func summarize(months []MonthForecast) ForecastSummary {
	var s ForecastSummary
	for _, m := range months {
		s.TotalExpectedRevenue = s.TotalExpectedRevenue.Add(m.ExpectedRevenue)
		s.PaymentPlanRevenue = s.PaymentPlanRevenue.Add(m.PaymentPlanRevenue)
		s.DirectDebitRevenue = s.DirectDebitRevenue.Add(m.DirectDebitRevenue)
		s.RegularRevenue = s.RegularRevenue.Add(m.RegularRevenue)
		s.TotalPayments += m.PaymentCount
		s.Risk.Low = s.Risk.Low.Add(m.Risk.Low)
		s.Risk.Medium = s.Risk.Medium.Add(m.Risk.Medium)
		s.Risk.High = s.Risk.High.Add(m.Risk.High)
	}
	if len(months) > 0 {
		s.AverageMonthlyRevenue = s.TotalExpectedRevenue.Div(decimal.NewFromInt(int64(len(months)))).Round(2)
	}
	return s
}

func analyzeRisk(receivables []Receivable, now time.Time) RiskAnalysis {
	ra := RiskAnalysis{ByMethod: map[ForecastBucket]RiskAmounts{}}
	for _, r := range receivables {
		byMethod := ra.ByMethod[r.Type]
		byMethod.add(r.Risk, r.Amount)
		ra.ByMethod[r.Type] = byMethod

		days := r.DueDate.Sub(now).Hours() / 24
		switch {
		case days < 0:
			ra.OverdueRisk.add(r.Risk, r.Amount)
		case days <= 30:
			ra.Within30.add(r.Risk, r.Amount)
		case days <= 60:
			ra.Within60.add(r.Risk, r.Amount)
		default:
			ra.Beyond60.add(r.Risk, r.Amount)
		}
	}
	return ra
}

// GetOverduePayments возвращает платежи со сроком строго раньше now, самые просроченные первыми
func (s *ForecastService) GetOverduePayments(ctx context.Context) ([]OverduePayment, error) {
	apps, err := s.apps.ListApplications(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки заявок: %w", err)
	}

	now := s.now()
	contacts := newContactBook(s.users)
	var overdue []OverduePayment
	add := func(app *models.Application, bucket ForecastBucket, number int, amount decimal.Decimal, due time.Time) {
		r := Receivable{}
		contacts.fill(ctx, app.UserID, &r)
		overdue = append(overdue, OverduePayment{
			ApplicationID:   app.ID,
			ApplicationCode: app.ApplicationID,
			Type:            bucket,
			PaymentNumber:   number,
			Amount:          amount,
			DueDate:         due,
			DaysPastDue:     int(now.Sub(due).Hours() / 24),
			CustomerName:    r.CustomerName,
			CustomerEmail:   r.CustomerEmail,
			CustomerPhone:   r.CustomerPhone,
		})
	}

	for i := range apps {
		app := &apps[i]
		if app.Archive {
			continue
		}
		if app.PaymentPlanEnabled && app.PaymentPlan != nil {
			for _, e := range app.PaymentPlan.PaymentSchedule {
				if e.Status == models.InstallmentPending && e.DueDate.Before(now) {
					add(app, BucketPaymentPlan, e.PaymentNumber, e.Amount, e.DueDate)
				}
			}
			continue
		}
		if app.PartialScheme && app.Paid && !app.FullPaid && app.Payment2Deadline != nil && app.Payment2Deadline.Before(now) {
			add(app, BucketPartialPayment, 2, app.Payment2, *app.Payment2Deadline)
		}
	}

	sort.SliceStable(overdue, func(i, j int) bool {
		return overdue[i].DaysPastDue > overdue[j].DaysPastDue
	})
	return overdue, nil
}

// contactBook загружает контакты соискателей один раз на отчет
type contactBook struct {
	users UserStore
	seen  map[string]*models.User
}

func newContactBook(users UserStore) *contactBook {
	return &contactBook{users: users, seen: make(map[string]*models.User)}
}

func (c *contactBook) fill(ctx context.Context, userID string, r *Receivable) {
	user, ok := c.seen[userID]
	if !ok {
		var err error
		user, err = c.users.GetUser(ctx, userID)
		if err != nil {
			utils.LogWarn("Контакты пользователя %s недоступны: %v", userID, err)
			user = nil
		}
		c.seen[userID] = user
	}
	if user == nil {
		return
	}
	r.CustomerName = user.FullName()
	r.CustomerEmail = user.Email
	r.CustomerPhone = user.Phone
}
