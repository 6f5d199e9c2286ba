package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"rplportal/models"
	"rplportal/utils"
)

// NotificationService выбирает и отправляет письма после изменения заявки
type NotificationService struct {
	apps        ApplicationStore
	forms       FormStore
	users       UserStore
	mailer      Mailer
	tokens      TokenIssuer
	clientURL   string
	adminEmails []string
	currency    string
}

// NewNotificationService создает новый экземпляр NotificationService
func NewNotificationService(apps ApplicationStore, forms FormStore, users UserStore, mailer Mailer, tokens TokenIssuer, clientURL string, adminEmails []string, currency string) *NotificationService {
	return &NotificationService{
		apps:        apps,
		forms:       forms,
		users:       users,
		mailer:      mailer,
		tokens:      tokens,
		clientURL:   strings.TrimRight(clientURL, "/"),
		adminEmails: adminEmails,
		currency:    currency,
	}
}

// Notify вычисляет состояние заявки и рассылает письма по таблице выбора.
// Ошибку возвращает только загрузка данных; сбои доставки логируются.
func (s *NotificationService) Notify(ctx context.Context, applicationID string, trigger Trigger) (Selection, error) {
	app, err := s.apps.GetApplication(ctx, applicationID)
	if err != nil {
		return Selection{}, fmt.Errorf("ошибка загрузки заявки %s: %w", applicationID, err)
	}
	user, err := s.users.GetUser(ctx, app.UserID)
	if err != nil {
		return Selection{}, fmt.Errorf("ошибка загрузки пользователя %s: %w", app.UserID, err)
	}
	intake, err := s.loadIntake(ctx, app)
	if err != nil {
		return Selection{}, err
	}

	status := ComputeStatus(app, intake)
	if status.SIFHealed {
		s.healSIFFlag(ctx, app.ID)
	}

	sel, ok := SelectNotification(trigger, status)
	if !ok {
		utils.LogDebug("Для заявки %s и события %s письмо не предусмотрено", app.ApplicationID, trigger)
		return Selection{}, nil
	}

	data := s.applicantData(app, user, status)
	sendTemplate(s.mailer, user.Email, sel.Template, data)

	if sel.Escalates(EscalateRTO) {
		s.notifyRTO(ctx, app, user, data)
	}
	if sel.Escalates(EscalateAdminFull) {
		sendToAdmins(s.mailer, s.adminEmails, TemplateAdminFullPayment, s.staffData(data))
	}
	if sel.Escalates(EscalateAdminPartial) {
		sendToAdmins(s.mailer, s.adminEmails, TemplateAdminPartialPayment, s.staffData(data))
	}

	return sel, nil
}

func (s *NotificationService) loadIntake(ctx context.Context, app *models.Application) (*models.StudentIntakeForm, error) {
	if app.StudentFormID == "" {
		return nil, nil
	}
	intake, err := s.forms.GetStudentIntakeForm(ctx, app.StudentFormID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки анкеты студента: %w", err)
	}
	return intake, nil
}

// healSIFFlag записывает флаг анкеты, если он отстал от содержимого анкеты
func (s *NotificationService) healSIFFlag(ctx context.Context, id string) {
	_, err := s.apps.UpdateApplication(ctx, id, func(a *models.Application) error {
		a.StudentIntakeFormSubmitted = true
		return nil
	})
	if err != nil {
		utils.LogError("Ошибка исправления флага анкеты для заявки %s: %v", id, err)
		return
	}
	utils.LogInfo("Флаг анкеты студента восстановлен для заявки %s", id)
}

// notifyRTO уведомляет каждого пользователя RTO со своей ссылкой входа и список администраторов
func (s *NotificationService) notifyRTO(ctx context.Context, app *models.Application, applicant *models.User, data TemplateData) {
	rtos, err := s.users.FindUsersByRole(ctx, models.RoleRTO)
	if err != nil {
		utils.LogError("Ошибка получения пользователей RTO: %v", err)
	}
	for _, rto := range rtos {
		rtoData := s.staffData(data)
		rtoData.RecipientName = rto.FirstName
		rtoData.LoginURL = s.LoginLink(rto.ID)
		sendTemplate(s.mailer, rto.Email, TemplateRTONewApplication, rtoData)
	}
	sendToAdmins(s.mailer, s.adminEmails, TemplateAdminComplete, s.staffData(data))
}

// LoginLink возвращает персональную ссылку входа; без токена ведет на страницу заявок
func (s *NotificationService) LoginLink(userID string) string {
	base := s.clientURL + "/existing-applications"
	token, err := s.tokens.CreateLoginToken(userID)
	if err != nil {
		utils.LogError("Ошибка создания токена входа для пользователя %s: %v", userID, err)
		return base
	}
	return base + "?token=" + url.QueryEscape(token)
}

func (s *NotificationService) applicantData(app *models.Application, user *models.User, st ApplicationStatus) TemplateData {
	data := TemplateData{
		FirstName:        user.FirstName,
		LastName:         user.LastName,
		ApplicationID:    app.ApplicationID,
		AmountPaid:       formatMoney(st.AmountPaid),
		RemainingPayment: formatMoney(st.RemainingPayment),
		Price:            formatMoney(app.NetPrice()),
		Currency:         s.currency,
		LoginURL:         s.LoginLink(user.ID),
	}
	if !app.Discount.IsZero() {
		data.Discount = formatMoney(app.Discount)
	}
	return data
}

// staffData - копия данных без персональной ссылки соискателя
func (s *NotificationService) staffData(data TemplateData) TemplateData {
	data.LoginURL = ""
	return data
}

func formatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func formatDate(t time.Time) string {
	return t.Format("02 Jan 2006")
}
