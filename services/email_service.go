package services

import (
	"fmt"

	"gopkg.in/gomail.v2"

	"rplportal/config"
	"rplportal/utils"
)

// Mailer доставляет одно HTML письмо
type Mailer interface {
	SendEmail(to, subject, body string) error
}

// EmailService предоставляет методы для отправки email
type EmailService struct {
	dialer *gomail.Dialer
	from   string
}

// NewEmailService создает новый экземпляр EmailService
func NewEmailService(cfg *config.Config) *EmailService {
	dialer := gomail.NewDialer(
		cfg.SMTP.Host,
		cfg.SMTP.Port,
		cfg.SMTP.Username,
		cfg.SMTP.Password,
	)

	return &EmailService{
		dialer: dialer,
		from:   cfg.SMTP.From,
	}
}

// SendEmail отправляет email
func (s *EmailService) SendEmail(to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("ошибка отправки email: %w", err)
	}

	return nil
}

// sendTemplate рендерит и отправляет письмо; ошибки только логируются
func sendTemplate(mailer Mailer, to string, key Template, data TemplateData) bool {
	if to == "" {
		utils.LogWarn("Письмо %s не отправлено: пустой адрес", key)
		return false
	}

	subject, body, err := RenderEmail(key, data)
	if err != nil {
		utils.LogError("Ошибка подготовки письма %s: %v", key, err)
		utils.EmailsSent.WithLabelValues(string(key), "error").Inc()
		return false
	}

	if err := mailer.SendEmail(to, subject, body); err != nil {
		utils.LogError("Ошибка отправки письма %s на %s: %v", key, to, err)
		utils.EmailsSent.WithLabelValues(string(key), "error").Inc()
		return false
	}

	utils.EmailsSent.WithLabelValues(string(key), "sent").Inc()
	return true
}

// sendToAdmins рассылает одно письмо по списку администраторов
func sendToAdmins(mailer Mailer, admins []string, key Template, data TemplateData) {
	for _, to := range admins {
		sendTemplate(mailer, to, key, data)
	}
}
