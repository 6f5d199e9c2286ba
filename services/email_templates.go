package services

import (
	"bytes"
	"fmt"
	"html/template"
)

// Template - ключ письма в каталоге
type Template string

// Письма соискателю, которые выбирает таблица уведомлений
const (
	TemplateApplicationSubmitted       Template = "application_submitted"
	TemplatePaymentDocsRequired        Template = "payment_docs_required"
	TemplatePaymentCompleteApplication Template = "payment_complete_application"
	TemplatePartialPaymentReceived     Template = "partial_payment_received"
	TemplateApplicationComplete        Template = "application_complete"
	TemplateDocsFinalPayment           Template = "docs_final_payment"
	TemplateDocsRemainingPayment       Template = "docs_remaining_payment"
	TemplateDocsCompleteSIF            Template = "docs_complete_sif"
	TemplateSIFNextSteps               Template = "sif_next_steps"
	TemplateSIFUploadDocs              Template = "sif_upload_docs"
	TemplateGenericReminder            Template = "generic_reminder"
)

// Служебные письма
const (
	TemplateRTONewApplication   Template = "rto_new_application"
	TemplateAdminComplete       Template = "admin_application_complete"
	TemplateAdminFullPayment    Template = "admin_full_payment"
	TemplateAdminPartialPayment Template = "admin_partial_payment"
	TemplateInstallmentPaid     Template = "installment_paid"
	TemplateInstallmentFailed   Template = "installment_failed"
	TemplateInstallmentReminder Template = "installment_reminder"
	TemplateAdminInstallment    Template = "admin_installment_paid"
	TemplateAdminChargeSummary  Template = "admin_charge_summary"
	TemplateAdminSchedulerError Template = "admin_scheduler_error"
	TemplateAutoDebitFailed     Template = "auto_debit_failed"
	TemplateTwoFactorCode       Template = "two_factor_code"
)

// TemplateData - значения, подставляемые в письма. Суммы уже отформатированы.
type TemplateData struct {
	FirstName        string
	LastName         string
	ApplicationID    string
	AmountPaid       string
	RemainingPayment string
	Price            string
	Discount         string
	Currency         string
	LoginURL         string

	RecipientName     string
	PaymentNumber     int
	NumberOfPayments  int
	InstallmentAmount string
	DueDate           string
	TransactionID     string
	PlanCompleted     bool
	Error             string

	Total     int
	Processed int
	Failed    int
	Job       string

	Code         string
	ValidMinutes int
}

const emailLayout = `{{define "layout"}}<!DOCTYPE html>
<html><body style="font-family:Arial,sans-serif;color:#1f2937;max-width:600px;margin:0 auto;">
{{template "content" .}}
{{if .LoginURL}}<p><a href="{{.LoginURL}}" style="display:inline-block;padding:10px 18px;background:#2563eb;color:#fff;text-decoration:none;border-radius:4px;">Open your application</a></p>{{end}}
<p style="color:#6b7280;font-size:12px;">RPL Certification Team</p>
</body></html>{{end}}`

type emailTemplate struct {
	subject string
	body    string
}

var emailCatalogue = map[Template]emailTemplate{
	TemplateApplicationSubmitted: {
		subject: "Application Complete - Submitted for Approval",
		body: `<h2>Hi {{.FirstName}},</h2>
<p>We have received your payment of {{.Currency}} {{.AmountPaid}}. Your intake form, documents and payment are all complete.</p>
<p>Your application {{.ApplicationID}} has been submitted to the RTO for approval. We will be in touch as soon as it is reviewed.</p>`,
	},
	TemplatePaymentDocsRequired: {
		subject: "Payment Received - Documents Required",
		body: `<h2>Hi {{.FirstName}},</h2>
<p>Thank you for your payment of {{.Currency}} {{.AmountPaid}}.</p>
<p>To continue, please upload your supporting documents for application {{.ApplicationID}}.</p>`,
	},
	TemplatePaymentCompleteApplication: {
		subject: "Payment Received - Complete Your Application",
		body: `<h2>Hi {{.FirstName}},</h2>
<p>Thank you for your payment of {{.Currency}} {{.AmountPaid}}.</p>
<p>Please complete your Student Intake Form so we can progress application {{.ApplicationID}}.</p>`,
	},
	TemplatePartialPaymentReceived: {
		subject: "Partial Payment Received",
		body: `<h2>Hi {{.FirstName}},</h2>
<p>We have received your payment of {{.Currency}} {{.AmountPaid}}.</p>
<p>The remaining balance is {{.Currency}} {{.RemainingPayment}}.</p>`,
	},
	TemplateApplicationComplete: {
		subject: "Application Complete",
		body: `<h2>Hi {{.FirstName}},</h2>
<p>Your application {{.ApplicationID}} is complete and has been sent for assessment.</p>`,
	},
	TemplateDocsFinalPayment: {
		subject: "Documents Uploaded - Final Payment Required",
		body: `<h2>Hi {{.FirstName}},</h2>
<p>Thank you for uploading your documents.</p>
<p>The final step is your payment of {{.Currency}} {{.Price}}{{if .Discount}} (discount {{.Currency}} {{.Discount}} applied){{end}}.</p>`,
	},
	TemplateDocsRemainingPayment: {
		subject: "Documents Uploaded - Remaining Payment Required",
		body: `<h2>Hi {{.FirstName}},</h2>
<p>Thank you for uploading your documents. You have paid {{.Currency}} {{.AmountPaid}} so far.</p>
<p>Please pay the remaining {{.Currency}} {{.RemainingPayment}} to complete your application.</p>`,
	},
	TemplateDocsCompleteSIF: {
		subject: "Documents Uploaded - Complete Your Student Intake Form",
		body: `<h2>Hi {{.FirstName}},</h2>
<p>Thank you for uploading your documents.</p>
<p>Please complete your Student Intake Form so we can continue with application {{.ApplicationID}}.</p>`,
	},
	TemplateSIFNextSteps: {
		subject: "Student Intake Form Completed - Next Steps",
		body: `<h2>Hi {{.FirstName}},</h2>
<p>Thank you for completing your Student Intake Form.</p>
<p>Next, please upload your documents and complete your payment of {{.Currency}} {{.Price}}.</p>`,
	},
	TemplateSIFUploadDocs: {
		subject: "Student Intake Form Completed - Upload Documents",
		body: `<h2>Hi {{.FirstName}},</h2>
<p>Thank you for completing your Student Intake Form.</p>
<p>Please upload your supporting documents to continue.</p>`,
	},
	TemplateGenericReminder: {
		subject: "Reminder - Continue Your Application",
		body: `<h2>Hi {{.FirstName}},</h2>
<p>Your application {{.ApplicationID}} is waiting for you. Log in to continue where you left off.</p>`,
	},

	TemplateRTONewApplication: {
		subject: "New Application Ready for Review",
		body: `<h2>Hi {{.RecipientName}},</h2>
<p>Application {{.ApplicationID}} for {{.FirstName}} {{.LastName}} is complete and ready for review.</p>`,
	},
	TemplateAdminComplete: {
		subject: "Application Complete",
		body: `<h2>Application {{.ApplicationID}} is complete</h2>
<p>{{.FirstName}} {{.LastName}} has completed all steps and was sent to the RTO.</p>`,
	},
	TemplateAdminFullPayment: {
		subject: "Full Payment Received",
		body: `<h2>Full payment received</h2>
<p>{{.FirstName}} {{.LastName}} ({{.ApplicationID}}) paid {{.Currency}} {{.AmountPaid}}.</p>`,
	},
	TemplateAdminPartialPayment: {
		subject: "Partial Payment Received",
		body: `<h2>Partial payment received</h2>
<p>{{.FirstName}} {{.LastName}} ({{.ApplicationID}}) paid {{.Currency}} {{.AmountPaid}}.</p>
<p>Remaining balance: {{.Currency}} {{.RemainingPayment}}.</p>`,
	},
	TemplateInstallmentPaid: {
		subject: "Payment Confirmation",
		body: `<h2>Hi {{.FirstName}},</h2>
{{if .PlanCompleted}}<p style="padding:12px;background:#dcfce7;border-radius:4px;"><strong>Congratulations! Your payment plan is now fully paid.</strong></p>{{end}}
<p>Payment {{.PaymentNumber}} of {{.NumberOfPayments}} for {{.Currency}} {{.InstallmentAmount}} was processed successfully.</p>
<p>Transaction: {{.TransactionID}}</p>`,
	},
	TemplateInstallmentFailed: {
		subject: "Payment Failed",
		body: `<h2>Hi {{.FirstName}},</h2>
<p>We could not process payment {{.PaymentNumber}} for {{.Currency}} {{.InstallmentAmount}}.</p>
<p>Please check your card details. We will try again on the next scheduled run.</p>`,
	},
	TemplateInstallmentReminder: {
		subject: "Payment Reminder",
		body: `<h2>Hi {{.FirstName}},</h2>
<p>Payment {{.PaymentNumber}} of {{.NumberOfPayments}} for {{.Currency}} {{.InstallmentAmount}} is due on {{.DueDate}}.</p>`,
	},
	TemplateAdminInstallment: {
		subject: "Payment Plan Installment Processed",
		body: `<h2>Installment processed</h2>
<p>{{.FirstName}} {{.LastName}} ({{.ApplicationID}}): payment {{.PaymentNumber}} of {{.NumberOfPayments}}, {{.Currency}} {{.InstallmentAmount}}.</p>
{{if .PlanCompleted}}<p>The payment plan is now complete.</p>{{end}}`,
	},
	TemplateAdminChargeSummary: {
		subject: "Payment Processing Summary",
		body: `<h2>Scheduled payment run</h2>
<ul><li>Total: {{.Total}}</li><li>Processed: {{.Processed}}</li><li>Failed: {{.Failed}}</li></ul>`,
	},
	TemplateAdminSchedulerError: {
		subject: "Scheduler Error",
		body: `<h2>Scheduled job {{.Job}} failed</h2>
<p>{{.Error}}</p>`,
	},
	TemplateAutoDebitFailed: {
		subject: "Direct Debit Failed",
		body: `<h2>Hi {{.FirstName}},</h2>
<p>We could not process your scheduled direct debit of {{.Currency}} {{.InstallmentAmount}}.</p>
<p>Please log in and update your payment details.</p>`,
	},
	TemplateTwoFactorCode: {
		subject: "Your verification code",
		body: `<h2>Hi {{.FirstName}},</h2>
<p>Your verification code is <strong>{{.Code}}</strong>.</p>
<p>The code is valid for {{.ValidMinutes}} minutes.</p>`,
	},
}

var compiledTemplates = compileTemplates()

func compileTemplates() map[Template]*template.Template {
	out := make(map[Template]*template.Template, len(emailCatalogue))
	for key, t := range emailCatalogue {
		tmpl := template.Must(template.New(string(key)).Parse(emailLayout))
		template.Must(tmpl.New("content").Parse(t.body))
		out[key] = tmpl
	}
	return out
}

// RenderEmail возвращает тему и HTML тело письма
func RenderEmail(key Template, data TemplateData) (string, string, error) {
	tmpl, ok := compiledTemplates[key]
	if !ok {
		return "", "", fmt.Errorf("неизвестный шаблон письма: %s", key)
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", "", fmt.Errorf("ошибка рендеринга шаблона %s: %w", key, err)
	}
	return emailCatalogue[key].subject, buf.String(), nil
}
