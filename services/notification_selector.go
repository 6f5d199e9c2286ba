package services

// Trigger - событие, после которого выбирается письмо
type Trigger string

const (
	TriggerPaymentMade  Trigger = "payment_made"
	TriggerDocsUploaded Trigger = "docs_uploaded"
	TriggerSIFCompleted Trigger = "sif_completed"
	TriggerManual       Trigger = "manual_trigger"
)

// Triggers перечисляет все события
var Triggers = []Trigger{TriggerPaymentMade, TriggerDocsUploaded, TriggerSIFCompleted, TriggerManual}

// Valid проверяет, что событие известно
func (t Trigger) Valid() bool {
	for _, known := range Triggers {
		if t == known {
			return true
		}
	}
	return false
}

// Escalation - дополнительное уведомление сотрудникам
type Escalation string

const (
	// EscalateRTO уведомляет пользователей RTO и список администраторов о готовой заявке
	EscalateRTO          Escalation = "rto"
	EscalateAdminFull    Escalation = "admin_full_payment"
	EscalateAdminPartial Escalation = "admin_partial_payment"
)

// flagMatch сопоставляет булев флаг
type flagMatch int

const (
	anyFlag flagMatch = iota
	isTrue
	isFalse
)

func (m flagMatch) matches(v bool) bool {
	switch m {
	case isTrue:
		return v
	case isFalse:
		return !v
	default:
		return true
	}
}

// paymentMask - набор допустимых стадий оплаты
type paymentMask uint8

const (
	payNone paymentMask = 1 << iota
	payPartial
	payFull

	payAny = payNone | payPartial | payFull
)

func (m paymentMask) matches(p PaymentState) bool {
	switch p {
	case PaymentPartial:
		return m&payPartial != 0
	case PaymentFull:
		return m&payFull != 0
	default:
		return m&payNone != 0
	}
}

// notificationRule - строка таблицы выбора письма
type notificationRule struct {
	trigger     Trigger
	sif         flagMatch
	docs        flagMatch
	payment     paymentMask
	template    Template
	escalations []Escalation
}

func (r notificationRule) matches(trigger Trigger, st ApplicationStatus) bool {
	return r.trigger == trigger &&
		r.sif.matches(st.SIFCompleted) &&
		r.docs.matches(st.DocsCompleted) &&
		r.payment.matches(st.PaymentState())
}

// notificationRules проверяются сверху вниз, побеждает первая подходящая строка
var notificationRules = []notificationRule{
	{TriggerPaymentMade, isTrue, isTrue, payFull, TemplateApplicationSubmitted, []Escalation{EscalateRTO, EscalateAdminFull}},
	{TriggerPaymentMade, isTrue, isFalse, payFull, TemplatePaymentDocsRequired, nil},
	{TriggerPaymentMade, isFalse, anyFlag, payFull, TemplatePaymentCompleteApplication, nil},
	{TriggerPaymentMade, anyFlag, anyFlag, payPartial, TemplatePartialPaymentReceived, []Escalation{EscalateAdminPartial}},

	{TriggerDocsUploaded, isTrue, isTrue, payFull, TemplateApplicationComplete, []Escalation{EscalateRTO}},
	{TriggerDocsUploaded, isTrue, isTrue, payNone, TemplateDocsFinalPayment, nil},
	{TriggerDocsUploaded, isTrue, isTrue, payPartial, TemplateDocsRemainingPayment, nil},
	{TriggerDocsUploaded, isFalse, isTrue, payAny, TemplateDocsCompleteSIF, nil},

	{TriggerSIFCompleted, isTrue, isFalse, payNone, TemplateSIFNextSteps, nil},
	{TriggerSIFCompleted, isTrue, isFalse, payPartial | payFull, TemplateSIFUploadDocs, nil},
}

// manualRules пересобирают выбор для ручной отправки; последняя строка срабатывает всегда.
// Ручная отправка напоминает только соискателю и не уведомляет сотрудников.
var manualRules = []notificationRule{
	{TriggerManual, isTrue, isTrue, payFull, TemplateApplicationComplete, nil},
	{TriggerManual, anyFlag, isTrue, payPartial, TemplateDocsRemainingPayment, nil},
	{TriggerManual, anyFlag, isTrue, payNone, TemplateDocsFinalPayment, nil},
	{TriggerManual, isTrue, isFalse, payNone, TemplateSIFNextSteps, nil},
	{TriggerManual, isTrue, isFalse, payPartial | payFull, TemplateSIFUploadDocs, nil},
	{TriggerManual, anyFlag, anyFlag, payAny, TemplateGenericReminder, nil},
}

// Selection - результат выбора письма
type Selection struct {
	Template    Template
	Escalations []Escalation
}

// Escalates проверяет наличие уведомления сотрудникам
func (s Selection) Escalates(e Escalation) bool {
	for _, x := range s.Escalations {
		if x == e {
			return true
		}
	}
	return false
}

// SelectNotification выбирает письмо соискателю и уведомления сотрудникам.
// ok=false означает, что для этого сочетания письмо не отправляется.
func SelectNotification(trigger Trigger, st ApplicationStatus) (Selection, bool) {
	rules := notificationRules
	if trigger == TriggerManual {
		rules = manualRules
	}
	for _, r := range rules {
		if r.matches(trigger, st) {
			return Selection{Template: r.template, Escalations: r.escalations}, true
		}
	}
	return Selection{}, false
}
