package controllers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"rplportal/middleware"
	"rplportal/models"
	"rplportal/services"
)

const maxUploadSize = 32 << 20

// ApplicationController обрабатывает запросы по заявкам
type ApplicationController struct {
	apps *services.ApplicationService
}

// NewApplicationController создает новый экземпляр ApplicationController
func NewApplicationController(apps *services.ApplicationService) *ApplicationController {
	return &ApplicationController{apps: apps}
}

// RegisterRoutes подключает маршруты заявок к защищенному роутеру
func (c *ApplicationController) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/applications", c.Create).Methods("POST")
	r.HandleFunc("/applications/{id}", c.Get).Methods("GET")
	r.HandleFunc("/applications/{id}/status", c.Status).Methods("GET")
	r.HandleFunc("/applications/{id}/student-intake", c.SubmitStudentIntake).Methods("POST")
	r.HandleFunc("/applications/{id}/documents", c.UploadDocuments).Methods("POST")
	r.HandleFunc("/applications/{id}/documents/{documentId}", c.DocumentURL).Methods("GET")

	staff := r.NewRoute().Subrouter()
	staff.Use(middleware.RequireRole(staffRoles...))
	staff.HandleFunc("/applications", c.List).Methods("GET")
	staff.HandleFunc("/applications/{id}/payments", c.RecordPayment).Methods("POST")
	staff.HandleFunc("/applications/{id}/partial-scheme", c.ConfigurePartialScheme).Methods("PUT")
	staff.HandleFunc("/applications/{id}/payment-plan", c.SetupPaymentPlan).Methods("POST")
	staff.HandleFunc("/applications/{id}/auto-debit", c.ScheduleAutoDebit).Methods("POST")
	staff.HandleFunc("/applications/{id}/notify", c.Notify).Methods("POST")
	staff.HandleFunc("/applications/{id}/status", c.UpdateStatus).Methods("POST")
	staff.HandleFunc("/applications/{id}/archive", c.Archive).Methods("POST")
	staff.HandleFunc("/applications/{id}/expenses", c.AddExpense).Methods("POST")
	staff.HandleFunc("/applications/{id}/contact-attempts", c.RecordContactAttempt).Methods("POST")
	staff.HandleFunc("/applications/{id}/color", c.SetLeadColor).Methods("PUT")
	staff.HandleFunc("/applications/{id}/assign", c.AssignAdmin).Methods("PUT")
}

var staffRoles = []models.Role{
	models.RoleAdmin, models.RoleAgent, models.RoleRTO,
	models.RoleAssessor, models.RoleManager, models.RoleCEO,
}

func isStaff(role models.Role) bool {
	for _, r := range staffRoles {
		if r == role {
			return true
		}
	}
	return false
}

// authorize загружает заявку и проверяет, что соискатель обращается к своей
func (c *ApplicationController) authorize(w http.ResponseWriter, r *http.Request) (*models.Application, bool) {
	claims, err := middleware.GetUserFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	app, err := c.apps.GetApplication(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if !isStaff(claims.Role) && app.UserID != claims.UserID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return nil, false
	}
	return app, true
}

// Create регистрирует заявку; соискатель создает заявку только на себя
func (c *ApplicationController) Create(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.GetUserFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req services.CreateApplicationRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	switch {
	case !isStaff(claims.Role):
		req.UserID = claims.UserID
		req.AgentID = ""
		req.Source = "self"
	case claims.Role == models.RoleAgent:
		req.AgentID = claims.UserID
		req.Source = "agent"
	}

	app, err := c.apps.CreateApplication(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

func (c *ApplicationController) Get(w http.ResponseWriter, r *http.Request) {
	app, ok := c.authorize(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// Status возвращает вычисленное состояние заявки
func (c *ApplicationController) Status(w http.ResponseWriter, r *http.Request) {
	app, ok := c.authorize(w, r)
	if !ok {
		return
	}
	st, err := c.apps.GetStatus(r.Context(), app.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"studentIntakeFormCompleted": st.SIFCompleted,
		"documentsUploaded":          st.DocsCompleted,
		"paymentCompleted":           st.PaymentCompleted,
		"partialPaymentMade":         st.PartialPaymentMade,
		"fullPaymentMade":            st.FullPaymentMade,
		"paymentState":               st.PaymentState().String(),
		"amountPaid":                 st.AmountPaid,
		"remainingPayment":           st.RemainingPayment,
		"complete":                   st.Complete(),
		"currentStatus":              app.CurrentStatus,
	})
}

func (c *ApplicationController) List(w http.ResponseWriter, r *http.Request) {
	apps, err := c.apps.ListApplications(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

func (c *ApplicationController) SubmitStudentIntake(w http.ResponseWriter, r *http.Request) {
	app, ok := c.authorize(w, r)
	if !ok {
		return
	}
	var req services.StudentIntakeRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	c.respond(w, r, func(ctx context.Context) (interface{}, error) {
		return c.apps.SubmitStudentIntake(ctx, app.ID, req)
	})
}

// UploadDocuments принимает multipart форму с полем files
func (c *ApplicationController) UploadDocuments(w http.ResponseWriter, r *http.Request) {
	app, ok := c.authorize(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	files := make([]services.UploadFile, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			http.Error(w, "Invalid file", http.StatusBadRequest)
			return
		}
		defer f.Close()
		files = append(files, services.UploadFile{
			Name:        h.Filename,
			ContentType: h.Header.Get("Content-Type"),
			Size:        h.Size,
			Content:     f,
		})
	}

	updated, err := c.apps.UploadDocuments(r.Context(), app.ID, files)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, updated)
}

// DocumentURL возвращает временную ссылку на документ
func (c *ApplicationController) DocumentURL(w http.ResponseWriter, r *http.Request) {
	app, ok := c.authorize(w, r)
	if !ok {
		return
	}
	link, err := c.apps.DocumentURL(r.Context(), app.ID, mux.Vars(r)["documentId"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": link})
}

func (c *ApplicationController) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req services.RecordPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	c.respond(w, r, func(ctx context.Context) (interface{}, error) {
		return c.apps.RecordPayment(ctx, mux.Vars(r)["id"], req)
	})
}

func (c *ApplicationController) ConfigurePartialScheme(w http.ResponseWriter, r *http.Request) {
	var req services.PartialSchemeRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	c.respond(w, r, func(ctx context.Context) (interface{}, error) {
		return c.apps.ConfigurePartialScheme(ctx, mux.Vars(r)["id"], req)
	})
}

func (c *ApplicationController) SetupPaymentPlan(w http.ResponseWriter, r *http.Request) {
	var req services.PaymentPlanRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	c.respond(w, r, func(ctx context.Context) (interface{}, error) {
		return c.apps.SetupPaymentPlan(ctx, mux.Vars(r)["id"], req)
	})
}

func (c *ApplicationController) ScheduleAutoDebit(w http.ResponseWriter, r *http.Request) {
	var req services.AutoDebitRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	c.respond(w, r, func(ctx context.Context) (interface{}, error) {
		return c.apps.ScheduleAutoDebit(ctx, mux.Vars(r)["id"], req)
	})
}

// Notify отправляет письмо вручную
func (c *ApplicationController) Notify(w http.ResponseWriter, r *http.Request) {
	sel, err := c.apps.TriggerNotification(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	escalations := make([]string, 0, len(sel.Escalations))
	for _, e := range sel.Escalations {
		escalations = append(escalations, string(e))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"template":    sel.Template,
		"escalations": escalations,
	})
}

func (c *ApplicationController) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	c.respond(w, r, func(ctx context.Context) (interface{}, error) {
		return c.apps.UpdateStatus(ctx, mux.Vars(r)["id"], req.Status)
	})
}

func (c *ApplicationController) Archive(w http.ResponseWriter, r *http.Request) {
	c.respond(w, r, func(ctx context.Context) (interface{}, error) {
		return c.apps.Archive(ctx, mux.Vars(r)["id"])
	})
}

func (c *ApplicationController) AddExpense(w http.ResponseWriter, r *http.Request) {
	var req services.ExpenseRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	expense, err := c.apps.AddExpense(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, expense)
}

func (c *ApplicationController) RecordContactAttempt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContactStatus string `json:"contactStatus"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	c.respond(w, r, func(ctx context.Context) (interface{}, error) {
		return c.apps.RecordContactAttempt(ctx, mux.Vars(r)["id"], req.ContactStatus)
	})
}

func (c *ApplicationController) SetLeadColor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Color models.LeadColor `json:"color"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	c.respond(w, r, func(ctx context.Context) (interface{}, error) {
		return c.apps.SetLeadColor(ctx, mux.Vars(r)["id"], req.Color)
	})
}

func (c *ApplicationController) AssignAdmin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AdminID string `json:"adminId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	c.respond(w, r, func(ctx context.Context) (interface{}, error) {
		return c.apps.AssignAdmin(ctx, mux.Vars(r)["id"], req.AdminID)
	})
}

// respond выполняет операцию и пишет результат или ошибку
func (c *ApplicationController) respond(w http.ResponseWriter, r *http.Request, op func(ctx context.Context) (interface{}, error)) {
	result, err := op(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
