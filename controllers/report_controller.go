package controllers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"rplportal/middleware"
	"rplportal/models"
	"rplportal/services"
)

// ReportController отдает отчеты о поступлениях
type ReportController struct {
	forecast *services.ForecastService
}

// NewReportController создает новый экземпляр ReportController
func NewReportController(forecast *services.ForecastService) *ReportController {
	return &ReportController{forecast: forecast}
}

// RegisterRoutes подключает маршруты отчетов; доступны только руководству и администраторам
func (c *ReportController) RegisterRoutes(r *mux.Router) {
	reports := r.PathPrefix("/reports").Subrouter()
	reports.Use(middleware.RequireRole(models.RoleAdmin, models.RoleManager, models.RoleCEO))
	reports.HandleFunc("/forecast", c.Forecast).Methods("GET")
	reports.HandleFunc("/overdue", c.Overdue).Methods("GET")
}

// Forecast строит прогноз; окно задается параметрами from и to в формате 2006-01-02
func (c *ReportController) Forecast(w http.ResponseWriter, r *http.Request) {
	from, to := c.forecast.DefaultWindow()

	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			http.Error(w, "invalid from date", http.StatusBadRequest)
			return
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			http.Error(w, "invalid to date", http.StatusBadRequest)
			return
		}
		// Конец дня включительно
		to = t.Add(24*time.Hour - time.Nanosecond)
	}

	report, err := c.forecast.GetForecast(r.Context(), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Overdue возвращает просроченные платежи
func (c *ReportController) Overdue(w http.ResponseWriter, r *http.Request) {
	overdue, err := c.forecast.GetOverduePayments(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overdue)
}
