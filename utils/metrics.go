package utils

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Метрики запросов
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpl_http_requests_total",
		Help: "Количество HTTP запросов по маршруту и коду ответа",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rpl_http_request_duration_seconds",
		Help:    "Длительность обработки HTTP запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Метрики платежей
var (
	ChargeAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpl_charge_attempts_total",
		Help: "Попытки списания по типу и результату",
	}, []string{"kind", "result"})

	PaymentPlansCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rpl_payment_plans_completed_total",
		Help: "Полностью оплаченные планы платежей",
	})
)

// Метрики уведомлений
var (
	EmailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpl_emails_total",
		Help: "Отправленные письма по шаблону и результату",
	}, []string{"template", "result"})
)

// Метрики фоновых задач
var (
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rpl_job_duration_seconds",
		Help:    "Длительность фоновых задач",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	}, []string{"job"})

	SchedulerHeartbeat = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rpl_scheduler_heartbeat_timestamp_seconds",
		Help: "Время последнего сигнала живости планировщика",
	})
)

// MetricsHandler возвращает обработчик для /metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
