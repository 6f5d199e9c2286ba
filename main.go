package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"rplportal/cache"
	"rplportal/config"
	"rplportal/controllers"
	"rplportal/database"
	"rplportal/events"
	"rplportal/middleware"
	"rplportal/payments"
	"rplportal/services"
	"rplportal/storage"
	"rplportal/utils"
)

// Pinger проверяет доступность зависимости
type Pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler отвечает 200, если база данных доступна
func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := db.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"unavailable"}`)
			return
		}
		fmt.Fprintf(w, `{"status":"ok"}`)
	}
}

// newCacheAndLocker выбирает Redis, если он настроен, иначе память процесса
func newCacheAndLocker(cfg *config.Config) (cache.Cache, cache.Locker, func()) {
	if cfg.Redis.Addr == "" {
		utils.LogWarn("Redis не настроен, кэш и блокировки работают в памяти процесса")
		return cache.NewMemoryCache(time.Now), cache.NewMemoryLocker(time.Now), func() {}
	}
	client, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Ошибка подключения к Redis: %v", err)
	}
	return cache.NewRedisCache(client), cache.NewRedisLocker(client), func() { client.Close() }
}

func newGateway(cfg *config.Config) payments.Gateway {
	if cfg.Payments.Provider == "midtrans" {
		return payments.NewMidtransGateway(cfg.Midtrans.ServerKey, cfg.Midtrans.Production)
	}
	return payments.NewSquareGateway(payments.SquareConfig{
		BaseURL:     cfg.Square.BaseURL,
		AccessToken: cfg.Square.AccessToken,
		Version:     cfg.Square.Version,
		LocationID:  cfg.Square.LocationID,
		Timeout:     30 * time.Second,
	})
}

func newBlobStore(cfg *config.Config) (storage.BlobStore, bool) {
	if cfg.OSS.Endpoint == "" {
		utils.LogWarn("OSS не настроен, документы хранятся в %s", cfg.Storage.LocalDir)
		store, err := storage.NewLocalStore(cfg.Storage.LocalDir, fmt.Sprintf("http://localhost:%d/api/files", cfg.Server.Port))
		if err != nil {
			log.Fatalf("Ошибка инициализации хранилища: %v", err)
		}
		return store, true
	}
	store, err := storage.NewOSSStore(storage.OSSConfig{
		Endpoint:        cfg.OSS.Endpoint,
		AccessKeyID:     cfg.OSS.AccessKeyID,
		AccessKeySecret: cfg.OSS.AccessKeySecret,
		Bucket:          cfg.OSS.Bucket,
	})
	if err != nil {
		log.Fatalf("Ошибка подключения к OSS: %v", err)
	}
	return store, false
}

func main() {
	// Инициализируем конфигурацию
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	if err := utils.InitLogger(cfg.Log); err != nil {
		log.Fatalf("Ошибка инициализации логгера: %v", err)
	}

	// Инициализируем подключение к базе данных
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Ошибка подключения к базе данных: %v", err)
	}
	defer db.Close()

	appCache, locker, closeRedis := newCacheAndLocker(cfg)
	defer closeRedis()

	publisher := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer publisher.Close()

	blobs, localBlobs := newBlobStore(cfg)

	// Инициализируем сервисы
	emailService := services.NewEmailService(cfg)
	tokens := services.NewTokenService(cfg.JWT.SecretKey, time.Duration(cfg.JWT.ExpiresIn)*time.Hour, cfg.JWT.LoginTokenTTL)
	notifier := services.NewNotificationService(db, db, db, emailService, tokens, cfg.ClientURL, cfg.AdminEmails, cfg.Currency)
	applications := services.NewApplicationService(db, db, db, blobs, appCache, cfg.Cache.TTL, notifier, publisher)
	users := services.NewUserService(db)
	twoFactor := services.NewTwoFactorService(db, emailService, cfg.TwoFactor.TTL, cfg.TwoFactor.MaxAttempts)
	forecast := services.NewForecastService(db, db, cfg.Scheduler.Location())

	// Запускаем планировщик платежей
	scheduler := services.NewPaymentSchedulerService(db, db, newGateway(cfg), locker, emailService, notifier, publisher, services.SchedulerOptions{
		AdminEmails:   cfg.AdminEmails,
		Currency:      cfg.Currency,
		ChargeDelay:   cfg.Scheduler.ChargeDelay,
		LockTTL:       cfg.Scheduler.LockTTL,
		Location:      cfg.Scheduler.Location(),
		ChargeCron:    cfg.Scheduler.ChargeCron,
		ReminderCron:  cfg.Scheduler.ReminderCron,
		AutoDebitCron: cfg.Scheduler.AutoDebitCron,
		HeartbeatCron: cfg.Scheduler.HeartbeatCron,
	})
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Ошибка запуска планировщика: %v", err)
	}

	// Создаем роутер
	router := mux.NewRouter()
	router.Use(middleware.Recovery, middleware.Logger)

	router.HandleFunc("/health", healthHandler(db)).Methods("GET")
	router.Handle("/metrics", utils.MetricsHandler()).Methods("GET")

	// Инициализируем контроллеры
	authController := controllers.NewAuthController(users, twoFactor, tokens)
	applicationController := controllers.NewApplicationController(applications)
	reportController := controllers.NewReportController(forecast)

	// Публичные маршруты для аутентификации
	authLimiter := utils.NewRateLimiter(20, time.Minute)
	auth := router.PathPrefix("/api/auth").Subrouter()
	auth.Use(middleware.RateLimit(authLimiter, 20))
	auth.HandleFunc("/signUp", authController.SignUp).Methods("POST")
	auth.HandleFunc("/signIn", authController.SignIn).Methods("POST")
	auth.HandleFunc("/verify", authController.VerifyTwoFactor).Methods("POST")
	auth.HandleFunc("/token", authController.ExchangeLoginToken).Methods("POST")

	// Защищенные маршруты
	protected := router.PathPrefix("/api").Subrouter()
	protected.Use(middleware.AuthMiddleware(tokens))
	protected.HandleFunc("/me", authController.Me).Methods("GET")
	applicationController.RegisterRoutes(protected)
	reportController.RegisterRoutes(protected)
	if localBlobs {
		protected.PathPrefix("/files/").Handler(http.StripPrefix("/api/files/", http.FileServer(http.Dir(cfg.Storage.LocalDir))))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           middleware.CORS(cfg.ClientURL)(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		utils.LogInfo("Сервер запущен на порту %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Ошибка запуска сервера: %v", err)
		}
	}()

	<-ctx.Done()
	utils.LogInfo("Остановка сервера")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.LogError("Ошибка остановки сервера: %v", err)
	}

	// Ждем завершения текущих задач планировщика
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		utils.LogWarn("Задачи планировщика не завершились до таймаута")
	}
}
