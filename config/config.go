package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	// Часовые пояса планировщика не зависят от tzdata в образе
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config представляет конфигурацию приложения
type Config struct {
	Server struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		DBName   string `mapstructure:"name"`
	} `mapstructure:"db"`
	JWT struct {
		SecretKey     string        `mapstructure:"secret_key"`
		ExpiresIn     int           `mapstructure:"expires_in"` // в часах
		LoginTokenTTL time.Duration `mapstructure:"login_token_ttl"`
	} `mapstructure:"jwt"`
	SMTP struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		From     string `mapstructure:"from"`
	} `mapstructure:"smtp"`

	ClientURL   string   `mapstructure:"client_url"`
	AdminEmails []string `mapstructure:"admin_emails"`
	Currency    string   `mapstructure:"currency"`

	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Payments  struct {
		Provider string `mapstructure:"provider"` // square или midtrans
	} `mapstructure:"payments"`
	Square struct {
		BaseURL     string `mapstructure:"base_url"`
		AccessToken string `mapstructure:"access_token"`
		Version     string `mapstructure:"version"`
		LocationID  string `mapstructure:"location_id"`
	} `mapstructure:"square"`
	Midtrans struct {
		ServerKey  string `mapstructure:"server_key"`
		Production bool   `mapstructure:"production"`
	} `mapstructure:"midtrans"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	OSS struct {
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		AccessKeySecret string `mapstructure:"access_key_secret"`
		Bucket          string `mapstructure:"bucket"`
	} `mapstructure:"oss"`
	Storage struct {
		LocalDir string `mapstructure:"local_dir"`
	} `mapstructure:"storage"`

	Cache struct {
		TTL time.Duration `mapstructure:"ttl"`
	} `mapstructure:"cache"`
	TwoFactor struct {
		TTL         time.Duration `mapstructure:"ttl"`
		MaxAttempts int           `mapstructure:"max_attempts"`
	} `mapstructure:"two_factor"`

	Log LogConfig `mapstructure:"log"`
}

// SchedulerConfig содержит расписания фоновых задач
type SchedulerConfig struct {
	ChargeCron    string        `mapstructure:"charge_cron"`
	ReminderCron  string        `mapstructure:"reminder_cron"`
	AutoDebitCron string        `mapstructure:"auto_debit_cron"`
	HeartbeatCron string        `mapstructure:"heartbeat_cron"`
	ChargeDelay   time.Duration `mapstructure:"charge_delay"`
	Timezone      string        `mapstructure:"timezone"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
}

// Location возвращает часовой пояс планировщика
func (s SchedulerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LogConfig содержит настройки логирования
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json или text
	Output     string `mapstructure:"output"` // stdout, file, both
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// NewConfig создает новый экземпляр конфигурации
func NewConfig() (*Config, error) {
	// .env не обязателен, в проде переменные приходят из окружения
	if err := godotenv.Load(); err != nil {
		log.Println("Файл .env не найден, используются переменные окружения")
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}

	// Списки из переменных окружения приходят строкой через запятую
	cfg.AdminEmails = splitList(v.GetStringSlice("admin_emails"))
	cfg.Kafka.Brokers = splitList(v.GetStringSlice("kafka.brokers"))

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults задает значения по умолчанию
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.name", "rpl_db")

	v.SetDefault("jwt.secret_key", "your-secret-key-here")
	v.SetDefault("jwt.expires_in", 24)
	v.SetDefault("jwt.login_token_ttl", 72*time.Hour)

	v.SetDefault("smtp.host", "smtp.gmail.com")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "your-email@gmail.com")
	v.SetDefault("smtp.password", "your-app-password")
	v.SetDefault("smtp.from", "your-email@gmail.com")

	v.SetDefault("client_url", "http://localhost:3000")
	v.SetDefault("admin_emails", []string{})
	v.SetDefault("currency", "AUD")

	v.SetDefault("scheduler.charge_cron", "0 9 * * *")
	v.SetDefault("scheduler.reminder_cron", "0 8 * * *")
	v.SetDefault("scheduler.auto_debit_cron", "30 9 * * *")
	v.SetDefault("scheduler.heartbeat_cron", "0 * * * *")
	v.SetDefault("scheduler.charge_delay", 2*time.Second)
	v.SetDefault("scheduler.timezone", "Australia/Sydney")
	v.SetDefault("scheduler.lock_ttl", 5*time.Minute)

	v.SetDefault("payments.provider", "square")
	v.SetDefault("square.base_url", "https://connect.squareupsandbox.com")
	v.SetDefault("square.access_token", "")
	v.SetDefault("square.version", "2024-10-17")
	v.SetDefault("square.location_id", "")
	v.SetDefault("midtrans.server_key", "")
	v.SetDefault("midtrans.production", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "rpl.application-events")
	v.SetDefault("oss.endpoint", "")
	v.SetDefault("oss.access_key_id", "")
	v.SetDefault("oss.access_key_secret", "")
	v.SetDefault("oss.bucket", "")
	v.SetDefault("storage.local_dir", "uploads")

	v.SetDefault("cache.ttl", 30*time.Second)
	v.SetDefault("two_factor.ttl", 10*time.Minute)
	v.SetDefault("two_factor.max_attempts", 3)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file_path", "logs/app.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)
}

// validate проверяет значения, без которых приложение не должно стартовать
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("неверный порт сервера: %d", c.Server.Port)
	}
	if c.DB.Port <= 0 {
		return fmt.Errorf("неверный порт базы данных: %d", c.DB.Port)
	}
	if c.SMTP.Port <= 0 {
		return fmt.Errorf("неверный порт SMTP: %d", c.SMTP.Port)
	}
	switch c.Payments.Provider {
	case "square", "midtrans":
	default:
		return fmt.Errorf("неизвестный платежный провайдер: %q", c.Payments.Provider)
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("неверный часовой пояс планировщика: %v", err)
	}
	if c.TwoFactor.MaxAttempts <= 0 {
		return fmt.Errorf("неверное число попыток 2FA: %d", c.TwoFactor.MaxAttempts)
	}
	return nil
}

// splitList разбивает значения вида "a,b" и убирает пустые элементы
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
