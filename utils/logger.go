package utils

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"rplportal/config"
)

var logger = slog.Default()

// InitLogger настраивает глобальный логгер по конфигурации
func InitLogger(cfg config.LogConfig) error {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var output io.Writer
	switch cfg.Output {
	case "file", "both":
		// Создаем директорию для логов, если она не существует
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		output = fileWriter
		if cfg.Output == "both" {
			output = io.MultiWriter(os.Stdout, fileWriter)
		}
	default:
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
	return nil
}

// Log возвращает глобальный логгер для структурированных записей
func Log() *slog.Logger {
	return logger
}

// LogInfo логирует информационное сообщение
func LogInfo(format string, v ...interface{}) {
	logger.Info(fmt.Sprintf(format, v...), "caller", caller())
}

// LogWarn логирует предупреждение
func LogWarn(format string, v ...interface{}) {
	logger.Warn(fmt.Sprintf(format, v...), "caller", caller())
}

// LogError логирует сообщение об ошибке
func LogError(format string, v ...interface{}) {
	logger.Error(fmt.Sprintf(format, v...), "caller", caller())
}

// LogDebug логирует отладочное сообщение
func LogDebug(format string, v ...interface{}) {
	logger.Debug(fmt.Sprintf(format, v...), "caller", caller())
}

// LogOperation логирует операцию с метриками
func LogOperation(operation string, startTime time.Time, err error) {
	duration := time.Since(startTime)
	JobDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		logger.Error("operation failed", "operation", operation, "duration", duration, "error", err)
	} else {
		logger.Info("operation completed", "operation", operation, "duration", duration)
	}
}

func caller() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
