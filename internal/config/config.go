// Пакет config — загрузка и валидация конфигурации filedrop
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// DefaultMaxFileSize — максимальный размер файла по умолчанию:
// 1.5 ГиБ, совпадает с лимитом клиента.
const DefaultMaxFileSize = 1_610_612_736

// Config содержит все параметры конфигурации filedrop.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Путь к директории хранения файлов
	DataDir string
	// Путь к директории WAL
	WALDir string
	// Максимальный размер файла в байтах
	MaxFileSize int64
	// Интервал запуска reaper
	ReaperInterval time.Duration
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
	// Таймаут чтения заголовков HTTP-запроса.
	// Общие read/write таймауты не используются: тела запросов
	// и ответов — потоки до 1.5 ГиБ произвольной длительности.
	HTTPReadHeaderTimeout time.Duration
	// Таймаут простоя keep-alive соединений
	HTTPIdleTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// FD_PORT — порт HTTP-сервера (по умолчанию 8000)
	port, err := getEnvInt("FD_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("FD_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("FD_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	// FD_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("FD_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// FD_WAL_DIR — обязательный
	cfg.WALDir, err = getEnvRequired("FD_WAL_DIR")
	if err != nil {
		return nil, err
	}

	// FD_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 1.5 ГиБ)
	maxFileSize, err := getEnvInt64("FD_MAX_FILE_SIZE", DefaultMaxFileSize)
	if err != nil {
		return nil, fmt.Errorf("FD_MAX_FILE_SIZE: %w", err)
	}
	if maxFileSize <= 0 {
		return nil, fmt.Errorf("FD_MAX_FILE_SIZE: значение должно быть положительным")
	}
	cfg.MaxFileSize = maxFileSize

	// FD_REAPER_INTERVAL — интервал reaper (по умолчанию 30s).
	// Минимальный срок хранения 5m, так что 30s даёт запас точности.
	cfg.ReaperInterval, err = getEnvDuration("FD_REAPER_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FD_REAPER_INTERVAL: %w", err)
	}

	// FD_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FD_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FD_LOG_LEVEL: %w", err)
	}

	// FD_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("FD_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FD_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// FD_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("FD_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FD_SHUTDOWN_TIMEOUT: %w", err)
	}

	// FD_HTTP_READ_HEADER_TIMEOUT — таймаут чтения заголовков (по умолчанию 10s)
	cfg.HTTPReadHeaderTimeout, err = getEnvDuration("FD_HTTP_READ_HEADER_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FD_HTTP_READ_HEADER_TIMEOUT: %w", err)
	}

	// FD_HTTP_IDLE_TIMEOUT — таймаут простоя соединений (по умолчанию 120s)
	cfg.HTTPIdleTimeout, err = getEnvDuration("FD_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FD_HTTP_IDLE_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
