// Пакет config — загрузка и валидация конфигурации Retrieval Module
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

// Config содержит все параметры конфигурации Retrieval Module.
// Секции соответствуют процессам: HTTP API, брокер очереди,
// внешняя утилита HSI, worker, SMTP, база данных, токены, ops-консоль.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Путь к TLS-сертификату (пусто — без TLS)
	TLSCert string
	// Путь к TLS-ключу
	TLSKey string
	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration

	// --- Брокер очереди ---

	// Хост RabbitMQ
	BrokerHost string
	// Порт RabbitMQ
	BrokerPort int
	// Имя durable-очереди заданий
	WorkQueue string
	// Минимальный интервал между одинаковыми заданиями (dedup window)
	MinJobInterval time.Duration
	// Путь к CSV-файлу deny-list (колонка email); пусто — список пуст
	DenyListPath string

	// --- Утилита извлечения из архива (HSI) ---

	// Путь к бинарнику hsi
	HSIBinPath string
	// Путь к keytab-файлу
	HSIKeytabPath string
	// Имя пользователя архива
	HSIUser string
	// Режим firewall (компонуется составная инструкция "firewall -on; get ...")
	FirewallMode bool
	// Жёсткий таймаут извлечения
	HSITimeout time.Duration

	// --- Worker ---

	// Директория staging (локальный кэш извлечённых файлов)
	StagingDir string
	// Порог занятости staging в ГБ (admission control)
	StagingUsageThresholdGB float64
	// Интервал опроса размера файла при проверке стабильности
	PollInterval time.Duration
	// Предел ожидания нулевого размера (orphaned download)
	ZeroSizeLimit time.Duration

	// --- Почта ---

	// Адрес SMTP-relay (host:port)
	SMTPServer string
	// Адрес отправителя
	EmailSender string
	// Контактный адрес поддержки (включается в письма)
	ContactEmail string
	// База публичных ссылок на скачивание (без завершающего /)
	HTTPDownloadBase string

	// --- База данных ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// --- Токены скачивания ---

	// Лимит скачиваний по умолчанию
	TokenMaxDownloads int
	// Срок действия токена
	TokenExpiry time.Duration
	// Интервал фонового SweepExpired
	TokenSweepInterval time.Duration

	// --- Ops-консоль ---

	// Секретный код операторов
	OpsSecret string
	// TTL сессии ops-консоли (скользящее окно неактивности)
	SessionTTL time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("RM_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("RM_PORT: %w", err)
	}

	logLevel := getEnvDefault("RM_LOG_LEVEL", "info")
	cfg.LogLevel, err = parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("RM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("RM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("RM_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.TLSCert = os.Getenv("RM_TLS_CERT")
	cfg.TLSKey = os.Getenv("RM_TLS_KEY")

	cfg.ShutdownTimeout, err = getEnvDuration("RM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RM_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Брокер очереди ---

	cfg.BrokerHost = getEnvDefault("RM_BROKER_HOST", "localhost")

	cfg.BrokerPort, err = getEnvInt("RM_BROKER_PORT", 5672)
	if err != nil {
		return nil, fmt.Errorf("RM_BROKER_PORT: %w", err)
	}

	cfg.WorkQueue = getEnvDefault("RM_WORK_QUEUE", "sds_work_queue")

	// RM_MIN_JOB_INTERVAL — окно дедупликации (по умолчанию 360 минут)
	cfg.MinJobInterval, err = getEnvDuration("RM_MIN_JOB_INTERVAL", 360*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("RM_MIN_JOB_INTERVAL: %w", err)
	}

	cfg.DenyListPath = os.Getenv("RM_DENY_LIST")

	// --- HSI ---

	cfg.HSIBinPath = getEnvDefault("RM_HSI_BIN", "/usr/local/bin/hsi")
	cfg.HSIKeytabPath = os.Getenv("RM_HSI_KEYTAB")
	cfg.HSIUser = os.Getenv("RM_HSI_USER")

	cfg.FirewallMode, err = getEnvBool("RM_HSI_FIREWALL", false)
	if err != nil {
		return nil, fmt.Errorf("RM_HSI_FIREWALL: %w", err)
	}

	// RM_HSI_TIMEOUT — жёсткий таймаут извлечения (по умолчанию 3300s)
	cfg.HSITimeout, err = getEnvDuration("RM_HSI_TIMEOUT", 3300*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RM_HSI_TIMEOUT: %w", err)
	}

	// --- Worker ---

	cfg.StagingDir = getEnvDefault("RM_STAGING_DIR", "/var/lib/sds/staging")

	// RM_STAGING_THRESHOLD_GB — порог admission control (по умолчанию 950 ГБ)
	cfg.StagingUsageThresholdGB, err = getEnvFloat("RM_STAGING_THRESHOLD_GB", 950)
	if err != nil {
		return nil, fmt.Errorf("RM_STAGING_THRESHOLD_GB: %w", err)
	}

	cfg.PollInterval, err = getEnvDuration("RM_WORKER_POLL_INTERVAL", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RM_WORKER_POLL_INTERVAL: %w", err)
	}

	cfg.ZeroSizeLimit, err = getEnvDuration("RM_WORKER_ZERO_SIZE_LIMIT", 600*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RM_WORKER_ZERO_SIZE_LIMIT: %w", err)
	}

	// --- Почта ---

	cfg.SMTPServer = getEnvDefault("RM_SMTP_SERVER", "localhost:25")
	cfg.EmailSender = getEnvDefault("RM_EMAIL_SENDER", "sds-noreply@example.edu")
	cfg.ContactEmail = getEnvDefault("RM_CONTACT_EMAIL", "rds@example.edu")

	// RM_HTTP_DOWNLOAD_BASE — завершающий / отбрасывается
	cfg.HTTPDownloadBase = strings.TrimSuffix(
		getEnvDefault("RM_HTTP_DOWNLOAD_BASE", "http://localhost:8041/files"), "/")

	// --- База данных ---

	cfg.DBHost = getEnvDefault("RM_DB_HOST", "localhost")

	cfg.DBPort, err = getEnvInt("RM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("RM_DB_PORT: %w", err)
	}

	cfg.DBName = getEnvDefault("RM_DB_NAME", "sds")
	cfg.DBUser = getEnvDefault("RM_DB_USER", "sds")
	cfg.DBPassword = os.Getenv("RM_DB_PASSWORD")
	cfg.DBSSLMode = getEnvDefault("RM_DB_SSL_MODE", "disable")

	// --- Токены ---

	cfg.TokenMaxDownloads, err = getEnvInt("RM_TOKEN_MAX_DOWNLOADS", 3)
	if err != nil {
		return nil, fmt.Errorf("RM_TOKEN_MAX_DOWNLOADS: %w", err)
	}
	if cfg.TokenMaxDownloads <= 0 {
		return nil, fmt.Errorf("RM_TOKEN_MAX_DOWNLOADS: значение должно быть > 0")
	}

	cfg.TokenExpiry, err = getEnvDuration("RM_TOKEN_EXPIRY", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("RM_TOKEN_EXPIRY: %w", err)
	}

	cfg.TokenSweepInterval, err = getEnvDuration("RM_TOKEN_SWEEP_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("RM_TOKEN_SWEEP_INTERVAL: %w", err)
	}

	// --- Ops-консоль ---

	cfg.OpsSecret = os.Getenv("RM_OPS_SECRET")

	cfg.SessionTTL, err = getEnvDuration("RM_SESSION_TTL", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("RM_SESSION_TTL: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// BrokerURL возвращает AMQP URL брокера.
func (c *Config) BrokerURL() string {
	return fmt.Sprintf("amqp://%s:%d/", c.BrokerHost, c.BrokerPort)
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

// getEnvFloat возвращает вещественное значение переменной окружения или значение по умолчанию.
func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное вещественное число: %q", val)
	}
	return f, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
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
