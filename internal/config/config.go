// Пакет config — загрузка и валидация конфигурации homedrive
// из переменных окружения (префикс HD_).
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды реестра.
const (
	BackendJSON     = "json"
	BackendPostgres = "postgres"
)

// RegistryFileName — имя документа реестра в директории данных.
const RegistryFileName = "registry.json"

// Config содержит все параметры конфигурации homedrive.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Корень хранилища: реестр, файлы пользователей, lock-файл
	DataDir string
	// Путь к директории WAL (по умолчанию {DataDir}/wal)
	WALDir string
	// Реализация реестра: json или postgres
	RegistryBackend string

	// Параметры PostgreSQL (только для HD_REGISTRY_BACKEND=postgres)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Максимальный размер загружаемого файла в байтах
	MaxFileSize int64
	// Интервал автоматической сверки
	ReconcileInterval time.Duration
	// Интервал очистки корзины
	GCInterval time.Duration
	// Срок хранения файлов в корзине; 0 — без автоматической очистки
	TrashRetention time.Duration
	// Окно "недавних" загрузок по умолчанию
	RecentWindow time.Duration
	// Время жизни токена
	TokenTTL time.Duration
	// PEM-файл RSA-ключа подписи; пусто — ключ генерируется при старте
	SigningKey string

	// Путь к TLS сертификату (опционально, вместе с TLSKey)
	TLSCert string
	// Путь к TLS приватному ключу
	TLSKey string
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// HD_PORT — порт HTTP-сервера (по умолчанию 4040)
	port, err := getEnvInt("HD_PORT", 4040)
	if err != nil {
		return nil, fmt.Errorf("HD_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("HD_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	// HD_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("HD_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// HD_WAL_DIR — по умолчанию {HD_DATA_DIR}/wal
	cfg.WALDir = getEnvDefault("HD_WAL_DIR", filepath.Join(cfg.DataDir, "wal"))

	cfg.RegistryBackend = getEnvDefault("HD_REGISTRY_BACKEND", BackendJSON)
	if cfg.RegistryBackend != BackendJSON && cfg.RegistryBackend != BackendPostgres {
		return nil, fmt.Errorf("HD_REGISTRY_BACKEND: недопустимое значение %q, допустимые: json, postgres", cfg.RegistryBackend)
	}

	if cfg.RegistryBackend == BackendPostgres {
		if err := loadDB(cfg); err != nil {
			return nil, err
		}
	}

	// HD_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 1 GB)
	cfg.MaxFileSize, err = getEnvInt64("HD_MAX_FILE_SIZE", 1073741824)
	if err != nil {
		return nil, fmt.Errorf("HD_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("HD_MAX_FILE_SIZE: значение должно быть положительным")
	}

	// HD_RECONCILE_INTERVAL — интервал сверки (по умолчанию 5m)
	cfg.ReconcileInterval, err = getEnvPositiveDuration("HD_RECONCILE_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	// HD_GC_INTERVAL — интервал очистки корзины (по умолчанию 1h)
	cfg.GCInterval, err = getEnvPositiveDuration("HD_GC_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}

	// HD_TRASH_RETENTION — срок хранения в корзине (по умолчанию 30 дней, 0 — не удалять)
	cfg.TrashRetention, err = getEnvDuration("HD_TRASH_RETENTION", 30*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("HD_TRASH_RETENTION: %w", err)
	}
	if cfg.TrashRetention < 0 {
		return nil, fmt.Errorf("HD_TRASH_RETENTION: значение не может быть отрицательным")
	}

	// HD_RECENT_WINDOW — окно недавних загрузок (по умолчанию 7 дней)
	cfg.RecentWindow, err = getEnvPositiveDuration("HD_RECENT_WINDOW", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}

	// HD_TOKEN_TTL — время жизни токена (по умолчанию 24h)
	cfg.TokenTTL, err = getEnvPositiveDuration("HD_TOKEN_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	cfg.SigningKey = getEnvDefault("HD_SIGNING_KEY", "")

	// HD_TLS_CERT / HD_TLS_KEY — задаются только парой
	cfg.TLSCert = getEnvDefault("HD_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("HD_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("HD_TLS_CERT и HD_TLS_KEY должны задаваться вместе")
	}

	// HD_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("HD_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("HD_LOG_LEVEL: %w", err)
	}

	// HD_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("HD_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("HD_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// HD_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvPositiveDuration("HD_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadDB читает параметры подключения к PostgreSQL.
func loadDB(cfg *Config) error {
	var err error

	cfg.DBHost = getEnvDefault("HD_DB_HOST", "localhost")
	cfg.DBPort, err = getEnvInt("HD_DB_PORT", 5432)
	if err != nil {
		return fmt.Errorf("HD_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("HD_DB_NAME", "homedrive")
	cfg.DBUser, err = getEnvRequired("HD_DB_USER")
	if err != nil {
		return err
	}
	cfg.DBPassword = getEnvDefault("HD_DB_PASSWORD", "")
	cfg.DBSSLMode = getEnvDefault("HD_DB_SSL_MODE", "disable")

	switch cfg.DBSSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("HD_DB_SSL_MODE: недопустимое значение %q", cfg.DBSSLMode)
	}
	return nil
}

// RegistryPath возвращает путь к документу JSON-реестра.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.DataDir, RegistryFileName)
}

// DatabaseDSN возвращает строку подключения PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return c.databaseURL("postgres")
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx/v5).
func (c *Config) MigrateURL() string {
	return c.databaseURL("pgx5")
}

func (c *Config) databaseURL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
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
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 168h)", val)
	}
	return d, nil
}

// getEnvPositiveDuration — getEnvDuration с проверкой d > 0.
// Ошибка содержит имя переменной.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: значение должно быть положительным", key)
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
