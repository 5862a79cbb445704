// Пакет config — загрузка и валидация конфигурации Custody Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// DefaultFileIDPattern — формат file_id по умолчанию: буква, дефис, четыре цифры.
const DefaultFileIDPattern = `^[A-Z]-[0-9]{4}$`

// Config содержит все параметры конфигурации Custody Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Максимальный размер пула подключений
	DBMaxConns int32

	// --- Аутентификация ---

	// AuthEnabled — проверка JWT на API. При false актор берётся из тела запроса.
	AuthEnabled bool
	// URL Keycloak (например, https://keycloak.kryukov.lan)
	KeycloakURL string
	// Имя realm в Keycloak
	KeycloakRealm string
	// Client ID для доступа к Keycloak Admin API (каталог пользователей)
	KeycloakClientID string
	// Client Secret для доступа к Keycloak Admin API
	KeycloakClientSecret string
	// Issuer JWT (авто-вычисляется из KeycloakURL, если не задан)
	JWTIssuer string
	// URL JWKS endpoint (авто-вычисляется из KeycloakURL, если не задан)
	JWTJWKSURL string
	// Допустимое отклонение часов при проверке JWT
	JWTLeeway time.Duration
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration
	// Путь к CA-сертификату для TLS-соединений с Keycloak (опционально)
	CACertPath string

	// --- Каталог пользователей ---

	// Размер LRU-кэша акторов
	DirectoryCacheSize int
	// TTL записи в кэше акторов
	DirectoryCacheTTL time.Duration

	// --- Переходы ---

	// Таймаут одного перехода (транзакция целиком)
	TransitionTimeout time.Duration
	// Регулярное выражение формата file_id
	FileIDPattern *regexp.Regexp

	// --- Сверка ---

	// Интервал фоновой сверки журнала с реестром (0 — отключена)
	ReconcileInterval time.Duration
	// Размер страницы при сверке
	ReconcilePageSize int

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
//
//nolint:gocyclo,cyclop // линейная последовательность проверок
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// CM_PORT — порт HTTP-сервера (по умолчанию 8020)
	cfg.Port, err = getEnvInt("CM_PORT", 8020)
	if err != nil {
		return nil, fmt.Errorf("CM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("CM_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("CM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("CM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("CM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("CM_DB_HOST")
	if err != nil {
		return nil, err
	}

	cfg.DBPort, err = getEnvInt("CM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("CM_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("CM_DB_NAME")
	if err != nil {
		return nil, err
	}

	cfg.DBUser, err = getEnvRequired("CM_DB_USER")
	if err != nil {
		return nil, err
	}

	cfg.DBPassword, err = getEnvRequired("CM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("CM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("CM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	maxConns, err := getEnvInt("CM_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("CM_DB_MAX_CONNS: %w", err)
	}
	if maxConns < 1 || maxConns > 1000 {
		return nil, fmt.Errorf("CM_DB_MAX_CONNS: значение %d вне допустимого диапазона 1-1000", maxConns)
	}
	cfg.DBMaxConns = int32(maxConns) //nolint:gosec // диапазон проверен выше

	// --- Аутентификация ---

	cfg.AuthEnabled, err = getEnvBool("CM_AUTH_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("CM_AUTH_ENABLED: %w", err)
	}

	// Keycloak обязателен только при включённой аутентификации
	if cfg.AuthEnabled {
		cfg.KeycloakURL, err = getEnvRequired("CM_KEYCLOAK_URL")
		if err != nil {
			return nil, err
		}
	} else {
		cfg.KeycloakURL = getEnvDefault("CM_KEYCLOAK_URL", "")
	}
	cfg.KeycloakURL = strings.TrimRight(cfg.KeycloakURL, "/")

	cfg.KeycloakRealm = getEnvDefault("CM_KEYCLOAK_REALM", "artstore")
	cfg.KeycloakClientID = getEnvDefault("CM_KEYCLOAK_CLIENT_ID", "")
	cfg.KeycloakClientSecret = getEnvDefault("CM_KEYCLOAK_CLIENT_SECRET", "")
	if (cfg.KeycloakClientID == "") != (cfg.KeycloakClientSecret == "") {
		return nil, fmt.Errorf("CM_KEYCLOAK_CLIENT_ID и CM_KEYCLOAK_CLIENT_SECRET задаются только вместе")
	}

	if cfg.KeycloakURL != "" {
		cfg.JWTIssuer = getEnvDefault("CM_JWT_ISSUER",
			fmt.Sprintf("%s/realms/%s", cfg.KeycloakURL, cfg.KeycloakRealm))
		cfg.JWTJWKSURL = getEnvDefault("CM_JWT_JWKS_URL",
			fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.KeycloakURL, cfg.KeycloakRealm))
	}

	cfg.JWTLeeway, err = getEnvDuration("CM_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_JWT_LEEWAY: %w", err)
	}

	cfg.JWKSRefreshInterval, err = getEnvDuration("CM_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CM_JWKS_REFRESH_INTERVAL: %w", err)
	}

	cfg.CACertPath = getEnvDefault("CM_CA_CERT_PATH", "")

	// --- Каталог пользователей ---

	cfg.DirectoryCacheSize, err = getEnvInt("CM_DIRECTORY_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("CM_DIRECTORY_CACHE_SIZE: %w", err)
	}
	if cfg.DirectoryCacheSize < 1 {
		return nil, fmt.Errorf("CM_DIRECTORY_CACHE_SIZE: значение %d должно быть положительным", cfg.DirectoryCacheSize)
	}

	cfg.DirectoryCacheTTL, err = getEnvDuration("CM_DIRECTORY_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CM_DIRECTORY_CACHE_TTL: %w", err)
	}

	// --- Переходы ---

	cfg.TransitionTimeout, err = getEnvDuration("CM_TRANSITION_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_TRANSITION_TIMEOUT: %w", err)
	}
	if cfg.TransitionTimeout <= 0 {
		return nil, fmt.Errorf("CM_TRANSITION_TIMEOUT: значение должно быть положительным")
	}

	pattern := getEnvDefault("CM_FILE_ID_PATTERN", DefaultFileIDPattern)
	cfg.FileIDPattern, err = regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("CM_FILE_ID_PATTERN: некорректное регулярное выражение %q: %w", pattern, err)
	}

	// --- Сверка ---

	cfg.ReconcileInterval, err = getEnvDuration("CM_RECONCILE_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("CM_RECONCILE_INTERVAL: %w", err)
	}
	if cfg.ReconcileInterval < 0 {
		return nil, fmt.Errorf("CM_RECONCILE_INTERVAL: значение не может быть отрицательным")
	}

	cfg.ReconcilePageSize, err = getEnvInt("CM_RECONCILE_PAGE_SIZE", 500)
	if err != nil {
		return nil, fmt.Errorf("CM_RECONCILE_PAGE_SIZE: %w", err)
	}
	if cfg.ReconcilePageSize < 1 || cfg.ReconcilePageSize > 10000 {
		return nil, fmt.Errorf("CM_RECONCILE_PAGE_SIZE: значение %d вне допустимого диапазона 1-10000", cfg.ReconcilePageSize)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("CM_DEPHEALTH_GROUP", "artstore")
	cfg.DephealthCheckInterval, err = getEnvDuration("CM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("CM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL (формат pgx).
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s pool_max_conns=%d",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode, c.DBMaxConns,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов topologymetrics).
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   "/" + c.DBName,
	}
	return u.String()
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// DirectoryEnabled сообщает, настроен ли доступ к каталогу пользователей Keycloak.
func (c *Config) DirectoryEnabled() bool {
	return c.KeycloakURL != "" && c.KeycloakClientID != ""
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

func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

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

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

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
