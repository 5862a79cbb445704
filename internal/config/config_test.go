package config

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

// setEnvs устанавливает переменные окружения на время теста.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// minimalEnvs возвращает минимальный набор обязательных переменных.
func minimalEnvs() map[string]string {
	return map[string]string{
		"CM_DB_HOST":      "localhost",
		"CM_DB_NAME":      "custody",
		"CM_DB_USER":      "custody",
		"CM_DB_PASSWORD":  "secret",
		"CM_KEYCLOAK_URL": "https://keycloak.kryukov.lan/",
	}
}

// clearEnvs снимает все переменные, которые может выставить тест.
func clearEnvs(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "CM_") {
			key := strings.SplitN(kv, "=", 2)[0]
			t.Setenv(key, "")
		}
	}
}

func TestLoad_MinimalConfig(t *testing.T) {
	clearEnvs(t)
	setEnvs(t, minimalEnvs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 8020 {
		t.Errorf("Port = %d, ожидается 8020", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидается Info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, ожидается json", cfg.LogFormat)
	}
	if cfg.DBPort != 5432 {
		t.Errorf("DBPort = %d, ожидается 5432", cfg.DBPort)
	}
	if cfg.DBMaxConns != 10 {
		t.Errorf("DBMaxConns = %d, ожидается 10", cfg.DBMaxConns)
	}
	if !cfg.AuthEnabled {
		t.Error("AuthEnabled = false, ожидается true")
	}
	if cfg.KeycloakURL != "https://keycloak.kryukov.lan" {
		t.Errorf("KeycloakURL = %q, trailing slash должен быть удалён", cfg.KeycloakURL)
	}
	if cfg.TransitionTimeout != 5*time.Second {
		t.Errorf("TransitionTimeout = %v, ожидается 5s", cfg.TransitionTimeout)
	}
	if cfg.ReconcileInterval != time.Hour {
		t.Errorf("ReconcileInterval = %v, ожидается 1h", cfg.ReconcileInterval)
	}
	if cfg.FileIDPattern.String() != DefaultFileIDPattern {
		t.Errorf("FileIDPattern = %q, ожидается %q", cfg.FileIDPattern, DefaultFileIDPattern)
	}
	if cfg.DirectoryEnabled() {
		t.Error("DirectoryEnabled() = true без client credentials")
	}
}

func TestLoad_JWTAutoDerive(t *testing.T) {
	clearEnvs(t)
	setEnvs(t, minimalEnvs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if want := "https://keycloak.kryukov.lan/realms/artstore"; cfg.JWTIssuer != want {
		t.Errorf("JWTIssuer = %q, ожидается %q", cfg.JWTIssuer, want)
	}
	if want := "https://keycloak.kryukov.lan/realms/artstore/protocol/openid-connect/certs"; cfg.JWTJWKSURL != want {
		t.Errorf("JWTJWKSURL = %q, ожидается %q", cfg.JWTJWKSURL, want)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnvs(t)
	envs := minimalEnvs()
	envs["CM_PORT"] = "9000"
	envs["CM_LOG_LEVEL"] = "debug"
	envs["CM_LOG_FORMAT"] = "text"
	envs["CM_DB_MAX_CONNS"] = "25"
	envs["CM_KEYCLOAK_CLIENT_ID"] = "custody-module"
	envs["CM_KEYCLOAK_CLIENT_SECRET"] = "kc-secret"
	envs["CM_TRANSITION_TIMEOUT"] = "2s"
	envs["CM_FILE_ID_PATTERN"] = `^[A-Z]{2}-[0-9]{6}$`
	envs["CM_RECONCILE_INTERVAL"] = "0"
	envs["CM_DIRECTORY_CACHE_TTL"] = "1m"
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("Port = %d, ожидается 9000", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, ожидается Debug", cfg.LogLevel)
	}
	if cfg.DBMaxConns != 25 {
		t.Errorf("DBMaxConns = %d, ожидается 25", cfg.DBMaxConns)
	}
	if !cfg.DirectoryEnabled() {
		t.Error("DirectoryEnabled() = false при заданных client credentials")
	}
	if cfg.TransitionTimeout != 2*time.Second {
		t.Errorf("TransitionTimeout = %v, ожидается 2s", cfg.TransitionTimeout)
	}
	if !cfg.FileIDPattern.MatchString("AB-123456") {
		t.Error("FileIDPattern не принимает AB-123456")
	}
	if cfg.ReconcileInterval != 0 {
		t.Errorf("ReconcileInterval = %v, ожидается 0", cfg.ReconcileInterval)
	}
	if cfg.DirectoryCacheTTL != time.Minute {
		t.Errorf("DirectoryCacheTTL = %v, ожидается 1m", cfg.DirectoryCacheTTL)
	}
}

func TestLoad_AuthDisabledWithoutKeycloak(t *testing.T) {
	clearEnvs(t)
	envs := minimalEnvs()
	delete(envs, "CM_KEYCLOAK_URL")
	envs["CM_AUTH_ENABLED"] = "false"
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	if cfg.AuthEnabled {
		t.Error("AuthEnabled = true, ожидается false")
	}
	if cfg.JWTJWKSURL != "" {
		t.Errorf("JWTJWKSURL = %q, ожидается пустой", cfg.JWTJWKSURL)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	for _, missing := range []string{"CM_DB_HOST", "CM_DB_NAME", "CM_DB_USER", "CM_DB_PASSWORD", "CM_KEYCLOAK_URL"} {
		t.Run(missing, func(t *testing.T) {
			clearEnvs(t)
			envs := minimalEnvs()
			delete(envs, missing)
			setEnvs(t, envs)

			if _, err := Load(); err == nil {
				t.Errorf("Load() не вернул ошибку при отсутствии %s", missing)
			}
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"порт не число", "CM_PORT", "abc"},
		{"порт вне диапазона", "CM_PORT", "70000"},
		{"уровень логов", "CM_LOG_LEVEL", "verbose"},
		{"формат логов", "CM_LOG_FORMAT", "xml"},
		{"ssl mode", "CM_DB_SSL_MODE", "prefer"},
		{"auth enabled", "CM_AUTH_ENABLED", "maybe"},
		{"таймаут перехода", "CM_TRANSITION_TIMEOUT", "-1s"},
		{"шаблон file_id", "CM_FILE_ID_PATTERN", "([A-Z"},
		{"страница сверки", "CM_RECONCILE_PAGE_SIZE", "0"},
		{"размер кэша", "CM_DIRECTORY_CACHE_SIZE", "0"},
		{"client id без secret", "CM_KEYCLOAK_CLIENT_ID", "custody-module"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvs(t)
			envs := minimalEnvs()
			envs[tt.key] = tt.value
			setEnvs(t, envs)

			if _, err := Load(); err == nil {
				t.Errorf("Load() не вернул ошибку для %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestConfig_URLs(t *testing.T) {
	cfg := &Config{
		DBHost: "db", DBPort: 5433, DBName: "custody",
		DBUser: "u", DBPassword: "p@ss", DBSSLMode: "disable", DBMaxConns: 4,
	}

	if got, want := cfg.DatabaseURL(), "postgres://db:5433/custody"; got != want {
		t.Errorf("DatabaseURL() = %q, ожидается %q", got, want)
	}
	if got := cfg.MigrateURL(); !strings.HasPrefix(got, "pgx5://u:p%40ss@db:5433/custody") {
		t.Errorf("MigrateURL() = %q: пароль должен быть экранирован", got)
	}
	if got := cfg.DatabaseDSN(); !strings.Contains(got, "pool_max_conns=4") {
		t.Errorf("DatabaseDSN() = %q, ожидается pool_max_conns=4", got)
	}
}
