// Точка входа Custody Module — учёт перемещения файлов между держателями.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// инициализирует каталог пользователей Keycloak (опционально), движок
// переходов и сервисы чтения, запускает фоновую сверку журнала,
// topologymetrics и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/custody-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/custody-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/custody-module/internal/api/openapi"
	"github.com/bigkaa/goartstore/custody-module/internal/config"
	"github.com/bigkaa/goartstore/custody-module/internal/database"
	"github.com/bigkaa/goartstore/custody-module/internal/keycloak"
	"github.com/bigkaa/goartstore/custody-module/internal/repository"
	"github.com/bigkaa/goartstore/custody-module/internal/server"
	"github.com/bigkaa/goartstore/custody-module/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Custody Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.Bool("auth_enabled", cfg.AuthEnabled),
	)
	if !cfg.AuthEnabled {
		logger.Warn("Аутентификация отключена (CM_AUTH_ENABLED=false), актор берётся из actor_id запроса")
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. HTTP-клиент с кастомным CA (для Keycloak)
	var httpClientCA *http.Client
	if cfg.CACertPath != "" {
		httpClientCA, err = buildHTTPClientWithCA(cfg.CACertPath)
		if err != nil {
			logger.Error("Ошибка загрузки CA-сертификата", slog.String("path", cfg.CACertPath), slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("CA-сертификат загружен", slog.String("path", cfg.CACertPath))
	}

	// 6. Каталог пользователей (Keycloak Admin API + LRU-кэш)
	var (
		directory service.UserDirectory
		kcChecker handlers.ReadinessChecker
	)
	if cfg.DirectoryEnabled() {
		kcClient := keycloak.New(
			cfg.KeycloakURL,
			cfg.KeycloakRealm,
			cfg.KeycloakClientID,
			cfg.KeycloakClientSecret,
			httpClientCA, // nil — стандартный пул CA
			logger,
		)
		directory = service.NewCachedUserDirectory(kcClient, cfg.DirectoryCacheSize, cfg.DirectoryCacheTTL, logger)
		kcChecker = kcClient
		logger.Info("Каталог пользователей Keycloak подключён",
			slog.String("url", cfg.KeycloakURL),
			slog.String("realm", cfg.KeycloakRealm),
			slog.Int("cache_size", cfg.DirectoryCacheSize),
		)
	} else {
		logger.Info("Каталог пользователей не настроен, отображаемые имена недоступны")
	}

	// 7. Repositories
	repos := repository.NewRepositories(pool)
	transactor := repository.NewTransactor(pool)

	// 8. Services
	transitionSvc := service.NewTransitionService(transactor, cfg.FileIDPattern, cfg.TransitionTimeout, logger)
	registrySvc := service.NewFileRegistryService(repos, directory, logger)
	reconcileSvc := service.NewReconcileService(transactor, repos, cfg.ReconcileInterval, cfg.ReconcilePageSize, logger)

	// 9. Handlers
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), kcChecker)
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		transitionSvc,
		registrySvc,
		reconcileSvc,
		cfg.AuthEnabled,
		logger,
	)

	// 10. Валидация запросов по OpenAPI
	doc, err := openapi.Load()
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}
	validator, err := middleware.NewOpenAPIValidator(doc, logger)
	if err != nil {
		logger.Error("Ошибка создания OpenAPI валидатора", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 11. JWT middleware
	var jwtAuth *middleware.JWTAuth
	if cfg.AuthEnabled {
		jwtAuth, err = middleware.NewJWTAuth(
			cfg.JWTJWKSURL,
			cfg.CACertPath,
			cfg.JWTIssuer,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	}

	// 12. Фоновая сверка журнала (CM_RECONCILE_INTERVAL=0 — отключена)
	if cfg.ReconcileInterval > 0 {
		reconcileSvc.Start(ctx)
	} else {
		logger.Info("Фоновая сверка журнала отключена (CM_RECONCILE_INTERVAL=0)")
	}

	// 13. topologymetrics — мониторинг зависимостей (PostgreSQL + Keycloak)
	var jwksURL string
	if cfg.KeycloakURL != "" {
		jwksURL = cfg.JWTJWKSURL
	}
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:       "custody-module",
		Group:           cfg.DephealthGroup,
		DB:              pgDB,
		PgConnURL:       cfg.DatabaseURL(),
		KeycloakJWKSURL: jwksURL,
		CheckInterval:   cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 14. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, jwtAuth, validator)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 15. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	reconcileSvc.Stop()
	if jwtAuth != nil {
		jwtAuth.Close()
	}

	logger.Info("Custody Module остановлен")
}

// buildHTTPClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func buildHTTPClientWithCA(caCertPath string) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs:    caCertPool,
				MinVersion: tls.VersionTLS12,
			},
		},
	}, nil
}
