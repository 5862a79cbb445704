// Пакет server — HTTP-сервер Custody Module с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/custody-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/custody-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/custody-module/internal/config"
)

// Server — HTTP-сервер Custody Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
// jwtAuth — JWT middleware (nil при CM_AUTH_ENABLED=false).
// validator — валидация запросов по OpenAPI (nil — без валидации).
func New(
	cfg *config.Config,
	logger *slog.Logger,
	handler *handlers.APIHandler,
	jwtAuth *middleware.JWTAuth,
	validator *middleware.OpenAPIValidator,
) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, handler, jwtAuth, validator),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает цепочку middleware и маршруты.
// Порядок: метрики, request id, логирование, JWT, валидация OpenAPI.
func NewRouter(
	logger *slog.Logger,
	handler *handlers.APIHandler,
	jwtAuth *middleware.JWTAuth,
	validator *middleware.OpenAPIValidator,
) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))

	// Health и metrics проверяются Kubernetes напрямую, без API Gateway.
	if jwtAuth != nil {
		router.Use(jwtAuth.Middleware("/health/", "/metrics"))
	}
	if validator != nil {
		router.Use(validator.Middleware())
	}

	handler.Routes(router)
	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
