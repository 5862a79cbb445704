// handler.go — основной обработчик API Custody Module.
// Тонкий транспортный слой: привязка параметров, определение актора,
// делегирование в сервисный слой и отображение ошибок в HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/custody-module/internal/api/errors"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/custody"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
	"github.com/bigkaa/goartstore/custody-module/internal/repository"
	"github.com/bigkaa/goartstore/custody-module/internal/service"
)

// TransitionEngine — единственный путь изменения состояния файлов.
type TransitionEngine interface {
	Create(ctx context.Context, fileID, fileName string, createdTime time.Time, actorID string) (*service.TransitionResult, error)
	Move(ctx context.Context, fileID, destination, actorID string) (*service.TransitionResult, error)
	Receive(ctx context.Context, fileID, location, actorID string) (*service.TransitionResult, error)
	Close(ctx context.Context, fileID, actorID string) (*service.TransitionResult, error)
}

// FileReader — чтение реестра и журнала.
type FileReader interface {
	List(ctx context.Context, params service.ListFilesParams) ([]*model.File, int, error)
	Get(ctx context.Context, fileID string) (*model.File, error)
	History(ctx context.Context, fileID string, order repository.SortOrder) ([]*model.LogEntry, error)
}

// Verifier — сверка журнала с текущим состоянием файла.
type Verifier interface {
	VerifyFile(ctx context.Context, fileID string) (*model.VerifyResult, error)
	// IsInProgress возвращает true, если выполняется фоновый проход сверки.
	IsInProgress() bool
}

// APIHandler — основной обработчик API Custody Module.
type APIHandler struct {
	health   *HealthHandler
	engine   TransitionEngine
	files    FileReader
	verifier Verifier
	// authEnabled — актор берётся только из JWT; false — из поля actor_id тела
	authEnabled bool
	logger      *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	engine TransitionEngine,
	files FileReader,
	verifier Verifier,
	authEnabled bool,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:      health,
		engine:      engine,
		files:       files,
		verifier:    verifier,
		authEnabled: authEnabled,
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// Routes регистрирует все маршруты API на роутере.
func (h *APIHandler) Routes(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	r.Route("/api/v1/files", func(r chi.Router) {
		r.Get("/", h.ListFiles)
		r.Post("/", h.CreateFile)
		r.Route("/{file_id}", func(r chi.Router) {
			r.Get("/", h.GetFile)
			r.Put("/move", h.MoveFile)
			r.Put("/receive", h.ReceiveFile)
			r.Put("/close", h.CloseFile)
			r.Get("/logs", h.GetFileHistory)
			r.Get("/verify", h.VerifyFile)
		})
	})
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError отображает ошибку сервисного слоя в HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	message := err.Error()
	var te *custody.TransitionError
	if errors.As(err, &te) {
		message = te.Message
	}

	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, message)
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, message)
	case errors.Is(err, service.ErrDuplicate):
		apierrors.Duplicate(w, message)
	case errors.Is(err, service.ErrInvalidTransition):
		apierrors.InvalidTransition(w, message)
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, "Файл изменён параллельным запросом, повторите операцию")
	case errors.Is(err, service.ErrTimeout):
		apierrors.Timeout(w, "Операция не завершилась за отведённое время")
	case errors.Is(err, service.ErrConsistency):
		apierrors.ConsistencyError(w, "Нарушена согласованность состояния файла и журнала")
	default:
		h.logger.Error("Внутренняя ошибка",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

// formatTime — единый формат времени в ответах API.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
