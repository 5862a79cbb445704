// files.go — обработчики /api/v1/files endpoints.
// Реестр файлов: регистрация, переходы, список, история, сверка.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/goartstore/custody-module/internal/api/errors"
	"github.com/bigkaa/goartstore/custody-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/custody"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
	"github.com/bigkaa/goartstore/custody-module/internal/repository"
	"github.com/bigkaa/goartstore/custody-module/internal/service"
)

// --- Тела запросов ---

type createFileRequest struct {
	FileID      string `json:"file_id"`
	FileName    string `json:"file_name"`
	CreatedTime string `json:"created_time"`
	ActorID     string `json:"actor_id"`
}

type moveFileRequest struct {
	MovedTo string `json:"moved_to"`
	ActorID string `json:"actor_id"`
}

type receiveFileRequest struct {
	ReceivedAt string `json:"received_at"`
	ActorID    string `json:"actor_id"`
}

type actorRequest struct {
	ActorID string `json:"actor_id"`
}

// --- Ответы ---

type fileResponse struct {
	FileID         string   `json:"file_id"`
	FileName       string   `json:"file_name"`
	Status         string   `json:"status"`
	CreatedBy      string   `json:"created_by"`
	CreatedTime    string   `json:"created_time"`
	UpdatedBy      string   `json:"updated_by"`
	UpdatedByName  string   `json:"updated_by_name,omitempty"`
	UpdatedTime    string   `json:"updated_time"`
	MovedTo        *string  `json:"moved_to"`
	ReceivedAt     *string  `json:"received_at"`
	Version        int64    `json:"version"`
	AllowedActions []string `json:"allowed_actions"`
}

type fileListResponse struct {
	Items  []fileResponse `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

type transitionResponse struct {
	File           fileResponse `json:"file"`
	PreviousStatus string       `json:"previous_status,omitempty"`
	LogID          int64        `json:"log_id"`
}

type logEntryResponse struct {
	LogID         int64   `json:"log_id"`
	FileID        string  `json:"file_id"`
	Status        string  `json:"status"`
	UpdatedBy     string  `json:"updated_by"`
	UpdatedByName string  `json:"updated_by_name,omitempty"`
	UpdateTime    string  `json:"update_time"`
	MovedTo       *string `json:"moved_to"`
	ReceivedAt    *string `json:"received_at"`
}

type historyResponse struct {
	FileID string             `json:"file_id"`
	Order  string             `json:"order"`
	Items  []logEntryResponse `json:"items"`
}

type verifyResponse struct {
	FileID     string   `json:"file_id"`
	Consistent bool     `json:"consistent"`
	LogEntries int      `json:"log_entries"`
	Issues     []string `json:"issues,omitempty"`
	// ReconcileInProgress — параллельно идёт проход сверки по всем файлам
	ReconcileInProgress bool `json:"reconcile_in_progress"`
}

// ListFiles — GET /api/v1/files.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	var (
		limit  *int
		offset *int
		status *string
	)
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &limit); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр limit")
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", query, &offset); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр offset")
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "status", query, &status); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр status")
		return
	}

	params := service.ListFilesParams{}
	if limit != nil {
		params.Limit = *limit
	}
	if offset != nil {
		params.Offset = *offset
	}
	if status != nil {
		s := model.FileStatus(*status)
		params.Status = &s
	}

	files, total, err := h.files.List(r.Context(), params)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := fileListResponse{
		Items:  make([]fileResponse, 0, len(files)),
		Total:  total,
		Limit:  effectiveLimit(params.Limit),
		Offset: max(params.Offset, 0),
	}
	for _, f := range files {
		resp.Items = append(resp.Items, toFileResponse(f))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateFile — POST /api/v1/files.
// created_time по умолчанию — момент запроса.
func (h *APIHandler) CreateFile(w http.ResponseWriter, r *http.Request) {
	var req createFileRequest
	if !decodeBody(w, r, &req, true) {
		return
	}

	actor, ok := h.actor(w, r, req.ActorID)
	if !ok {
		return
	}

	createdTime := time.Now()
	if req.CreatedTime != "" {
		t, err := time.Parse(time.RFC3339Nano, req.CreatedTime)
		if err != nil {
			apierrors.ValidationError(w, "created_time должен быть в формате RFC 3339")
			return
		}
		createdTime = t
	}

	result, err := h.engine.Create(r.Context(), req.FileID, req.FileName, createdTime, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransitionResponse(result))
}

// GetFile — GET /api/v1/files/{file_id}.
func (h *APIHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	fileID, ok := bindFileID(w, r)
	if !ok {
		return
	}

	f, err := h.files.Get(r.Context(), fileID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFileResponse(f))
}

// MoveFile — PUT /api/v1/files/{file_id}/move.
func (h *APIHandler) MoveFile(w http.ResponseWriter, r *http.Request) {
	fileID, ok := bindFileID(w, r)
	if !ok {
		return
	}
	var req moveFileRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	actor, ok := h.actor(w, r, req.ActorID)
	if !ok {
		return
	}

	result, err := h.engine.Move(r.Context(), fileID, req.MovedTo, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransitionResponse(result))
}

// ReceiveFile — PUT /api/v1/files/{file_id}/receive.
func (h *APIHandler) ReceiveFile(w http.ResponseWriter, r *http.Request) {
	fileID, ok := bindFileID(w, r)
	if !ok {
		return
	}
	var req receiveFileRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	actor, ok := h.actor(w, r, req.ActorID)
	if !ok {
		return
	}

	result, err := h.engine.Receive(r.Context(), fileID, req.ReceivedAt, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransitionResponse(result))
}

// CloseFile — PUT /api/v1/files/{file_id}/close. Тело необязательно.
func (h *APIHandler) CloseFile(w http.ResponseWriter, r *http.Request) {
	fileID, ok := bindFileID(w, r)
	if !ok {
		return
	}
	var req actorRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	actor, ok := h.actor(w, r, req.ActorID)
	if !ok {
		return
	}

	result, err := h.engine.Close(r.Context(), fileID, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransitionResponse(result))
}

// GetFileHistory — GET /api/v1/files/{file_id}/logs.
func (h *APIHandler) GetFileHistory(w http.ResponseWriter, r *http.Request) {
	fileID, ok := bindFileID(w, r)
	if !ok {
		return
	}
	var order *string
	if err := runtime.BindQueryParameter("form", true, false, "order", r.URL.Query(), &order); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр order")
		return
	}

	sortOrder := repository.OrderDesc
	if order != nil && *order != "" {
		sortOrder = repository.SortOrder(*order)
	}

	entries, err := h.files.History(r.Context(), fileID, sortOrder)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := historyResponse{
		FileID: fileID,
		Order:  string(sortOrder),
		Items:  make([]logEntryResponse, 0, len(entries)),
	}
	for _, e := range entries {
		resp.Items = append(resp.Items, toLogEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// VerifyFile — GET /api/v1/files/{file_id}/verify.
// Расхождение возвращается в теле с consistent=false и статусом 200.
func (h *APIHandler) VerifyFile(w http.ResponseWriter, r *http.Request) {
	fileID, ok := bindFileID(w, r)
	if !ok {
		return
	}

	result, err := h.verifier.VerifyFile(r.Context(), fileID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		FileID:     result.FileID,
		Consistent: result.Consistent,
		LogEntries: result.LogEntries,
		Issues:     result.Issues,

		ReconcileInProgress: h.verifier.IsInProgress(),
	})
}

// --- Привязка и преобразование ---

// bindFileID извлекает file_id из пути. Формат проверяет движок переходов.
func bindFileID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var fileID string
	err := runtime.BindStyledParameterWithOptions("simple", "file_id", chi.URLParam(r, "file_id"), &fileID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil || fileID == "" {
		apierrors.ValidationError(w, "Некорректный параметр file_id")
		return "", false
	}
	return fileID, true
}

// decodeBody декодирует JSON тело. required=false допускает пустое тело.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, required bool) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) {
		if !required {
			return true
		}
		apierrors.ValidationError(w, "Тело запроса обязательно")
		return false
	}
	apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
	return false
}

// actor определяет актора перехода: sub из JWT или actor_id тела,
// если аутентификация отключена.
func (h *APIHandler) actor(w http.ResponseWriter, r *http.Request, bodyActorID string) (string, bool) {
	if claims := middleware.ClaimsFromContext(r.Context()); claims != nil {
		return claims.Subject, true
	}
	if h.authEnabled {
		apierrors.Unauthorized(w, "Отсутствуют claims")
		return "", false
	}
	return strings.TrimSpace(bodyActorID), true
}

func effectiveLimit(limit int) int {
	switch {
	case limit <= 0:
		return service.DefaultListLimit
	case limit > service.MaxListLimit:
		return service.MaxListLimit
	default:
		return limit
	}
}

func toFileResponse(f *model.File) fileResponse {
	actions := custody.AllowedActions(f.Status)
	allowed := make([]string, 0, len(actions))
	for _, a := range actions {
		allowed = append(allowed, string(a))
	}
	return fileResponse{
		FileID:         f.FileID,
		FileName:       f.FileName,
		Status:         string(f.Status),
		CreatedBy:      f.CreatedBy,
		CreatedTime:    formatTime(f.CreatedTime),
		UpdatedBy:      f.UpdatedBy,
		UpdatedByName:  f.UpdatedByName,
		UpdatedTime:    formatTime(f.UpdatedTime),
		MovedTo:        f.MovedTo,
		ReceivedAt:     f.ReceivedAt,
		Version:        f.Version,
		AllowedActions: allowed,
	}
}

func toTransitionResponse(res *service.TransitionResult) transitionResponse {
	resp := transitionResponse{
		File:           toFileResponse(res.File),
		PreviousStatus: string(res.PreviousStatus),
	}
	if res.LogEntry != nil {
		resp.LogID = res.LogEntry.LogID
	}
	return resp
}

func toLogEntryResponse(e *model.LogEntry) logEntryResponse {
	return logEntryResponse{
		LogID:         e.LogID,
		FileID:        e.FileID,
		Status:        string(e.Status),
		UpdatedBy:     e.UpdatedBy,
		UpdatedByName: e.UpdatedByName,
		UpdateTime:    formatTime(e.UpdateTime),
		MovedTo:       e.MovedTo,
		ReceivedAt:    e.ReceivedAt,
	}
}
