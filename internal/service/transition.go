// Пакет service — бизнес-логика Custody Module.
// transition.go — единственный путь изменения состояния файлов.
//
// Каждый переход выполняется в одной транзакции PostgreSQL:
//  1. блокировка строки файла (SELECT … FOR UPDATE)
//  2. проверка допустимости перехода по текущему статусу
//  3. проверка входных данных
//  4. обновление строки с проверкой version + запись в журнал
//
// Ошибка на любом шаге откатывает транзакцию целиком.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/custody"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
	"github.com/bigkaa/goartstore/custody-module/internal/repository"
)

// TransitionRequest — запрос на переход.
type TransitionRequest struct {
	Action  custody.Action
	FileID  string
	ActorID string

	// create
	FileName    string
	CreatedTime time.Time
	// move
	Destination string
	// receive
	ReceiveLocation string
}

// TransitionResult — результат принятого перехода.
type TransitionResult struct {
	FileID string
	// PreviousStatus — статус до перехода (пустой для create)
	PreviousStatus model.FileStatus
	NewStatus      model.FileStatus
	File           *model.File
	LogEntry       *model.LogEntry
}

// TransitionService — движок переходов.
type TransitionService struct {
	tx        repository.Transactor
	idPattern *regexp.Regexp
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewTransitionService создаёт движок переходов.
// timeout ограничивает транзакцию одного перехода (0 — без ограничения).
func NewTransitionService(
	tx repository.Transactor,
	idPattern *regexp.Regexp,
	timeout time.Duration,
	logger *slog.Logger,
) *TransitionService {
	return &TransitionService{
		tx:        tx,
		idPattern: idPattern,
		timeout:   timeout,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "transition_service")),
	}
}

// Create регистрирует новый файл в статусе Created.
func (s *TransitionService) Create(ctx context.Context, fileID, fileName string, createdTime time.Time, actorID string) (*TransitionResult, error) {
	return s.Apply(ctx, TransitionRequest{
		Action:      custody.ActionCreate,
		FileID:      fileID,
		ActorID:     actorID,
		FileName:    fileName,
		CreatedTime: createdTime,
	})
}

// Move отправляет файл в пункт назначения (Created|Received → Moving).
func (s *TransitionService) Move(ctx context.Context, fileID, destination, actorID string) (*TransitionResult, error) {
	return s.Apply(ctx, TransitionRequest{
		Action:      custody.ActionMove,
		FileID:      fileID,
		ActorID:     actorID,
		Destination: destination,
	})
}

// Receive фиксирует приём файла (Moving → Received).
func (s *TransitionService) Receive(ctx context.Context, fileID, location, actorID string) (*TransitionResult, error) {
	return s.Apply(ctx, TransitionRequest{
		Action:          custody.ActionReceive,
		FileID:          fileID,
		ActorID:         actorID,
		ReceiveLocation: location,
	})
}

// Close закрывает файл (Created|Received → Closed).
func (s *TransitionService) Close(ctx context.Context, fileID, actorID string) (*TransitionResult, error) {
	return s.Apply(ctx, TransitionRequest{
		Action:  custody.ActionClose,
		FileID:  fileID,
		ActorID: actorID,
	})
}

// Apply выполняет переход атомарно: обновление строки и запись в журнал
// либо фиксируются вместе, либо не фиксируется ничего.
func (s *TransitionService) Apply(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	start := time.Now()
	action := string(req.Action)

	if _, err := custody.ParseAction(action); err != nil {
		transitionsTotal.WithLabelValues("unknown", "validation").Inc()
		return nil, s.classify(ctx, req, err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var result *TransitionResult
	err := s.tx.InTx(ctx, func(repos repository.Repositories) error {
		var err error
		if req.Action == custody.ActionCreate {
			result, err = s.create(ctx, repos, req)
		} else {
			result, err = s.transition(ctx, repos, req)
		}
		return err
	})

	transitionDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())

	if err != nil {
		err = s.classify(ctx, req, err)
		transitionsTotal.WithLabelValues(action, resultLabel(err)).Inc()
		return nil, err
	}

	transitionsTotal.WithLabelValues(action, "ok").Inc()
	s.logger.Info("Переход выполнен",
		slog.String("file_id", result.FileID),
		slog.String("action", action),
		slog.String("from", string(result.PreviousStatus)),
		slog.String("to", string(result.NewStatus)),
		slog.String("actor", result.File.UpdatedBy),
		slog.Int64("log_id", result.LogEntry.LogID),
	)
	return result, nil
}

// create — регистрация нового файла. Порядок: существование, затем входные данные.
func (s *TransitionService) create(ctx context.Context, repos repository.Repositories, req TransitionRequest) (*TransitionResult, error) {
	in := custody.Input{
		Actor:       req.ActorID,
		FileName:    req.FileName,
		CreatedTime: req.CreatedTime,
	}

	if req.FileID == "" {
		return nil, custody.ValidateCreate(req.FileID, in, s.idPattern)
	}

	_, err := repos.Files.GetByFileID(ctx, req.FileID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, req.FileID)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	if err := custody.ValidateCreate(req.FileID, in, s.idPattern); err != nil {
		return nil, err
	}

	now := s.timestamp(time.Time{})
	actor := strings.TrimSpace(req.ActorID)
	f := &model.File{
		FileID:      req.FileID,
		FileName:    strings.TrimSpace(req.FileName),
		Status:      model.StatusCreated,
		CreatedBy:   actor,
		CreatedTime: req.CreatedTime.UTC(),
		UpdatedBy:   actor,
		UpdatedTime: now,
		Version:     1,
	}

	if err := repos.Files.Create(ctx, f); err != nil {
		return nil, err
	}

	entry := logEntryFor(f)
	if err := repos.AuditLog.Append(ctx, entry); err != nil {
		return nil, err
	}

	return &TransitionResult{
		FileID:    f.FileID,
		NewStatus: f.Status,
		File:      f,
		LogEntry:  entry,
	}, nil
}

// transition — move/receive/close над существующим файлом.
func (s *TransitionService) transition(ctx context.Context, repos repository.Repositories, req TransitionRequest) (*TransitionResult, error) {
	f, err := repos.Files.GetByFileIDForUpdate(ctx, req.FileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, req.FileID)
		}
		return nil, err
	}

	// Строка, нарушающая инвариант, не может быть исходной точкой перехода
	if err := custody.CheckFile(f); err != nil {
		return nil, err
	}

	change, err := custody.Apply(f.Status, req.Action, custody.Input{
		Actor:           req.ActorID,
		Destination:     req.Destination,
		ReceiveLocation: req.ReceiveLocation,
	})
	if err != nil {
		return nil, err
	}

	previous := f.Status
	expectedVersion := f.Version

	f.Status = change.Status
	f.MovedTo = change.MovedTo
	f.ReceivedAt = change.ReceivedAt
	f.UpdatedBy = strings.TrimSpace(req.ActorID)
	f.UpdatedTime = s.timestamp(f.UpdatedTime)
	f.Version = expectedVersion + 1

	if err := repos.Files.UpdateStatus(ctx, f, expectedVersion); err != nil {
		return nil, err
	}

	entry := logEntryFor(f)
	if err := repos.AuditLog.Append(ctx, entry); err != nil {
		return nil, err
	}

	return &TransitionResult{
		FileID:         f.FileID,
		PreviousStatus: previous,
		NewStatus:      f.Status,
		File:           f,
		LogEntry:       entry,
	}, nil
}

// timestamp возвращает время перехода в UTC с точностью PostgreSQL (мкс).
// Время не может быть раньше предыдущего перехода: при скачке часов назад
// берётся prev, а порядок записей определяет log_id.
func (s *TransitionService) timestamp(prev time.Time) time.Time {
	now := s.now().UTC().Truncate(time.Microsecond)
	if now.Before(prev) {
		return prev
	}
	return now
}

// logEntryFor строит запись журнала по состоянию файла после перехода.
func logEntryFor(f *model.File) *model.LogEntry {
	return &model.LogEntry{
		FileID:     f.FileID,
		Status:     f.Status,
		UpdatedBy:  f.UpdatedBy,
		UpdateTime: f.UpdatedTime,
		MovedTo:    f.MovedTo,
		ReceivedAt: f.ReceivedAt,
	}
}

// classify приводит ошибку транзакции к ошибкам сервисного слоя.
func (s *TransitionService) classify(ctx context.Context, req TransitionRequest, err error) error {
	var te *custody.TransitionError
	switch {
	case errors.As(err, &te):
		if te.Code == custody.CodeValidation {
			return fmt.Errorf("%w: %w", ErrValidation, te)
		}
		return fmt.Errorf("%w: %w", ErrInvalidTransition, te)

	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDuplicate):
		return err

	case errors.Is(err, repository.ErrConflict):
		// Параллельный create с тем же file_id зафиксирован раньше
		return fmt.Errorf("%w: %s", ErrDuplicate, req.FileID)

	case errors.Is(err, repository.ErrStaleVersion):
		return fmt.Errorf("%w: %v", ErrConflict, err)

	case errors.Is(err, repository.ErrCommitFailed), errors.Is(err, custody.ErrInvariantViolation):
		consistencyErrorsTotal.WithLabelValues("transition").Inc()
		s.logger.Error("Нарушение согласованности при переходе",
			slog.String("file_id", req.FileID),
			slog.String("action", string(req.Action)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %w", ErrConsistency, err)

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		s.logger.Warn("Превышено время перехода",
			slog.String("file_id", req.FileID),
			slog.String("action", string(req.Action)),
		)
		return fmt.Errorf("%w: %w", ErrTimeout, err)

	default:
		s.logger.Error("Ошибка перехода",
			slog.String("file_id", req.FileID),
			slog.String("action", string(req.Action)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("переход %s для файла %s: %w", req.Action, req.FileID, err)
	}
}

// resultLabel — значение лейбла result для метрики переходов.
func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConsistency):
		return "consistency"
	default:
		return "error"
	}
}
