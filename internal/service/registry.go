// registry.go — чтение текущего состояния файлов и журнала.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/custody"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
	"github.com/bigkaa/goartstore/custody-module/internal/repository"
)

// Пагинация списка файлов.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// ListFilesParams — параметры списка файлов.
type ListFilesParams struct {
	Status *model.FileStatus
	Limit  int
	Offset int
}

// FileRegistryService — чтение файлов и истории переходов.
// Строки, нарушающие инвариант полей, наружу не отдаются.
type FileRegistryService struct {
	repos     repository.Repositories
	directory UserDirectory
	logger    *slog.Logger
}

// NewFileRegistryService создаёт сервис чтения. directory может быть nil.
func NewFileRegistryService(repos repository.Repositories, directory UserDirectory, logger *slog.Logger) *FileRegistryService {
	return &FileRegistryService{
		repos:     repos,
		directory: directory,
		logger:    logger.With(slog.String("component", "file_registry_service")),
	}
}

// List возвращает страницу файлов (updated_time DESC, file_id) и общее количество.
// total и offset считаются по хранимым строкам: строка, нарушающая инвариант,
// входит в total, но в страницу не попадает, поэтому страница может быть
// короче limit.
func (s *FileRegistryService) List(ctx context.Context, params ListFilesParams) ([]*model.File, int, error) {
	if params.Limit <= 0 {
		params.Limit = DefaultListLimit
	}
	if params.Limit > MaxListLimit {
		params.Limit = MaxListLimit
	}
	if params.Offset < 0 {
		params.Offset = 0
	}
	if params.Status != nil && !params.Status.IsValid() {
		return nil, 0, fmt.Errorf("%w: недопустимый статус %q", ErrValidation, *params.Status)
	}

	filters := repository.FileListFilters{Status: params.Status}

	files, err := s.repos.Files.List(ctx, filters, params.Limit, params.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("получение списка файлов: %w", err)
	}
	total, err := s.repos.Files.Count(ctx, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("подсчёт файлов: %w", err)
	}

	result := make([]*model.File, 0, len(files))
	for _, f := range files {
		if err := custody.CheckFile(f); err != nil {
			consistencyErrorsTotal.WithLabelValues("read").Inc()
			s.logger.Error("Строка файла нарушает инвариант, пропущена",
				slog.String("file_id", f.FileID),
				slog.String("error", err.Error()),
			)
			continue
		}
		result = append(result, f)
	}

	ids := make([]string, 0, len(result))
	for _, f := range result {
		ids = append(ids, f.UpdatedBy)
	}
	names := resolveNames(ctx, s.directory, ids)
	for _, f := range result {
		f.UpdatedByName = names[f.UpdatedBy]
	}

	return result, total, nil
}

// Get возвращает файл по идентификатору.
func (s *FileRegistryService) Get(ctx context.Context, fileID string) (*model.File, error) {
	f, err := s.repos.Files.GetByFileID(ctx, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, fileID)
		}
		return nil, fmt.Errorf("получение файла: %w", err)
	}

	if err := custody.CheckFile(f); err != nil {
		consistencyErrorsTotal.WithLabelValues("read").Inc()
		s.logger.Error("Строка файла нарушает инвариант",
			slog.String("file_id", f.FileID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrConsistency, err)
	}

	f.UpdatedByName = resolveNames(ctx, s.directory, []string{f.UpdatedBy})[f.UpdatedBy]
	return f, nil
}

// History возвращает журнал переходов файла.
// order: desc — новые первыми (по умолчанию), asc — в порядке применения.
func (s *FileRegistryService) History(ctx context.Context, fileID string, order repository.SortOrder) ([]*model.LogEntry, error) {
	switch order {
	case "":
		order = repository.OrderDesc
	case repository.OrderAsc, repository.OrderDesc:
	default:
		return nil, fmt.Errorf("%w: недопустимый порядок %q, допустимые: asc, desc", ErrValidation, order)
	}

	if _, err := s.repos.Files.GetByFileID(ctx, fileID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, fileID)
		}
		return nil, fmt.Errorf("получение файла: %w", err)
	}

	entries, err := s.repos.AuditLog.ListByFileID(ctx, fileID, order)
	if err != nil {
		return nil, fmt.Errorf("получение журнала: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.UpdatedBy)
	}
	names := resolveNames(ctx, s.directory, ids)
	for _, e := range entries {
		e.UpdatedByName = names[e.UpdatedBy]
	}

	return entries, nil
}
