package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/custody"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
)

// FileRepository — доступ к таблице files (текущее состояние файлов).
type FileRepository interface {
	// Create регистрирует новый файл. Дубликат file_id — ErrConflict.
	Create(ctx context.Context, f *model.File) error
	// GetByFileID возвращает файл по идентификатору.
	GetByFileID(ctx context.Context, fileID string) (*model.File, error)
	// GetByFileIDForUpdate возвращает файл и блокирует строку до конца транзакции.
	GetByFileIDForUpdate(ctx context.Context, fileID string) (*model.File, error)
	// List возвращает файлы, отсортированные по updated_time DESC, file_id.
	List(ctx context.Context, filters FileListFilters, limit, offset int) ([]*model.File, error)
	// Count возвращает количество файлов с фильтрацией.
	Count(ctx context.Context, filters FileListFilters) (int, error)
	// ListIDsAfter возвращает до limit идентификаторов, больших afterID (keyset-пагинация).
	ListIDsAfter(ctx context.Context, afterID string, limit int) ([]string, error)
	// UpdateStatus сохраняет новые поля статуса, если версия строки равна expectedVersion.
	UpdateStatus(ctx context.Context, f *model.File, expectedVersion int64) error
}

// FileListFilters — фильтры для списка файлов.
type FileListFilters struct {
	Status *model.FileStatus
}

// fileRepo — реализация FileRepository.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

const fileColumns = `file_id, file_name, status, created_by, created_time,
	updated_by, updated_time, moved_to, received_at, version`

// scanFile читает строку files в model.File.
func scanFile(row pgx.Row) (*model.File, error) {
	f := &model.File{}
	var status string
	if err := row.Scan(
		&f.FileID, &f.FileName, &status, &f.CreatedBy, &f.CreatedTime,
		&f.UpdatedBy, &f.UpdatedTime, &f.MovedTo, &f.ReceivedAt, &f.Version,
	); err != nil {
		return nil, err
	}
	f.Status = model.FileStatus(status)
	f.CreatedTime = f.CreatedTime.UTC()
	f.UpdatedTime = f.UpdatedTime.UTC()
	return f, nil
}

func (r *fileRepo) Create(ctx context.Context, f *model.File) error {
	if err := custody.CheckFile(f); err != nil {
		return err
	}

	query := `
		INSERT INTO files (file_id, file_name, status, created_by, created_time,
			updated_by, updated_time, moved_to, received_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		f.FileID, f.FileName, string(f.Status), f.CreatedBy, f.CreatedTime,
		f.UpdatedBy, f.UpdatedTime, f.MovedTo, f.ReceivedAt, f.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: файл %s уже зарегистрирован", ErrConflict, f.FileID)
		}
		if isCheckViolation(err) {
			return fmt.Errorf("%w: %v", custody.ErrInvariantViolation, err)
		}
		return fmt.Errorf("ошибка регистрации файла: %w", err)
	}
	return nil
}

func (r *fileRepo) GetByFileID(ctx context.Context, fileID string) (*model.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE file_id = $1`
	return r.get(ctx, query, fileID)
}

func (r *fileRepo) GetByFileIDForUpdate(ctx context.Context, fileID string) (*model.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE file_id = $1 FOR UPDATE`
	return r.get(ctx, query, fileID)
}

func (r *fileRepo) get(ctx context.Context, query, fileID string) (*model.File, error) {
	f, err := scanFile(r.db.QueryRow(ctx, query, fileID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

// buildFileWhere строит WHERE-условие и аргументы для фильтрации файлов.
func buildFileWhere(filters FileListFilters, startArg int) (string, []any) {
	var conditions []string
	var args []any

	if filters.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", startArg))
		args = append(args, string(*filters.Status))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

func (r *fileRepo) List(ctx context.Context, filters FileListFilters, limit, offset int) ([]*model.File, error) {
	where, args := buildFileWhere(filters, 1)
	argNum := len(args) + 1

	query := fmt.Sprintf(`
		SELECT %s
		FROM files
		%s
		ORDER BY updated_time DESC, file_id
		LIMIT $%d OFFSET $%d`, fileColumns, where, argNum, argNum+1)

	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	defer rows.Close()

	var result []*model.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (r *fileRepo) Count(ctx context.Context, filters FileListFilters) (int, error) {
	where, args := buildFileWhere(filters, 1)
	query := "SELECT COUNT(*) FROM files " + where

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}
	return count, nil
}

func (r *fileRepo) ListIDsAfter(ctx context.Context, afterID string, limit int) ([]string, error) {
	query := `
		SELECT file_id FROM files
		WHERE file_id > $1
		ORDER BY file_id
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения идентификаторов файлов: %w", err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования идентификаторов: %w", err)
	}
	return ids, nil
}

// UpdateStatus проверяет инварианты полей до запроса; CHECK-ограничения
// таблицы повторяют ту же проверку на стороне PostgreSQL.
func (r *fileRepo) UpdateStatus(ctx context.Context, f *model.File, expectedVersion int64) error {
	if err := custody.CheckFile(f); err != nil {
		return err
	}

	query := `
		UPDATE files
		SET status = $3, updated_by = $4, updated_time = $5,
			moved_to = $6, received_at = $7, version = $8
		WHERE file_id = $1 AND version = $2`

	tag, err := r.db.Exec(ctx, query,
		f.FileID, expectedVersion, string(f.Status), f.UpdatedBy, f.UpdatedTime,
		f.MovedTo, f.ReceivedAt, f.Version,
	)
	if err != nil {
		if isCheckViolation(err) {
			return fmt.Errorf("%w: %v", custody.ErrInvariantViolation, err)
		}
		return fmt.Errorf("ошибка обновления статуса файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: файл %s, ожидалась версия %d", ErrStaleVersion, f.FileID, expectedVersion)
	}
	return nil
}
