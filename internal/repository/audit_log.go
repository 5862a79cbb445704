package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
)

// SortOrder — направление сортировки журнала.
type SortOrder string

const (
	// OrderDesc — новые записи первыми (отображение).
	OrderDesc SortOrder = "desc"
	// OrderAsc — в порядке применения (воспроизведение).
	OrderAsc SortOrder = "asc"
)

// AuditLogRepository — журнал переходов file_log (только добавление).
type AuditLogRepository interface {
	// Append добавляет запись и заполняет e.LogID.
	Append(ctx context.Context, e *model.LogEntry) error
	// ListByFileID возвращает записи файла, упорядоченные по (update_time, log_id).
	ListByFileID(ctx context.Context, fileID string, order SortOrder) ([]*model.LogEntry, error)
}

type auditLogRepo struct {
	db DBTX
}

// NewAuditLogRepository создаёт репозиторий журнала переходов.
func NewAuditLogRepository(db DBTX) AuditLogRepository {
	return &auditLogRepo{db: db}
}

func (r *auditLogRepo) Append(ctx context.Context, e *model.LogEntry) error {
	query := `
		INSERT INTO file_log (file_id, status, updated_by, update_time, moved_to, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING log_id`

	err := r.db.QueryRow(ctx, query,
		e.FileID, string(e.Status), e.UpdatedBy, e.UpdateTime, e.MovedTo, e.ReceivedAt,
	).Scan(&e.LogID)
	if err != nil {
		return fmt.Errorf("ошибка записи в журнал: %w", err)
	}
	return nil
}

func (r *auditLogRepo) ListByFileID(ctx context.Context, fileID string, order SortOrder) ([]*model.LogEntry, error) {
	direction := "DESC"
	if order == OrderAsc {
		direction = "ASC"
	}

	query := fmt.Sprintf(`
		SELECT log_id, file_id, status, updated_by, update_time, moved_to, received_at
		FROM file_log
		WHERE file_id = $1
		ORDER BY update_time %s, log_id %s`, direction, direction)

	rows, err := r.db.Query(ctx, query, fileID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения журнала: %w", err)
	}
	defer rows.Close()

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.LogEntry, error) {
		e := &model.LogEntry{}
		var status string
		if err := row.Scan(&e.LogID, &e.FileID, &status, &e.UpdatedBy,
			&e.UpdateTime, &e.MovedTo, &e.ReceivedAt); err != nil {
			return nil, err
		}
		e.Status = model.FileStatus(status)
		e.UpdateTime = e.UpdateTime.UTC()
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования журнала: %w", err)
	}
	return entries, nil
}
