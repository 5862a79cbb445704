// reconcile.go — сверка текущего состояния файлов с журналом переходов.
//
// Для каждого файла журнал воспроизводится автоматом в порядке
// (update_time, log_id), результат сравнивается со строкой files:
// статус, created_by, updated_by, updated_time, moved_to, received_at, version.
// Строка и журнал читаются из одного снимка (REPEATABLE READ).
//
// Запускается по запросу (/verify) и фоновым тикером (CM_RECONCILE_INTERVAL).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/custody"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
	"github.com/bigkaa/goartstore/custody-module/internal/repository"
)

// ReconcileService — сервис сверки журнала.
type ReconcileService struct {
	tx       repository.Transactor
	repos    repository.Repositories
	interval time.Duration
	pageSize int
	logger   *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewReconcileService создаёт сервис сверки.
// repos используется для постраничного обхода идентификаторов вне транзакции.
func NewReconcileService(
	tx repository.Transactor,
	repos repository.Repositories,
	interval time.Duration,
	pageSize int,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		tx:       tx,
		repos:    repos,
		interval: interval,
		pageSize: pageSize,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину сверки с периодическим тикером.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel
	rs.done = make(chan struct{})

	go rs.run(rsCtx)

	rs.logger.Info("Сверка журнала запущена",
		slog.String("interval", rs.interval.String()),
		slog.Int("page_size", rs.pageSize),
	)
}

// Stop останавливает фоновую сверку и ждёт завершения текущего прохода.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
		<-rs.done
	}
	rs.logger.Info("Сверка журнала остановлена")
}

// IsInProgress возвращает true, если проход сверки выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

func (rs *ReconcileService) run(ctx context.Context) {
	defer close(rs.done)

	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход сверки по всем файлам.
// Если проход уже выполняется, возвращает nil, true.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*model.ReconcileReport, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Сверка уже выполняется, пропуск")
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	started := time.Now()
	rs.logger.Info("Сверка начата")

	report := &model.ReconcileReport{}
	afterID := ""
	for ctx.Err() == nil {
		ids, err := rs.repos.Files.ListIDsAfter(ctx, afterID, rs.pageSize)
		if err != nil {
			rs.logger.Error("Ошибка получения страницы файлов",
				slog.String("after", afterID),
				slog.String("error", err.Error()),
			)
			report.Errors++
			break
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			res, err := rs.VerifyFile(ctx, id)
			if err != nil {
				if !errors.Is(err, ErrNotFound) {
					report.Errors++
				}
				continue
			}
			report.FilesChecked++
			if !res.Consistent {
				report.Inconsistent = append(report.Inconsistent, *res)
			}
		}
		afterID = ids[len(ids)-1]
	}

	duration := time.Since(started)
	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())
	reconcileInconsistentFiles.Set(float64(len(report.Inconsistent)))

	rs.logger.Info("Сверка завершена",
		slog.Int("files_checked", report.FilesChecked),
		slog.Int("inconsistent", len(report.Inconsistent)),
		slog.Int("errors", report.Errors),
		slog.Duration("duration", duration),
	)

	return report, false
}

// VerifyFile сверяет один файл с его журналом.
// Расхождение не является ошибкой: оно возвращается в VerifyResult.
func (rs *ReconcileService) VerifyFile(ctx context.Context, fileID string) (*model.VerifyResult, error) {
	var (
		file    *model.File
		entries []*model.LogEntry
	)

	err := rs.tx.InSnapshot(ctx, func(repos repository.Repositories) error {
		var err error
		file, err = repos.Files.GetByFileID(ctx, fileID)
		if err != nil {
			return err
		}
		entries, err = repos.AuditLog.ListByFileID(ctx, fileID, repository.OrderAsc)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, fileID)
		}
		rs.logger.Warn("Ошибка чтения файла для сверки",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("сверка файла %s: %w", fileID, err)
	}

	result := &model.VerifyResult{
		FileID:     fileID,
		LogEntries: len(entries),
	}

	if err := custody.CheckFile(file); err != nil {
		result.Issues = append(result.Issues, err.Error())
	}

	projection, err := custody.Replay(entries)
	if err != nil {
		result.Issues = append(result.Issues, err.Error())
	} else {
		result.Issues = append(result.Issues, projection.Diff(file)...)
	}

	result.Consistent = len(result.Issues) == 0
	if !result.Consistent {
		consistencyErrorsTotal.WithLabelValues("reconcile").Inc()
		rs.logger.Error("Журнал не согласован с состоянием файла",
			slog.String("file_id", fileID),
			slog.Int("log_entries", len(entries)),
			slog.Any("issues", result.Issues),
		)
	}

	return result, nil
}
