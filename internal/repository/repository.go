// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrStaleVersion — строка изменена другой транзакцией (version не совпал).
	ErrStaleVersion = errors.New("версия записи устарела")
	// ErrCommitFailed — ошибка COMMIT, исход транзакции неизвестен.
	ErrCommitFailed = errors.New("ошибка фиксации транзакции")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции READ COMMITTED.
// При ошибке fn — транзакция откатывается, при успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return r.RunInTxWithOptions(ctx, pgx.TxOptions{}, fn)
}

// RunInTxWithOptions выполняет fn внутри транзакции с указанными параметрами.
// Ошибка COMMIT оборачивается в ErrCommitFailed.
func (r *TxRunner) RunInTxWithOptions(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}
	return nil
}

// Repositories — набор репозиториев, привязанных к одному DBTX.
type Repositories struct {
	Files    FileRepository
	AuditLog AuditLogRepository
}

// NewRepositories создаёт набор репозиториев поверх db (пул или транзакция).
func NewRepositories(db DBTX) Repositories {
	return Repositories{
		Files:    NewFileRepository(db),
		AuditLog: NewAuditLogRepository(db),
	}
}

// Transactor — единица работы над files и file_log.
// Обе таблицы изменяются только внутри InTx.
type Transactor interface {
	// InTx выполняет fn в транзакции на запись; ошибка fn откатывает все изменения.
	InTx(ctx context.Context, fn func(repos Repositories) error) error
	// InSnapshot выполняет fn в транзакции только на чтение (REPEATABLE READ):
	// строка файла и журнал читаются из одного снимка.
	InSnapshot(ctx context.Context, fn func(repos Repositories) error) error
}

// pgTransactor — реализация Transactor поверх TxRunner.
type pgTransactor struct {
	runner *TxRunner
}

// NewTransactor создаёт Transactor на пуле PostgreSQL.
func NewTransactor(pool *pgxpool.Pool) Transactor {
	return &pgTransactor{runner: NewTxRunner(pool)}
}

func (t *pgTransactor) InTx(ctx context.Context, fn func(repos Repositories) error) error {
	return t.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(NewRepositories(tx))
	})
}

func (t *pgTransactor) InSnapshot(ctx context.Context, fn func(repos Repositories) error) error {
	opts := pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}
	return t.runner.RunInTxWithOptions(ctx, opts, func(tx pgx.Tx) error {
		return fn(NewRepositories(tx))
	})
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// isCheckViolation проверяет нарушение CHECK-ограничения PostgreSQL.
func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23514" // check_violation
	}
	return false
}
