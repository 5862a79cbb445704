package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/custody"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
	"github.com/bigkaa/goartstore/custody-module/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore — in-memory реализация repository.Transactor.
// Транзакции сериализуются мьютексом; ошибка fn восстанавливает снимок.
type memStore struct {
	mu        sync.Mutex
	files     map[string]model.File
	logs      []model.LogEntry
	nextLogID int64

	// Внедряемые сбои
	appendErr error
	commitErr error
	lockDelay time.Duration
}

func newMemStore() *memStore {
	return &memStore{files: make(map[string]model.File)}
}

func (s *memStore) InTx(ctx context.Context, fn func(repos repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	files := make(map[string]model.File, len(s.files))
	for k, v := range s.files {
		files[k] = v
	}
	logCount, nextID := len(s.logs), s.nextLogID

	err := fn(s.repositories(false))
	if err == nil && s.commitErr != nil {
		err = fmt.Errorf("%w: %w", repository.ErrCommitFailed, s.commitErr)
	}
	if err != nil {
		s.files = files
		s.logs = s.logs[:logCount]
		s.nextLogID = nextID
		return err
	}
	return nil
}

func (s *memStore) InSnapshot(ctx context.Context, fn func(repos repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.repositories(false))
}

// repositories возвращает репозитории; lock=true — каждый вызов берёт мьютекс
// (доступ вне транзакции).
func (s *memStore) repositories(lock bool) repository.Repositories {
	return repository.Repositories{
		Files:    &memFiles{s: s, lock: lock},
		AuditLog: &memLogs{s: s, lock: lock},
	}
}

// put записывает строку напрямую, минуя проверки (для порчи данных в тестах).
func (s *memStore) put(f model.File) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[f.FileID] = f
}

func (s *memStore) appendRaw(e model.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLogID++
	e.LogID = s.nextLogID
	s.logs = append(s.logs, e)
}

func (s *memStore) logCount(fileID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.logs {
		if e.FileID == fileID {
			n++
		}
	}
	return n
}

func (s *memStore) file(fileID string) (model.File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	return f, ok
}

type memFiles struct {
	s    *memStore
	lock bool
}

func (r *memFiles) guard() func() {
	if r.lock {
		r.s.mu.Lock()
		return r.s.mu.Unlock
	}
	return func() {}
}

func (r *memFiles) Create(ctx context.Context, f *model.File) error {
	defer r.guard()()
	if err := custody.CheckFile(f); err != nil {
		return err
	}
	if _, ok := r.s.files[f.FileID]; ok {
		return fmt.Errorf("%w: %s", repository.ErrConflict, f.FileID)
	}
	r.s.files[f.FileID] = *f
	return nil
}

func (r *memFiles) GetByFileID(ctx context.Context, fileID string) (*model.File, error) {
	defer r.guard()()
	f, ok := r.s.files[fileID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &f, nil
}

func (r *memFiles) GetByFileIDForUpdate(ctx context.Context, fileID string) (*model.File, error) {
	if r.s.lockDelay > 0 {
		select {
		case <-time.After(r.s.lockDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.GetByFileID(ctx, fileID)
}

func (r *memFiles) filtered(filters repository.FileListFilters) []model.File {
	var result []model.File
	for _, f := range r.s.files {
		if filters.Status != nil && f.Status != *filters.Status {
			continue
		}
		result = append(result, f)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].UpdatedTime.Equal(result[j].UpdatedTime) {
			return result[i].UpdatedTime.After(result[j].UpdatedTime)
		}
		return result[i].FileID < result[j].FileID
	})
	return result
}

func (r *memFiles) List(ctx context.Context, filters repository.FileListFilters, limit, offset int) ([]*model.File, error) {
	defer r.guard()()
	all := r.filtered(filters)
	var result []*model.File
	for i := offset; i < len(all) && len(result) < limit; i++ {
		f := all[i]
		result = append(result, &f)
	}
	return result, nil
}

func (r *memFiles) Count(ctx context.Context, filters repository.FileListFilters) (int, error) {
	defer r.guard()()
	return len(r.filtered(filters)), nil
}

func (r *memFiles) ListIDsAfter(ctx context.Context, afterID string, limit int) ([]string, error) {
	defer r.guard()()
	var ids []string
	for id := range r.s.files {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *memFiles) UpdateStatus(ctx context.Context, f *model.File, expectedVersion int64) error {
	defer r.guard()()
	if err := custody.CheckFile(f); err != nil {
		return err
	}
	cur, ok := r.s.files[f.FileID]
	if !ok || cur.Version != expectedVersion {
		return fmt.Errorf("%w: %s", repository.ErrStaleVersion, f.FileID)
	}
	r.s.files[f.FileID] = *f
	return nil
}

type memLogs struct {
	s    *memStore
	lock bool
}

func (r *memLogs) guard() func() {
	if r.lock {
		r.s.mu.Lock()
		return r.s.mu.Unlock
	}
	return func() {}
}

func (r *memLogs) Append(ctx context.Context, e *model.LogEntry) error {
	defer r.guard()()
	if r.s.appendErr != nil {
		return r.s.appendErr
	}
	r.s.nextLogID++
	e.LogID = r.s.nextLogID
	r.s.logs = append(r.s.logs, *e)
	return nil
}

func (r *memLogs) ListByFileID(ctx context.Context, fileID string, order repository.SortOrder) ([]*model.LogEntry, error) {
	defer r.guard()()
	var result []*model.LogEntry
	for _, e := range r.s.logs {
		if e.FileID == fileID {
			e := e
			result = append(result, &e)
		}
	}
	custody.SortEntries(result)
	if order == repository.OrderDesc {
		for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
			result[i], result[j] = result[j], result[i]
		}
	}
	return result, nil
}
