package custody

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
)

// ErrReplay — журнал не воспроизводится автоматом.
var ErrReplay = errors.New("журнал не воспроизводится")

// Projection — состояние файла, восстановленное из журнала.
// Содержит только поля, которые журнал фиксирует.
type Projection struct {
	FileID      string
	Status      model.FileStatus
	CreatedBy   string
	UpdatedBy   string
	UpdatedTime time.Time
	MovedTo     *string
	ReceivedAt  *string
	Version     int64
}

// SortEntries упорядочивает записи по (update_time, log_id) по возрастанию.
func SortEntries(entries []*model.LogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.UpdateTime.Equal(b.UpdateTime) {
			return a.UpdateTime.Before(b.UpdateTime)
		}
		return a.LogID < b.LogID
	})
}

// actionFor находит действие, переводящее from в to.
func actionFor(from, to model.FileStatus) (Action, bool) {
	for action, target := range validTransitions[from] {
		if target == to {
			return action, true
		}
	}
	return "", false
}

// Replay последовательно применяет записи журнала и возвращает итоговое состояние.
// Записи сортируются по (update_time, log_id); первая обязана быть Created.
func Replay(entries []*model.LogEntry) (*Projection, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: журнал пуст", ErrReplay)
	}

	ordered := make([]*model.LogEntry, len(entries))
	copy(ordered, entries)
	SortEntries(ordered)

	first := ordered[0]
	if first.Status != model.StatusCreated {
		return nil, fmt.Errorf("%w: первая запись log_id=%d имеет статус %s, ожидается Created",
			ErrReplay, first.LogID, first.Status)
	}
	if err := CheckInvariants(first.Status, first.MovedTo, first.ReceivedAt); err != nil {
		return nil, fmt.Errorf("%w: log_id=%d: %v", ErrReplay, first.LogID, err)
	}

	p := &Projection{
		FileID:      first.FileID,
		Status:      model.StatusCreated,
		CreatedBy:   first.UpdatedBy,
		UpdatedBy:   first.UpdatedBy,
		UpdatedTime: first.UpdateTime,
		Version:     1,
	}

	for _, e := range ordered[1:] {
		if e.FileID != p.FileID {
			return nil, fmt.Errorf("%w: log_id=%d относится к файлу %s, ожидается %s",
				ErrReplay, e.LogID, e.FileID, p.FileID)
		}
		if _, ok := actionFor(p.Status, e.Status); !ok {
			return nil, fmt.Errorf("%w: log_id=%d: переход %s → %s недопустим",
				ErrReplay, e.LogID, p.Status, e.Status)
		}
		if err := CheckInvariants(e.Status, e.MovedTo, e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("%w: log_id=%d: %v", ErrReplay, e.LogID, err)
		}

		p.Status = e.Status
		p.UpdatedBy = e.UpdatedBy
		p.UpdatedTime = e.UpdateTime
		p.MovedTo = e.MovedTo
		p.ReceivedAt = e.ReceivedAt
		p.Version++
	}

	return p, nil
}

// Diff сравнивает восстановленное состояние с текущей строкой файла.
// Возвращает список расхождений (пустой — совпадение).
func (p *Projection) Diff(f *model.File) []string {
	var issues []string

	if p.FileID != f.FileID {
		issues = append(issues, fmt.Sprintf("file_id: журнал %q, строка %q", p.FileID, f.FileID))
	}
	if p.Status != f.Status {
		issues = append(issues, fmt.Sprintf("status: журнал %s, строка %s", p.Status, f.Status))
	}
	if p.CreatedBy != f.CreatedBy {
		issues = append(issues, fmt.Sprintf("created_by: журнал %q, строка %q", p.CreatedBy, f.CreatedBy))
	}
	if p.UpdatedBy != f.UpdatedBy {
		issues = append(issues, fmt.Sprintf("updated_by: журнал %q, строка %q", p.UpdatedBy, f.UpdatedBy))
	}
	if !p.UpdatedTime.Equal(f.UpdatedTime) {
		issues = append(issues, fmt.Sprintf("updated_time: журнал %s, строка %s",
			p.UpdatedTime.Format(time.RFC3339Nano), f.UpdatedTime.Format(time.RFC3339Nano)))
	}
	if !equalOptional(p.MovedTo, f.MovedTo) {
		issues = append(issues, fmt.Sprintf("moved_to: журнал %s, строка %s", optString(p.MovedTo), optString(f.MovedTo)))
	}
	if !equalOptional(p.ReceivedAt, f.ReceivedAt) {
		issues = append(issues, fmt.Sprintf("received_at: журнал %s, строка %s", optString(p.ReceivedAt), optString(f.ReceivedAt)))
	}
	if p.Version != f.Version {
		issues = append(issues, fmt.Sprintf("version: записей в журнале %d, строка %d", p.Version, f.Version))
	}

	return issues
}

func equalOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func optString(s *string) string {
	if s == nil {
		return "<null>"
	}
	return fmt.Sprintf("%q", *s)
}
