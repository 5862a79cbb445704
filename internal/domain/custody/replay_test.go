package custody

import (
	"errors"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
)

// scenarioLog строит журнал сценария F-2024: create → move → receive → close.
func scenarioLog(base time.Time) []*model.LogEntry {
	return []*model.LogEntry{
		{LogID: 1, FileID: "F-2024", Status: model.StatusCreated, UpdatedBy: "u1", UpdateTime: base},
		{LogID: 2, FileID: "F-2024", Status: model.StatusMoving, UpdatedBy: "u2", UpdateTime: base.Add(time.Minute), MovedTo: strPtr("Warehouse-2")},
		{LogID: 3, FileID: "F-2024", Status: model.StatusReceived, UpdatedBy: "u3", UpdateTime: base.Add(2 * time.Minute), ReceivedAt: strPtr("Warehouse-2")},
		{LogID: 4, FileID: "F-2024", Status: model.StatusClosed, UpdatedBy: "u3", UpdateTime: base.Add(3 * time.Minute)},
	}
}

func TestReplay_Scenario(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	entries := scenarioLog(base)

	// Порядок входа не важен: Replay сортирует сам
	shuffled := []*model.LogEntry{entries[2], entries[0], entries[3], entries[1]}

	p, err := Replay(shuffled)
	if err != nil {
		t.Fatalf("Replay() ошибка: %v", err)
	}

	file := &model.File{
		FileID:      "F-2024",
		Status:      model.StatusClosed,
		CreatedBy:   "u1",
		UpdatedBy:   "u3",
		UpdatedTime: base.Add(3 * time.Minute),
		Version:     4,
	}
	if issues := p.Diff(file); len(issues) != 0 {
		t.Errorf("ожидалось совпадение, расхождения: %v", issues)
	}
}

func TestReplay_TieBrokenByLogID(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	entries := []*model.LogEntry{
		{LogID: 11, FileID: "F-0001", Status: model.StatusMoving, UpdatedBy: "u1", UpdateTime: base, MovedTo: strPtr("B")},
		{LogID: 10, FileID: "F-0001", Status: model.StatusCreated, UpdatedBy: "u1", UpdateTime: base},
	}

	p, err := Replay(entries)
	if err != nil {
		t.Fatalf("Replay() ошибка: %v", err)
	}
	if p.Status != model.StatusMoving || p.Version != 2 {
		t.Errorf("Status = %s, Version = %d; ожидается Moving, 2", p.Status, p.Version)
	}
}

func TestReplay_Errors(t *testing.T) {
	base := time.Now().UTC()

	tests := []struct {
		name    string
		entries []*model.LogEntry
	}{
		{"пустой журнал", nil},
		{"первая запись не Created", []*model.LogEntry{
			{LogID: 1, FileID: "F-0001", Status: model.StatusMoving, UpdateTime: base, MovedTo: strPtr("A")},
		}},
		{"недопустимый переход", []*model.LogEntry{
			{LogID: 1, FileID: "F-0001", Status: model.StatusCreated, UpdateTime: base},
			{LogID: 2, FileID: "F-0001", Status: model.StatusReceived, UpdateTime: base.Add(time.Second), ReceivedAt: strPtr("A")},
		}},
		{"переход после Closed", []*model.LogEntry{
			{LogID: 1, FileID: "F-0001", Status: model.StatusCreated, UpdateTime: base},
			{LogID: 2, FileID: "F-0001", Status: model.StatusClosed, UpdateTime: base.Add(time.Second)},
			{LogID: 3, FileID: "F-0001", Status: model.StatusMoving, UpdateTime: base.Add(2 * time.Second), MovedTo: strPtr("A")},
		}},
		{"нарушен инвариант записи", []*model.LogEntry{
			{LogID: 1, FileID: "F-0001", Status: model.StatusCreated, UpdateTime: base},
			{LogID: 2, FileID: "F-0001", Status: model.StatusMoving, UpdateTime: base.Add(time.Second)},
		}},
		{"чужой файл", []*model.LogEntry{
			{LogID: 1, FileID: "F-0001", Status: model.StatusCreated, UpdateTime: base},
			{LogID: 2, FileID: "F-0002", Status: model.StatusClosed, UpdateTime: base.Add(time.Second)},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Replay(tt.entries)
			if !errors.Is(err, ErrReplay) {
				t.Errorf("ожидалась ErrReplay, получено %v", err)
			}
		})
	}
}

func TestProjection_Diff(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	p, err := Replay(scenarioLog(base)[:2])
	if err != nil {
		t.Fatalf("Replay() ошибка: %v", err)
	}

	// Строка «потеряла» запись журнала: статус и поля не совпадают
	file := &model.File{
		FileID:      "F-2024",
		Status:      model.StatusCreated,
		CreatedBy:   "u1",
		UpdatedBy:   "u1",
		UpdatedTime: base,
		Version:     1,
	}

	issues := p.Diff(file)
	// status, updated_by, updated_time, moved_to, version
	if len(issues) != 5 {
		t.Errorf("ожидалось 5 расхождений, получено %d: %v", len(issues), issues)
	}
}
