package model

import "time"

// FileStatus — статус хранения файла.
type FileStatus string

const (
	// StatusCreated — файл зарегистрирован
	StatusCreated FileStatus = "Created"
	// StatusMoving — файл в пути (moved_to задан)
	StatusMoving FileStatus = "Moving"
	// StatusReceived — файл принят (received_at задан)
	StatusReceived FileStatus = "Received"
	// StatusClosed — файл закрыт, конечный статус
	StatusClosed FileStatus = "Closed"
)

// IsValid проверяет, является ли статус допустимым.
func (s FileStatus) IsValid() bool {
	switch s {
	case StatusCreated, StatusMoving, StatusReceived, StatusClosed:
		return true
	default:
		return false
	}
}

// File — текущее состояние отслеживаемого файла.
// Хранится в таблице files, ключ — file_id.
type File struct {
	// FileID — внешний идентификатор (например, F-2024), неизменяем
	FileID string
	// FileName — описательное имя
	FileName string
	// Status — текущий статус
	Status FileStatus
	// CreatedBy — актор, зарегистрировавший файл
	CreatedBy string
	// CreatedTime — время создания, указанное при регистрации
	CreatedTime time.Time
	// UpdatedBy — актор последнего перехода
	UpdatedBy string
	// UpdatedTime — время последнего перехода
	UpdatedTime time.Time
	// MovedTo — пункт назначения, задан только в статусе Moving
	MovedTo *string
	// ReceivedAt — место приёма, задано только в статусе Received
	ReceivedAt *string
	// Version — число принятых переходов (включая создание)
	Version int64

	// UpdatedByName — отображаемое имя UpdatedBy (read path, может быть пустым)
	UpdatedByName string
}

// LogEntry — запись журнала переходов. Неизменяема после записи.
// Хранится в таблице file_log.
type LogEntry struct {
	// LogID — монотонно возрастающий идентификатор
	LogID int64
	// FileID — файл, к которому относится переход
	FileID string
	// Status — статус, в который перешёл файл
	Status FileStatus
	// UpdatedBy — актор перехода
	UpdatedBy string
	// UpdateTime — время перехода
	UpdateTime time.Time
	// MovedTo — снимок moved_to после перехода
	MovedTo *string
	// ReceivedAt — снимок received_at после перехода
	ReceivedAt *string

	// UpdatedByName — отображаемое имя UpdatedBy (read path, может быть пустым)
	UpdatedByName string
}

// Actor — пользователь из внешнего каталога.
type Actor struct {
	ID          string
	DisplayName string
}
