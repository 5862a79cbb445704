// Пакет custody — конечный автомат хранения файлов.
//
// Жизненный цикл:
//   - create → Created
//   - Created → Moving (move) | Closed (close)
//   - Moving → Received (receive); close из Moving запрещён
//   - Received → Moving (move) | Closed (close)
//   - Closed — конечный статус, любые действия запрещены
//
// Инвариант полей: moved_to задан ⇔ статус Moving,
// received_at задан ⇔ статус Received.
//
// Пакет не хранит состояние: решения принимаются по снимку текущей строки,
// а сериализация переходов обеспечивается блокировкой строки в хранилище.
package custody

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
)

// Action — действие над файлом.
type Action string

const (
	ActionCreate  Action = "create"
	ActionMove    Action = "move"
	ActionReceive Action = "receive"
	ActionClose   Action = "close"
)

// Коды ошибок перехода.
const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeValidation        = "VALIDATION_ERROR"
)

// MaxFieldLength — максимальная длина текстовых полей (имя, пункт назначения, место приёма).
const MaxFieldLength = 255

// MaxFileIDLength — максимальная длина file_id (колонка files.file_id).
const MaxFileIDLength = 64

// ErrInvariantViolation — нарушен инвариант moved_to/received_at.
var ErrInvariantViolation = errors.New("нарушен инвариант полей статуса")

// validTransitions — матрица допустимых переходов.
// Ключ — текущий статус, значение — действие → целевой статус.
var validTransitions = map[model.FileStatus]map[Action]model.FileStatus{
	model.StatusCreated: {
		ActionMove:  model.StatusMoving,
		ActionClose: model.StatusClosed,
	},
	model.StatusMoving: {
		ActionReceive: model.StatusReceived,
	},
	model.StatusReceived: {
		ActionMove:  model.StatusMoving,
		ActionClose: model.StatusClosed,
	},
	model.StatusClosed: {}, // Конечный статус
}

// Input — входные данные действия.
type Input struct {
	// Actor — идентификатор актора (обязателен для всех действий)
	Actor string
	// FileName — имя файла (create)
	FileName string
	// CreatedTime — время создания (create)
	CreatedTime time.Time
	// Destination — пункт назначения (move)
	Destination string
	// ReceiveLocation — место приёма (receive)
	ReceiveLocation string
}

// Change — новые значения полей статуса после перехода.
type Change struct {
	Status     model.FileStatus
	MovedTo    *string
	ReceivedAt *string
}

// TransitionError — ошибка перехода или валидации входных данных.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_TRANSITION, VALIDATION_ERROR)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func invalidTransition(format string, args ...any) *TransitionError {
	return &TransitionError{Code: CodeInvalidTransition, Message: fmt.Sprintf(format, args...)}
}

func validationError(format string, args ...any) *TransitionError {
	return &TransitionError{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ParseAction преобразует строку в Action.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionCreate, ActionMove, ActionReceive, ActionClose:
		return a, nil
	default:
		return "", validationError("недопустимое действие: %q, допустимые: create, move, receive, close", s)
	}
}

// Target возвращает целевой статус для действия из текущего статуса.
func Target(from model.FileStatus, action Action) (model.FileStatus, error) {
	if action == ActionCreate {
		return "", invalidTransition("файл уже существует, create допустим только для нового файла")
	}

	actions, ok := validTransitions[from]
	if !ok {
		return "", invalidTransition("неизвестный текущий статус %q", from)
	}

	if from == model.StatusClosed {
		return "", invalidTransition("файл закрыт, действие %s недопустимо", action)
	}
	if from == model.StatusMoving && action == ActionClose {
		return "", invalidTransition("файл в пути не может быть закрыт, сначала выполните receive")
	}

	to, ok := actions[action]
	if !ok {
		return "", invalidTransition("действие %s недопустимо из статуса %s", action, from)
	}
	return to, nil
}

// CanApply проверяет, допустимо ли действие из текущего статуса.
func CanApply(from model.FileStatus, action Action) bool {
	_, err := Target(from, action)
	return err == nil
}

// AllowedActions возвращает действия, допустимые из статуса, в стабильном порядке.
func AllowedActions(from model.FileStatus) []Action {
	var result []Action
	for _, a := range []Action{ActionMove, ActionReceive, ActionClose} {
		if CanApply(from, a) {
			result = append(result, a)
		}
	}
	return result
}

// Apply вычисляет новые поля статуса для действия над существующим файлом.
// Порядок проверок: сначала допустимость перехода, затем входные данные.
func Apply(from model.FileStatus, action Action, in Input) (Change, error) {
	to, err := Target(from, action)
	if err != nil {
		return Change{}, err
	}

	if err := requireText("actor", in.Actor); err != nil {
		return Change{}, err
	}

	change := Change{Status: to}
	switch action {
	case ActionMove:
		if err := requireText("moved_to", in.Destination); err != nil {
			return Change{}, err
		}
		dest := strings.TrimSpace(in.Destination)
		change.MovedTo = &dest
	case ActionReceive:
		if err := requireText("received_at", in.ReceiveLocation); err != nil {
			return Change{}, err
		}
		loc := strings.TrimSpace(in.ReceiveLocation)
		change.ReceivedAt = &loc
	case ActionClose:
		// Оба поля очищаются
	}

	if err := CheckInvariants(change.Status, change.MovedTo, change.ReceivedAt); err != nil {
		return Change{}, err
	}
	return change, nil
}

// ValidateCreate проверяет входные данные регистрации нового файла.
func ValidateCreate(fileID string, in Input, idPattern *regexp.Regexp) error {
	if fileID == "" {
		return validationError("file_id обязателен")
	}
	if !utf8.ValidString(fileID) {
		return validationError("file_id содержит некорректную UTF-8 последовательность")
	}
	if utf8.RuneCountInString(fileID) > MaxFileIDLength {
		return validationError("file_id длиннее %d символов", MaxFileIDLength)
	}
	if idPattern != nil && !idPattern.MatchString(fileID) {
		return validationError("file_id %q не соответствует формату %s", fileID, idPattern.String())
	}
	if err := requireText("file_name", in.FileName); err != nil {
		return err
	}
	if err := requireText("actor", in.Actor); err != nil {
		return err
	}
	if in.CreatedTime.IsZero() {
		return validationError("created_time обязателен")
	}
	return nil
}

// CheckInvariants проверяет соответствие полей moved_to/received_at статусу.
func CheckInvariants(status model.FileStatus, movedTo, receivedAt *string) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: неизвестный статус %q", ErrInvariantViolation, status)
	}
	if (status == model.StatusMoving) != (movedTo != nil) {
		return fmt.Errorf("%w: статус %s, moved_to задан=%t", ErrInvariantViolation, status, movedTo != nil)
	}
	if (status == model.StatusReceived) != (receivedAt != nil) {
		return fmt.Errorf("%w: статус %s, received_at задан=%t", ErrInvariantViolation, status, receivedAt != nil)
	}
	return nil
}

// CheckFile проверяет инварианты текущей строки файла.
func CheckFile(f *model.File) error {
	return CheckInvariants(f.Status, f.MovedTo, f.ReceivedAt)
}

// requireText проверяет, что поле не пустое и не длиннее MaxFieldLength.
// Длина считается в символах, как VARCHAR в PostgreSQL.
func requireText(field, value string) error {
	if !utf8.ValidString(value) {
		return validationError("%s содержит некорректную UTF-8 последовательность", field)
	}
	v := strings.TrimSpace(value)
	if v == "" {
		return validationError("%s обязателен", field)
	}
	if utf8.RuneCountInString(v) > MaxFieldLength {
		return validationError("%s длиннее %d символов", field, MaxFieldLength)
	}
	return nil
}
