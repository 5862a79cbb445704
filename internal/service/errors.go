// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrNotFound — файл не найден.
	ErrNotFound = errors.New("файл не найден")
	// ErrDuplicate — файл с таким file_id уже зарегистрирован.
	ErrDuplicate = errors.New("файл уже существует")
	// ErrInvalidTransition — действие недопустимо из текущего статуса.
	ErrInvalidTransition = errors.New("переход недопустим")
	// ErrConflict — строка файла изменена параллельным переходом.
	ErrConflict = errors.New("конфликт параллельного изменения")
	// ErrTimeout — переход не завершился за отведённое время.
	ErrTimeout = errors.New("превышено время выполнения перехода")
	// ErrConsistency — нарушена согласованность состояния и журнала.
	ErrConsistency = errors.New("нарушение согласованности")
)
