package domain

import "errors"

var (
	// ErrNotFound возвращается когда запись не найдена
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput возвращается при некорректных входных данных
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTransition возвращается при недопустимом переходе статуса
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrMaxRetriesExceeded возвращается когда исчерпаны попытки повтора
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrRetryInProgress возвращается если повтор уже запланирован
	ErrRetryInProgress = errors.New("retry already in progress")

	// ErrDuplicateOperation возвращается при повторной регистрации открытой операции
	ErrDuplicateOperation = errors.New("operation already registered")

	// ErrOverrideDisabled возвращается когда ручной override запрещен конфигом
	ErrOverrideDisabled = errors.New("manual override disabled by config")

	// ErrOverrideDurationExceeded возвращается когда запрошенный override длиннее лимита
	ErrOverrideDurationExceeded = errors.New("manual override duration exceeded")
)
