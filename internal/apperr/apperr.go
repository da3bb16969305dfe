// Package apperr содержит классификацию ошибок сервиса.
package apperr

import (
	"errors"
	"fmt"
)

// Виды ошибок. Каждая причина ниже оборачивает ровно один вид.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrExpired    = errors.New("order no longer open")
	ErrTransient  = errors.New("storage unavailable")
)

// Причины отказа при закреплении лида.
var (
	ErrLeadUnresolved      = newReason("LeadUnresolved", "lead not resolved for submission", ErrNotFound)
	ErrOrderNotFound       = newReason("OrderNotFound", "order not found", ErrNotFound)
	ErrOrderNotOpen        = newReason("OrderNotOpen", "order is not open", ErrExpired)
	ErrDuplicateAssignment = newReason("DuplicateAssignment", "lead already assigned to order", ErrConflict)
	ErrQuotaExceeded       = newReason("QuotaExceeded", "order quota exhausted", ErrConflict)
)

// ErrOrderExists возвращается при создании заявки с уже занятым идентификатором.
var ErrOrderExists = newReason("OrderExists", "order already exists", ErrConflict)

// Reason описывает конкретную причину ошибки, относящуюся к одному из видов.
type Reason struct {
	code string
	msg  string
	kind error
}

func newReason(code, msg string, kind error) *Reason {
	return &Reason{code: code, msg: msg, kind: kind}
}

func (r *Reason) Error() string { return r.msg }

// Unwrap возвращает вид ошибки, чтобы errors.Is работал и для причины, и для вида.
func (r *Reason) Unwrap() error { return r.kind }

// Code возвращает машиночитаемый код причины.
func (r *Reason) Code() string { return r.code }

// Kind возвращает строковое имя вида ошибки для внешних ответов.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrNotFound):
		return "NotFoundError"
	case errors.Is(err, ErrConflict):
		return "ConflictError"
	case errors.Is(err, ErrExpired):
		return "ExpiredError"
	case errors.Is(err, ErrTransient):
		return "TransientError"
	default:
		return "InternalError"
	}
}

// ReasonCode возвращает код причины, если она присутствует в цепочке ошибок.
func ReasonCode(err error) string {
	var r *Reason
	if errors.As(err, &r) {
		return r.Code()
	}
	return ""
}

// Validation оборачивает описание некорректных входных данных в ErrValidation.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Transient помечает ошибку хранилища как временную.
func Transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}
