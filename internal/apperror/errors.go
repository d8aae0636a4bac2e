package apperror

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
)

// Error is the typed error returned by the service layer. Callers branch on
// Kind (or errors.Is against the sentinels) to pick a user-facing message.
type Error struct {
	Kind    Kind   `json:"kind"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Sentinels for errors.Is; they match any *Error of the same Kind.
var (
	ErrValidation = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrNotFound   = &Error{Kind: KindNotFound, Message: "resource not found"}
	ErrConflict   = &Error{Kind: KindConflict, Message: "resource already exists"}
)

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func Validation(field string, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

func NotFound(resource string, id any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %v not found", resource, id)}
}

func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// Wrap attaches a cause without changing the kind.
func (e *Error) Wrap(err error) *Error {
	dup := *e
	dup.Err = err
	return &dup
}

func KindOf(err error) (Kind, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind, true
	}
	return "", false
}

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool   { return errors.Is(err, ErrConflict) }
