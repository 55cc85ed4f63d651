package utils

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an AppError for callers that map errors onto transport codes.
type ErrorKind string

const (
	KindInvalidInput ErrorKind = "invalid_input"
	KindUnavailable  ErrorKind = "unavailable"
	KindInternal     ErrorKind = "internal"
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op   string
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an internal AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Kind: KindInternal, Msg: msg, Err: err}
}

// NewKindError constructs an AppError of the given kind.
func NewKindError(kind ErrorKind, op, msg string, err error) error {
	return &AppError{Op: op, Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the first AppError in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Kind != "" {
		return appErr.Kind
	}
	return KindInternal
}
