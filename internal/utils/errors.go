package utils

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument marks caller mistakes so transports can report them as such.
var ErrInvalidArgument = errors.New("invalid argument")

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
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

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// InvalidArgument builds an AppError wrapping ErrInvalidArgument.
func InvalidArgument(op, msg string) error {
	return &AppError{Op: op, Msg: msg, Err: ErrInvalidArgument}
}
