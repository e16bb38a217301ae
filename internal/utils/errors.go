package utils

import (
	"errors"
	"fmt"
)

// Code classifies failures surfaced by the fusion engine.
type Code string

const (
	// CodeMalformedRecord marks a record missing its timestamp or source tag.
	CodeMalformedRecord Code = "MALFORMED_RECORD"
	// CodeCapacityExceeded marks a batch rejected because the scheduler queue is full.
	CodeCapacityExceeded Code = "CAPACITY_EXCEEDED"
	// CodeDeadlineExceeded marks a batch abandoned past its deadline.
	CodeDeadlineExceeded Code = "DEADLINE_EXCEEDED"
)

// AppError wraps an operation, failure code, human-facing message, and underlying error.
type AppError struct {
	Op   string
	Code Code
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Code, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op string, code Code, msg string, err error) error {
	return &AppError{Op: op, Code: code, Msg: msg, Err: err}
}

// ErrorCode extracts the Code from err, or empty when err is not an AppError.
func ErrorCode(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given failure code.
func IsCode(err error, code Code) bool {
	return ErrorCode(err) == code
}
