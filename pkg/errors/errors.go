package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrMalformedRecord = errors.New("malformed record")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrInvalidOrder    = errors.New("invalid n-gram order")
	ErrEmptyGroup      = errors.New("prefix group has no candidates")
	ErrPrefixNotFound  = errors.New("prefix not found")
	ErrSinkUnavailable = errors.New("sink unavailable")
	ErrTaskFailed      = errors.New("task failed")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInternal        = errors.New("internal error")
	ErrTimeout         = errors.New("operation timed out")
)

// RecordError reports a single input record that could not be parsed. The
// pipeline skips such records; the error only feeds logs and metrics.
type RecordError struct {
	Source string
	Line   int64
	Record string
	Err    error
}

func (e *RecordError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s:%d: %v: %q", e.Source, e.Line, e.Err, e.Record)
	}
	return fmt.Sprintf("line %d: %v: %q", e.Line, e.Err, e.Record)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// Malformed builds a RecordError wrapping ErrMalformedRecord with a reason.
func Malformed(record string, format string, args ...any) *RecordError {
	return &RecordError{
		Record: record,
		Err:    fmt.Errorf("%w: %s", ErrMalformedRecord, fmt.Sprintf(format, args...)),
	}
}

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrPrefixNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrMalformedRecord):
		return http.StatusBadRequest
	case errors.Is(err, ErrSinkUnavailable), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
