/*
Package errors provides structured error handling for the system.

It defines a standard AppError type that includes:
  - Error Code (standardized strings like NOT_FOUND, INTERNAL)
  - Message (human-readable description)
  - Underlying Error (chaining)
*/
package errors

import "fmt"

// Generic error codes shared across packages. Domain packages (outbox,
// consumer, ...) define their own codes alongside these.
const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeInternal        = "INTERNAL"
	CodeNotFound        = "NOT_FOUND"
)

// AppError is the structured error type returned by this module's
// packages. It always carries a short, stable Code so callers can
// branch on failure kind without string-matching Message.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// New creates an AppError with the given code, message, and optional
// wrapped cause.
func New(code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Wrap creates an AppError with CodeInternal around an existing error,
// annotated with message.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: CodeInternal, Message: message, Err: err}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *AppError with the same Code, so
// callers can do errors.Is(err, errors.New(CodeNotFound, "", nil)).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}
