package errors

import (
	"errors"
	"fmt"
)

// CheckError is the structured error type for checklibimport.
// It provides context for error handling, logging, and diagnostics.
type CheckError struct {
	// Code is the unique error code (e.g., "ERR_202_LIBRARY_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Image, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error
}

// Error implements the error interface.
func (e *CheckError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *CheckError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with CheckError.
func (e *CheckError) Is(target error) bool {
	if t, ok := target.(*CheckError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *CheckError) WithDetail(key, value string) *CheckError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new CheckError with the given code and message.
// Category and severity are derived from the code.
func New(code string, message string, cause error) *CheckError {
	return &CheckError{
		Code:     code,
		Message:  message,
		Category: categoryFromCode(code),
		Severity: severityFromCode(code),
		Cause:    cause,
	}
}

// Newf creates a new CheckError with a formatted message.
func Newf(code string, format string, args ...any) *CheckError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates a CheckError from an existing error.
// The error's message becomes the CheckError message.
func Wrap(code string, err error) *CheckError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Is reports whether any error in err's chain matches target. Re-exported
// so callers need not import both this package and the standard library.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// IsFatal checks if an error has fatal severity.
// Fatal errors abort the whole run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*CheckError); ok {
		return ce.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a CheckError.
// Returns empty string if not a CheckError.
func GetCode(err error) string {
	if ce, ok := err.(*CheckError); ok {
		return ce.Code
	}
	return ""
}
