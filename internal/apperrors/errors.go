// Package apperrors defines the typed error taxonomy used across the
// operator: every error a component returns to a caller is either a
// plain *AppError or wraps one, so callers can branch on Type instead of
// string-matching messages.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies an AppError into one of the categories the
// reconciliation engine distinguishes between.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeAdmission  ErrorType = "admission"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeReconcile  ErrorType = "reconcile"
	ErrorTypeTransient  ErrorType = "transient"
	ErrorTypeInternal   ErrorType = "internal"
)

// AppError is the concrete error type returned by every component.
type AppError struct {
	Type    ErrorType
	Message string
	Details string
	Cause   error
}

// New creates an AppError with no underlying cause.
func New(t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message}
}

// Wrap creates an AppError of the given type that preserves err as the
// cause. Every err, including an *AppError, is wrapped the same way:
// the result carries only the given message, and the wrapped error's
// message is not merged into it.
func Wrap(err error, t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, Cause: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, t ErrorType, format string, args ...any) *AppError {
	return Wrap(err, t, fmt.Sprintf(format, args...))
}

// WithDetails sets Details in place and returns the receiver, so callers
// can chain it onto New/Wrap.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf is WithDetails with a formatted string.
func (e *AppError) WithDetailsf(format string, args ...any) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Type == t
	}
	return false
}

// GetType returns the ErrorType of err, defaulting to ErrorTypeInternal
// for errors that are not an *AppError.
func GetType(err error) ErrorType {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Type
	}
	return ErrorTypeInternal
}

// LogFields returns a structured field set suitable for a logging call,
// omitting keys that don't apply.
func LogFields(err error) map[string]any {
	fields := map[string]any{
		"error": err.Error(),
	}
	var ae *AppError
	if errors.As(err, &ae) {
		fields["error_type"] = string(ae.Type)
		if ae.Details != "" {
			fields["error_details"] = ae.Details
		}
		if ae.Cause != nil {
			fields["underlying_error"] = ae.Cause.Error()
		}
	} else {
		fields["error_type"] = string(ErrorTypeInternal)
	}
	return fields
}

// Chain joins multiple non-nil errors into one error whose message is
// each constituent's message separated by " -> ". A nil input, or an
// input where every error is nil, returns nil. A single non-nil error is
// returned unwrapped.
func Chain(errs ...error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		msgs := make([]string, len(nonNil))
		for i, e := range nonNil {
			msgs[i] = e.Error()
		}
		return errors.New(strings.Join(msgs, " -> "))
	}
}

// Common constructors for the taxonomy's most frequent shapes.

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

func NewConflictError(message string) *AppError {
	return New(ErrorTypeConflict, message)
}

func NewAdmissionError(message string) *AppError {
	return New(ErrorTypeAdmission, message)
}

func NewTransientError(op string, cause error) *AppError {
	return Wrap(cause, ErrorTypeTransient, fmt.Sprintf("transient store error: %s", op))
}

func NewReconcileError(message string) *AppError {
	return New(ErrorTypeReconcile, message)
}
