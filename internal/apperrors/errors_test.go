package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	err := New(ErrorTypeValidation, "bad spec")
	assert.Equal(t, "validation: bad spec", err.Error())
	assert.Nil(t, err.Cause)
}

func TestNewWithDetails(t *testing.T) {
	err := New(ErrorTypeValidation, "bad spec").WithDetails("field 'name' is required")
	assert.Equal(t, "validation: bad spec (field 'name' is required)", err.Error())
}

func TestWithDetailsf(t *testing.T) {
	err := New(ErrorTypeNotFound, "resource missing").WithDetailsf("id=%d", 42)
	assert.Equal(t, "not_found: resource missing (id=42)", err.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, ErrorTypeTransient, "store unavailable")
	assert.Same(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, cause))
}

func TestWrapf(t *testing.T) {
	cause := errors.New("boom")
	err := Wrapf(cause, ErrorTypeReconcile, "phase %s failed", "apply")
	assert.Equal(t, "reconcile: phase apply failed", err.Error())
}

func TestIsTypeAndGetType(t *testing.T) {
	err := NewConflictError("generation mismatch")
	assert.True(t, IsType(err, ErrorTypeConflict))
	assert.False(t, IsType(err, ErrorTypeValidation))
	assert.Equal(t, ErrorTypeConflict, GetType(err))

	plain := errors.New("unstructured")
	assert.Equal(t, ErrorTypeInternal, GetType(plain))
	assert.False(t, IsType(plain, ErrorTypeInternal))
}

func TestLogFields(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(cause, ErrorTypeTransient, "store unavailable").WithDetails("retry 3")

	fields := LogFields(err)
	assert.Equal(t, "transient: store unavailable (retry 3)", fields["error"])
	assert.Equal(t, "transient", fields["error_type"])
	assert.Equal(t, "retry 3", fields["error_details"])
	assert.Equal(t, "dial tcp: timeout", fields["underlying_error"])
}

func TestLogFieldsPlainError(t *testing.T) {
	fields := LogFields(errors.New("oops"))
	assert.Equal(t, "internal", fields["error_type"])
	assert.NotContains(t, fields, "error_details")
	assert.NotContains(t, fields, "underlying_error")
}

func TestChain(t *testing.T) {
	assert.Nil(t, Chain())
	assert.Nil(t, Chain(nil, nil))

	single := errors.New("only one")
	assert.Same(t, single, Chain(nil, single))

	a := errors.New("first")
	b := errors.New("second")
	assert.Equal(t, "first -> second", Chain(a, b).Error())
}

func TestConstructors(t *testing.T) {
	assert.Equal(t, "not_found: widget not found", NewNotFoundError("widget").Error())
	assert.Equal(t, ErrorTypeValidation, GetType(NewValidationError("missing name")))
	assert.Equal(t, ErrorTypeAdmission, GetType(NewAdmissionError("denied")))
	assert.Equal(t, ErrorTypeConflict, GetType(NewConflictError("stale generation")))

	te := NewTransientError("insert", errors.New("deadlock"))
	assert.Equal(t, ErrorTypeTransient, te.Type)
	assert.Equal(t, "deadlock", te.Cause.Error())
}
