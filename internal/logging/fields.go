package logging

import (
	"time"

	"go.uber.org/zap"
)

// Fields is a fluent builder for structured log fields, mirroring the
// field-name conventions used across the operator (component, operation,
// resource_type, resource_name, duration_ms, error).
type Fields struct {
	fields []zap.Field
}

// NewFields starts an empty field set.
func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	return f.append(zap.String("component", name))
}

func (f Fields) Operation(op string) Fields {
	return f.append(zap.String("operation", op))
}

// Resource records the resource type and, if non-empty, its name.
// resource_name is omitted entirely when name == "" so log lines for
// type-level operations don't carry a misleading empty field.
func (f Fields) Resource(resourceType, name string) Fields {
	f = f.append(zap.String("resource_type", resourceType))
	if name != "" {
		f = f.append(zap.String("resource_name", name))
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	return f.append(zap.Int64("duration_ms", d.Milliseconds()))
}

// Error adds an error field, or is a no-op if err is nil.
func (f Fields) Error(err error) Fields {
	if err == nil {
		return f
	}
	return f.append(zap.String("error", err.Error()))
}

func (f Fields) append(field zap.Field) Fields {
	out := make([]zap.Field, len(f.fields), len(f.fields)+1)
	copy(out, f.fields)
	out = append(out, field)
	return Fields{fields: out}
}

// Slice returns the accumulated zap.Field slice, for passing to a
// Logger call.
func (f Fields) Slice() []zap.Field {
	return f.fields
}
