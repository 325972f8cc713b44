package validation

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilsonge/no8s-operator/internal/apperrors"
)

func TestValidateNameAcceptsValidNames(t *testing.T) {
	for _, name := range []string{"widget", "my-widget-1", "a", strings.Repeat("a", 63)} {
		assert.NoError(t, ValidateName(name), "name %q should be valid", name)
	}
}

func TestValidateNameRejectsInvalidNames(t *testing.T) {
	for _, name := range []string{"", "-widget", "widget-", "Widget", "my_widget", strings.Repeat("a", 64)} {
		err := ValidateName(name)
		require.Error(t, err, "name %q should be invalid", name)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	}
}

func TestValidateSizeRejectsOversizedPayload(t *testing.T) {
	oversized := make(json.RawMessage, MaxPayloadBytes+1)
	err := ValidateSize("spec", oversized)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestValidateSizeAcceptsSmallPayload(t *testing.T) {
	assert.NoError(t, ValidateSize("spec", json.RawMessage(`{"a":1}`)))
}

func TestValidateSpecAgainstSchemaRejectsMismatch(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"replicas": {"type": "integer"}},
		"required": ["replicas"]
	}`)

	err := ValidateSpecAgainstSchema(json.RawMessage(`{"replicas": "not-a-number"}`), schema)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestValidateSpecAgainstSchemaAcceptsMatch(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"replicas": {"type": "integer"}},
		"required": ["replicas"]
	}`)

	assert.NoError(t, ValidateSpecAgainstSchema(json.RawMessage(`{"replicas": 3}`), schema))
}

func TestValidateSchemaRejectsMalformedSchema(t *testing.T) {
	err := ValidateSchema(json.RawMessage(`"not a schema object"`))
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}
