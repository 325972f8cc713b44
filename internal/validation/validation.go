// Package validation holds the write-path checks that run before a
// resource is ever handed to the admission chain or the Store: name
// format, payload size caps, and JSON-Schema/OpenAPI v3 conformance of a
// spec against its ResourceType's schema.
package validation

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/wilsonge/no8s-operator/internal/apperrors"
)

// nameRegexp is the resource-name format from spec.md §6: lowercase
// alphanumeric and hyphen, 1-63 characters, anchored so neither end is
// a hyphen.
var nameRegexp = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// MaxPayloadBytes bounds the size of a spec or plugin_config JSON
// payload accepted at write time.
const MaxPayloadBytes = 1 << 20 // 1 MiB

// ValidateName checks a resource name against the required format.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return apperrors.NewValidationError("invalid resource name").
			WithDetailsf("%q must match ^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$", name)
	}
	return nil
}

// ValidateSize checks a JSON payload (spec or plugin_config) against
// the 1 MiB size cap.
func ValidateSize(field string, payload json.RawMessage) error {
	if len(payload) > MaxPayloadBytes {
		return apperrors.NewValidationError(fmt.Sprintf("%s exceeds maximum size", field)).
			WithDetailsf("got %d bytes, limit %d", len(payload), MaxPayloadBytes)
	}
	return nil
}

// ValidateSchema checks that schema is itself a well-formed OpenAPI v3 /
// JSON Schema document, mirroring validate_openapi_schema in the
// original implementation.
func ValidateSchema(schema json.RawMessage) error {
	s := &openapi3.Schema{}
	if err := json.Unmarshal(schema, s); err != nil {
		return apperrors.NewValidationError("invalid schema JSON").WithDetails(err.Error())
	}
	if err := s.Validate(openapi3.NewLoader().Context); err != nil {
		return apperrors.NewValidationError("invalid schema").WithDetails(err.Error())
	}
	return nil
}

// ValidateSpecAgainstSchema checks spec against an already-validated
// OpenAPI v3 schema, mirroring validate_spec_against_schema.
func ValidateSpecAgainstSchema(spec, schema json.RawMessage) error {
	s := &openapi3.Schema{}
	if err := json.Unmarshal(schema, s); err != nil {
		return apperrors.NewValidationError("invalid schema JSON").WithDetails(err.Error())
	}

	var data any
	if err := json.Unmarshal(spec, &data); err != nil {
		return apperrors.NewValidationError("invalid spec JSON").WithDetails(err.Error())
	}

	if err := s.VisitJSON(data); err != nil {
		return apperrors.NewValidationError("spec does not match resource type schema").WithDetails(err.Error())
	}
	return nil
}
