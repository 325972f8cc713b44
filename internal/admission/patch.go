package admission

import (
	"encoding/json"
	"strings"

	"github.com/wilsonge/no8s-operator/internal/apperrors"
)

// Patch is one operation from the subset of JSON Patch (RFC 6902) this
// chain supports: add, replace, remove.
type Patch struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// ApplyPatches applies a list of patches to a spec, returning a new spec
// object. Paths are resolved against the spec directly: a leading
// "/spec/" is stripped, otherwise a leading "/" is stripped. Every
// intermediate path segment must already exist as an object key — no
// segment is implicitly created, and a missing one is a validation error
// for add/replace/remove alike.
func ApplyPatches(spec map[string]any, patches []Patch) (map[string]any, error) {
	result := deepCopyMap(spec)

	for _, patch := range patches {
		parts, err := pathSegments(patch.Path)
		if err != nil {
			return nil, err
		}

		switch patch.Op {
		case "add", "replace":
			target, err := walkToParent(result, parts, patch.Path)
			if err != nil {
				return nil, err
			}
			var value any
			if len(patch.Value) > 0 {
				if err := json.Unmarshal(patch.Value, &value); err != nil {
					return nil, apperrors.NewValidationError("invalid patch value").WithDetailsf("path=%s: %v", patch.Path, err)
				}
			}
			target[parts[len(parts)-1]] = value

		case "remove":
			target, err := walkToParent(result, parts, patch.Path)
			if err != nil {
				return nil, err
			}
			last := parts[len(parts)-1]
			if _, ok := target[last]; !ok {
				return nil, apperrors.NewValidationError("patch path not found").WithDetailsf("path=%s", patch.Path)
			}
			delete(target, last)

		default:
			return nil, apperrors.NewValidationError("unsupported patch operation").WithDetailsf("op=%s", patch.Op)
		}
	}

	return result, nil
}

func pathSegments(path string) ([]string, error) {
	trimmed := path
	switch {
	case strings.HasPrefix(trimmed, "/spec/"):
		trimmed = strings.TrimPrefix(trimmed, "/spec/")
	case strings.HasPrefix(trimmed, "/"):
		trimmed = strings.TrimPrefix(trimmed, "/")
	}
	if trimmed == "" {
		return nil, apperrors.NewValidationError("invalid patch path").WithDetailsf("path=%s", path)
	}
	return strings.Split(trimmed, "/"), nil
}

// walkToParent descends parts[:-1] through target, requiring every
// intermediate segment to already be a present object key. Returns the
// map holding the final segment.
func walkToParent(root map[string]any, parts []string, originalPath string) (map[string]any, error) {
	target := root
	for _, part := range parts[:len(parts)-1] {
		next, ok := target[part]
		if !ok {
			return nil, apperrors.NewValidationError("patch path not found").WithDetailsf("path=%s", originalPath)
		}
		nextMap, ok := next.(map[string]any)
		if !ok {
			return nil, apperrors.NewValidationError("patch path not found").WithDetailsf("path=%s", originalPath)
		}
		target = nextMap
	}
	return target, nil
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return deepCopyMap(vv)
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return vv
	}
}
