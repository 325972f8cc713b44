package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// CanonicalJSON re-marshals an arbitrary JSON value with object keys
// sorted recursively, so two semantically-identical specs with
// differently-ordered keys hash identically.
func CanonicalJSON(raw json.RawMessage) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(canonicalize(v))
}

// SpecHash returns the hex-encoded SHA-256 digest of a spec's canonical
// JSON form, used for cheap change detection between reconcile cycles.
func SpecHash(raw json.RawMessage) (string, error) {
	canon, err := CanonicalJSON(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize converts maps into a type whose JSON encoding has sorted
// keys. encoding/json already sorts map[string]any keys on Marshal, but
// we recurse explicitly so nested maps decoded into map[string]any are
// covered too (they are, by the same rule) and so the function is
// explicit about the invariant it provides rather than relying on an
// incidental stdlib behavior.
func canonicalize(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(vv))
		keysSorted := make([]string, 0, len(vv))
		for k := range vv {
			keysSorted = append(keysSorted, k)
		}
		sort.Strings(keysSorted)
		for _, k := range keysSorted {
			out[k] = canonicalize(vv[k])
		}
		return out
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return vv
	}
}
