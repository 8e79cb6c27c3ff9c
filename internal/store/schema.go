package store

import (
	"encoding/json"
	"fmt"

	"github.com/matt-riley/flagcore/internal/core"
)

// knownFlagDefFields are the top-level keys a flag definition object may
// carry. validateFlagDef rejects anything else in Strict mode.
var knownFlagDefFields = map[string]bool{
	"state":          true,
	"defaultVariant": true,
	"variants":       true,
	"targeting":      true,
	"metadata":       true,
}

// resolveRefs walks a decoded targeting tree, replacing every
// {"$ref": name} node with a deep copy of the corresponding subtree from
// evaluators. It returns an error if a ref is unresolvable, if refs form
// a cycle, or if a chain of refs is longer than maxRefDepth. BuildStore
// aborts the whole update on such an error in Strict mode and marks the
// flag invalid in Permissive mode.
func resolveRefs(raw any, evaluators map[string]any) (any, error) {
	return resolveRefsDepth(raw, evaluators, map[string]bool{}, 0)
}

const maxRefDepth = 32

func resolveRefsDepth(raw any, evaluators map[string]any, active map[string]bool, depth int) (any, error) {
	if depth > maxRefDepth {
		return nil, fmt.Errorf("$ref chain exceeds max depth %d", maxRefDepth)
	}

	switch v := raw.(type) {
	case map[string]any:
		if name, ok := refName(v); ok {
			if active[name] {
				return nil, fmt.Errorf("$ref cycle detected at %q", name)
			}
			target, ok := evaluators[name]
			if !ok {
				return nil, fmt.Errorf("unresolved $ref %q", name)
			}
			nextActive := make(map[string]bool, len(active)+1)
			for k := range active {
				nextActive[k] = true
			}
			nextActive[name] = true
			return resolveRefsDepth(target, evaluators, nextActive, depth+1)
		}

		out := make(map[string]any, len(v))
		for k, child := range v {
			resolved, err := resolveRefsDepth(child, evaluators, active, depth)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil

	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			resolved, err := resolveRefsDepth(child, evaluators, active, depth)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil

	default:
		return raw, nil
	}
}

// refName reports whether obj is a single-key {"$ref": "name"} node.
func refName(obj map[string]any) (string, bool) {
	if len(obj) != 1 {
		return "", false
	}
	raw, ok := obj["$ref"]
	if !ok {
		return "", false
	}
	name, ok := raw.(string)
	return name, ok
}

// validateFlagDef checks a single flag definition against the minimal
// flagd flag schema spec.md §4.4 step 3 refers to: a recognized state, a
// non-empty variant table, a defaultVariant that names one of those
// variants, and, in Strict mode only, no unrecognized top-level fields and
// variant values that share a single JSON type. Strict mode treats any
// violation as fatal to the whole update; permissive mode returns the
// error so the caller can mark the flag invalid instead.
func validateFlagDef(key string, def rawFlagDef, defRaw []byte, mode core.ValidationMode) error {
	if mode == core.Strict {
		if err := checkKnownFields(key, defRaw); err != nil {
			return err
		}
	}

	switch def.State {
	case "ENABLED", "DISABLED":
	default:
		return fmt.Errorf("flag %q: state must be ENABLED or DISABLED, got %q", key, def.State)
	}

	if len(def.Variants) == 0 {
		return fmt.Errorf("flag %q: variants must not be empty", key)
	}

	if def.DefaultVariant == "" {
		return fmt.Errorf("flag %q: defaultVariant is required", key)
	}
	if _, ok := def.Variants[def.DefaultVariant]; !ok {
		return fmt.Errorf("flag %q: defaultVariant %q is not a key of variants", key, def.DefaultVariant)
	}

	if mode == core.Strict {
		if err := checkVariantHomogeneity(key, def.Variants); err != nil {
			return err
		}
	}

	return nil
}

// checkKnownFields rejects a flag definition carrying top-level JSON keys
// outside knownFlagDefFields.
func checkKnownFields(key string, defRaw []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(defRaw, &fields); err != nil {
		return fmt.Errorf("flag %q: %w", key, err)
	}
	for name := range fields {
		if !knownFlagDefFields[name] {
			return fmt.Errorf("flag %q: unrecognized field %q", key, name)
		}
	}
	return nil
}

// jsonTypeName classifies a decoded JSON value (bool/float64/string/nil/
// []any/map[string]any) into a coarse type label for homogeneity checks.
func jsonTypeName(v any) string {
	switch v.(type) {
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// checkVariantHomogeneity enforces that every variant value in a flag
// shares the same JSON type, per spec.md §4.1's "enforce variant type
// homogeneity within a flag where possible."
func checkVariantHomogeneity(key string, variants map[string]any) error {
	var want, first string
	for name, v := range variants {
		kind := jsonTypeName(v)
		if want == "" {
			want, first = kind, name
			continue
		}
		if kind != want {
			return fmt.Errorf("flag %q: variant %q is %s, but variant %q is %s; variants must share one type", key, name, kind, first, want)
		}
	}
	return nil
}
