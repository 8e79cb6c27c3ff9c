package store

import (
	"testing"

	"github.com/matt-riley/flagcore/internal/core"
)

func TestBuildStoreStaticFlag(t *testing.T) {
	raw := []byte(`{
		"flags": {
			"welcome-banner": {
				"state": "ENABLED",
				"defaultVariant": "on",
				"variants": {"on": true, "off": false}
			}
		}
	}`)

	next, result := BuildStore(raw, core.Strict, nil)
	if !result.Success {
		t.Fatalf("BuildStore failed: %s", result.Error)
	}

	entry, ok := next.Flags["welcome-banner"]
	if !ok {
		t.Fatal("expected flag welcome-banner in store")
	}
	if entry.PreEvaluated == nil {
		t.Fatal("expected a pre-evaluated static result")
	}
	if entry.PreEvaluated.Reason != ReasonStatic {
		t.Fatalf("Reason = %q, want STATIC", entry.PreEvaluated.Reason)
	}
	if entry.PreEvaluated.Value != true {
		t.Fatalf("Value = %v, want true", entry.PreEvaluated.Value)
	}
	if entry.PreEvaluated.Variant != "on" {
		t.Fatalf("Variant = %q, want on", entry.PreEvaluated.Variant)
	}

	pre, ok := result.PreEvaluated["welcome-banner"]
	if !ok {
		t.Fatal("expected welcome-banner in result.PreEvaluated")
	}
	if pre.Reason != ReasonStatic {
		t.Fatalf("result PreEvaluated reason = %q, want STATIC", pre.Reason)
	}
}

func TestBuildStoreDisabledFlag(t *testing.T) {
	raw := []byte(`{
		"flags": {
			"dead-flag": {
				"state": "DISABLED",
				"defaultVariant": "off",
				"variants": {"on": true, "off": false}
			}
		}
	}`)

	next, result := BuildStore(raw, core.Strict, nil)
	if !result.Success {
		t.Fatalf("BuildStore failed: %s", result.Error)
	}
	entry := next.Flags["dead-flag"]
	if entry.PreEvaluated.Reason != ReasonDisabled {
		t.Fatalf("Reason = %q, want DISABLED", entry.PreEvaluated.Reason)
	}
	if entry.PreEvaluated.ErrorCode != ErrorCodeFlagNotFound {
		t.Fatalf("ErrorCode = %q, want FLAG_NOT_FOUND", entry.PreEvaluated.ErrorCode)
	}
}

func TestBuildStoreTargetingCompiles(t *testing.T) {
	raw := []byte(`{
		"flags": {
			"region-gate": {
				"state": "ENABLED",
				"defaultVariant": "off",
				"variants": {"on": true, "off": false},
				"targeting": {"if": [{"==": [{"var":"country"}, "US"]}, "on", "off"]}
			}
		}
	}`)

	next, result := BuildStore(raw, core.Strict, nil)
	if !result.Success {
		t.Fatalf("BuildStore failed: %s", result.Error)
	}
	entry := next.Flags["region-gate"]
	if entry.Targeting == nil {
		t.Fatal("expected a compiled targeting tree")
	}
	if entry.PreEvaluated != nil {
		t.Fatal("a flag with targeting should not be pre-evaluated")
	}

	keys := result.RequiredContextKeys["region-gate"]
	found := false
	for _, k := range keys {
		if k == "country" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected required context keys to include country, got %v", keys)
	}
}

func TestBuildStoreDynamicVarNameOmitsRequiredKeys(t *testing.T) {
	raw := []byte(`{
		"flags": {
			"computed-name": {
				"state": "ENABLED",
				"defaultVariant": "off",
				"variants": {"on": true, "off": false},
				"targeting": {"if": [{"==": [{"var": {"cat": ["country", ".code"]}}, "US"]}, "on", "off"]}
			}
		}
	}`)

	next, result := BuildStore(raw, core.Strict, nil)
	if !result.Success {
		t.Fatalf("BuildStore failed: %s", result.Error)
	}
	entry := next.Flags["computed-name"]
	if !entry.RequiredKeys.Dynamic {
		t.Fatal("expected a computed var name to mark RequiredKeys.Dynamic")
	}
	if _, ok := result.RequiredContextKeys["computed-name"]; ok {
		t.Fatal("a flag with a dynamic var name must be omitted from RequiredContextKeys, signaling hosts to pass the full context")
	}
}

func TestBuildStoreSchemaValidationStrictAborts(t *testing.T) {
	raw := []byte(`{
		"flags": {
			"broken": {
				"state": "ENABLED",
				"defaultVariant": "missing-variant",
				"variants": {"on": true}
			}
		}
	}`)

	next, result := BuildStore(raw, core.Strict, nil)
	if result.Success {
		t.Fatal("expected BuildStore to fail in strict mode")
	}
	if next != nil {
		t.Fatal("expected a nil store on strict failure")
	}
	if result.Error == "" {
		t.Fatal("expected a non-empty error message")
	}
}

func TestBuildStoreSchemaValidationPermissiveMarksInvalid(t *testing.T) {
	raw := []byte(`{
		"flags": {
			"broken": {
				"state": "ENABLED",
				"defaultVariant": "missing-variant",
				"variants": {"on": true}
			}
		}
	}`)

	next, result := BuildStore(raw, core.Permissive, nil)
	if !result.Success {
		t.Fatalf("expected permissive mode to retain the flag, got error: %s", result.Error)
	}
	entry := next.Flags["broken"]
	if entry == nil {
		t.Fatal("expected the invalid flag to still be present in the store")
	}
	if !entry.Invalid {
		t.Fatal("expected Invalid = true")
	}
	if entry.PreEvaluated.Reason != ReasonError || entry.PreEvaluated.ErrorCode != ErrorCodeParseError {
		t.Fatalf("PreEvaluated = %+v, want ERROR/PARSE_ERROR", entry.PreEvaluated)
	}
}

func TestBuildStoreRefResolution(t *testing.T) {
	raw := []byte(`{
		"flags": {
			"uses-shared-rule": {
				"state": "ENABLED",
				"defaultVariant": "off",
				"variants": {"on": true, "off": false},
				"targeting": {"$ref": "usCheck"}
			}
		},
		"$evaluators": {
			"usCheck": {"if": [{"==": [{"var":"country"}, "US"]}, "on", "off"]}
		}
	}`)

	next, result := BuildStore(raw, core.Strict, nil)
	if !result.Success {
		t.Fatalf("BuildStore failed: %s", result.Error)
	}
	entry := next.Flags["uses-shared-rule"]
	if entry.Targeting == nil {
		t.Fatal("expected the $ref to resolve into a compiled targeting tree")
	}
}

func TestBuildStoreRefCycleDetectionPermissive(t *testing.T) {
	raw := []byte(`{
		"flags": {
			"cyclic": {
				"state": "ENABLED",
				"defaultVariant": "off",
				"variants": {"on": true, "off": false},
				"targeting": {"$ref": "a"}
			}
		},
		"$evaluators": {
			"a": {"$ref": "b"},
			"b": {"$ref": "a"}
		}
	}`)

	next, result := BuildStore(raw, core.Permissive, nil)
	if !result.Success {
		t.Fatalf("expected permissive mode to retain the flag, got error: %s", result.Error)
	}
	entry := next.Flags["cyclic"]
	if !entry.Invalid {
		t.Fatal("expected a $ref cycle to mark the flag invalid")
	}
}

func TestBuildStoreRefCycleDetectionStrictAborts(t *testing.T) {
	raw := []byte(`{
		"flags": {
			"cyclic": {
				"state": "ENABLED",
				"defaultVariant": "off",
				"variants": {"on": true, "off": false},
				"targeting": {"$ref": "a"}
			}
		},
		"$evaluators": {
			"a": {"$ref": "a"}
		}
	}`)

	_, result := BuildStore(raw, core.Strict, nil)
	if result.Success {
		t.Fatal("expected strict mode to abort on a $ref cycle")
	}
}

func TestBuildStoreIndexAssignmentFollowsDeclarationOrder(t *testing.T) {
	raw := []byte(`{
		"flags": {
			"zebra": {"state": "ENABLED", "defaultVariant": "on", "variants": {"on": true}},
			"apple": {"state": "ENABLED", "defaultVariant": "on", "variants": {"on": true}},
			"mango": {"state": "ENABLED", "defaultVariant": "on", "variants": {"on": true}}
		}
	}`)

	next, result := BuildStore(raw, core.Strict, nil)
	if !result.Success {
		t.Fatalf("BuildStore failed: %s", result.Error)
	}

	wantOrder := []string{"zebra", "apple", "mango"}
	if len(next.ByIndex) != len(wantOrder) {
		t.Fatalf("len(ByIndex) = %d, want %d", len(next.ByIndex), len(wantOrder))
	}
	for i, key := range wantOrder {
		if next.ByIndex[i].Key != key {
			t.Fatalf("ByIndex[%d].Key = %q, want %q", i, next.ByIndex[i].Key, key)
		}
		if result.FlagIndices[key] != i {
			t.Fatalf("FlagIndices[%q] = %d, want %d", key, result.FlagIndices[key], i)
		}
	}
}

func TestBuildStoreChangedFlagsAcrossGenerations(t *testing.T) {
	first := []byte(`{
		"flags": {
			"alpha": {"state": "ENABLED", "defaultVariant": "on", "variants": {"on": true, "off": false}},
			"beta":  {"state": "ENABLED", "defaultVariant": "on", "variants": {"on": true, "off": false}}
		}
	}`)
	gen1, result1 := BuildStore(first, core.Strict, nil)
	if !result1.Success {
		t.Fatalf("BuildStore failed: %s", result1.Error)
	}

	second := []byte(`{
		"flags": {
			"alpha": {"state": "ENABLED", "defaultVariant": "off", "variants": {"on": true, "off": false}},
			"gamma": {"state": "ENABLED", "defaultVariant": "on", "variants": {"on": true, "off": false}}
		}
	}`)
	_, result2 := BuildStore(second, core.Strict, gen1)
	if !result2.Success {
		t.Fatalf("BuildStore failed: %s", result2.Error)
	}

	changed := map[string]bool{}
	for _, k := range result2.ChangedFlags {
		changed[k] = true
	}
	if !changed["alpha"] {
		t.Fatal(`expected "alpha" (modified default variant) to be reported changed`)
	}
	if !changed["gamma"] {
		t.Fatal(`expected "gamma" (added) to be reported changed`)
	}
	if !changed["beta"] {
		t.Fatal(`expected "beta" (removed) to be reported changed`)
	}
}

func TestHolderUpdateGenerationMonotonic(t *testing.T) {
	h := NewHolder()
	if h.Load().Generation != 0 {
		t.Fatalf("initial generation = %d, want 0", h.Load().Generation)
	}

	ok := []byte(`{"flags": {"a": {"state": "ENABLED", "defaultVariant": "on", "variants": {"on": true}}}}`)
	result := h.Update(ok, core.Strict)
	if !result.Success {
		t.Fatalf("Update failed: %s", result.Error)
	}
	if h.Load().Generation != 1 {
		t.Fatalf("generation = %d, want 1", h.Load().Generation)
	}

	bad := []byte(`{"flags": {"b": {"state": "ENABLED", "defaultVariant": "missing", "variants": {"on": true}}}}`)
	result = h.Update(bad, core.Strict)
	if result.Success {
		t.Fatal("expected the strict update to fail")
	}
	if h.Load().Generation != 1 {
		t.Fatalf("a failed update must not advance the generation, got %d", h.Load().Generation)
	}
	if _, ok := h.Load().Flags["a"]; !ok {
		t.Fatal("a failed update must leave the previous store untouched")
	}
}
