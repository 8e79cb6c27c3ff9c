package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/matt-riley/flagcore/internal/core"
)

// Store is one immutable generation of compiled flag definitions. It is
// built once by BuildStore and never mutated afterward; concurrent readers
// share it freely.
type Store struct {
	Flags      map[string]*FlagEntry
	ByIndex    []*FlagEntry
	Generation uint64
}

// UpdateResult is the bit-exact wire shape of update_state's return value
// (spec.md §4.4).
type UpdateResult struct {
	Success             bool                        `json:"success"`
	Error               string                      `json:"error,omitempty"`
	ChangedFlags        []string                    `json:"changedFlags"`
	PreEvaluated        map[string]EvaluationResult `json:"preEvaluated"`
	RequiredContextKeys map[string][]string         `json:"requiredContextKeys"`
	FlagIndices         map[string]int              `json:"flagIndices"`
}

// Holder owns the single shared-mutable-resource in the whole engine: the
// current Store pointer. update_state is the only writer; every
// evaluate* call is a reader. Swaps are lock-free so a reader never blocks
// on a concurrent update_state.
type Holder struct {
	ptr atomic.Pointer[Store]
}

// NewHolder returns a Holder seeded with an empty generation-0 store, so
// evaluate* calls made before the first update_state simply report
// FLAG_NOT_FOUND rather than needing a nil check at every call site.
func NewHolder() *Holder {
	h := &Holder{}
	h.ptr.Store(&Store{Flags: map[string]*FlagEntry{}})
	return h
}

// Load returns the current store. Safe for concurrent use with Update.
func (h *Holder) Load() *Store {
	return h.ptr.Load()
}

// Update compiles raw config JSON into a new Store and swaps it in,
// unless validation fails in Strict mode, in which case the current store
// is left untouched and the failure is reported in the returned result.
func (h *Holder) Update(raw []byte, mode core.ValidationMode) *UpdateResult {
	prev := h.ptr.Load()
	next, result := BuildStore(raw, mode, prev)
	if !result.Success {
		return result
	}
	next.Generation = prev.Generation + 1
	h.ptr.Store(next)
	return result
}

func failResult(err error) *UpdateResult {
	return &UpdateResult{
		Success:             false,
		Error:                err.Error(),
		ChangedFlags:         []string{},
		PreEvaluated:         map[string]EvaluationResult{},
		RequiredContextKeys:  map[string][]string{},
		FlagIndices:          map[string]int{},
	}
}

// BuildStore implements the update_state pipeline of spec.md §4.4 steps
// 1-7 (step 8, the atomic swap and generation increment, belongs to
// Holder since it is the only part of this process with mutable state).
// prev is consulted for change detection only; it may be nil.
func BuildStore(raw []byte, mode core.ValidationMode, prev *Store) (*Store, *UpdateResult) {
	var cfg rawConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, failResult(fmt.Errorf("parse config: %w", err))
	}

	order, err := extractFlagOrder(raw)
	if err != nil {
		return nil, failResult(fmt.Errorf("parse config: %w", err))
	}

	entries := make(map[string]*FlagEntry, len(order))
	byIndex := make([]*FlagEntry, 0, len(order))
	preEvaluated := make(map[string]EvaluationResult, len(order))
	requiredKeys := make(map[string][]string, len(order))
	flagIndices := make(map[string]int, len(order))
	changedFlags := make([]string, 0)

	for i, key := range order {
		defRaw, ok := cfg.Flags[key]
		if !ok {
			continue
		}

		var def rawFlagDef
		if err := json.Unmarshal(defRaw, &def); err != nil {
			return nil, failResult(fmt.Errorf("flag %q: %w", key, err))
		}

		canonicalJSON, err := json.Marshal(def)
		if err != nil {
			return nil, failResult(fmt.Errorf("flag %q: %w", key, err))
		}

		entry := &FlagEntry{
			Key:            key,
			Index:          i,
			DefaultVariant: def.DefaultVariant,
			Variants:       def.Variants,
			Metadata:       def.Metadata,
			Disabled:       def.State == "DISABLED",
			definitionJSON: string(canonicalJSON),
		}

		if verr := validateFlagDef(key, def, defRaw, mode); verr != nil {
			if mode == core.Strict {
				return nil, failResult(verr)
			}
			entry.Invalid = true
			entry.InvalidReason = verr.Error()
		}

		if !entry.Invalid && def.Targeting != nil {
			resolved, rerr := resolveRefs(def.Targeting, cfg.Evaluators)
			if rerr != nil {
				if mode == core.Strict {
					return nil, failResult(fmt.Errorf("flag %q: %w", key, rerr))
				}
				entry.Invalid = true
				entry.InvalidReason = rerr.Error()
			} else {
				node, cerr := core.Compile(resolved, mode)
				if cerr != nil {
					if mode == core.Strict {
						return nil, failResult(fmt.Errorf("flag %q: %w", key, cerr))
					}
					entry.Invalid = true
					entry.InvalidReason = cerr.Error()
				} else {
					entry.Targeting = node
					entry.RequiredKeys = core.ExtractRequiredKeys(node)
				}
			}
		}

		switch {
		case entry.Invalid:
			entry.PreEvaluated = &EvaluationResult{
				Reason:       ReasonError,
				ErrorCode:    ErrorCodeParseError,
				ErrorMessage: entry.InvalidReason,
			}
		case entry.Disabled:
			entry.PreEvaluated = &EvaluationResult{
				Reason:       ReasonDisabled,
				ErrorCode:    ErrorCodeFlagNotFound,
				ErrorMessage: fmt.Sprintf("flag: %s is disabled", key),
			}
		case entry.Targeting == nil:
			entry.PreEvaluated = &EvaluationResult{
				Value:   def.Variants[def.DefaultVariant],
				Variant: def.DefaultVariant,
				Reason:  ReasonStatic,
			}
		}

		if entry.PreEvaluated != nil {
			entry.PreEvaluated.FlagMetadata = entry.Metadata
		}

		if entry.PreEvaluated != nil {
			preEvaluated[key] = *entry.PreEvaluated
		}
		if entry.Targeting != nil && !entry.RequiredKeys.Dynamic {
			requiredKeys[key] = entry.RequiredKeys.Keys
		}
		flagIndices[key] = i

		entries[key] = entry
		byIndex = append(byIndex, entry)

		if changedSince(prev, key, entry.definitionJSON) {
			changedFlags = append(changedFlags, key)
		}
	}

	if prev != nil {
		for key := range prev.Flags {
			if _, ok := entries[key]; !ok {
				changedFlags = append(changedFlags, key)
			}
		}
	}

	next := &Store{Flags: entries, ByIndex: byIndex}
	result := &UpdateResult{
		Success:             true,
		ChangedFlags:         changedFlags,
		PreEvaluated:         preEvaluated,
		RequiredContextKeys:  requiredKeys,
		FlagIndices:          flagIndices,
	}
	return next, result
}

// extractFlagOrder returns the "flags" object's keys in their original
// JSON declaration order — encoding/json decodes objects into Go maps,
// which discards order, but spec.md §4.4 step 6 requires index assignment
// to follow iteration order over the incoming flag map as declared.
func extractFlagOrder(raw []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := keyTok.(string)
		if key == "flags" {
			return readObjectKeys(dec)
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf(`"flags" field not found`)
}

func readObjectKeys(dec *json.Decoder) ([]string, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, fmt.Errorf("flags must be an object: %w", err)
	}
	var keys []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := keyTok.(string)
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	if _, err := dec.Token(); err != nil { // consume closing '}'
		return nil, err
	}
	return keys, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func changedSince(prev *Store, key, definitionJSON string) bool {
	if prev == nil {
		return true
	}
	old, ok := prev.Flags[key]
	return !ok || old.definitionJSON != definitionJSON
}
