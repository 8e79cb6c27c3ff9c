// Package store owns the flag store: the durable-between-generations state
// that update_state builds and every evaluate* call reads. It compiles raw
// flag configuration JSON into the tagged-variant rule trees defined by
// package core, pre-evaluates the flags whose outcome never depends on
// context, and exposes the result behind a single atomically-swapped
// pointer so readers never observe a half-built generation.
package store

import (
	"encoding/json"

	"github.com/matt-riley/flagcore/internal/core"
)

// Reason is the wire value of an EvaluationResult's "reason" field.
type Reason string

const (
	ReasonStatic          Reason = "STATIC"
	ReasonTargetingMatch  Reason = "TARGETING_MATCH"
	ReasonDefault         Reason = "DEFAULT"
	ReasonDisabled        Reason = "DISABLED"
	ReasonError           Reason = "ERROR"
	ReasonFlagNotFound    Reason = "FLAG_NOT_FOUND"
)

// ErrorCode is the wire value of an EvaluationResult's "errorCode" field.
type ErrorCode string

const (
	ErrorCodeFlagNotFound ErrorCode = "FLAG_NOT_FOUND"
	ErrorCodeParseError   ErrorCode = "PARSE_ERROR"
	ErrorCodeTypeMismatch ErrorCode = "TYPE_MISMATCH"
	ErrorCodeGeneral      ErrorCode = "GENERAL"
)

// EvaluationResult is the bit-exact wire shape from spec.md §6, shared by
// update_state's preEvaluated map and every evaluate* call.
type EvaluationResult struct {
	Value        any            `json:"value,omitempty"`
	Variant      string         `json:"variant,omitempty"`
	Reason       Reason         `json:"reason"`
	ErrorCode    ErrorCode      `json:"errorCode,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	FlagMetadata map[string]any `json:"flagMetadata,omitempty"`
}

// rawConfig is the top-level shape of an update_state payload. Flags is
// decoded as raw messages, not rawFlagDef directly, so validateFlagDef can
// separately check each flag definition's JSON object for unexpected
// top-level keys before the lenient decode discards them.
type rawConfig struct {
	Flags      map[string]json.RawMessage `json:"flags"`
	Schema     string                     `json:"$schema,omitempty"`
	Evaluators map[string]any             `json:"$evaluators,omitempty"`
}

// rawFlagDef is one entry of rawConfig.Flags, decoded generically so the
// targeting tree can be walked for $ref resolution before compilation.
type rawFlagDef struct {
	State          string         `json:"state"`
	DefaultVariant string         `json:"defaultVariant"`
	Variants       map[string]any `json:"variants"`
	Targeting      any            `json:"targeting,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// FlagEntry is one compiled flag, ready for evaluation. A non-nil
// PreEvaluated short-circuits evaluation (a disabled flag may carry both
// PreEvaluated and a compiled Targeting; PreEvaluated wins); otherwise
// Targeting is evaluated against the context.
type FlagEntry struct {
	Key            string
	Disabled       bool
	DefaultVariant string
	Variants       map[string]any
	Metadata       map[string]any
	Targeting      *core.Node
	RequiredKeys   core.RequiredKeys
	PreEvaluated   *EvaluationResult
	Index          int

	// Invalid marks a flag that, under permissive mode, failed schema
	// validation or whose targeting failed $ref resolution (an unresolved
	// name, a cycle, or a chain that is too long) or compilation. It is retained
	// in the store (per spec.md §4.4 step 2/3) but every evaluation of it
	// reports PARSE_ERROR.
	Invalid       bool
	InvalidReason string

	// definitionJSON is the canonicalized form of this flag's raw
	// definition, used by diff.go to detect cross-generation changes.
	definitionJSON string
}
