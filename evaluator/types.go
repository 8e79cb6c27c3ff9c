package evaluator

import "github.com/matt-riley/flagcore/internal/store"

// Reason and ErrorCode re-export the store package's wire vocabulary so
// callers outside this module never need to reach into internal/store.
type Reason = store.Reason

const (
	ReasonStatic         = store.ReasonStatic
	ReasonTargetingMatch = store.ReasonTargetingMatch
	ReasonDefault        = store.ReasonDefault
	ReasonDisabled       = store.ReasonDisabled
	ReasonError          = store.ReasonError
	ReasonFlagNotFound   = store.ReasonFlagNotFound
)

type ErrorCode = store.ErrorCode

const (
	ErrorCodeFlagNotFound = store.ErrorCodeFlagNotFound
	ErrorCodeParseError   = store.ErrorCodeParseError
	ErrorCodeTypeMismatch = store.ErrorCodeTypeMismatch
	ErrorCodeGeneral      = store.ErrorCodeGeneral
)

// EvaluationResult is the bit-exact wire shape returned by EvaluateFlag,
// EvaluateFlagReusable, and EvaluateByIndex (spec.md §6).
type EvaluationResult = store.EvaluationResult

// UpdateResult is the bit-exact wire shape returned by UpdateState
// (spec.md §4.4).
type UpdateResult = store.UpdateResult
