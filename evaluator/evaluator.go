// Package evaluator is the embeddable, in-process feature-flag evaluation
// core: load flag definitions with UpdateState, then resolve them against
// a request context with EvaluateFlag. It has no persistence, no network
// transport, and no CLI front end — a host application owns all of that
// and links against this package (directly, or through the wasip1 ABI in
// internal/abi) as a pure function of configuration and context.
package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/matt-riley/flagcore/internal/core"
	"github.com/matt-riley/flagcore/internal/logging"
	"github.com/matt-riley/flagcore/internal/metrics"
	"github.com/matt-riley/flagcore/internal/store"
)

// FlagEvaluator is one evaluation-engine instance: a validation mode, an
// injected clock, and a single atomically-swapped flag store. All
// exported methods are safe for concurrent use; the only writer of
// internal state is UpdateState and SetValidationMode.
//
// Hosts wanting parallel evaluation across goroutines run a pool of
// FlagEvaluator instances and call UpdateState on every pool member under
// a mutex they control — this mirrors spec.md §5's explicit call-out that
// the "global mutable state" of the original engine becomes per-instance
// state here, with pooling as the host's responsibility.
type FlagEvaluator struct {
	id     uuid.UUID
	holder *store.Holder
	mode   atomic.Int32

	log     *slog.Logger
	clock   Clock
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Option configures optional FlagEvaluator parameters.
type Option func(*FlagEvaluator)

// WithLogger sets the structured logger used by FlagEvaluator. When
// omitted, a default JSON logger at info level is used. Passing nil is a
// no-op and leaves the existing logger unchanged.
func WithLogger(log *slog.Logger) Option {
	return func(e *FlagEvaluator) {
		if log == nil {
			return
		}
		e.log = log
	}
}

// WithClock overrides the source of $flagd.timestamp. Intended for tests
// and for wasip1 hosts supplying their own monotonic clock import.
func WithClock(clock Clock) Option {
	return func(e *FlagEvaluator) {
		if clock == nil {
			return
		}
		e.clock = clock
	}
}

// WithMetrics attaches Prometheus instrumentation to this instance.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *FlagEvaluator) { e.metrics = m }
}

// WithTracer attaches an OpenTelemetry tracer; UpdateState and every
// EvaluateFlag* call are wrapped in a span when set.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *FlagEvaluator) {
		if tracer == nil {
			return
		}
		e.tracer = tracer
	}
}

// WithStrictValidation rejects unknown operator tokens and schema
// violations at update_state time, failing the whole update. This is the
// default.
func WithStrictValidation() Option {
	return func(e *FlagEvaluator) { e.mode.Store(int32(core.Strict)) }
}

// WithPermissiveValidation retains flags that fail schema or targeting
// validation, marking them invalid instead of aborting the update; any
// evaluation of an invalid flag reports PARSE_ERROR.
func WithPermissiveValidation() Option {
	return func(e *FlagEvaluator) { e.mode.Store(int32(core.Permissive)) }
}

// NewFlagEvaluator constructs a FlagEvaluator with an empty, generation-0
// store. Call UpdateState before evaluating any flag.
func NewFlagEvaluator(opts ...Option) (*FlagEvaluator, error) {
	e := &FlagEvaluator{
		id:     uuid.New(),
		holder: store.NewHolder(),
		log:    logging.New(""),
		clock:  systemClock{},
	}
	e.mode.Store(int32(core.Strict))

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// ID returns this instance's pool-member identifier, for log and metric
// correlation when a host runs several FlagEvaluator instances.
func (e *FlagEvaluator) ID() string {
	return e.id.String()
}

// Close releases this instance. FlagEvaluator holds no file descriptors,
// connections, or goroutines of its own, so Close is currently a no-op;
// it exists so hosts can defer it unconditionally without checking
// whether a future version needs cleanup.
func (e *FlagEvaluator) Close() error {
	return nil
}

// Generation returns the current store generation, incremented on every
// successful UpdateState.
func (e *FlagEvaluator) Generation() uint64 {
	return e.holder.Load().Generation
}

// SetValidationMode changes how the next UpdateState call treats unknown
// operators and schema violations.
func (e *FlagEvaluator) SetValidationMode(mode core.ValidationMode) {
	e.mode.Store(int32(mode))
}

// UpdateState compiles configJSON into a new flag store generation and
// atomically swaps it in. On a strict-mode validation failure the
// previous store is left untouched and the returned error describes why;
// the returned UpdateResult always reflects spec.md §4.4's wire shape
// regardless of success.
func (e *FlagEvaluator) UpdateState(configJSON string) (*UpdateResult, error) {
	ctx := context.Background()
	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "flagcore.update_state")
		defer span.End()
	}
	_ = ctx

	start := time.Now()
	mode := core.ValidationMode(e.mode.Load())
	result := e.holder.Update([]byte(configJSON), mode)
	elapsed := time.Since(start).Seconds()

	if e.metrics != nil {
		e.metrics.RecordUpdateState(result.Success, elapsed)
		if result.Success {
			s := e.holder.Load()
			invalid := 0
			for _, entry := range s.Flags {
				if entry.Invalid {
					invalid++
				}
			}
			e.metrics.SetStoreStats(s.Generation, len(s.Flags), invalid)
		}
	}

	if !result.Success {
		if e.log != nil {
			e.log.Warn("update_state failed", "evaluator_id", e.id, "error", result.Error)
		}
		return result, fmt.Errorf("update_state: %s", result.Error)
	}

	if e.log != nil {
		e.log.Info("update_state applied", "evaluator_id", e.id, "generation", e.Generation(), "changed_flags", len(result.ChangedFlags))
	}
	return result, nil
}

// EvaluateFlag resolves flagKey against context, per spec.md §4.5.
func (e *FlagEvaluator) EvaluateFlag(flagKey string, evalContext map[string]any) EvaluationResult {
	return e.evaluate(flagKey, evalContext, "flagcore.evaluate")
}

// EvaluateFlagReusable is semantically identical to EvaluateFlag. It is
// named separately because spec.md §4.5 calls it out as the entry point
// intended for host-side reusable input buffers; this package never
// retains a reference to evalContext after returning, so no additional
// handling is required at this layer.
func (e *FlagEvaluator) EvaluateFlagReusable(flagKey string, evalContext map[string]any) EvaluationResult {
	return e.evaluate(flagKey, evalContext, "flagcore.evaluate_reusable")
}

func (e *FlagEvaluator) evaluate(flagKey string, evalContext map[string]any, spanName string) EvaluationResult {
	ctx := context.Background()
	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, spanName)
		defer span.End()
	}
	_ = ctx

	start := time.Now()
	s := e.holder.Load()

	var result EvaluationResult
	entry, ok := s.Flags[flagKey]
	if !ok {
		result = EvaluationResult{
			Reason:       ReasonFlagNotFound,
			ErrorCode:    ErrorCodeFlagNotFound,
			ErrorMessage: fmt.Sprintf("flag: %s not found", flagKey),
		}
	} else {
		result = e.evaluateEntry(entry, flagKey, evalContext)
	}

	if e.metrics != nil {
		e.metrics.RecordEvaluation(string(result.Reason), time.Since(start).Seconds())
	}
	return result
}

// EvaluateByIndex skips the flagKey lookup and uses the index assigned by
// the most recent UpdateState directly, per spec.md §4.5. Hosts that
// cache an index must do so under a generation fence, since indices are
// reassigned on every successful UpdateState.
func (e *FlagEvaluator) EvaluateByIndex(index int, evalContext map[string]any) EvaluationResult {
	s := e.holder.Load()
	if index < 0 || index >= len(s.ByIndex) {
		return EvaluationResult{
			Reason:       ReasonFlagNotFound,
			ErrorCode:    ErrorCodeFlagNotFound,
			ErrorMessage: fmt.Sprintf("flag index %d out of range", index),
		}
	}
	entry := s.ByIndex[index]
	result := e.evaluateEntry(entry, entry.Key, evalContext)
	if e.metrics != nil {
		e.metrics.RecordEvaluation(string(result.Reason), 0)
	}
	return result
}

func (e *FlagEvaluator) evaluateEntry(entry *store.FlagEntry, flagKey string, evalContext map[string]any) EvaluationResult {
	if entry.PreEvaluated != nil {
		result := *entry.PreEvaluated
		result.FlagMetadata = entry.Metadata
		return result
	}

	enriched := enrichContext(evalContext, flagKey, e.clock.NowUnixSeconds())
	resolved, evalErr := core.Eval(entry.Targeting, enriched)
	if evalErr != nil {
		return EvaluationResult{
			Reason:       ReasonError,
			ErrorCode:    ErrorCodeParseError,
			ErrorMessage: evalErr.Error(),
			FlagMetadata: entry.Metadata,
		}
	}

	if resolved == nil {
		return EvaluationResult{
			Value:        entry.Variants[entry.DefaultVariant],
			Variant:      entry.DefaultVariant,
			Reason:       ReasonDefault,
			FlagMetadata: entry.Metadata,
		}
	}

	if name, ok := resolved.(string); ok {
		if val, ok := entry.Variants[name]; ok {
			return EvaluationResult{Value: val, Variant: name, Reason: ReasonTargetingMatch, FlagMetadata: entry.Metadata}
		}
	}

	if name, ok := matchVariantValue(entry.Variants, resolved); ok {
		return EvaluationResult{Value: entry.Variants[name], Variant: name, Reason: ReasonTargetingMatch, FlagMetadata: entry.Metadata}
	}

	return EvaluationResult{
		Reason:       ReasonError,
		ErrorCode:    ErrorCodeGeneral,
		ErrorMessage: "variant not found",
		FlagMetadata: entry.Metadata,
	}
}

// enrichContext copies evalContext (never mutating the caller's map),
// defaults targetingKey to "", and synthesizes $flagd.flagKey and
// $flagd.timestamp, per spec.md §4.5 step 3.
func enrichContext(evalContext map[string]any, flagKey string, nowUnix int64) map[string]any {
	enriched := make(map[string]any, len(evalContext)+2)
	for k, v := range evalContext {
		enriched[k] = v
	}
	if _, ok := enriched["targetingKey"]; !ok {
		enriched["targetingKey"] = ""
	}
	enriched["$flagd"] = map[string]any{
		"flagKey":   flagKey,
		"timestamp": nowUnix,
	}
	return enriched
}

// matchVariantValue implements the "shorthand" targeting outcome of
// spec.md §4.5 step 4: the rule returned a bare value rather than a
// variant name, so a variant whose value deep-equals it wins. Variants are
// visited in Go map order, so when several variants share that value,
// which one is returned is not defined.
func matchVariantValue(variants map[string]any, value any) (string, bool) {
	for name, v := range variants {
		if reflect.DeepEqual(v, value) {
			return name, true
		}
	}
	return "", false
}
