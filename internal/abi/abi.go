//go:build wasip1

// Package abi implements the packed-pointer ABI surface described in
// spec.md §6, for a wasip1 build of flagcore embedded as a WebAssembly
// module. It is the only package in this module that touches unsafe
// pointer arithmetic, and the wasip1 build tag keeps it out of every
// ordinary `go build`/`go test` of the rest of the engine.
//
// Every exported operation packs its JSON result into the engine's own
// linear memory and returns a single uint64: the upper 32 bits are the
// pointer, the lower 32 bits are the byte length. The host reads that
// region and calls dealloc to release it.
package abi

import (
	"encoding/json"
	"runtime"
	"sync"
	"unsafe"

	"github.com/matt-riley/flagcore/evaluator"
	"github.com/matt-riley/flagcore/internal/core"
)

var (
	mu  sync.Mutex
	eng *evaluator.FlagEvaluator

	// pinner keeps every buffer handed out by alloc alive (and unmoved by
	// the GC) until the host calls dealloc, since the host only ever holds
	// a raw pointer, not a Go reference.
	pinner  runtime.Pinner
	buffers = map[uintptr][]byte{}
)

func engine() *evaluator.FlagEvaluator {
	mu.Lock()
	defer mu.Unlock()
	if eng == nil {
		e, _ := evaluator.NewFlagEvaluator()
		eng = e
	}
	return eng
}

// pack combines a pointer and a byte length into the wire return value:
// upper 32 bits pointer, lower 32 bits length.
func pack(ptr unsafe.Pointer, n int) uint64 {
	return (uint64(uintptr(ptr)) << 32) | uint64(uint32(n))
}

func packJSON(v any) uint64 {
	out, err := json.Marshal(v)
	if err != nil {
		out, _ = json.Marshal(map[string]any{"error": err.Error()})
	}
	return packBytes(out)
}

func packBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	ptr := unsafe.Pointer(&b[0])
	pinner.Pin(&b[0])

	mu.Lock()
	buffers[uintptr(ptr)] = b
	mu.Unlock()

	return pack(ptr, len(b))
}

func readString(ptr, length uint32) string {
	if length == 0 {
		return ""
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), length)
	return string(b)
}

// alloc reserves a buffer of length bytes in the engine's linear memory
// and returns a pointer the host may write input bytes into.
//
//go:wasmexport alloc
func alloc(length uint32) uint32 {
	b := make([]byte, length)
	if length == 0 {
		return 0
	}
	ptr := unsafe.Pointer(&b[0])
	pinner.Pin(&b[0])

	mu.Lock()
	buffers[uintptr(ptr)] = b
	mu.Unlock()

	return uint32(uintptr(ptr))
}

// dealloc releases a buffer previously returned by alloc, or by any
// operation's packed pointer.
//
//go:wasmexport dealloc
func dealloc(ptr, length uint32) {
	_ = length
	mu.Lock()
	defer mu.Unlock()
	p := uintptr(ptr)
	if b, ok := buffers[p]; ok {
		pinner.Unpin(&b[0])
		delete(buffers, p)
	}
}

// update_state parses and compiles the config JSON at [ptr, ptr+len) and
// atomically swaps it in as the new flag store generation.
//
//go:wasmexport update_state
func update_state(ptr, length uint32) uint64 {
	configJSON := readString(ptr, length)
	result, _ := engine().UpdateState(configJSON)
	return packJSON(result)
}

// evaluate resolves a flag key against a context, both passed as
// pointer+length string slices.
//
//go:wasmexport evaluate
func evaluate(flagKeyPtr, flagKeyLen, ctxPtr, ctxLen uint32) uint64 {
	return evaluateCommon(flagKeyPtr, flagKeyLen, ctxPtr, ctxLen, false)
}

// evaluate_reusable is semantically identical to evaluate; it exists as a
// distinct export because spec.md §6 calls it out as the entry point for
// host-side reusable input buffers.
//
//go:wasmexport evaluate_reusable
func evaluate_reusable(flagKeyPtr, flagKeyLen, ctxPtr, ctxLen uint32) uint64 {
	return evaluateCommon(flagKeyPtr, flagKeyLen, ctxPtr, ctxLen, true)
}

func evaluateCommon(flagKeyPtr, flagKeyLen, ctxPtr, ctxLen uint32, reusable bool) uint64 {
	flagKey := readString(flagKeyPtr, flagKeyLen)
	ctxJSON := readString(ctxPtr, ctxLen)

	var evalContext map[string]any
	if err := json.Unmarshal([]byte(ctxJSON), &evalContext); err != nil {
		evalContext = map[string]any{}
	}

	var result evaluator.EvaluationResult
	if reusable {
		result = engine().EvaluateFlagReusable(flagKey, evalContext)
	} else {
		result = engine().EvaluateFlag(flagKey, evalContext)
	}
	return packJSON(result)
}

// evaluate_by_index resolves a flag by its store index, skipping the
// flagKey lookup, for hosts that cache indices under a generation fence.
//
//go:wasmexport evaluate_by_index
func evaluate_by_index(index int32, ctxPtr, ctxLen uint32) uint64 {
	ctxJSON := readString(ctxPtr, ctxLen)
	var evalContext map[string]any
	if err := json.Unmarshal([]byte(ctxJSON), &evalContext); err != nil {
		evalContext = map[string]any{}
	}
	result := engine().EvaluateByIndex(int(index), evalContext)
	return packJSON(result)
}

// set_validation_mode switches the engine between strict (0) and
// permissive (1) validation ahead of the next update_state call.
//
//go:wasmexport set_validation_mode
func set_validation_mode(mode uint32) uint64 {
	if mode == 0 {
		engine().SetValidationMode(core.Strict)
	} else {
		engine().SetValidationMode(core.Permissive)
	}
	return packJSON(map[string]bool{"ok": true})
}
