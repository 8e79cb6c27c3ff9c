package core

import "fmt"

var operatorTable = map[string]Kind{
	"==":          KindEq,
	"===":         KindStrictEq,
	"!=":          KindNotEq,
	">":           KindGT,
	"<":           KindLT,
	">=":          KindGTE,
	"<=":          KindLTE,
	"and":         KindAnd,
	"or":          KindOr,
	"!":           KindNot,
	"if":          KindIf,
	"var":         KindVar,
	"missing":     KindMissing,
	"in":          KindIn,
	"merge":       KindMerge,
	"+":           KindAdd,
	"-":           KindSub,
	"*":           KindMul,
	"/":           KindDiv,
	"%":           KindMod,
	"cat":         KindCat,
	"fractional":  KindFractional,
	"sem_ver":     KindSemVer,
	"starts_with": KindStartsWith,
	"ends_with":   KindEndsWith,
}

// Compile parses a JSON-valued rule (as decoded by encoding/json into
// bool/float64/string/nil/[]any/map[string]any) into a Node tree. mode
// controls how unknown operator tokens are handled: Strict rejects them
// here; Permissive defers the failure to evaluation time.
func Compile(raw any, mode ValidationMode) (*Node, error) {
	return compileDepth(raw, mode, 0)
}

func compileDepth(raw any, mode ValidationMode, depth int) (*Node, error) {
	if depth > MaxRuleDepth {
		return nil, fmt.Errorf("rule tree exceeds max depth %d", MaxRuleDepth)
	}

	obj, ok := raw.(map[string]any)
	if !ok || len(obj) != 1 {
		// Not a single-key object: a literal value (including multi-key
		// objects, which JSON-Logic treats as opaque data, not operators).
		return &Node{Kind: KindLiteral, Literal: raw}, nil
	}

	var op string
	var argVal any
	for k, v := range obj {
		op = k
		argVal = v
	}

	args := asArgList(argVal)

	kind, known := operatorTable[op]
	if !known {
		if mode == Strict {
			return nil, fmt.Errorf("unknown operator %q", op)
		}
		return &Node{Kind: KindUnknown, UnknownOp: op}, nil
	}

	switch kind {
	case KindVar:
		return compileVar(args, mode, depth)
	case KindMissing:
		names := make([]*Node, 0, len(args))
		for _, a := range args {
			n, err := compileDepth(a, mode, depth+1)
			if err != nil {
				return nil, err
			}
			names = append(names, n)
		}
		return &Node{Kind: KindMissing, MissingNames: names}, nil
	case KindFractional:
		return compileFractional(args, mode, depth)
	case KindSemVer:
		return compileSemVer(args, mode, depth)
	case KindStartsWith, KindEndsWith:
		if len(args) != 2 {
			return nil, fmt.Errorf("%s requires exactly 2 arguments", op)
		}
		haystack, err := compileDepth(args[0], mode, depth+1)
		if err != nil {
			return nil, err
		}
		needle, err := compileDepth(args[1], mode, depth+1)
		if err != nil {
			return nil, err
		}
		return &Node{Kind: kind, Haystack: haystack, Needle: needle}, nil
	default:
		compiled := make([]*Node, 0, len(args))
		for _, a := range args {
			n, err := compileDepth(a, mode, depth+1)
			if err != nil {
				return nil, err
			}
			compiled = append(compiled, n)
		}
		return &Node{Kind: kind, Args: compiled}, nil
	}
}

// asArgList normalizes a JSON-Logic operator's value into a positional
// argument list: an array value is the list itself, anything else is
// treated as a single-element argument list.
func asArgList(v any) []any {
	if arr, ok := v.([]any); ok {
		return arr
	}
	return []any{v}
}

func compileVar(args []any, mode ValidationMode, depth int) (*Node, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("var requires a name argument")
	}

	n := &Node{Kind: KindVar}
	if name, ok := args[0].(string); ok {
		n.VarPath = name
	} else {
		expr, err := compileDepth(args[0], mode, depth+1)
		if err != nil {
			return nil, err
		}
		n.VarPathExpr = expr
	}

	if len(args) > 1 {
		def, err := compileDepth(args[1], mode, depth+1)
		if err != nil {
			return nil, err
		}
		n.VarDefault = def
	}
	return n, nil
}

// isBucketSpecShape reports whether raw is literally a two-element JSON
// array, the shape of a `[variantName, weight]` bucket specification.
// See spec.md §9's Open Question: this is the disambiguation test applied
// before any evaluation happens, on the raw JSON shape alone.
func isBucketSpecShape(raw any) bool {
	arr, ok := raw.([]any)
	return ok && len(arr) == 2
}

func compileFractional(args []any, mode ValidationMode, depth int) (*Node, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("fractional requires at least 2 bucket specifications")
	}

	allBucketShape := true
	for _, a := range args {
		if !isBucketSpecShape(a) {
			allBucketShape = false
			break
		}
	}

	var keyExpr *Node
	bucketsRaw := args
	if !allBucketShape {
		keyArg := args[0]
		// The corpus also writes the bucketing key wrapped in a one-element
		// array, e.g. [{"var":"targetingKey"}], rather than bare. Unwrap it
		// so the inner expression compiles instead of being treated as an
		// opaque literal array.
		if arr, ok := keyArg.([]any); ok && len(arr) == 1 {
			keyArg = arr[0]
		}
		expr, err := compileDepth(keyArg, mode, depth+1)
		if err != nil {
			return nil, err
		}
		keyExpr = expr
		bucketsRaw = args[1:]
	}

	if len(bucketsRaw) < 2 {
		return nil, fmt.Errorf("fractional requires at least 2 bucket specifications")
	}

	buckets := make([]BucketSpec, 0, len(bucketsRaw))
	for _, raw := range bucketsRaw {
		arr, ok := raw.([]any)
		if !ok || len(arr) != 2 {
			return nil, fmt.Errorf("fractional bucket must be a [variant, weight] pair")
		}
		nameNode, err := compileDepth(arr[0], mode, depth+1)
		if err != nil {
			return nil, err
		}
		weightNode, err := compileDepth(arr[1], mode, depth+1)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, BucketSpec{Name: nameNode, Weight: weightNode})
	}

	return &Node{Kind: KindFractional, FracKeyExpr: keyExpr, Buckets: buckets}, nil
}

func compileSemVer(args []any, mode ValidationMode, depth int) (*Node, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("sem_ver requires exactly 3 arguments [a, op, b]")
	}
	left, err := compileDepth(args[0], mode, depth+1)
	if err != nil {
		return nil, err
	}
	op, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("sem_ver operator must be a string")
	}
	right, err := compileDepth(args[2], mode, depth+1)
	if err != nil {
		return nil, err
	}
	return &Node{Kind: KindSemVer, SemLeft: left, SemOp: op, SemRight: right}, nil
}
