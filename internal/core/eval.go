package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Eval applies a compiled rule tree to a data object. It never panics:
// unknown operators and shape mismatches return an ErrParse; type
// coercion failures that JSON-Logic treats leniently return (nil, nil).
func Eval(n *Node, data map[string]any) (any, *EvalError) {
	if n == nil {
		return nil, nil
	}

	switch n.Kind {
	case KindLiteral:
		return n.Literal, nil

	case KindVar:
		return evalVar(n, data)

	case KindMissing:
		missing := make([]any, 0)
		for _, nameNode := range n.MissingNames {
			v, err := Eval(nameNode, data)
			if err != nil {
				return nil, err
			}
			name, _ := v.(string)
			if lookupPath(data, name) == nil {
				missing = append(missing, name)
			}
		}
		return missing, nil

	case KindEq, KindStrictEq, KindNotEq:
		return evalEquality(n, data)

	case KindGT, KindLT, KindGTE, KindLTE:
		return evalComparison(n, data)

	case KindAnd:
		return evalAnd(n, data)

	case KindOr:
		return evalOr(n, data)

	case KindNot:
		if len(n.Args) == 0 {
			return true, nil
		}
		v, err := Eval(n.Args[0], data)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil

	case KindIf:
		return evalIf(n, data)

	case KindIn:
		return evalIn(n, data)

	case KindMerge:
		return evalMerge(n, data)

	case KindAdd, KindSub, KindMul, KindDiv, KindMod:
		return evalArithmetic(n, data)

	case KindCat:
		var sb strings.Builder
		for _, a := range n.Args {
			v, err := Eval(a, data)
			if err != nil {
				return nil, err
			}
			sb.WriteString(toDisplayString(v))
		}
		return sb.String(), nil

	case KindFractional:
		return evalFractional(n, data)

	case KindSemVer:
		return evalSemVer(n, data)

	case KindStartsWith:
		return evalAffix(n, data, true)

	case KindEndsWith:
		return evalAffix(n, data, false)

	case KindUnknown:
		return nil, parseErrorf("unknown operator: %s", n.UnknownOp)

	default:
		return nil, parseErrorf("unhandled node kind %d", n.Kind)
	}
}

func evalVar(n *Node, data map[string]any) (any, *EvalError) {
	path := n.VarPath
	if n.VarPathExpr != nil {
		v, err := Eval(n.VarPathExpr, data)
		if err != nil {
			return nil, err
		}
		name, ok := v.(string)
		if !ok {
			return nil, nil
		}
		path = name
	}

	result := lookupPath(data, path)
	if result == nil && n.VarDefault != nil {
		return Eval(n.VarDefault, data)
	}
	return result, nil
}

func lookupPath(data map[string]any, path string) any {
	if path == "" {
		return data
	}
	var cur any = data
	for _, segment := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			cur = v[segment]
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil
			}
			cur = v[idx]
		default:
			return nil
		}
	}
	return cur
}

func evalArgs(args []*Node, data map[string]any) ([]any, *EvalError) {
	values := make([]any, 0, len(args))
	for _, a := range args {
		v, err := Eval(a, data)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func evalEquality(n *Node, data map[string]any) (any, *EvalError) {
	values, err := evalArgs(n.Args, data)
	if err != nil {
		return nil, err
	}
	if len(values) != 2 {
		return nil, parseErrorf("%s requires exactly 2 arguments", equalityToken(n.Kind))
	}
	switch n.Kind {
	case KindEq:
		return looseEquals(values[0], values[1]), nil
	case KindStrictEq:
		return strictEquals(values[0], values[1]), nil
	default: // KindNotEq
		return !looseEquals(values[0], values[1]), nil
	}
}

func equalityToken(k Kind) string {
	switch k {
	case KindEq:
		return "=="
	case KindStrictEq:
		return "==="
	default:
		return "!="
	}
}

func evalComparison(n *Node, data map[string]any) (any, *EvalError) {
	values, err := evalArgs(n.Args, data)
	if err != nil {
		return nil, err
	}
	if len(values) != 2 {
		return nil, parseErrorf("comparison operator requires exactly 2 arguments")
	}
	left, lok := toNumber(values[0])
	right, rok := toNumber(values[1])
	if !lok || !rok {
		return nil, nil
	}
	switch n.Kind {
	case KindGT:
		return left > right, nil
	case KindLT:
		return left < right, nil
	case KindGTE:
		return left >= right, nil
	default: // KindLTE
		return left <= right, nil
	}
}

func evalAnd(n *Node, data map[string]any) (any, *EvalError) {
	var last any
	for _, a := range n.Args {
		v, err := Eval(a, data)
		if err != nil {
			return nil, err
		}
		if !truthy(v) {
			return v, nil
		}
		last = v
	}
	return last, nil
}

func evalOr(n *Node, data map[string]any) (any, *EvalError) {
	var last any
	for _, a := range n.Args {
		v, err := Eval(a, data)
		if err != nil {
			return nil, err
		}
		if truthy(v) {
			return v, nil
		}
		last = v
	}
	return last, nil
}

func evalIf(n *Node, data map[string]any) (any, *EvalError) {
	args := n.Args
	i := 0
	for i+1 < len(args) {
		cond, err := Eval(args[i], data)
		if err != nil {
			return nil, err
		}
		if truthy(cond) {
			return Eval(args[i+1], data)
		}
		i += 2
	}
	if i < len(args) {
		return Eval(args[i], data)
	}
	return nil, nil
}

func evalIn(n *Node, data map[string]any) (any, *EvalError) {
	values, err := evalArgs(n.Args, data)
	if err != nil {
		return nil, err
	}
	if len(values) != 2 {
		return nil, parseErrorf("in requires exactly 2 arguments")
	}
	needle, haystack := values[0], values[1]

	switch h := haystack.(type) {
	case string:
		s, ok := needle.(string)
		if !ok {
			return false, nil
		}
		return strings.Contains(h, s), nil
	case []any:
		for _, item := range h {
			if looseEquals(needle, item) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, nil
	}
}

func evalMerge(n *Node, data map[string]any) (any, *EvalError) {
	values, err := evalArgs(n.Args, data)
	if err != nil {
		return nil, err
	}
	merged := make([]any, 0, len(values))
	for _, v := range values {
		if arr, ok := v.([]any); ok {
			merged = append(merged, arr...)
		} else {
			merged = append(merged, v)
		}
	}
	return merged, nil
}

func evalArithmetic(n *Node, data map[string]any) (any, *EvalError) {
	values, err := evalArgs(n.Args, data)
	if err != nil {
		return nil, err
	}

	if n.Kind == KindSub && len(values) == 1 {
		v, ok := toNumber(values[0])
		if !ok {
			return nil, nil
		}
		return -v, nil
	}
	if n.Kind == KindAdd && len(values) == 1 {
		v, ok := toNumber(values[0])
		if !ok {
			return nil, nil
		}
		return v, nil
	}
	if len(values) == 0 {
		return nil, nil
	}

	acc, ok := toNumber(values[0])
	if !ok {
		return nil, nil
	}
	for _, raw := range values[1:] {
		v, ok := toNumber(raw)
		if !ok {
			return nil, nil
		}
		switch n.Kind {
		case KindAdd:
			acc += v
		case KindSub:
			acc -= v
		case KindMul:
			acc *= v
		case KindDiv:
			if v == 0 {
				return nil, nil
			}
			acc /= v
		case KindMod:
			if v == 0 {
				return nil, nil
			}
			acc = float64(int64(acc) % int64(v))
		}
	}
	return acc, nil
}

func evalAffix(n *Node, data map[string]any, prefix bool) (any, *EvalError) {
	haystack, err := Eval(n.Haystack, data)
	if err != nil {
		return nil, err
	}
	needle, err := Eval(n.Needle, data)
	if err != nil {
		return nil, err
	}
	h, hok := haystack.(string)
	ndl, nok := needle.(string)
	if !hok || !nok {
		return false, nil
	}
	if prefix {
		return strings.HasPrefix(h, ndl), nil
	}
	return strings.HasSuffix(h, ndl), nil
}

// truthy follows JSON truthiness: 0, "", null, false, and empty arrays are
// falsy; everything else is truthy.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) != 0
	default:
		return true
	}
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func toDisplayString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// looseEquals implements JS-style `==` coercion: numbers and numeric
// strings and booleans-as-0/1 compare across type; everything else falls
// back to an exact match.
func looseEquals(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if strictEquals(a, b) {
		return true
	}

	an, aok := toComparableNumber(a)
	bn, bok := toComparableNumber(b)
	if aok && bok {
		return an == bn
	}
	return false
}

// toComparableNumber coerces bools, numbers, and numeric strings to
// float64 for loose-equality and comparison purposes. Non-numeric strings
// and compound values are not numbers.
func toComparableNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func strictEquals(a, b any) bool {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	default:
		return deepEqual(a, b)
	}
}

func deepEqual(a, b any) bool {
	aArr, aIsArr := a.([]any)
	bArr, bIsArr := b.([]any)
	if aIsArr || bIsArr {
		if !aIsArr || !bIsArr || len(aArr) != len(bArr) {
			return false
		}
		for i := range aArr {
			if !strictEquals(aArr[i], bArr[i]) {
				return false
			}
		}
		return true
	}

	aMap, aIsMap := a.(map[string]any)
	bMap, bIsMap := b.(map[string]any)
	if aIsMap || bIsMap {
		if !aIsMap || !bIsMap || len(aMap) != len(bMap) {
			return false
		}
		for k, av := range aMap {
			bv, ok := bMap[k]
			if !ok || !strictEquals(av, bv) {
				return false
			}
		}
		return true
	}

	return a == b
}
