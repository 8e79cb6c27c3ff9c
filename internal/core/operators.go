package core

// evalFractional resolves a fractional-targeting node: hash the bucketing
// key with MurmurHash3 x86-32 (seed 0), scale the result onto [0, total
// weight), truncate it, and walk the weighted buckets in order until the
// cumulative weight strictly exceeds it.
func evalFractional(n *Node, data map[string]any) (any, *EvalError) {
	var key string
	if n.FracKeyExpr != nil {
		v, err := Eval(n.FracKeyExpr, data)
		if err != nil {
			return nil, err
		}
		if arr, ok := v.([]any); ok && len(arr) == 1 {
			v = arr[0]
		}
		s, ok := v.(string)
		if !ok {
			return nil, parseErrorf("fractional bucketing key must be a string")
		}
		key = s
	} else {
		v := lookupPath(data, "targetingKey")
		s, ok := v.(string)
		if !ok || s == "" {
			return nil, parseErrorf("fractional: missing bucketing key")
		}
		key = s
	}

	type bucket struct {
		name   string
		weight float64
	}

	resolved := make([]bucket, 0, len(n.Buckets))
	total := 0.0
	for _, b := range n.Buckets {
		nameVal, err := Eval(b.Name, data)
		if err != nil {
			return nil, err
		}
		name, ok := nameVal.(string)
		if !ok {
			return nil, parseErrorf("fractional bucket name must be a string")
		}
		weightVal, err := Eval(b.Weight, data)
		if err != nil {
			return nil, err
		}
		weight, ok := toNumber(weightVal)
		if !ok || weight < 0 {
			return nil, parseErrorf("fractional bucket weight must be a non-negative number")
		}
		resolved = append(resolved, bucket{name: name, weight: weight})
		total += weight
	}
	if total <= 0 {
		return nil, parseErrorf("fractional buckets must have a positive total weight")
	}

	h := murmur3_32([]byte(key), 0)
	target := (float64(h) / 4294967296.0) * total
	bucketValue := float64(int64(target))

	cursor := 0.0
	for _, b := range resolved {
		cursor += b.weight
		if cursor > bucketValue {
			return b.name, nil
		}
	}
	return resolved[len(resolved)-1].name, nil
}

// evalSemVer resolves a sem_ver comparison node.
func evalSemVer(n *Node, data map[string]any) (any, *EvalError) {
	leftVal, err := Eval(n.SemLeft, data)
	if err != nil {
		return nil, err
	}
	rightVal, err := Eval(n.SemRight, data)
	if err != nil {
		return nil, err
	}
	leftStr, lok := leftVal.(string)
	rightStr, rok := rightVal.(string)
	if !lok || !rok {
		return nil, parseErrorf("sem_ver operands must be strings")
	}

	left, perr := parseSemVer(leftStr)
	if perr != nil {
		return nil, parseErrorf("sem_ver: %v", perr)
	}
	right, perr := parseSemVer(rightStr)
	if perr != nil {
		return nil, parseErrorf("sem_ver: %v", perr)
	}

	return compareSemVer(left, n.SemOp, right)
}
