package core

// Kind tags a compiled Node with its operator, so evaluation dispatches
// through a switch rather than a per-node map lookup on the hot path.
type Kind uint8

const (
	KindLiteral Kind = iota
	KindVar
	KindMissing
	KindEq
	KindStrictEq
	KindNotEq
	KindGT
	KindLT
	KindGTE
	KindLTE
	KindAnd
	KindOr
	KindNot
	KindIf
	KindIn
	KindMerge
	KindAdd
	KindSub
	KindMul
	KindDiv
	KindMod
	KindCat
	KindFractional
	KindSemVer
	KindStartsWith
	KindEndsWith
	// KindUnknown is the permissive-mode fallback for an operator token the
	// compiler does not recognize. Evaluating it always yields ErrParse.
	KindUnknown
)

// BucketSpec is one compiled `[variantName, weight]` pair inside a
// fractional operator's argument list.
type BucketSpec struct {
	Name   *Node
	Weight *Node
}

// Node is a compiled rule expression. Exactly one operator-specific field
// set is populated, selected by Kind; the rest stay zero.
type Node struct {
	Kind Kind

	// KindLiteral
	Literal any

	// KindVar / KindMissing
	VarPath        string // static dotted path, set when the name is a JSON string literal
	VarPathExpr    *Node  // compiled name expression, set when the name is itself an operator
	VarDefault     *Node  // optional second argument to `var`
	MissingNames   []*Node

	// generic n-ary operators (and/or/if/in/merge/+/-/*//%/cat and the two
	// equality/four comparison operators, which are always binary but
	// stored the same way for uniformity)
	Args []*Node

	// KindFractional
	FracKeyExpr *Node // nil => use targetingKey
	Buckets     []BucketSpec

	// KindSemVer
	SemLeft  *Node
	SemOp    string
	SemRight *Node

	// KindStartsWith / KindEndsWith
	Haystack *Node
	Needle   *Node

	// KindUnknown
	UnknownOp string
}

// RequiredKeys is the result of walking a compiled tree for the top-level
// context attribute names it reads, per spec.md §4.1.
type RequiredKeys struct {
	Keys    []string
	Dynamic bool // true if a `var` name is itself a computed expression
}

// ExtractRequiredKeys walks root collecting the first dotted segment of
// every static `var` path. `targetingKey` is always included regardless of
// whether the tree references it. `$flagd` is a synthesized root attribute
// the dispatcher always provides, so references to it are not reported as
// required — the host need not supply it.
func ExtractRequiredKeys(root *Node) RequiredKeys {
	seen := map[string]bool{"targetingKey": true}
	rk := RequiredKeys{}
	var walk func(n *Node)
	walk = func(n *Node) {
		if n == nil {
			return
		}
		switch n.Kind {
		case KindVar, KindMissing:
			if n.Kind == KindVar {
				if n.VarPathExpr != nil {
					rk.Dynamic = true
					walk(n.VarPathExpr)
				} else {
					seg := firstSegment(n.VarPath)
					if seg != "" && seg != "$flagd" && !seen[seg] {
						seen[seg] = true
					}
				}
				walk(n.VarDefault)
			}
			for _, m := range n.MissingNames {
				walk(m)
			}
		case KindFractional:
			walk(n.FracKeyExpr)
			for _, b := range n.Buckets {
				walk(b.Name)
				walk(b.Weight)
			}
		case KindSemVer:
			walk(n.SemLeft)
			walk(n.SemRight)
		case KindStartsWith, KindEndsWith:
			walk(n.Haystack)
			walk(n.Needle)
		default:
			for _, a := range n.Args {
				walk(a)
			}
		}
	}
	walk(root)

	for k := range seen {
		rk.Keys = append(rk.Keys, k)
	}
	return rk
}

func firstSegment(path string) string {
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			return path[:i]
		}
	}
	return path
}
