package expr

// RefKind distinguishes a scalar `$(...)` reference from a list `@(...)`
// reference; the bit flows through to the caller so lists can expand into
// iteration sources instead of being flattened to text.
type RefKind int

const (
	Scalar RefKind = iota
	List
)

// StringExpr is a string expression tree node.
type StringExpr struct {
	kind stringKind
	lit  string
	a, b *StringExpr
	name *StringExpr
	ref  RefKind
}

type stringKind int

const (
	kindLiteral stringKind = iota
	kindConcat
	kindVarRef
)

// Literal builds a literal text node.
func Literal(s string) *StringExpr { return &StringExpr{kind: kindLiteral, lit: s} }

// Concat builds a concatenation of two sub-expressions.
func Concat(a, b *StringExpr) *StringExpr { return &StringExpr{kind: kindConcat, a: a, b: b} }

// VarRef builds a variable reference node whose name is itself a string
// expression (to allow `$($(indirect))`-style indirection) and whose kind
// selects scalar vs list expansion.
func VarRef(name *StringExpr, kind RefKind) *StringExpr {
	return &StringExpr{kind: kindVarRef, name: name, ref: kind}
}

// EvalString evaluates tree, returning ok=false if any sub-evaluation
// (a failed variable reference, a nested name evaluation) fails.
func EvalString(tree *StringExpr, varRefEval VarRefEval) (string, bool) {
	if tree == nil {
		return "", false
	}
	switch tree.kind {
	case kindLiteral:
		return tree.lit, true

	case kindConcat:
		a, ok := EvalString(tree.a, varRefEval)
		if !ok {
			return "", false
		}
		b, ok := EvalString(tree.b, varRefEval)
		if !ok {
			return "", false
		}
		return a + b, true

	case kindVarRef:
		name, ok := EvalString(tree.name, varRefEval)
		if !ok {
			return "", false
		}
		return varRefEval(name, tree.ref)

	default:
		return "", false
	}
}
