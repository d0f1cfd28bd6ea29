package expr

import (
	"fmt"
	"strings"
)

// reservedNames are rejected as the lval of a variable reference; they are
// resolved specially by the evaluation context instead.
var reservedNames = map[string]bool{
	"promiser": true, "handle": true, "promise_filename": true,
	"promise_dirname": true, "promise_linenumber": true, "this": true,
}

// specialScopes never receive a namespace when a reference is qualified
// against a bundle; only their scope is set.
var specialScopes = map[string]bool{"sys": true, "const": true, "mon": true, "edit": true}

// VariableRef is a parsed `"ns:scope.lval[i1][i2]..."` reference. Indices
// are kept as their verbatim substrings (which may themselves contain
// nested variable references) so a caller can expand them later rather
// than eagerly evaluating during parse.
type VariableRef struct {
	Namespace string
	Scope     string
	Lval      string
	Indices   []string
}

// ParseVariableRef parses s into a VariableRef. It rejects reserved lvals.
func ParseVariableRef(s string) (VariableRef, error) {
	rest := s
	var indices []string
	if i := strings.IndexByte(rest, '['); i >= 0 {
		base := rest[:i]
		idxPart := rest[i:]
		for len(idxPart) > 0 {
			if idxPart[0] != '[' {
				return VariableRef{}, fmt.Errorf("expr: malformed index in %q", s)
			}
			depth := 0
			j := 0
			for ; j < len(idxPart); j++ {
				switch idxPart[j] {
				case '[':
					depth++
				case ']':
					depth--
					if depth == 0 {
						goto closed
					}
				}
			}
			return VariableRef{}, fmt.Errorf("expr: unterminated index in %q", s)
		closed:
			indices = append(indices, idxPart[1:j])
			idxPart = idxPart[j+1:]
		}
		rest = base
	}

	var namespace, scope, lval string
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		namespace = rest[:i]
		rest = rest[i+1:]
	}
	if i := strings.IndexByte(rest, '.'); i >= 0 {
		scope = rest[:i]
		lval = rest[i+1:]
	} else {
		lval = rest
	}

	if lval == "" {
		return VariableRef{}, fmt.Errorf("expr: empty lval in %q", s)
	}
	if reservedNames[lval] {
		return VariableRef{}, fmt.Errorf("expr: %q is a reserved variable name", lval)
	}

	return VariableRef{Namespace: namespace, Scope: scope, Lval: lval, Indices: indices}, nil
}

// Qualify lifts an unqualified reference into bundleNamespace/bundleScope.
// A reference that already has a Namespace or Scope (sys.*-style
// references included) is returned unchanged, so a special scope keeps
// an empty namespace. A bare reference whose Lval is itself a special
// scope name is also returned unchanged.
func (r VariableRef) Qualify(bundleNamespace, bundleScope string) VariableRef {
	if r.Namespace != "" || r.Scope != "" {
		return r
	}
	out := r
	if specialScopes[r.Lval] {
		return out
	}
	out.Namespace = bundleNamespace
	out.Scope = bundleScope
	return out
}

// String renders r back to its canonical textual form. With qualified
// false, Namespace is omitted even if set (used to print the form a user
// would have typed before qualification).
func (r VariableRef) String(qualified bool) string {
	var b strings.Builder
	if qualified && r.Namespace != "" {
		b.WriteString(r.Namespace)
		b.WriteByte(':')
	}
	if r.Scope != "" {
		b.WriteString(r.Scope)
		b.WriteByte('.')
	}
	b.WriteString(r.Lval)
	for _, idx := range r.Indices {
		b.WriteByte('[')
		b.WriteString(idx)
		b.WriteByte(']')
	}
	return b.String()
}
