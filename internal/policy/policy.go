// Package policy holds the minimal AST shape the (out-of-scope) parser
// hands to the evaluation core: bundles, bodies, promises, and
// constraints. Ownership runs one way, parent to child, by value/slice;
// a promise's back-references to its bundle and subtype are arena
// indices into the Policy that owns everything, never pointers, so the
// structure has no cycles to reason about.
package policy

import "fmt"

// ConstraintValue is whatever a constraint's right-hand side evaluates to
// before promise actuation resolves variable references in it: a literal,
// a list, or a nested attribute map, mirroring the parser's loosely-typed
// rval.
type ConstraintValue any

// Constraint is one `lval => rval` pair inside a promise body.
type Constraint struct {
	Lval string
	Rval ConstraintValue
}

// Promise is a single promise within a bundle: a promiser value plus its
// constraint list, a promise type (files, packages, classes, ...), and the
// handle derived by the pipeline when it starts actuation.
type Promise struct {
	Handle      string
	Promiser    string
	Constraints []Constraint

	// bundleIndex and subtypeIndex are back-references resolved by lookup
	// into the owning Policy; they are never traversed as pointers.
	bundleIndex  int
	subtypeIndex int
}

// Subtype groups promises of one type ("files", "packages", ...) within a
// bundle.
type Subtype struct {
	Name     string
	Promises []Promise
}

// Bundle is a named, typed collection of promise subtypes.
type Bundle struct {
	Namespace string
	Name      string
	Kind      string // "agent", "common", "edit_line", ...
	Subtypes  []Subtype
}

// Body is a named attribute template (`files_attributes`, `action`, ...)
// referenced by promises via its constraints.
type Body struct {
	Namespace string
	Name      string
	Kind      string
	Constraints []Constraint
}

// Policy owns every Bundle and Body produced by a parse. It is the arena a
// Promise's bundleIndex/subtypeIndex back-references resolve against.
type Policy struct {
	Bundles []Bundle
	Bodies  []Body
}

// PromiseRef locates one promise for back-reference resolution.
type PromiseRef struct {
	BundleIndex  int
	SubtypeIndex int
	PromiseIndex int
}

// Bundle resolves ref's owning bundle by lookup (never a stored pointer).
func (p *Policy) Bundle(ref PromiseRef) (*Bundle, bool) {
	if ref.BundleIndex < 0 || ref.BundleIndex >= len(p.Bundles) {
		return nil, false
	}
	return &p.Bundles[ref.BundleIndex], true
}

// Subtype resolves ref's owning subtype.
func (p *Policy) Subtype(ref PromiseRef) (*Subtype, bool) {
	b, ok := p.Bundle(ref)
	if !ok {
		return nil, false
	}
	if ref.SubtypeIndex < 0 || ref.SubtypeIndex >= len(b.Subtypes) {
		return nil, false
	}
	return &b.Subtypes[ref.SubtypeIndex], true
}

// Promise resolves ref to the concrete promise it names.
func (p *Policy) Promise(ref PromiseRef) (*Promise, bool) {
	s, ok := p.Subtype(ref)
	if !ok {
		return nil, false
	}
	if ref.PromiseIndex < 0 || ref.PromiseIndex >= len(s.Promises) {
		return nil, false
	}
	promise := &s.Promises[ref.PromiseIndex]
	promise.bundleIndex = ref.BundleIndex
	promise.subtypeIndex = ref.SubtypeIndex
	return promise, true
}

// Problem describes one internally-inconsistent piece of a Policy found
// by Validate: a constraint lval bound twice on the same promise, or an
// empty name where the AST requires one.
type Problem struct {
	Bundle  string
	Subtype string
	Promise string
	Message string
}

// Validate walks every bundle/subtype/promise in p looking for the
// structural inconsistencies a loader would otherwise let through
// silently: an unnamed bundle or subtype, and a promise that binds the
// same lval more than once (the parser's "variable typed twice"
// failure). It reports every problem found rather than stopping at the
// first, since a caller rejecting the run wants the complete list.
func (p *Policy) Validate() []Problem {
	var problems []Problem
	for _, b := range p.Bundles {
		if b.Name == "" {
			problems = append(problems, Problem{Message: "bundle has no name"})
			continue
		}
		for _, st := range b.Subtypes {
			if st.Name == "" {
				problems = append(problems, Problem{Bundle: b.Name, Message: "subtype has no name"})
				continue
			}
			for _, pr := range st.Promises {
				seen := make(map[string]bool, len(pr.Constraints))
				for _, c := range pr.Constraints {
					if seen[c.Lval] {
						problems = append(problems, Problem{
							Bundle:  b.Name,
							Subtype: st.Name,
							Promise: pr.Promiser,
							Message: fmt.Sprintf("constraint %q bound more than once", c.Lval),
						})
					}
					seen[c.Lval] = true
				}
			}
		}
	}
	return problems
}

// FindConstraint returns the value bound to lval, if present.
func (p Promise) FindConstraint(lval string) (ConstraintValue, bool) {
	for _, c := range p.Constraints {
		if c.Lval == lval {
			return c.Rval, true
		}
	}
	return nil, false
}
