// Package evalctx implements the evaluation context: a process-wide
// singleton stack of scopes holding classes and variables, promise
// iteration expansion, and the outcome-counter summary the actuation
// pipeline reports into.
package evalctx

import (
	"fmt"
	"regexp"

	"github.com/cfengine-go/agentcore/internal/expr"
	"github.com/cfengine-go/agentcore/internal/util"
)

// ScopeKind distinguishes a scope's declared lifetime: a Bundle-scoped
// binding is deleted when its scope is popped, a Namespace-scoped one
// survives.
type ScopeKind int

const (
	Bundle ScopeKind = iota
	Namespace
)

// DataType tags a variable binding so re-assignment within the same
// promise can be rejected if the type would change.
type DataType int

const (
	TypeString DataType = iota
	TypeSlist
	TypeInt
	TypeReal
)

// Class is one inserted class.
type Class struct {
	Namespace string
	Name      string
	IsHard    bool
	Scope     ScopeKind
	Tags      []string
}

// FullyQualifiedName is the "namespace:name" form class_match scans over.
func (c Class) FullyQualifiedName() string {
	if c.Namespace == "" {
		return c.Name
	}
	return c.Namespace + ":" + c.Name
}

// Variable is one inserted variable binding.
type Variable struct {
	Value    any
	DataType DataType
	Tags     []string
}

type scope struct {
	kind      ScopeKind
	name      string
	classes   *util.Map[string, Class]
	variables *util.Map[string, Variable]
}

func newScope(kind ScopeKind, name string) *scope {
	return &scope{kind: kind, name: name, classes: util.NewMap[string, Class](), variables: util.NewMap[string, Variable]()}
}

// Outcome is the ordered promise-outcome lattice.
type Outcome int

const (
	Skipped Outcome = iota
	NoOp
	Change
	Warn
	Fail
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "Skipped"
	case NoOp:
		return "NoOp"
	case Change:
		return "Change"
	case Warn:
		return "Warn"
	case Fail:
		return "Fail"
	default:
		return "Unknown"
	}
}

// Combine returns the maximum (in lattice order) of a and b; Skipped is
// its identity.
func Combine(a, b Outcome) Outcome {
	if a > b {
		return a
	}
	return b
}

// Summary accumulates per-outcome counts for the end-of-run compliance
// line.
type Summary struct {
	counts [Fail + 1]int
}

// Record increments the counter for outcome o.
func (s *Summary) Record(o Outcome) { s.counts[o]++ }

// CompliancePercentages returns (kept%, repaired%, not-repaired%) over all
// recorded outcomes, where "kept" is NoOp, "repaired" is Change, and
// "not repaired" is Warn+Fail. Skipped promises are excluded from the
// denominator since they were never evaluated against the system.
func (s *Summary) CompliancePercentages() (kept, repaired, notRepaired float64) {
	total := s.counts[NoOp] + s.counts[Change] + s.counts[Warn] + s.counts[Fail]
	if total == 0 {
		return 0, 0, 0
	}
	kept = 100 * float64(s.counts[NoOp]) / float64(total)
	repaired = 100 * float64(s.counts[Change]) / float64(total)
	notRepaired = 100 * float64(s.counts[Warn]+s.counts[Fail]) / float64(total)
	return kept, repaired, notRepaired
}

// Context is the evaluation context: a stack of scopes plus the outcome
// summary, intended to be constructed once per process (per §9 "Global
// mutable state" — the evaluation context singleton) and threaded through
// the actuation pipeline.
type Context struct {
	scopes  *util.Stack[*scope]
	mirror  []*scope // parallel to scopes, innermost-last, for enumeration
	nsScope *scope   // durable Namespace-lifetime bindings, never popped
	summary Summary
}

// New returns an empty evaluation context.
func New() *Context {
	return &Context{scopes: util.NewStack[*scope]()}
}

// PushScope pushes a new scope onto the stack.
func (c *Context) PushScope(kind ScopeKind, name string) {
	s := newScope(kind, name)
	c.scopes.Push(s)
	c.mirror = append(c.mirror, s)
}

// PopScope pops the current scope. Its classes and variables are simply
// discarded along with it. Namespace-lifetime classes survive because
// ClassPut stores them in the durable namespace scope; VarPut has no
// lifetime and binds in the innermost scope, so variables put while a
// scope is pushed are discarded with it.
func (c *Context) PopScope() error {
	_, ok := c.scopes.Pop()
	if !ok {
		return fmt.Errorf("evalctx: pop on empty scope stack")
	}
	c.mirror = c.mirror[:len(c.mirror)-1]
	return nil
}

// ClassPut inserts (or overwrites) a class. The name is canonicalized so
// that e.g. "my.host" and "my_host" collide by design.
func (c *Context) ClassPut(namespace, name string, isHard bool, kind ScopeKind, tags []string) error {
	top, ok := c.scopes.Peek()
	if !ok {
		return fmt.Errorf("evalctx: class_put with no scope pushed")
	}
	canon := util.CanonifyName(name)
	cls := Class{Namespace: namespace, Name: canon, IsHard: isHard, Scope: kind, Tags: tags}
	if kind == Namespace {
		c.namespaceClasses().Put(cls.FullyQualifiedName(), cls)
	} else {
		top.classes.Put(cls.FullyQualifiedName(), cls)
	}
	return nil
}

// namespaceScope is a scope with durable (Namespace) lifetime that lives
// below the regular bundle stack and is never popped by PopScope.
var namespaceScopeName = "__namespace__"

func (c *Context) namespaceClasses() *util.Map[string, Class] {
	if c.nsScope == nil {
		c.nsScope = newScope(Namespace, namespaceScopeName)
	}
	return c.nsScope.classes
}

func (c *Context) namespaceVariables() *util.Map[string, Variable] {
	if c.nsScope == nil {
		c.nsScope = newScope(Namespace, namespaceScopeName)
	}
	return c.nsScope.variables
}

// ClassRemove deletes a class by its fully qualified name from whichever
// scope holds it.
func (c *Context) ClassRemove(fqName string) {
	if c.nsScope != nil {
		c.nsScope.classes.Delete(fqName)
	}
	for _, s := range c.allScopes() {
		s.classes.Delete(fqName)
	}
}

// ClassMatch scans every class in every live scope and returns the first
// whose fully-qualified name matches re.
func (c *Context) ClassMatch(re *regexp.Regexp) (Class, bool) {
	var found Class
	var ok bool
	visit := func(_ string, cls Class) bool {
		if re.MatchString(cls.FullyQualifiedName()) {
			found, ok = cls, true
			return false
		}
		return true
	}
	if c.nsScope != nil {
		c.nsScope.classes.ForEach(visit)
	}
	if ok {
		return found, true
	}
	for _, s := range c.allScopes() {
		s.classes.ForEach(visit)
		if ok {
			return found, true
		}
	}
	return Class{}, false
}

// VarPut inserts or overwrites a variable binding, rejecting a data-type
// change against an existing binding of the same ref within the same
// (innermost) scope.
func (c *Context) VarPut(ref expr.VariableRef, value any, dt DataType, tags []string) error {
	key := ref.String(true)
	target := c.currentVariables()
	if existing, ok := target.Get(key); ok && existing.DataType != dt {
		return fmt.Errorf("evalctx: variable %s re-assigned with a different data type", key)
	}
	target.Put(key, Variable{Value: value, DataType: dt, Tags: tags})
	return nil
}

// VarGet looks up a variable, searching the current scope outward to the
// namespace-durable scope.
func (c *Context) VarGet(ref expr.VariableRef) (Variable, bool) {
	key := ref.String(true)
	for _, s := range c.allScopes() {
		if v, ok := s.variables.Get(key); ok {
			return v, true
		}
	}
	if c.nsScope != nil {
		if v, ok := c.nsScope.variables.Get(key); ok {
			return v, true
		}
	}
	return Variable{}, false
}

// VarRemove deletes a variable binding by ref from whichever scope holds
// it.
func (c *Context) VarRemove(ref expr.VariableRef) {
	key := ref.String(true)
	if c.nsScope != nil {
		c.nsScope.variables.Delete(key)
	}
	for _, s := range c.allScopes() {
		s.variables.Delete(key)
	}
}

func (c *Context) currentVariables() *util.Map[string, Variable] {
	if top, ok := c.scopes.Peek(); ok {
		return top.variables
	}
	return c.namespaceVariables()
}

// allScopes returns every live bundle-scoped frame, innermost first. The
// Stack type does not expose iteration, so Context keeps its own slice
// mirror (outermost-first, matching push order) for traversal needs that
// Push/Pop/Peek cannot serve.
func (c *Context) allScopes() []*scope {
	out := make([]*scope, len(c.mirror))
	for i, s := range c.mirror {
		out[len(c.mirror)-1-i] = s
	}
	return out
}

// ReportOutcome folds an outcome into the run summary.
func (c *Context) ReportOutcome(o Outcome) {
	c.summary.Record(o)
}

// Summary returns the accumulated outcome summary.
func (c *Context) Summary() Summary { return c.summary }
