// Package apperr declares the five error kinds spec'd for the
// evaluation core: policy, context, resource, programming, and fatal
// environment errors. They are shared by internal/actuation and the
// cmd entry points, so the package itself
// stays free of any dependency on them to avoid import cycles.
package apperr

import "fmt"

// PolicyError marks a policy whose AST is internally inconsistent
// (unknown constraint, bundle arity mismatch, a variable typed twice,
// a constraint disallowed for its resource). Policy errors are
// collected during validation and reject the run before any actuator
// executes.
type PolicyError struct {
	Bundle  string
	Subtype string
	Promise string
	Message string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy error: %s/%s: %s: %s", e.Bundle, e.Subtype, e.Promise, e.Message)
}

// ContextError marks an expression referencing a variable or class
// that cannot be resolved and is not optional. It contaminates the
// enclosing expression as expr.Error and skips the promise; it never
// aborts the run.
type ContextError struct {
	Promiser string
	Message  string
}

func (e *ContextError) Error() string {
	return fmt.Sprintf("context error: %s: %s", e.Promiser, e.Message)
}

// ResourceError marks a missing KV file, a broken socket, or a
// corrupt key. It is recovered locally when possible (replication);
// otherwise it surfaces as a Fail outcome for the current promise.
type ResourceError struct {
	Promiser string
	Op       string
	Err      error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource error: %s: %s: %v", e.Promiser, e.Op, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// ProgrammingError marks an invariant violation (a dispatch table
// missing an actuator for a registered subtype, a connection-cache
// entry claiming BUSY with a closed socket). It is logged with
// call-site information and the promise is reported as Fail; the
// agent run is not aborted and continues with the next promise.
type ProgrammingError struct {
	Where   string
	Message string
}

func (e *ProgrammingError) Error() string {
	return fmt.Sprintf("programming error: %s: %s", e.Where, e.Message)
}

// FatalEnvironmentError marks a crypto init failure or an unwritable
// work directory. It aborts the process with a non-zero exit after
// the cleanup hook runs.
type FatalEnvironmentError struct {
	Op  string
	Err error
}

func (e *FatalEnvironmentError) Error() string {
	return fmt.Sprintf("fatal environment error: %s: %v", e.Op, e.Err)
}

func (e *FatalEnvironmentError) Unwrap() error { return e.Err }
