package actuation

import (
	"errors"
	"fmt"
	"time"

	"github.com/cfengine-go/agentcore/internal/apperr"
	"github.com/cfengine-go/agentcore/internal/evalctx"
	"github.com/cfengine-go/agentcore/internal/expr"
	"github.com/cfengine-go/agentcore/internal/policy"
	"github.com/cfengine-go/agentcore/pkg/metrics"
)

// Actuator is the per-promise-type work function: given the resolved
// attributes and the promiser, it inspects and, if not already
// compliant, repairs system state, returning the outcome it produced and
// a human-readable verb describing what it did (used in the outcome log
// line).
type Actuator func(promiser string, attrs Attributes) (evalctx.Outcome, string, error)

// Dispatch is the actuator lookup table, keyed by promise subtype name,
// mirroring the original's per-promise-type function-pointer dispatch
// (DoClassesPromise, VerifyFilePromise, ...) rather than a type switch,
// so new promise types register themselves without touching the
// pipeline.
type Dispatch map[string]Actuator

// Options configures one Pipeline run.
type Options struct {
	Now          func() time.Time
	IfElapsed    time.Duration
	ExpireAfter  time.Duration
	ClassNameEval expr.NameEval
	VarRefEval    expr.VarRefEval
	Logf          func(format string, args ...any)
}

// Pipeline actuates every promise in a policy against one evaluation
// context, implementing the six-step contract: evaluate the promise's
// class guard, take the global lock, take the per-promise lock honoring
// ifelapsed/expireafter, dispatch to the registered actuator, release
// locks in reverse order, then log the outcome and fold it into the
// context's summary.
type Pipeline struct {
	locks   *LockManager
	dispatch Dispatch
	opts    Options
}

// NewPipeline constructs a Pipeline. opts.Now defaults to time.Now.
func NewPipeline(locks *LockManager, dispatch Dispatch, opts Options) *Pipeline {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logf == nil {
		opts.Logf = func(string, ...any) {}
	}
	return &Pipeline{locks: locks, dispatch: dispatch, opts: opts}
}

// Run actuates every promise of every subtype in every bundle of pol
// against ctx, in bundle-then-subtype-then-promise declaration order.
func (pl *Pipeline) Run(ctx *evalctx.Context, pol *policy.Policy) error {
	if problems := pol.Validate(); len(problems) > 0 {
		errs := make([]error, len(problems))
		for i, p := range problems {
			errs[i] = &apperr.PolicyError{Bundle: p.Bundle, Subtype: p.Subtype, Promise: p.Promise, Message: p.Message}
		}
		return errors.Join(errs...)
	}

	now := pl.opts.Now()
	gotGlobal, err := pl.locks.AcquireGlobal(now, pl.opts.ExpireAfter)
	if err != nil {
		return fmt.Errorf("actuation: acquire global lock: %w", err)
	}
	if !gotGlobal {
		metrics.RecordLockContention("global")
		return fmt.Errorf("actuation: another run already holds the global lock")
	}
	defer pl.locks.ReleaseGlobal()

	for bi := range pol.Bundles {
		b := &pol.Bundles[bi]
		ctx.PushScope(evalctx.Bundle, b.Name)
		for si := range b.Subtypes {
			st := &b.Subtypes[si]
			for pi := range st.Promises {
				p := &st.Promises[pi]
				pl.actuateOne(ctx, st.Name, p)
			}
		}
		if err := ctx.PopScope(); err != nil {
			return err
		}
	}
	return nil
}

// report folds outcome into ctx's compliance summary and the
// cfagent_actuation_promise_outcomes_total counter in one step, so no
// call site can update one without the other.
func (pl *Pipeline) report(ctx *evalctx.Context, subtypeName string, outcome evalctx.Outcome) {
	ctx.ReportOutcome(outcome)
	metrics.RecordPromiseOutcome(subtypeName, outcome.String())
}

func (pl *Pipeline) actuateOne(ctx *evalctx.Context, subtypeName string, p *policy.Promise) {
	if guard, ok := p.FindConstraint("ifvarclass"); ok {
		tree, ok := guard.(*expr.ClassExpr)
		if ok {
			switch expr.EvalClass(tree, pl.opts.ClassNameEval, pl.opts.VarRefEval) {
			case expr.False:
				pl.report(ctx, subtypeName, evalctx.Skipped)
				pl.opts.Logf("[ NO  ] %s: class guard false, promise skipped", p.Promiser)
				return
			case expr.Error:
				pl.report(ctx, subtypeName, evalctx.Skipped)
				cerr := &apperr.ContextError{Promiser: p.Promiser, Message: "class guard references an unresolved variable or class"}
				pl.opts.Logf("[ NO  ] %s: %v, promise skipped", p.Promiser, cerr)
				return
			}
		}
	}

	handle := p.Handle
	if handle == "" {
		handle = p.Promiser
	}
	now := pl.opts.Now()
	gotLock, err := pl.locks.AcquirePromise(handle, now, pl.opts.IfElapsed, pl.opts.ExpireAfter)
	if err != nil {
		pl.report(ctx, subtypeName, evalctx.Fail)
		rerr := &apperr.ResourceError{Promiser: p.Promiser, Op: "acquire promise lock", Err: err}
		pl.opts.Logf("[ NO  ] %v", rerr)
		return
	}
	if !gotLock {
		metrics.RecordLockContention(handle)
		pl.report(ctx, subtypeName, evalctx.Skipped)
		pl.opts.Logf("[ NO  ] %s: skipped, locked or ifelapsed not reached", p.Promiser)
		return
	}
	defer pl.locks.ReleasePromise(handle, pl.opts.Now())

	actuator, ok := pl.dispatch[subtypeName]
	if !ok {
		pl.report(ctx, subtypeName, evalctx.Fail)
		perr := &apperr.ProgrammingError{Where: "actuation.Pipeline.actuateOne", Message: fmt.Sprintf("no actuator registered for promise type %q", subtypeName)}
		pl.opts.Logf("[ NO  ] %s: %v", p.Promiser, perr)
		return
	}

	attrs, err := Resolve(subtypeName, p)
	if err != nil {
		pl.report(ctx, subtypeName, evalctx.Fail)
		pl.opts.Logf("[ NO  ] %s: %v", p.Promiser, err)
		return
	}

	if filesAttrs, ok := attrs.(FilesAttributes); ok {
		pl.actuateFilesGroup(ctx, subtypeName, p.Promiser, actuator, filesAttrs)
		return
	}

	pl.actuateAt(ctx, subtypeName, p.Promiser, actuator, attrs)
}

// actuateAt runs actuator against one concrete promiser/attrs pair and
// reports/logs the outcome. Shared by the single-promiser path and by
// actuateFilesGroup's per-match loop so both log in the same format.
func (pl *Pipeline) actuateAt(ctx *evalctx.Context, subtypeName, promiser string, actuator Actuator, attrs Attributes) {
	outcome, verb, err := actuator(promiser, attrs)
	if err != nil {
		pl.report(ctx, subtypeName, evalctx.Fail)
		pl.opts.Logf("[ NO  ] %s: %v", promiser, err)
		return
	}
	pl.report(ctx, subtypeName, outcome)
	prefix := "[ NO  ]"
	if outcome == evalctx.NoOp || outcome == evalctx.Change {
		prefix = "[ YES ]"
	}
	pl.opts.Logf("%s %s: %s (%s)", prefix, promiser, verb, outcome)
}

// actuateFilesGroup expands a files promiser's promiser string through
// LocateFilePromiserGroup before dispatch, so a glob promiser
// ("/etc/cfengine/*.cf") actuates every matching path rather than being
// handed to the actuator as one literal, unmatchable string. Regex syntax
// other than glob wildcards is not expanded.
// A glob matching nothing still actuates once, against the original
// promiser, when the promise sets create=true.
func (pl *Pipeline) actuateFilesGroup(ctx *evalctx.Context, subtypeName, promiser string, actuator Actuator, attrs FilesAttributes) {
	err := LocateFilePromiserGroup(promiser, attrs.Create, func(path string) error {
		pl.actuateAt(ctx, subtypeName, path, actuator, attrs)
		return nil
	})
	if err != nil {
		pl.report(ctx, subtypeName, evalctx.Fail)
		rerr := &apperr.ResourceError{Promiser: promiser, Op: "locate file promiser group", Err: err}
		pl.opts.Logf("[ NO  ] %v", rerr)
	}
}
