package actuation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/cfengine-go/agentcore/internal/apperr"
	"github.com/cfengine-go/agentcore/internal/evalctx"
	"github.com/cfengine-go/agentcore/internal/policy"
)

func TestRunRejectsAnInconsistentPolicyBeforeActuatingAnything(t *testing.T) {
	m := openTestLockManager(t)
	dispatched := false
	dispatch := Dispatch{
		"files": func(promiser string, attrs Attributes) (evalctx.Outcome, string, error) {
			dispatched = true
			return evalctx.NoOp, "", nil
		},
	}
	pl := NewPipeline(m, dispatch, Options{})

	pol := &policy.Policy{
		Bundles: []policy.Bundle{
			{
				Name: "main",
				Subtypes: []policy.Subtype{
					{
						Name: "files",
						Promises: []policy.Promise{
							{
								Promiser: "/etc/motd",
								Constraints: []policy.Constraint{
									{Lval: "mode", Rval: "644"},
									{Lval: "mode", Rval: "600"},
								},
							},
						},
					},
				},
			},
		},
	}

	err := pl.Run(evalctx.New(), pol)
	if err == nil {
		t.Fatal("expected Run to reject an inconsistent policy")
	}
	var perr *apperr.PolicyError
	if !errors.As(err, &perr) {
		t.Fatalf("expected err to wrap *apperr.PolicyError, got %v", err)
	}
	if dispatched {
		t.Fatal("actuator must not run when policy validation fails")
	}
}

func TestActuateOneReportsProgrammingErrorForUnregisteredSubtype(t *testing.T) {
	m := openTestLockManager(t)
	var logged string
	pl := NewPipeline(m, Dispatch{}, Options{
		Logf: func(format string, args ...any) { logged += fmt.Sprintf(format, args...) },
	})

	pol := &policy.Policy{
		Bundles: []policy.Bundle{
			{
				Name: "main",
				Subtypes: []policy.Subtype{
					{Name: "files", Promises: []policy.Promise{{Promiser: "/etc/motd"}}},
				},
			},
		},
	}

	if err := pl.Run(evalctx.New(), pol); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if logged == "" {
		t.Fatal("expected a logged programming error for the unregistered subtype")
	}
}

func TestActuateOneExpandsAGlobFilesPromiserIntoOneActuatorCallPerMatch(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.cf", "b.cf", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	m := openTestLockManager(t)
	var seen []string
	dispatch := Dispatch{
		"files": func(promiser string, attrs Attributes) (evalctx.Outcome, string, error) {
			seen = append(seen, promiser)
			return evalctx.NoOp, "present", nil
		},
	}
	pl := NewPipeline(m, dispatch, Options{})

	pol := &policy.Policy{
		Bundles: []policy.Bundle{
			{
				Name: "main",
				Subtypes: []policy.Subtype{
					{
						Name: "files",
						Promises: []policy.Promise{
							{Promiser: filepath.Join(dir, "*.cf")},
						},
					},
				},
			},
		},
	}

	if err := pl.Run(evalctx.New(), pol); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sort.Strings(seen)
	want := []string{filepath.Join(dir, "a.cf"), filepath.Join(dir, "b.cf")}
	if len(seen) != len(want) {
		t.Fatalf("actuator called for %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestActuateOneStillCallsActuatorOnceForANonMatchingGlobWithCreate(t *testing.T) {
	dir := t.TempDir()
	wildpath := filepath.Join(dir, "*.nonexistent")

	m := openTestLockManager(t)
	var seen []string
	dispatch := Dispatch{
		"files": func(promiser string, attrs Attributes) (evalctx.Outcome, string, error) {
			seen = append(seen, promiser)
			return evalctx.Change, "created", nil
		},
	}
	pl := NewPipeline(m, dispatch, Options{})

	pol := &policy.Policy{
		Bundles: []policy.Bundle{
			{
				Name: "main",
				Subtypes: []policy.Subtype{
					{
						Name: "files",
						Promises: []policy.Promise{
							{
								Promiser:    wildpath,
								Constraints: []policy.Constraint{{Lval: "create", Rval: true}},
							},
						},
					},
				},
			},
		},
	}

	if err := pl.Run(evalctx.New(), pol); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seen) != 1 || seen[0] != wildpath {
		t.Fatalf("actuator called for %v, want exactly [%s]", seen, wildpath)
	}
}
