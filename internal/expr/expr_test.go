package expr

import "testing"

func alwaysTrue(string) Result  { return True }
func alwaysFalse(string) Result { return False }
func alwaysError(string) Result { return Error }

func litClass(name string) *ClassExpr {
	return Eval(Literal(name))
}

func noVarRefs(name string, kind RefKind) (string, bool) { return name, true }

func TestDeMorganOr(t *testing.T) {
	a := litClass("a")
	b := litClass("b")

	notOr := NotExpr(Or(a, b))
	andNots := And(NotExpr(a), NotExpr(b))

	for _, resolver := range []NameEval{alwaysTrue, alwaysFalse} {
		got := EvalClass(notOr, resolver, noVarRefs)
		want := EvalClass(andNots, resolver, noVarRefs)
		if got != want {
			t.Fatalf("De Morgan violated for !(a|b): got %v want %v", got, want)
		}
	}
}

func TestDeMorganAnd(t *testing.T) {
	a := litClass("a")
	b := litClass("b")

	notAnd := NotExpr(And(a, b))
	orNots := Or(NotExpr(a), NotExpr(b))

	for _, resolver := range []NameEval{alwaysTrue, alwaysFalse} {
		got := EvalClass(notAnd, resolver, noVarRefs)
		want := EvalClass(orNots, resolver, noVarRefs)
		if got != want {
			t.Fatalf("De Morgan violated for !(a&b): got %v want %v", got, want)
		}
	}
}

func TestOrShortCircuitsOnTrue(t *testing.T) {
	evaluated := false
	resolver := func(name string) Result {
		if name == "b" {
			evaluated = true
		}
		return True
	}
	got := EvalClass(Or(litClass("a"), litClass("b")), resolver, noVarRefs)
	if got != True {
		t.Fatalf("Or(True, True) = %v, want True", got)
	}
	if evaluated {
		t.Fatal("Or short-circuited incorrectly: right branch was evaluated")
	}
}

func TestAndShortCircuitsOnFalse(t *testing.T) {
	evaluated := false
	resolver := func(name string) Result {
		if name == "b" {
			evaluated = true
		}
		return False
	}
	got := EvalClass(And(litClass("a"), litClass("b")), resolver, noVarRefs)
	if got != False {
		t.Fatalf("And(False, False) = %v, want False", got)
	}
	if evaluated {
		t.Fatal("And short-circuited incorrectly: right branch was evaluated")
	}
}

func TestErrorContaminatesUnlessDecisive(t *testing.T) {
	resolver := func(name string) Result {
		if name == "a" {
			return Error
		}
		return True
	}
	// Or(Error, True) short-circuits to True once the decisive branch wins.
	got := EvalClass(Or(litClass("a"), litClass("b")), resolver, noVarRefs)
	if got != True {
		t.Fatalf("Or(Error, True) = %v, want True", got)
	}

	resolver2 := func(name string) Result {
		if name == "a" {
			return Error
		}
		return False
	}
	// Or(Error, False) has no decisive True, so Error propagates.
	got2 := EvalClass(Or(litClass("a"), litClass("b")), resolver2, noVarRefs)
	if got2 != Error {
		t.Fatalf("Or(Error, False) = %v, want Error", got2)
	}
}

func TestEvalStringConcatAndVarRef(t *testing.T) {
	tree := Concat(Literal("hello_"), VarRef(Literal("name"), Scalar))
	varRefEval := func(name string, kind RefKind) (string, bool) {
		if name == "name" && kind == Scalar {
			return "world", true
		}
		return "", false
	}
	got, ok := EvalString(tree, varRefEval)
	if !ok || got != "hello_world" {
		t.Fatalf("EvalString = %q, %v", got, ok)
	}
}

func TestEvalStringFailsOnUnresolvedVarRef(t *testing.T) {
	tree := Concat(Literal("a"), VarRef(Literal("missing"), Scalar))
	_, ok := EvalString(tree, func(string, RefKind) (string, bool) { return "", false })
	if ok {
		t.Fatal("expected EvalString to fail on unresolved var ref")
	}
}

func TestParseVariableRefForms(t *testing.T) {
	cases := []struct {
		in   string
		want VariableRef
	}{
		{"plain", VariableRef{Lval: "plain"}},
		{"scope.lval", VariableRef{Scope: "scope", Lval: "lval"}},
		{"ns:scope.lval", VariableRef{Namespace: "ns", Scope: "scope", Lval: "lval"}},
		{"ns:scope.lval[i1][i2]", VariableRef{Namespace: "ns", Scope: "scope", Lval: "lval", Indices: []string{"i1", "i2"}}},
	}
	for _, c := range cases {
		got, err := ParseVariableRef(c.in)
		if err != nil {
			t.Fatalf("ParseVariableRef(%q): %v", c.in, err)
		}
		if got.Namespace != c.want.Namespace || got.Scope != c.want.Scope || got.Lval != c.want.Lval {
			t.Fatalf("ParseVariableRef(%q) = %+v, want %+v", c.in, got, c.want)
		}
		if len(got.Indices) != len(c.want.Indices) {
			t.Fatalf("ParseVariableRef(%q) indices = %v, want %v", c.in, got.Indices, c.want.Indices)
		}
	}
}

func TestParseVariableRefRejectsReservedNames(t *testing.T) {
	for _, name := range []string{"promiser", "handle", "this"} {
		if _, err := ParseVariableRef(name); err == nil {
			t.Fatalf("ParseVariableRef(%q) did not reject a reserved name", name)
		}
	}
}

func TestQualifyLiftsIntoBundle(t *testing.T) {
	r, err := ParseVariableRef("lval")
	if err != nil {
		t.Fatalf("ParseVariableRef: %v", err)
	}
	qualified := r.Qualify("default", "mybundle")
	if qualified.Namespace != "default" || qualified.Scope != "mybundle" {
		t.Fatalf("Qualify = %+v", qualified)
	}
}

func TestQualifySpecialScopeLeavesNamespaceEmpty(t *testing.T) {
	r, err := ParseVariableRef("sys")
	if err != nil {
		t.Fatalf("ParseVariableRef: %v", err)
	}
	qualified := r.Qualify("default", "mybundle")
	if qualified.Namespace != "" {
		t.Fatalf("Qualify(sys) set namespace = %q, want empty", qualified.Namespace)
	}
}

func TestVariableRefRoundTrip(t *testing.T) {
	r, err := ParseVariableRef("lval")
	if err != nil {
		t.Fatalf("ParseVariableRef: %v", err)
	}
	qualified := r.Qualify("default", "mybundle")
	s := qualified.String(true)

	reparsed, err := ParseVariableRef(s)
	if err != nil {
		t.Fatalf("ParseVariableRef(%q): %v", s, err)
	}
	if reparsed.Namespace != qualified.Namespace || reparsed.Scope != qualified.Scope || reparsed.Lval != qualified.Lval {
		t.Fatalf("round trip mismatch: %+v != %+v", reparsed, qualified)
	}
}

func TestRegexNamedAndPositionalCaptures(t *testing.T) {
	re, err := Compile(`(?P<year>\d{4})-(\d{2})-(?P<day>\d{2})`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	caps, ok := re.Captures("2026-07-29")
	if !ok {
		t.Fatal("Captures did not match")
	}
	if len(caps) != 3 {
		t.Fatalf("len(caps) = %d, want 3", len(caps))
	}
	if caps[0].Name != "year" || caps[0].Value != "2026" || caps[0].Index != 1 {
		t.Fatalf("caps[0] = %+v", caps[0])
	}
	if caps[1].Name != "" || caps[1].Value != "07" || caps[1].Index != 2 {
		t.Fatalf("caps[1] = %+v", caps[1])
	}
	if caps[2].Name != "day" || caps[2].Value != "29" || caps[2].Index != 3 {
		t.Fatalf("caps[2] = %+v", caps[2])
	}
}

func TestRegexFullAndPartialMatch(t *testing.T) {
	re, err := Compile(`ab+c`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !re.FullMatch("abbbc") {
		t.Fatal("FullMatch rejected an exact match")
	}
	if re.FullMatch("xabbbcx") {
		t.Fatal("FullMatch accepted a substring match")
	}
	if !re.PartialMatch("xabbbcx") {
		t.Fatal("PartialMatch rejected a valid substring match")
	}
}
