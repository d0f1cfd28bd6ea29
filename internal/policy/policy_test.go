package policy

import "testing"

func TestValidateFlagsDuplicateConstraintLval(t *testing.T) {
	pol := &Policy{
		Bundles: []Bundle{
			{
				Name: "main",
				Subtypes: []Subtype{
					{
						Name: "files",
						Promises: []Promise{
							{
								Promiser: "/etc/motd",
								Constraints: []Constraint{
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

	problems := pol.Validate()
	if len(problems) != 1 {
		t.Fatalf("expected 1 problem, got %d: %v", len(problems), problems)
	}
	if problems[0].Promise != "/etc/motd" || problems[0].Bundle != "main" || problems[0].Subtype != "files" {
		t.Fatalf("unexpected problem location: %+v", problems[0])
	}
}

func TestValidateFlagsUnnamedBundlesAndSubtypes(t *testing.T) {
	pol := &Policy{
		Bundles: []Bundle{
			{Name: ""},
			{Name: "main", Subtypes: []Subtype{{Name: ""}}},
		},
	}

	problems := pol.Validate()
	if len(problems) != 2 {
		t.Fatalf("expected 2 problems, got %d: %v", len(problems), problems)
	}
}

func TestValidateAcceptsAWellFormedPolicy(t *testing.T) {
	pol := &Policy{
		Bundles: []Bundle{
			{
				Name: "main",
				Subtypes: []Subtype{
					{
						Name: "files",
						Promises: []Promise{
							{Promiser: "/etc/motd", Constraints: []Constraint{{Lval: "mode", Rval: "644"}}},
						},
					},
				},
			},
		},
	}

	if problems := pol.Validate(); len(problems) != 0 {
		t.Fatalf("expected no problems, got %v", problems)
	}
}
