package actuation

import (
	"fmt"

	"github.com/cfengine-go/agentcore/internal/evalctx"
	"github.com/cfengine-go/agentcore/internal/policy"
)

// Attributes is the resolved, typed view over a promise's constraint list
// for one promise type. It plays the role of the original's duck-typed
// attribute structs (FileAttributes, PackageAttributes, ...): every
// promise type gets its own struct here, and Resolve below is the single
// dynamic-dispatch point that picks which one applies to a given
// promise, matching the promise's Subtype.Name.
type Attributes interface {
	isAttributes()
}

// FilesAttributes covers the "files" promise type: presence, ownership,
// and content edits on a single path. Editing sub-bundles are out of
// scope for this core.
type FilesAttributes struct {
	Create      bool
	Perms       string
	Owner       string
	Group       string
	ContentFrom string // source path to copy content from, if set
	Delete      bool
}

func (FilesAttributes) isAttributes() {}

// PackagesAttributes covers the "packages" promise type.
type PackagesAttributes struct {
	Version       string
	VersionCmp    string // "==", ">=", "<=", ">", "<", "!="
	PackagePolicy string // "present", "absent", "purge"
}

func (PackagesAttributes) isAttributes() {}

// ClassesAttributes covers the "classes" promise type: a promiser name
// defined as a class (optionally persistent) when its constraint
// conditions resolve true.
type ClassesAttributes struct {
	Scope      evalctx.ScopeKind
	Persistent bool
}

func (ClassesAttributes) isAttributes() {}

// CommandsAttributes covers the "commands" promise type.
type CommandsAttributes struct {
	Args      []string
	UseShell  bool
	TimeoutMS int
}

func (CommandsAttributes) isAttributes() {}

// Resolve builds the typed Attributes for one promise given its
// subtype's name, looking up each known lval by hand rather than
// reflecting over the constraint list, matching the original's
// hand-written per-type attribute constructors.
func Resolve(subtypeName string, p *policy.Promise) (Attributes, error) {
	switch subtypeName {
	case "files":
		a := FilesAttributes{}
		if v, ok := p.FindConstraint("create"); ok {
			a.Create, _ = v.(bool)
		}
		if v, ok := p.FindConstraint("perms"); ok {
			a.Perms, _ = v.(string)
		}
		if v, ok := p.FindConstraint("owner"); ok {
			a.Owner, _ = v.(string)
		}
		if v, ok := p.FindConstraint("group"); ok {
			a.Group, _ = v.(string)
		}
		if v, ok := p.FindConstraint("copy_from"); ok {
			a.ContentFrom, _ = v.(string)
		}
		if v, ok := p.FindConstraint("delete"); ok {
			a.Delete, _ = v.(bool)
		}
		return a, nil

	case "packages":
		a := PackagesAttributes{PackagePolicy: "present"}
		if v, ok := p.FindConstraint("version"); ok {
			a.Version, _ = v.(string)
		}
		if v, ok := p.FindConstraint("version_cmp"); ok {
			a.VersionCmp, _ = v.(string)
		}
		if v, ok := p.FindConstraint("package_policy"); ok {
			a.PackagePolicy, _ = v.(string)
		}
		return a, nil

	case "classes":
		a := ClassesAttributes{Scope: evalctx.Bundle}
		if v, ok := p.FindConstraint("scope"); ok {
			if s, _ := v.(string); s == "namespace" {
				a.Scope = evalctx.Namespace
			}
		}
		if v, ok := p.FindConstraint("persistent"); ok {
			a.Persistent, _ = v.(bool)
		}
		return a, nil

	case "commands":
		a := CommandsAttributes{}
		if v, ok := p.FindConstraint("args"); ok {
			a.Args, _ = v.([]string)
		}
		if v, ok := p.FindConstraint("useshell"); ok {
			a.UseShell, _ = v.(bool)
		}
		if v, ok := p.FindConstraint("timeout_ms"); ok {
			if n, ok := v.(int); ok {
				a.TimeoutMS = n
			}
		}
		return a, nil

	default:
		return nil, fmt.Errorf("actuation: no attribute resolver registered for promise type %q", subtypeName)
	}
}
