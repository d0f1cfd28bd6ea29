package actuation

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// LocateFilePromiserGroup expands a file/files promiser that contains
// shell-glob metacharacters ('*', '?', '[...]') into the concrete set of
// matching paths on disk, grounded on promiser_regex_resolver.c's
// directory-by-directory descent: each path component that is a literal
// string is appended as-is, each component containing a wildcard is
// turned into a regex and matched against the directory listing, and the
// walk recurses one directory level at a time so a non-matching
// component anywhere in the path prunes that whole branch instead of
// backtracking globally. Only glob syntax is expanded: other regex
// characters in a component ('.', '+', '(', '|', ...) match themselves
// literally, and a promiser containing none of '*', '?', '[' or ']' is
// not expanded at all.
//
// fn is called once per matched path, in sorted order, and the first
// error it returns stops the walk and is returned to the caller. If
// promiser contains no glob metacharacters, fn is called exactly once
// with promiser itself, whether or not the path exists, matching the
// original's promise-the-promiser-back default for the non-glob case. If
// a glob matches zero entries, fn is called once with the original
// promiser when create is true (a files promise with create=true must
// still attempt to bring a not-yet-existing path into compliance) and
// not called at all otherwise.
func LocateFilePromiserGroup(promiser string, create bool, fn func(path string) error) error {
	if !hasGlobMeta(promiser) {
		return fn(promiser)
	}

	root := "/"
	rest := promiser
	if filepath.IsAbs(promiser) {
		rest = strings.TrimPrefix(promiser, "/")
	} else {
		root = "."
	}
	components := strings.Split(rest, string(filepath.Separator))

	matches := []string{root}
	for _, comp := range components {
		if comp == "" {
			continue
		}
		matches = expandComponent(matches, comp)
		if len(matches) == 0 {
			if create {
				return fn(promiser)
			}
			return nil
		}
	}

	sort.Strings(matches)
	for _, m := range matches {
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

func hasGlobMeta(s string) bool {
	return strings.ContainsAny(s, "*?[]")
}

// expandComponent extends every path currently in bases with the entries
// in that directory matching comp (literal or wildcard).
func expandComponent(bases []string, comp string) []string {
	if !hasGlobMeta(comp) {
		out := make([]string, 0, len(bases))
		for _, b := range bases {
			out = append(out, filepath.Join(b, comp))
		}
		return out
	}

	re, err := globToRegexp(comp)
	if err != nil {
		return nil
	}

	var out []string
	for _, b := range bases {
		entries, err := os.ReadDir(b)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if re.MatchString(e.Name()) {
				out = append(out, filepath.Join(b, e.Name()))
			}
		}
	}
	return out
}

// globToRegexp translates a shell-glob path component ('*', '?', '[...]')
// into an anchored regular expression.
func globToRegexp(glob string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '[':
			j := i + 1
			for j < len(glob) && glob[j] != ']' {
				j++
			}
			if j < len(glob) {
				b.WriteString(glob[i : j+1])
				i = j
			} else {
				b.WriteString(regexp.QuoteMeta(string(c)))
			}
		case '.', '+', '(', ')', '{', '}', '^', '$', '|', '\\':
			b.WriteString(regexp.QuoteMeta(string(c)))
		default:
			b.WriteByte(c)
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
