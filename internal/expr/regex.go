package expr

import "regexp"

// Capture is one capture group result, positional or named.
type Capture struct {
	Index int
	Name  string
	Value string
}

// Regex wraps a compiled expression with CFEngine's MULTILINE+DOTALL
// defaults and surfaces both positional and named captures together.
type Regex struct {
	re *regexp.Regexp
}

// Compile compiles pattern with multiline (^/$ match line boundaries) and
// dotall (. matches newline) semantics always enabled, matching the PCRE
// flags the original always passes.
func Compile(pattern string) (*Regex, error) {
	re, err := regexp.Compile("(?ms)" + pattern)
	if err != nil {
		return nil, err
	}
	return &Regex{re: re}, nil
}

// FullMatch reports whether s matches the pattern in its entirety.
func (r *Regex) FullMatch(s string) bool {
	loc := r.re.FindStringIndex(s)
	return loc != nil && loc[0] == 0 && loc[1] == len(s)
}

// PartialMatch reports whether the pattern matches anywhere in s.
func (r *Regex) PartialMatch(s string) bool {
	return r.re.MatchString(s)
}

// Captures returns every capture for the first match of s: named captures
// are interleaved with positional ones in group-index order, and every
// named capture also carries its numeric index as an alias.
func (r *Regex) Captures(s string) ([]Capture, bool) {
	match := r.re.FindStringSubmatch(s)
	if match == nil {
		return nil, false
	}
	names := r.re.SubexpNames()
	out := make([]Capture, 0, len(match)-1)
	for i := 1; i < len(match); i++ {
		out = append(out, Capture{Index: i, Name: names[i], Value: match[i]})
	}
	return out, true
}

// Replace substitutes every match of the pattern in s using repl, which
// may reference captures as `$1`, `${name}`, following regexp.Regexp's own
// expansion syntax.
func (r *Regex) Replace(s, repl string) string {
	return r.re.ReplaceAllString(s, repl)
}
