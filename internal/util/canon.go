package util

import (
	"path/filepath"
	"strings"
)

// CanonifyName rewrites s so it is safe to use as a class or variable name:
// every character (rune) that is not a letter, digit, or underscore becomes an
// underscore. Grounded on libutils/string_lib.c's CanonifyNameInPlace, used
// throughout class-name and hostname normalization.
func CanonifyName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// CanonifyPath returns the cleaned, absolute form of path so that promisers
// naming files compare equal regardless of trailing slashes, "." segments,
// or relative-vs-absolute spelling.
func CanonifyPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// IsCanonified reports whether s contains only characters CanonifyName
// would leave untouched.
func IsCanonified(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}
	return true
}
