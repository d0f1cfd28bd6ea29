// Package actuation implements the promise actuation pipeline: class-guard
// evaluation, global and per-promise locking with ifelapsed/expireafter,
// actuator dispatch over a tagged-union attribute bundle, and the outcome
// lattice reporting. The version comparator and file-promiser regex
// expansion it uses for package/file promises are grounded on
// vercmp.c/vercmp_internal.c and promiser_regex_resolver.c respectively,
// with the RPM-style epoch/release split from ext/rpmvercmp.c.
package actuation

import "strconv"

// CompareVersions implements the default built-in comparator: version
// strings are split into runs of alphanumerics separated by runs of
// non-alphanumerics, '~' sorts before every other character (including
// the empty string), numeric runs compare by magnitude with leading
// zeros stripped, and if the compared heads tie the longer tail wins.
// It returns -1, 0, or 1, so the result is usable directly as a strict
// total order (antisymmetric and transitive).
func CompareVersions(a, b string) int {
	if epochA, verA, relA, hasEpoch1 := splitEVR(a); true {
		if epochB, verB, relB, hasEpoch2 := splitEVR(b); true {
			if hasEpoch1 || hasEpoch2 {
				ea, eb := 0, 0
				if hasEpoch1 {
					ea, _ = strconv.Atoi(epochA)
				}
				if hasEpoch2 {
					eb, _ = strconv.Atoi(epochB)
				}
				if ea != eb {
					if ea < eb {
						return -1
					}
					return 1
				}
			}
			if rc := compareSegments(verA, verB); rc != 0 {
				return rc
			}
			return compareSegments(relA, relB)
		}
	}
	return 0
}

// splitEVR splits "epoch:version-release" into its three parts. A missing
// epoch (no ':') disables epoch comparison for that operand; a missing
// release (no '-') compares as an empty release string.
func splitEVR(s string) (epoch, version, release string, hasEpoch bool) {
	rest := s
	if i := indexByte(rest, ':'); i >= 0 && allDigits(rest[:i]) {
		epoch = rest[:i]
		rest = rest[i+1:]
		hasEpoch = true
	}
	if i := lastIndexByte(rest, '-'); i >= 0 {
		version = rest[:i]
		release = rest[i+1:]
	} else {
		version = rest
	}
	return epoch, version, release, hasEpoch
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

// compareSegments is the rpmvercmp-style segment walk: skip separators
// (honoring '~' as a sorts-before-everything marker), then compare
// same-kind (digit or alpha) runs.
func compareSegments(a, b string) int {
	if a == b {
		return 0
	}
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		for i < len(a) && !isAlnum(a[i]) && a[i] != '~' {
			i++
		}
		for j < len(b) && !isAlnum(b[j]) && b[j] != '~' {
			j++
		}

		aTilde := i < len(a) && a[i] == '~'
		bTilde := j < len(b) && b[j] == '~'
		if aTilde || bTilde {
			if !aTilde {
				return 1
			}
			if !bTilde {
				return -1
			}
			i++
			j++
			continue
		}

		if i >= len(a) || j >= len(b) {
			break
		}

		var aEnd, bEnd int
		var numeric bool
		if isDigit(a[i]) {
			numeric = true
			aEnd = i
			for aEnd < len(a) && isDigit(a[aEnd]) {
				aEnd++
			}
			bEnd = j
			for bEnd < len(b) && isDigit(b[bEnd]) {
				bEnd++
			}
		} else {
			aEnd = i
			for aEnd < len(a) && isAlpha(a[aEnd]) {
				aEnd++
			}
			bEnd = j
			for bEnd < len(b) && isAlpha(b[bEnd]) {
				bEnd++
			}
		}

		segA, segB := a[i:aEnd], b[j:bEnd]

		if segB == "" {
			if numeric {
				return 1
			}
			return -1
		}

		if numeric {
			sa := stripLeadingZeros(segA)
			sb := stripLeadingZeros(segB)
			if len(sa) != len(sb) {
				if len(sa) > len(sb) {
					return 1
				}
				return -1
			}
			segA, segB = sa, sb
		}

		if segA < segB {
			return -1
		}
		if segA > segB {
			return 1
		}

		i, j = aEnd, bEnd
	}

	aDone := i >= len(a)
	bDone := j >= len(b)
	if aDone && bDone {
		return 0
	}
	if aDone {
		return -1
	}
	return 1
}

func stripLeadingZeros(s string) string {
	i := 0
	for i < len(s)-1 && s[i] == '0' {
		i++
	}
	return s[i:]
}

// VersionEquals synthesizes a == b as !(a<b) && !(b<a), matching the
// fallback the external <-command/=-command path uses when the policy
// does not override the comparator.
func VersionEquals(a, b string) bool {
	return CompareVersions(a, b) == 0
}
