package evalctx

// ListSource is one `@(list)` reference's expansion: the reference's
// textual position (for ordering) and its resolved list values.
type ListSource struct {
	RefText string
	Values  []string
}

// Iterate expands a set of list sources into the cartesian product of
// their values, one tuple per concrete promise, in the textual order of
// the references (the order sources are passed in) and lexicographic
// order within each list unless a list is marked ordered by the caller
// (ordered lists should simply not be re-sorted before calling Iterate).
func Iterate(sources []ListSource) [][]string {
	if len(sources) == 0 {
		return [][]string{{}}
	}
	rest := Iterate(sources[1:])
	out := make([][]string, 0, len(sources[0].Values)*len(rest))
	for _, v := range sources[0].Values {
		for _, tail := range rest {
			tuple := make([]string, 0, 1+len(tail))
			tuple = append(tuple, v)
			tuple = append(tuple, tail...)
			out = append(out, tuple)
		}
	}
	return out
}
