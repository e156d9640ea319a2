package rulegraph

import "strings"

// matchGlob reports whether path matches pattern under the case-insensitive
// `*` (any run, including empty) / `?` (single character) glob grammar
// from spec §4.6's InputFilter. It is the standard two-pointer wildcard
// matcher (track the most recent `*` and the name position it last
// matched, backtrack there on a mismatch) rather than a recursive one, so
// a pattern with many `*`s can't blow the stack on a long path.
func matchGlob(pattern, path string) bool {
	p := []rune(strings.ToUpper(pattern))
	s := []rune(strings.ToUpper(path))

	var pi, si int
	star := -1
	starMatch := 0

	for si < len(s) {
		switch {
		case pi < len(p) && (p[pi] == '?' || p[pi] == s[si]):
			pi++
			si++
		case pi < len(p) && p[pi] == '*':
			star = pi
			starMatch = si
			pi++
		case star != -1:
			pi = star + 1
			starMatch++
			si = starMatch
		default:
			return false
		}
	}

	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}
