// Package naturalsort implements the name ordering used by every stored index:
// numeric-aware ascending, code-point tie-break. The order is locale independent
// and must never change, since trees written by older builds compare names with
// the same rules.
package naturalsort

import "strings"

// Compare returns -1, 0 or 1 comparing a and b with maximal digit runs compared
// by integer value and everything else compared by code point. "file2" sorts
// before "file10".
func Compare(a, b string) int {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ra := run(a[i:])
		rb := run(b[j:])

		var c int
		if isDigit(ra[0]) && isDigit(rb[0]) {
			c = compareNumeric(ra, rb)
		} else {
			c = strings.Compare(ra, rb)
		}
		if c != 0 {
			return c
		}
		i += len(ra)
		j += len(rb)
	}

	switch {
	case i < len(a):
		return 1
	case j < len(b):
		return -1
	}

	// Runs were numerically equal but may differ textually ("01" vs "1").
	return strings.Compare(a, b)
}

// run returns the maximal leading run of s that is either all digits or all
// non-digits. s must be non-empty.
func run(s string) string {
	digits := isDigit(s[0])
	for i := 1; i < len(s); i++ {
		if isDigit(s[i]) != digits {
			return s[:i]
		}
	}
	return s
}

// compareNumeric compares two all-digit runs by integer value without parsing,
// so arbitrarily long runs are fine.
func compareNumeric(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
