// Package semver compares dotted numeric version strings such as "1.4.2".
// Prerelease tags and build metadata are out of scope; client versions are
// plain triples.
package semver

import (
	"strconv"
	"strings"
)

// Compare returns -1, 0, or 1 ordering a against b component-wise.
// Missing components count as zero, so "1.4" == "1.4.0". Non-numeric
// components count as zero rather than failing; a malformed client
// version should never lock anyone out.
func Compare(a, b string) int {
	as := strings.Split(strings.TrimSpace(a), ".")
	bs := strings.Split(strings.TrimSpace(b), ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av := part(as, i)
		bv := part(bs, i)
		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
	}
	return 0
}

// AtLeast reports whether v satisfies the minimum min.
func AtLeast(v, min string) bool { return Compare(v, min) >= 0 }

func part(s []string, i int) int {
	if i >= len(s) {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(s[i]))
	if err != nil {
		return 0
	}
	return n
}
