// Package version carries the build version and the component-wise
// comparison the agent updater uses to decide whether the server is ahead.
package version

import (
	"strconv"
	"strings"
)

// Version is the build version, overridable at link time:
//
//	go build -ldflags "-X .../internal/version.Version=1.4.0"
var Version = "1.3.0"

// Compare returns -1, 0, or 1 as a is older than, equal to, or newer than b.
// Versions are compared numerically component by component; missing
// components count as 0, so "1.2" == "1.2.0". Non-numeric components
// compare as 0. A leading "v" is tolerated.
func Compare(a, b string) int {
	as := split(a)
	bs := split(b)
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av, bv := 0, 0
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
	}
	return 0
}

func split(v string) []int {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			n = 0
		}
		out[i] = n
	}
	return out
}
