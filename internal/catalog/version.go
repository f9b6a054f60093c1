package catalog

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CompareVersions orders two catalog version strings and returns -1, 0 or 1.
//
// A version is a dot separated release part, an optional "-pre" suffix and
// optional "+build" metadata, which is ignored. Release segments decide
// first: numeric segments compare numerically, sort before non-numeric
// segments, and missing segments count as zero, so "1.0" equals "1.0.0".
// Only when the release parts are equal does the suffix matter, with semver
// pre-release precedence: a pre-release sorts before the plain release.
// The result is a total order over all strings.
func CompareVersions(a, b string) int {
	if a == b {
		return 0
	}
	ra, pa := splitVersion(a)
	rb, pb := splitVersion(b)
	if c := compareSegments(ra, rb); c != 0 {
		return c
	}
	return semver.New(0, 0, 0, normalizePre(pa), "").Compare(semver.New(0, 0, 0, normalizePre(pb), ""))
}

// normalizePre drops leading zeros from numeric identifiers so that
// identifiers of equal value are also equal as strings.
func normalizePre(pre string) string {
	if pre == "" {
		return ""
	}
	ids := strings.Split(pre, ".")
	for i, id := range ids {
		if isNumeric(id) {
			if id = strings.TrimLeft(id, "0"); id == "" {
				id = "0"
			}
			ids[i] = id
		}
	}
	return strings.Join(ids, ".")
}

// splitVersion returns the release part and the pre-release suffix.
func splitVersion(v string) (string, string) {
	if i := strings.IndexByte(v, '+'); i >= 0 {
		v = v[:i]
	}
	if i := strings.IndexByte(v, '-'); i >= 0 {
		return v[:i], v[i+1:]
	}
	return v, ""
}

func compareSegments(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := max(len(as), len(bs))
	for i := 0; i < n; i++ {
		x, y := "0", "0"
		if i < len(as) {
			x = as[i]
		}
		if i < len(bs) {
			y = bs[i]
		}
		if c := compareSegment(x, y); c != 0 {
			return c
		}
	}
	return 0
}

func compareSegment(x, y string) int {
	xn, yn := isNumeric(x), isNumeric(y)
	switch {
	case xn && yn:
		x = strings.TrimLeft(x, "0")
		y = strings.TrimLeft(y, "0")
		// Equal-length digit strings order lexically; shorter is smaller.
		if len(x) != len(y) {
			if len(x) < len(y) {
				return -1
			}
			return 1
		}
	case xn:
		return -1
	case yn:
		return 1
	}
	return strings.Compare(x, y)
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
