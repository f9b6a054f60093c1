package cookbook

import (
	"fmt"
	"sort"
	"strings"
)

// Filter is a remote's cookbook selection: cookbook name to version, where
// an empty version means the latest one.
//
// The zero value is the "no filter" state produced by an absent, null or
// blank-string setting. An empty mapping is a distinct, valid filter. Both
// select the whole catalog.
type Filter struct {
	set         bool
	constraints map[string]string
}

// NoFilter returns the "no filter" sentinel.
func NoFilter() Filter { return Filter{} }

// NewFilter builds a filter from a name to version mapping. Blank names are
// rejected.
func NewFilter(m map[string]string) (Filter, error) {
	constraints := make(map[string]string, len(m))
	for name, version := range m {
		if strings.TrimSpace(name) == "" {
			return Filter{}, fmt.Errorf("cookbook filter: blank cookbook name")
		}
		constraints[name] = strings.TrimSpace(version)
	}
	return Filter{set: true, constraints: constraints}, nil
}

// Disabled reports whether this is the "no filter" sentinel.
func (f Filter) Disabled() bool { return !f.set }

// SelectsAll reports whether the filter selects every catalog entry.
func (f Filter) SelectsAll() bool { return len(f.constraints) == 0 }

// Names returns the filtered cookbook names in lexical order.
func (f Filter) Names() []string {
	names := make([]string, 0, len(f.constraints))
	for name := range f.constraints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Constraint returns the requested version for name, empty for latest.
func (f Filter) Constraint(name string) (string, bool) {
	v, ok := f.constraints[name]
	return v, ok
}

// Map returns a copy of the constraints, nil for the "no filter" sentinel.
func (f Filter) Map() map[string]string {
	if !f.set {
		return nil
	}
	return cloneDeps(f.constraints)
}

// String renders the filter for logs and reports.
func (f Filter) String() string {
	switch {
	case !f.set:
		return "<no filter>"
	case len(f.constraints) == 0:
		return "{}"
	}
	parts := make([]string, 0, len(f.constraints))
	for _, name := range f.Names() {
		v := f.constraints[name]
		if v == "" {
			v = "latest"
		}
		parts = append(parts, name+"="+v)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
