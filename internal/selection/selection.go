package selection

import (
	"fmt"
	"sort"

	"github.com/open-edge-platform/cookbook-sync/internal/catalog"
	"github.com/open-edge-platform/cookbook-sync/internal/cookbook"
	"github.com/open-edge-platform/cookbook-sync/internal/utils/logger"
)

// Warning is a filter entry that matched nothing in the catalog.
type Warning struct {
	Name    string
	Version string // empty when the latest version was requested
	Err     error
}

func (w Warning) Error() string { return w.Err.Error() }

func (w Warning) Unwrap() error { return w.Err }

// Result is the resolved selection.
type Result struct {
	Units    []cookbook.PackageUnit
	Warnings []Warning
}

// Resolve matches filter against idx. A disabled or empty filter selects
// every (name, version) pair; otherwise an empty constraint selects the
// latest version and a literal constraint selects that exact version.
// Unmatched entries become warnings. Units are ordered by name, then
// version, and dependencies are never expanded.
func Resolve(filter cookbook.Filter, idx *catalog.Index) Result {
	log := logger.Logger()

	var res Result
	if filter.SelectsAll() {
		for _, e := range idx.All() {
			res.Units = append(res.Units, e.Unit())
		}
		log.Debugf("full mirror selected %d units", len(res.Units))
		return res
	}

	for _, name := range filter.Names() {
		constraint, _ := filter.Constraint(name)

		if constraint == "" {
			latest, ok := idx.Latest(name)
			if !ok {
				res.Warnings = append(res.Warnings, unresolved(name, ""))
				continue
			}
			res.Units = append(res.Units, latest.Unit())
			continue
		}

		matched := false
		for _, e := range idx.Lookup(name) {
			if e.Version == constraint {
				res.Units = append(res.Units, e.Unit())
				matched = true
				break
			}
		}
		if !matched {
			res.Warnings = append(res.Warnings, unresolved(name, constraint))
		}
	}

	sort.SliceStable(res.Units, func(i, j int) bool {
		a, b := res.Units[i], res.Units[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return catalog.CompareVersions(a.Version, b.Version) < 0
	})

	for _, w := range res.Warnings {
		log.Warnf("%v", w)
	}
	log.Debugf("selected %d units with %d unresolved entries", len(res.Units), len(res.Warnings))
	return res
}

func unresolved(name, version string) Warning {
	what := name + " (latest)"
	if version != "" {
		what = name + " " + version
	}
	return Warning{
		Name:    name,
		Version: version,
		Err:     fmt.Errorf("%s not in catalog: %w", what, cookbook.ErrUnresolvedSelection),
	}
}
