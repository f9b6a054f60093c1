package repository

import (
	"fmt"
	"sort"
	"time"

	"github.com/open-edge-platform/cookbook-sync/internal/cookbook"
)

// Version is an immutable snapshot of a repository's units. Number 0 is the
// empty base every lineage starts from.
type Version struct {
	Repository string                 `json:"repository"`
	Number     int                    `json:"number"`
	Base       int                    `json:"base"`
	CreatedAt  time.Time              `json:"created_at"`
	Units      []cookbook.PackageUnit `json:"units"`
	Added      []string               `json:"added"`
	Removed    []string               `json:"removed"`
}

// Empty returns the base version of a new lineage.
func Empty(repository string) *Version {
	return &Version{Repository: repository, Units: []cookbook.PackageUnit{}}
}

// Lookup returns the unit stored under rel.
func (v *Version) Lookup(rel string) (cookbook.PackageUnit, bool) {
	i := sort.Search(len(v.Units), func(i int) bool { return v.Units[i].RelativePath() >= rel })
	if i < len(v.Units) && v.Units[i].RelativePath() == rel {
		return v.Units[i], true
	}
	return cookbook.PackageUnit{}, false
}

// Contains reports whether a unit with rel is part of the version.
func (v *Version) Contains(rel string) bool {
	_, ok := v.Lookup(rel)
	return ok
}

// Commit builds the version that follows prev: prev's units minus
// removals, plus additions. prev is never modified and may be nil for an
// empty lineage. Every unit of the result comes from prev or additions.
//
// Additions already in prev are not counted as added. An addition whose
// relative path is taken by a unit with different fields, in prev or in
// additions, fails with ErrImmutableContentViolation. Removals not in prev
// are ignored, as are removals that are also being added.
func Commit(prev *Version, additions, removals []cookbook.PackageUnit, now time.Time) (*Version, error) {
	if prev == nil {
		prev = Empty("")
	}

	set := make(map[string]cookbook.PackageUnit, len(prev.Units)+len(additions))
	for _, u := range prev.Units {
		set[u.RelativePath()] = u
	}

	adding := make(map[string]cookbook.PackageUnit, len(additions))
	for _, u := range additions {
		if !u.Identified() {
			return nil, fmt.Errorf("commit %s %s: unit has no content id", u.Name, u.Version)
		}
		rel := u.RelativePath()
		if other, ok := adding[rel]; ok && !other.Equal(u) {
			return nil, fmt.Errorf("commit %s: conflicting additions: %w", rel, cookbook.ErrImmutableContentViolation)
		}
		if existing, ok := set[rel]; ok && !existing.Equal(u) {
			return nil, fmt.Errorf("commit %s: differs from committed unit: %w", rel, cookbook.ErrImmutableContentViolation)
		}
		adding[rel] = u
	}

	var removed []string
	for _, u := range removals {
		rel := u.RelativePath()
		if _, ok := adding[rel]; ok {
			continue
		}
		if _, ok := set[rel]; ok {
			delete(set, rel)
			removed = append(removed, rel)
		}
	}

	var added []string
	for rel, u := range adding {
		if _, ok := set[rel]; !ok {
			added = append(added, rel)
		}
		set[rel] = u
	}

	units := make([]cookbook.PackageUnit, 0, len(set))
	for _, u := range set {
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].RelativePath() < units[j].RelativePath() })
	sort.Strings(added)
	sort.Strings(removed)
	if added == nil {
		added = []string{}
	}
	if removed == nil {
		removed = []string{}
	}

	return &Version{
		Repository: prev.Repository,
		Number:     prev.Number + 1,
		Base:       prev.Number,
		CreatedAt:  now.UTC(),
		Units:      units,
		Added:      added,
		Removed:    removed,
	}, nil
}
