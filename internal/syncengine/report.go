package syncengine

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/open-edge-platform/cookbook-sync/internal/config"
	"github.com/open-edge-platform/cookbook-sync/internal/cookbook"
)

// State is a step of a sync run.
type State string

const (
	StateFetchingCatalog    State = "fetching_catalog"
	StateResolvingSelection State = "resolving_selection"
	StateFetchingUnits      State = "fetching_units"
	StateDeduplicating      State = "deduplicating"
	StateCommittingVersion  State = "committing_version"
	StateDone               State = "done"
	StateFailed             State = "failed"
)

// Outcome is what happened to one selected unit.
type Outcome string

const (
	// OutcomeAdded: new content was identified and stored.
	OutcomeAdded Outcome = "added"
	// OutcomeDeduplicated: the unit's relative path was already in the
	// content store, so the stored artifact and record were reused.
	OutcomeDeduplicated Outcome = "deduplicated"
	// OutcomeSkipped: the base version already held the unit and nothing
	// was fetched.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed: the unit could not be fetched or identified.
	OutcomeFailed Outcome = "failed"
)

// Transition records entering a state.
type Transition struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// UnitResult is the per-unit line of a report.
type UnitResult struct {
	Name          string                 `json:"name"`
	Version       string                 `json:"version"`
	DownloadURL   string                 `json:"download_url,omitempty"`
	ContentIDType cookbook.ContentIDType `json:"content_id_type,omitempty"`
	ContentID     string                 `json:"content_id,omitempty"`
	RelativePath  string                 `json:"relative_path,omitempty"`
	Outcome       Outcome                `json:"outcome"`
	Reason        string                 `json:"reason,omitempty"`
}

// Report summarizes one run.
type Report struct {
	Remote      string        `json:"remote"`
	Repository  string        `json:"repository"`
	Policy      config.Policy `json:"policy"`
	Mirror      bool          `json:"mirror"`
	Filter      string        `json:"filter"`
	State       State         `json:"state"`
	Error       string        `json:"error,omitempty"`
	Transitions []Transition  `json:"transitions"`
	Units       []UnitResult  `json:"units"`
	Warnings    []string      `json:"warnings"`
	BaseVersion int           `json:"base_version"`
	Version     int           `json:"version"`
	Added       int           `json:"added"`
	Removed     int           `json:"removed"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// Counts tallies unit outcomes.
func (r *Report) Counts() map[Outcome]int {
	counts := map[Outcome]int{
		OutcomeAdded:        0,
		OutcomeDeduplicated: 0,
		OutcomeSkipped:      0,
		OutcomeFailed:       0,
	}
	for _, u := range r.Units {
		counts[u.Outcome]++
	}
	return counts
}

// Failed returns the failed unit results.
func (r *Report) Failed() []UnitResult {
	var out []UnitResult
	for _, u := range r.Units {
		if u.Outcome == OutcomeFailed {
			out = append(out, u)
		}
	}
	return out
}

// WriteText prints a human readable summary.
func (r *Report) WriteText(w io.Writer) {
	counts := r.Counts()
	fmt.Fprintf(w, "Remote:      %s\n", r.Remote)
	fmt.Fprintf(w, "Repository:  %s\n", r.Repository)
	fmt.Fprintf(w, "Policy:      %s (mirror=%v)\n", r.Policy, r.Mirror)
	fmt.Fprintf(w, "Filter:      %s\n", r.Filter)
	fmt.Fprintf(w, "State:       %s\n", r.State)
	if r.Error != "" {
		fmt.Fprintf(w, "Error:       %s\n", r.Error)
	}
	if r.State == StateDone {
		fmt.Fprintf(w, "Version:     %d -> %d (+%d -%d)\n", r.BaseVersion, r.Version, r.Added, r.Removed)
	}
	fmt.Fprintf(w, "Units:       %d added, %d deduplicated, %d skipped, %d failed\n",
		counts[OutcomeAdded], counts[OutcomeDeduplicated], counts[OutcomeSkipped], counts[OutcomeFailed])
	fmt.Fprintf(w, "Duration:    %s\n", r.Duration.Round(time.Millisecond))

	for _, u := range r.Failed() {
		fmt.Fprintf(w, "  failed %s %s: %s\n", u.Name, u.Version, u.Reason)
	}
	warnings := append([]string(nil), r.Warnings...)
	sort.Strings(warnings)
	for _, msg := range warnings {
		fmt.Fprintf(w, "  warning: %s\n", msg)
	}
}

func resultFor(u cookbook.PackageUnit, outcome Outcome, reason string) UnitResult {
	return UnitResult{
		Name:          u.Name,
		Version:       u.Version,
		DownloadURL:   u.DownloadURL,
		ContentIDType: u.ContentID().Type(),
		ContentID:     u.ContentID().Value(),
		RelativePath:  u.RelativePath(),
		Outcome:       outcome,
		Reason:        reason,
	}
}
