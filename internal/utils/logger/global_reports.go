package logger

import (
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/go-git/go-billy/v5"
)

// StringListReport is a titled list of strings collected during a run, e.g.
// every artifact url fetched by a sync.
type StringListReport struct {
	mu    sync.Mutex
	Title string
	Items []string
}

// GlobalStringListReport collects the urls fetched by the current process.
var GlobalStringListReport = &StringListReport{Title: "FetchedFiles"}

// Add appends item to the report.
func (r *StringListReport) Add(item string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Items = append(r.Items, item)
}

// Snapshot returns the sorted items without clearing them.
func (r *StringListReport) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.Items...)
	sort.Strings(out)
	return out
}

// take removes and returns the sorted items.
func (r *StringListReport) take() []string {
	r.mu.Lock()
	items := r.Items
	r.Items = nil
	r.mu.Unlock()
	sort.Strings(items)
	return items
}

// putBack returns items that could not be written.
func (r *StringListReport) putBack(items []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Items = append(items, r.Items...)
}

// WriteListToFile writes the report to dir/fetchurl-<title>.txt on fs, one
// item per line, and clears it. The file is replaced, not appended to. Items
// added while the file is written are kept for the next write.
func (r *StringListReport) WriteListToFile(fs billy.Filesystem, dir string) (reportPath string, err error) {
	items := r.take()
	defer func() {
		if err != nil {
			r.putBack(items)
		}
	}()

	if err := fs.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating report dir: %w", err)
	}

	// Replace anything that is not alphanumeric with underscores
	title := r.Title
	if title == "" {
		title = "untitled"
	}
	safeTitle := make([]rune, 0, len(title))
	for _, c := range title {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			safeTitle = append(safeTitle, c)
		} else {
			safeTitle = append(safeTitle, '_')
		}
	}

	reportPath = path.Join(dir, fmt.Sprintf("fetchurl-%s.txt", string(safeTitle)))
	f, err := fs.Create(reportPath)
	if err != nil {
		return "", fmt.Errorf("opening report file: %w", err)
	}
	defer f.Close()

	for _, item := range items {
		if _, err := fmt.Fprintln(f, item); err != nil {
			return "", fmt.Errorf("writing report file: %w", err)
		}
	}
	return reportPath, nil
}
