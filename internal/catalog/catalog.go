package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/open-edge-platform/cookbook-sync/internal/config/validate"
	"github.com/open-edge-platform/cookbook-sync/internal/cookbook"
)

// Entry is one version of one cookbook as listed by the remote catalog.
type Entry struct {
	Name         string
	Version      string
	DownloadURL  string
	Dependencies map[string]string
	LocationType string
	LocationPath string

	// position in the source document, used to break version ties
	order int
}

// Unit converts the entry into an unidentified package unit.
func (e Entry) Unit() cookbook.PackageUnit {
	var deps map[string]string
	if len(e.Dependencies) > 0 {
		deps = make(map[string]string, len(e.Dependencies))
		for k, v := range e.Dependencies {
			deps[k] = v
		}
	}
	return cookbook.PackageUnit{
		Name:         e.Name,
		Version:      e.Version,
		DownloadURL:  e.DownloadURL,
		Dependencies: deps,
	}
}

// Index is the decoded catalog: cookbook name to its versions, each list
// sorted ascending by CompareVersions with ties kept in declaration order.
type Index struct {
	byName map[string][]Entry
	names  []string
	count  int
}

type entryJSON struct {
	DownloadURL  string            `json:"download_url"`
	Dependencies map[string]string `json:"dependencies"`
	LocationType string            `json:"location_type"`
	LocationPath string            `json:"location_path"`
}

// Build validates raw against the universe schema and decodes it into an
// Index. Any structural problem is reported as ErrMalformedCatalog.
func Build(raw []byte) (*Index, error) {
	if err := validate.ValidateUniverseJSON(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", cookbook.ErrMalformedCatalog, err)
	}

	idx := &Index{byName: make(map[string][]Entry)}
	dec := json.NewDecoder(bytes.NewReader(raw))

	if err := expectDelim(dec, '{', "/"); err != nil {
		return nil, err
	}
	order := 0
	for dec.More() {
		name, err := readKey(dec, "/")
		if err != nil {
			return nil, err
		}
		loc := "/" + name
		if _, dup := idx.byName[name]; dup {
			return nil, fmt.Errorf("%w: at %s: duplicate cookbook", cookbook.ErrMalformedCatalog, loc)
		}
		if err := expectDelim(dec, '{', loc); err != nil {
			return nil, err
		}

		entries := []Entry{}
		seen := make(map[string]bool)
		for dec.More() {
			version, err := readKey(dec, loc)
			if err != nil {
				return nil, err
			}
			vloc := loc + "/" + version
			if seen[version] {
				return nil, fmt.Errorf("%w: at %s: duplicate version", cookbook.ErrMalformedCatalog, vloc)
			}
			seen[version] = true

			entry, err := decodeEntry(dec, vloc)
			if err != nil {
				return nil, err
			}
			entry.Name = name
			entry.Version = version
			entry.order = order
			order++
			entries = append(entries, entry)
		}
		if err := expectDelim(dec, '}', loc); err != nil {
			return nil, err
		}

		sort.SliceStable(entries, func(i, j int) bool {
			return CompareVersions(entries[i].Version, entries[j].Version) < 0
		})
		idx.byName[name] = entries
		idx.names = append(idx.names, name)
		idx.count += len(entries)
	}
	if err := expectDelim(dec, '}', "/"); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after document", cookbook.ErrMalformedCatalog)
	}

	sort.Strings(idx.names)
	return idx, nil
}

func decodeEntry(dec *json.Decoder, loc string) (Entry, error) {
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return Entry{}, fmt.Errorf("%w: at %s: %v", cookbook.ErrMalformedCatalog, loc, err)
	}

	// A bare string is the download url itself.
	var url string
	if err := json.Unmarshal(raw, &url); err == nil {
		if url == "" {
			return Entry{}, fmt.Errorf("%w: at %s: empty download url", cookbook.ErrMalformedCatalog, loc)
		}
		return Entry{DownloadURL: url}, nil
	}

	var ej entryJSON
	if err := json.Unmarshal(raw, &ej); err != nil {
		return Entry{}, fmt.Errorf("%w: at %s: %v", cookbook.ErrMalformedCatalog, loc, err)
	}
	if ej.DownloadURL == "" {
		return Entry{}, fmt.Errorf("%w: at %s: missing download_url", cookbook.ErrMalformedCatalog, loc)
	}
	return Entry{
		DownloadURL:  ej.DownloadURL,
		Dependencies: ej.Dependencies,
		LocationType: ej.LocationType,
		LocationPath: ej.LocationPath,
	}, nil
}

func expectDelim(dec *json.Decoder, want json.Delim, loc string) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: at %s: %v", cookbook.ErrMalformedCatalog, loc, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: at %s: expected %q, got %v", cookbook.ErrMalformedCatalog, loc, want, tok)
	}
	return nil
}

func readKey(dec *json.Decoder, loc string) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("%w: at %s: %v", cookbook.ErrMalformedCatalog, loc, err)
	}
	key, ok := tok.(string)
	if !ok || key == "" {
		return "", fmt.Errorf("%w: at %s: invalid key %v", cookbook.ErrMalformedCatalog, loc, tok)
	}
	return key, nil
}

// Lookup returns every known version of name, ascending. The slice is a
// copy; it is empty for unknown names.
func (idx *Index) Lookup(name string) []Entry {
	entries := idx.byName[name]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Latest returns the highest version of name. Among versions that compare
// equal the one declared first in the catalog wins.
func (idx *Index) Latest(name string) (Entry, bool) {
	entries := idx.byName[name]
	if len(entries) == 0 {
		return Entry{}, false
	}
	best := entries[len(entries)-1]
	for i := len(entries) - 2; i >= 0; i-- {
		if CompareVersions(entries[i].Version, best.Version) != 0 {
			break
		}
		if entries[i].order < best.order {
			best = entries[i]
		}
	}
	return best, true
}

// Names returns the cookbook names in lexical order.
func (idx *Index) Names() []string {
	out := make([]string, len(idx.names))
	copy(out, idx.names)
	return out
}

// Len is the total number of (name, version) entries.
func (idx *Index) Len() int { return idx.count }

// All returns every entry ordered by name, then version.
func (idx *Index) All() []Entry {
	out := make([]Entry, 0, idx.count)
	for _, name := range idx.names {
		out = append(out, idx.byName[name]...)
	}
	return out
}
