// Package publish renders a repository version as a Chef universe document
// served below a content base URL.
package publish

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/open-edge-platform/cookbook-sync/internal/cookbook"
	"github.com/open-edge-platform/cookbook-sync/internal/repository"
)

// LocationTypeURI marks universe entries whose location_path is a plain URL.
const LocationTypeURI = "uri"

// BaseURL joins the content host, the content path prefix and a
// distribution base path. Slashes around every part are dropped and empty
// parts are skipped.
func BaseURL(host, prefix, basePath string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{host, prefix, basePath} {
		if p = strings.Trim(p, "/"); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}

type universeEntry struct {
	LocationType string            `json:"location_type"`
	LocationPath string            `json:"location_path"`
	DownloadURL  string            `json:"download_url"`
	Dependencies map[string]string `json:"dependencies"`
}

// Universe renders v as a universe document. Each unit is served from
// baseURL/<relative_path>. When a name and version appear more than once
// the first SHA256 unit in relative path order is listed.
func Universe(v *repository.Version, baseURL string) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("render universe: nil version")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	doc := make(map[string]map[string]universeEntry)
	kinds := make(map[string]cookbook.ContentIDType)
	for _, u := range v.Units {
		if !u.Identified() {
			return nil, fmt.Errorf("render universe: %s %s has no content id", u.Name, u.Version)
		}
		versions, ok := doc[u.Name]
		if !ok {
			versions = make(map[string]universeEntry)
			doc[u.Name] = versions
		}
		// one entry per name and version; bytes-backed units win over placeholders
		if kind, dup := kinds[u.Key()]; dup && (kind == cookbook.ContentIDSHA256 || u.ContentID().Type() != cookbook.ContentIDSHA256) {
			continue
		}
		kinds[u.Key()] = u.ContentID().Type()
		deps := u.Dependencies
		if deps == nil {
			deps = map[string]string{}
		}
		versions[u.Version] = universeEntry{
			LocationType: LocationTypeURI,
			LocationPath: baseURL,
			DownloadURL:  baseURL + "/" + u.RelativePath(),
			Dependencies: deps,
		}
	}
	return json.MarshalIndent(doc, "", "  ")
}
