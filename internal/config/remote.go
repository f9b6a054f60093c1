package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/open-edge-platform/cookbook-sync/internal/config/validate"
	"github.com/open-edge-platform/cookbook-sync/internal/cookbook"
)

// Policy selects when artifact bytes are downloaded.
type Policy string

const (
	// PolicyImmediate downloads and hashes every unit during the sync.
	PolicyImmediate Policy = "immediate"
	// PolicyOnDemand assigns placeholder identities and downloads later.
	PolicyOnDemand Policy = "on_demand"
	// PolicyStreamed is accepted as another name for PolicyOnDemand.
	PolicyStreamed Policy = "streamed"
)

// Deferred reports whether the policy postpones downloads.
func (p Policy) Deferred() bool {
	return p == PolicyOnDemand || p == PolicyStreamed
}

// DefaultIndexPath is the catalog document path below a remote url.
const DefaultIndexPath = "universe"

// RemoteSpec configures one sync source.
type RemoteSpec struct {
	Name       string          `json:"name"`
	URL        string          `json:"url"`
	IndexPath  string          `json:"index_path,omitempty"`
	Cookbooks  cookbook.Filter `json:"-"`
	Policy     Policy          `json:"policy,omitempty"`
	Mirror     bool            `json:"mirror"`
	Repository string          `json:"repository,omitempty"`
	SigningKey string          `json:"signing_key,omitempty"`
}

type remoteJSON struct {
	Name       string          `json:"name"`
	URL        string          `json:"url"`
	IndexPath  string          `json:"index_path"`
	Cookbooks  json.RawMessage `json:"cookbooks"`
	Policy     Policy          `json:"policy"`
	Mirror     bool            `json:"mirror"`
	Repository string          `json:"repository"`
	SigningKey string          `json:"signing_key"`
}

type remotesFile struct {
	Remotes []remoteJSON `json:"remotes"`
}

// LoadRemotes reads a remotes YAML file.
func LoadRemotes(path string) ([]RemoteSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading remotes file %s: %w", path, err)
	}
	remotes, err := ParseRemotes(data)
	if err != nil {
		return nil, fmt.Errorf("remotes file %s: %w", path, err)
	}
	return remotes, nil
}

// ParseRemotes converts YAML to JSON, validates it against the remotes
// schema and decodes it with defaults applied.
func ParseRemotes(data []byte) ([]RemoteSpec, error) {
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("converting YAML to JSON: %w", err)
	}
	if err := validate.ValidateRemotesJSON(jsonData); err != nil {
		return nil, err
	}

	var file remotesFile
	if err := json.Unmarshal(jsonData, &file); err != nil {
		return nil, fmt.Errorf("decoding remotes: %w", err)
	}

	seen := make(map[string]bool, len(file.Remotes))
	out := make([]RemoteSpec, 0, len(file.Remotes))
	for i, raw := range file.Remotes {
		spec, err := raw.spec()
		if err != nil {
			return nil, fmt.Errorf("remote %d (%s): %w", i, raw.Name, err)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("remote %d: duplicate name %q", i, spec.Name)
		}
		seen[spec.Name] = true
		out = append(out, spec)
	}
	return out, nil
}

func (r remoteJSON) spec() (RemoteSpec, error) {
	filter, err := ParseFilter(r.Cookbooks)
	if err != nil {
		return RemoteSpec{}, err
	}
	spec := RemoteSpec{
		Name:       r.Name,
		URL:        strings.TrimSpace(r.URL),
		IndexPath:  r.IndexPath,
		Cookbooks:  filter,
		Policy:     r.Policy,
		Mirror:     r.Mirror,
		Repository: r.Repository,
		SigningKey: r.SigningKey,
	}
	spec.applyDefaults()
	return spec, spec.Validate()
}

func (s *RemoteSpec) applyDefaults() {
	if s.IndexPath == "" {
		s.IndexPath = DefaultIndexPath
	}
	if s.Policy == "" {
		s.Policy = PolicyImmediate
	}
	if s.Repository == "" {
		s.Repository = s.Name
	}
}

// Validate checks a spec built in code; specs from ParseRemotes already
// passed the schema.
func (s RemoteSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("remote name is required")
	}
	if s.URL == "" {
		return fmt.Errorf("remote %s: url is required", s.Name)
	}
	switch s.Policy {
	case PolicyImmediate, PolicyOnDemand, PolicyStreamed:
	default:
		return fmt.Errorf("remote %s: unknown policy %q", s.Name, s.Policy)
	}
	if strings.ContainsAny(s.Repository, `/\`) || s.Repository == "." || s.Repository == ".." {
		return fmt.Errorf("remote %s: invalid repository name %q", s.Name, s.Repository)
	}
	return nil
}

// WithDefaults returns s with unset fields defaulted.
func (s RemoteSpec) WithDefaults() RemoteSpec {
	s.applyDefaults()
	return s
}

// ParseFilter decodes a cookbooks setting. Absent, null and "" give the
// "no filter" sentinel; a mapping of non-blank names to version strings
// gives a filter. Anything else is rejected.
func ParseFilter(raw json.RawMessage) (cookbook.Filter, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return cookbook.NoFilter(), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return cookbook.NoFilter(), nil
		}
		return cookbook.Filter{}, fmt.Errorf(`cookbooks: format must be {"<cookbook_name>": "<version_string>"} or ""`)
	}

	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return cookbook.Filter{}, fmt.Errorf(`cookbooks: format must be {"<cookbook_name>": "<version_string>"} or "": %w`, err)
	}
	if m == nil {
		m = map[string]string{}
	}
	return cookbook.NewFilter(m)
}

// FindRemote returns the remote called name.
func FindRemote(remotes []RemoteSpec, name string) (RemoteSpec, error) {
	for _, r := range remotes {
		if r.Name == name {
			return r, nil
		}
	}
	names := make([]string, 0, len(remotes))
	for _, r := range remotes {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return RemoteSpec{}, fmt.Errorf("remote %q not found (have: %s)", name, strings.Join(names, ", "))
}
