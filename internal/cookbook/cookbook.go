package cookbook

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ContentIDType tags how a unit's content id was obtained.
type ContentIDType string

const (
	// ContentIDSHA256 is the hex digest of downloaded artifact bytes.
	ContentIDSHA256 ContentIDType = "sha256"
	// ContentIDUUID is a placeholder identity for a unit whose bytes have
	// not been downloaded yet.
	ContentIDUUID ContentIDType = "uuid"
)

// ContentID is a type-tagged content identity. The zero value is an
// unidentified unit. Values are only built through SHA256ID, NewUUIDID and
// ParseContentID, so a tag always matches the shape of its value.
type ContentID struct {
	kind  ContentIDType
	value string
}

// SHA256ID wraps a lowercase 64 character hex digest.
func SHA256ID(digest string) (ContentID, error) {
	if len(digest) != hex.EncodedLen(32) || strings.ToLower(digest) != digest {
		return ContentID{}, fmt.Errorf("sha256 content id %q: want 64 lowercase hex characters", digest)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return ContentID{}, fmt.Errorf("sha256 content id %q: %w", digest, err)
	}
	return ContentID{kind: ContentIDSHA256, value: digest}, nil
}

// NewUUIDID generates a fresh random identity for a deferred unit.
func NewUUIDID() ContentID {
	return ContentID{kind: ContentIDUUID, value: uuid.NewString()}
}

// ParseContentID rebuilds a content id from its surfaced type and value.
func ParseContentID(kind ContentIDType, value string) (ContentID, error) {
	switch kind {
	case ContentIDSHA256:
		return SHA256ID(value)
	case ContentIDUUID:
		u, err := uuid.Parse(value)
		if err != nil {
			return ContentID{}, fmt.Errorf("uuid content id %q: %w", value, err)
		}
		// uuid.Parse accepts several spellings; keep the canonical one.
		if u.String() != value {
			return ContentID{}, fmt.Errorf("uuid content id %q is not in canonical form", value)
		}
		return ContentID{kind: ContentIDUUID, value: value}, nil
	default:
		return ContentID{}, fmt.Errorf("unknown content id type %q", kind)
	}
}

// Type is the identity scheme, empty for an unidentified unit.
func (c ContentID) Type() ContentIDType { return c.kind }

// Value is the hex digest or the canonical UUID.
func (c ContentID) Value() string { return c.value }

// IsZero reports whether no identity has been assigned.
func (c ContentID) IsZero() bool { return c.kind == "" }

// String renders the id as "<type>:<value>".
func (c ContentID) String() string {
	if c.IsZero() {
		return "<unidentified>"
	}
	return string(c.kind) + ":" + c.value
}

// PackageUnit is one version of one named cookbook.
type PackageUnit struct {
	Name         string            // e.g. "apache2"
	Version      string            // e.g. "8.14.1"
	DownloadURL  string            // remote artifact location
	Dependencies map[string]string // name -> constraint, informational only

	id           ContentID
	relativePath string
}

// ContentID returns the unit's identity, zero until Identify is called.
func (u PackageUnit) ContentID() ContentID { return u.id }

// RelativePath is the storage location derived from name, version and
// content id. It is empty for an unidentified unit.
func (u PackageUnit) RelativePath() string { return u.relativePath }

// Identified reports whether the unit carries a content id.
func (u PackageUnit) Identified() bool { return !u.id.IsZero() }

// Identify returns a copy of u carrying id and the relative path derived
// from it. The receiver is left untouched.
func (u PackageUnit) Identify(id ContentID) (PackageUnit, error) {
	if id.IsZero() {
		return PackageUnit{}, fmt.Errorf("identify %s %s: empty content id", u.Name, u.Version)
	}
	rel, err := RelativePath(u.Name, u.Version, id)
	if err != nil {
		return PackageUnit{}, err
	}
	out := u
	out.Dependencies = cloneDeps(u.Dependencies)
	out.id = id
	out.relativePath = rel
	return out, nil
}

// Key identifies the catalog entry a unit was resolved from, independent of
// its content identity.
func (u PackageUnit) Key() string {
	return u.Name + "@" + u.Version
}

// SameSource reports whether two units came from the same catalog entry.
func (u PackageUnit) SameSource(o PackageUnit) bool {
	return u.Name == o.Name && u.Version == o.Version && u.DownloadURL == o.DownloadURL
}

// Equal compares every identity-relevant field.
func (u PackageUnit) Equal(o PackageUnit) bool {
	if !u.SameSource(o) || u.id != o.id || u.relativePath != o.relativePath {
		return false
	}
	if len(u.Dependencies) != len(o.Dependencies) {
		return false
	}
	for k, v := range u.Dependencies {
		if ov, ok := o.Dependencies[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// String renders "<name> <version> (<content id>)" for logs.
func (u PackageUnit) String() string {
	return fmt.Sprintf("%s %s (%s)", u.Name, u.Version, u.id)
}

type unitJSON struct {
	Name          string            `json:"name"`
	Version       string            `json:"version"`
	DownloadURL   string            `json:"download_url,omitempty"`
	Dependencies  map[string]string `json:"dependencies"`
	ContentIDType ContentIDType     `json:"content_id_type,omitempty"`
	ContentID     string            `json:"content_id,omitempty"`
	RelativePath  string            `json:"relative_path,omitempty"`
}

// MarshalJSON writes the unit with its content_id_type and content_id.
func (u PackageUnit) MarshalJSON() ([]byte, error) {
	deps := u.Dependencies
	if deps == nil {
		deps = map[string]string{}
	}
	return json.Marshal(unitJSON{
		Name:          u.Name,
		Version:       u.Version,
		DownloadURL:   u.DownloadURL,
		Dependencies:  deps,
		ContentIDType: u.id.kind,
		ContentID:     u.id.value,
		RelativePath:  u.relativePath,
	})
}

// UnmarshalJSON recomputes the relative path from the decoded identity and
// rejects records whose stored path disagrees with it.
func (u *PackageUnit) UnmarshalJSON(data []byte) error {
	var raw unitJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	unit := PackageUnit{
		Name:         raw.Name,
		Version:      raw.Version,
		DownloadURL:  raw.DownloadURL,
		Dependencies: raw.Dependencies,
	}
	if raw.ContentIDType != "" {
		id, err := ParseContentID(raw.ContentIDType, raw.ContentID)
		if err != nil {
			return err
		}
		unit, err = unit.Identify(id)
		if err != nil {
			return err
		}
		if raw.RelativePath != "" && raw.RelativePath != unit.relativePath {
			return fmt.Errorf("unit %s %s: stored relative path %q does not match %q",
				raw.Name, raw.Version, raw.RelativePath, unit.relativePath)
		}
	}
	*u = unit
	return nil
}

func cloneDeps(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
