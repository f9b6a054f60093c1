package cookbook

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode"
)

// ArtifactExtension is appended to the artifact file name inside a unit's
// relative path.
const ArtifactExtension = ".tar.gz"

// RelativePath joins name, version and content id into the storage path
//
//	<name>/<version>/<content_id>/<name>-<version>.tar.gz
//
// Units with equal name, version and content id always share a path, and the
// content id segment keeps units with differing bytes apart.
func RelativePath(name, version string, id ContentID) (string, error) {
	if err := checkPathComponent("name", name); err != nil {
		return "", err
	}
	if err := checkPathComponent("version", version); err != nil {
		return "", err
	}
	if id.IsZero() {
		return "", fmt.Errorf("relative path for %s %s: empty content id", name, version)
	}
	return path.Join(name, version, id.Value(), name+"-"+version+ArtifactExtension), nil
}

// ComputeImmediate hashes the complete artifact bytes and derives the unit's
// SHA256 identity and relative path.
func ComputeImmediate(name, version string, data []byte) (ContentID, string, error) {
	sum := sha256.Sum256(data)
	return identify(name, version, hex.EncodeToString(sum[:]))
}

// ComputeImmediateReader is ComputeImmediate over a stream. It returns the
// number of bytes hashed.
func ComputeImmediateReader(name, version string, r io.Reader) (ContentID, string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return ContentID{}, "", n, fmt.Errorf("hashing %s %s: %w", name, version, err)
	}
	id, rel, err := identify(name, version, hex.EncodeToString(h.Sum(nil)))
	return id, rel, n, err
}

// ComputeDeferred assigns a fresh UUID identity to a unit whose bytes have
// not been fetched. Every call yields a distinct path.
func ComputeDeferred(name, version string) (ContentID, string, error) {
	id := NewUUIDID()
	rel, err := RelativePath(name, version, id)
	if err != nil {
		return ContentID{}, "", err
	}
	return id, rel, nil
}

// VerifyDigest checks that data hashes to the unit's SHA256 content id. UUID
// units carry no digest and always pass.
func VerifyDigest(u PackageUnit, data []byte) error {
	if u.ContentID().Type() != ContentIDSHA256 {
		return nil
	}
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != u.ContentID().Value() {
		return fmt.Errorf("%s: have %s: %w", u, got, ErrDigestMismatch)
	}
	return nil
}

func identify(name, version, digest string) (ContentID, string, error) {
	id, err := SHA256ID(digest)
	if err != nil {
		return ContentID{}, "", err
	}
	rel, err := RelativePath(name, version, id)
	if err != nil {
		return ContentID{}, "", err
	}
	return id, rel, nil
}

func checkPathComponent(field, s string) error {
	switch {
	case s == "":
		return fmt.Errorf("%s is empty: %w", field, ErrInvalidPathComponent)
	case s == "." || s == "..":
		return fmt.Errorf("%s %q: %w", field, s, ErrInvalidPathComponent)
	case strings.HasPrefix(s, "."):
		return fmt.Errorf("%s %q starts with a dot: %w", field, s, ErrInvalidPathComponent)
	}
	for _, r := range s {
		if r == '/' || r == '\\' || r == 0 || unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%s %q contains %q: %w", field, s, r, ErrInvalidPathComponent)
		}
	}
	return nil
}
