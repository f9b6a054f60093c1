package contentstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/open-edge-platform/cookbook-sync/internal/cookbook"
	"github.com/open-edge-platform/cookbook-sync/internal/utils/logger"
)

const (
	artifactsDir = "artifacts"
	unitsDir     = "units"
	tmpDir       = "tmp"
	lockFile     = ".lock"
	unitSuffix   = ".json"
)

// ErrNotFound is returned for a relative path with no stored record.
var ErrNotFound = errors.New("not found in content store")

// Store keeps artifact bytes and unit records keyed by relative path:
//
//	artifacts/<relative_path>
//	units/<relative_path>.json
//
// Artifacts are written to tmp/ and renamed into place once their digest is
// known, so a partial download is never visible. The store may be shared by
// concurrent syncs of different remotes.
type Store struct {
	fs    billy.Filesystem
	locks keyedMutex
}

// New returns a store rooted at fs.
func New(fs billy.Filesystem) *Store {
	return &Store{fs: fs}
}

// NewOS returns a store rooted at dir on the local filesystem.
func NewOS(dir string) *Store {
	return New(osfs.New(dir))
}

// Filesystem exposes the backing filesystem.
func (s *Store) Filesystem() billy.Filesystem { return s.fs }

func artifactPath(rel string) string { return path.Join(artifactsDir, rel) }

func unitPath(rel string) string { return path.Join(unitsDir, rel) + unitSuffix }

// HasArtifact reports whether bytes are stored under rel.
func (s *Store) HasArtifact(rel string) (bool, error) {
	return s.exists(artifactPath(rel))
}

func (s *Store) exists(p string) (bool, error) {
	_, err := s.fs.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", p, err)
	}
}

// Ingest streams an artifact of unknown identity into the store, computing
// its SHA256 content id on the way. When bytes with the same relative path
// are already stored the new copy is discarded and deduplicated is true.
func (s *Store) Ingest(name, version string, r io.Reader) (id cookbook.ContentID, rel string, deduplicated bool, err error) {
	tmp, err := s.tempFile()
	if err != nil {
		return cookbook.ContentID{}, "", false, err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = s.fs.Remove(tmpName)
		}
	}()

	id, rel, _, err = cookbook.ComputeImmediateReader(name, version, io.TeeReader(r, tmp))
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing temp artifact: %w", cerr)
	}
	if err != nil {
		return cookbook.ContentID{}, "", false, err
	}

	deduplicated, err = s.promote(tmpName, rel)
	return id, rel, deduplicated, err
}

// PutArtifact stores the bytes of an identified SHA256 unit. The digest is
// verified before the bytes become visible. Existing bytes are kept and
// reported as deduplicated.
func (s *Store) PutArtifact(u cookbook.PackageUnit, r io.Reader) (deduplicated bool, err error) {
	if u.ContentID().Type() != cookbook.ContentIDSHA256 {
		return false, fmt.Errorf("put artifact %s: only sha256 units carry bytes", u)
	}
	rel := u.RelativePath()
	if ok, err := s.HasArtifact(rel); err != nil || ok {
		return ok, err
	}

	tmp, err := s.tempFile()
	if err != nil {
		return false, err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = s.fs.Remove(tmpName)
		}
	}()

	h := sha256.New()
	_, err = io.Copy(io.MultiWriter(tmp, h), r)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return false, fmt.Errorf("writing artifact %s: %w", rel, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != u.ContentID().Value() {
		return false, fmt.Errorf("%s: have %s: %w", u, got, cookbook.ErrDigestMismatch)
	}
	return s.promote(tmpName, rel)
}

// promote renames a finished temp file to artifacts/<rel>, or drops it when
// the path is already taken.
func (s *Store) promote(tmpName, rel string) (bool, error) {
	unlock := s.locks.lock(rel)
	defer unlock()

	dst := artifactPath(rel)
	ok, err := s.exists(dst)
	if err != nil {
		return false, err
	}
	if ok {
		if err := s.fs.Remove(tmpName); err != nil {
			return true, fmt.Errorf("removing temp artifact: %w", err)
		}
		return true, nil
	}
	if err := s.fs.MkdirAll(path.Dir(dst), 0755); err != nil {
		return false, fmt.Errorf("creating %s: %w", path.Dir(dst), err)
	}
	if err := s.fs.Rename(tmpName, dst); err != nil {
		return false, fmt.Errorf("promoting artifact %s: %w", rel, err)
	}
	return false, nil
}

func (s *Store) tempFile() (billy.File, error) {
	if err := s.fs.MkdirAll(tmpDir, 0755); err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	f, err := util.TempFile(s.fs, tmpDir, "artifact-")
	if err != nil {
		return nil, fmt.Errorf("creating temp artifact: %w", err)
	}
	return f, nil
}

// OpenArtifact opens the bytes of u. For SHA256 units the returned reader
// fails with ErrDigestMismatch at EOF if the stored bytes were altered.
func (s *Store) OpenArtifact(u cookbook.PackageUnit) (io.ReadCloser, error) {
	f, err := s.fs.Open(artifactPath(u.RelativePath()))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("artifact %s: %w", u.RelativePath(), ErrNotFound)
		}
		return nil, fmt.Errorf("open artifact %s: %w", u.RelativePath(), err)
	}
	if u.ContentID().Type() != cookbook.ContentIDSHA256 {
		return f, nil
	}
	return &verifyingReader{f: f, h: sha256.New(), unit: u}, nil
}

// ReadArtifact returns the verified bytes of u.
func (s *Store) ReadArtifact(u cookbook.PackageUnit) ([]byte, error) {
	rc, err := s.OpenArtifact(u)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// PutUnit records u. Storing an identical record again is a no-op and
// reports existed; a different record under the same path is an
// ErrImmutableContentViolation and leaves the stored one untouched.
func (s *Store) PutUnit(u cookbook.PackageUnit) (existed bool, err error) {
	if !u.Identified() {
		return false, fmt.Errorf("put unit %s %s: unit has no content id", u.Name, u.Version)
	}
	rel := u.RelativePath()
	unlock := s.locks.lock(unitPath(rel))
	defer unlock()

	stored, err := s.GetUnit(rel)
	switch {
	case err == nil:
		if !stored.Equal(u) {
			return true, fmt.Errorf("unit %s: %w", rel, cookbook.ErrImmutableContentViolation)
		}
		return true, nil
	case !errors.Is(err, ErrNotFound):
		return false, err
	}

	data, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return false, fmt.Errorf("encoding unit %s: %w", rel, err)
	}
	p := unitPath(rel)
	if err := s.fs.MkdirAll(path.Dir(p), 0755); err != nil {
		return false, fmt.Errorf("creating %s: %w", path.Dir(p), err)
	}
	if err := util.WriteFile(s.fs, p, data, 0644); err != nil {
		return false, fmt.Errorf("writing unit %s: %w", rel, err)
	}
	logger.Logger().Debugf("stored unit %s", rel)
	return false, nil
}

// GetUnit loads the unit recorded under rel.
func (s *Store) GetUnit(rel string) (cookbook.PackageUnit, error) {
	data, err := util.ReadFile(s.fs, unitPath(rel))
	if err != nil {
		if os.IsNotExist(err) {
			return cookbook.PackageUnit{}, fmt.Errorf("unit %s: %w", rel, ErrNotFound)
		}
		return cookbook.PackageUnit{}, fmt.Errorf("reading unit %s: %w", rel, err)
	}
	var u cookbook.PackageUnit
	if err := json.Unmarshal(data, &u); err != nil {
		return cookbook.PackageUnit{}, fmt.Errorf("decoding unit %s: %w", rel, err)
	}
	return u, nil
}

// UpdateUnit always fails: stored units are immutable.
func (s *Store) UpdateUnit(u cookbook.PackageUnit) error {
	return fmt.Errorf("update %s: %w", u, cookbook.ErrImmutableContentViolation)
}

// Units returns every stored unit ordered by relative path.
func (s *Store) Units() ([]cookbook.PackageUnit, error) {
	var units []cookbook.PackageUnit
	if ok, err := s.exists(unitsDir); err != nil || !ok {
		return units, err
	}
	err := util.Walk(s.fs, unitsDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(p, unitSuffix) {
			return nil
		}
		rel := strings.TrimSuffix(strings.TrimPrefix(p, unitsDir+"/"), unitSuffix)
		u, err := s.GetUnit(rel)
		if err != nil {
			return err
		}
		units = append(units, u)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking units: %w", err)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].RelativePath() < units[j].RelativePath() })
	return units, nil
}

// Lock blocks until this process holds the store-wide lock file and returns
// the function that releases it. Processes writing to a shared store hold it
// for the whole run.
func (s *Store) Lock() (func() error, error) {
	f, err := s.fs.OpenFile(lockFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening store lock: %w", err)
	}
	if err := f.Lock(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("locking store: %w", err)
	}
	return func() error {
		return errors.Join(f.Unlock(), f.Close())
	}, nil
}

// CleanTemp removes leftovers of interrupted writes. Callers hold Lock so
// no other run is writing.
func (s *Store) CleanTemp() error {
	ok, err := s.exists(tmpDir)
	if err != nil || !ok {
		return err
	}
	if err := util.RemoveAll(s.fs, tmpDir); err != nil {
		return fmt.Errorf("cleaning temp dir: %w", err)
	}
	return nil
}

type verifyingReader struct {
	f    billy.File
	h    hash.Hash
	unit cookbook.PackageUnit
}

func (v *verifyingReader) Read(p []byte) (int, error) {
	n, err := v.f.Read(p)
	v.h.Write(p[:n])
	if err == io.EOF {
		if got := hex.EncodeToString(v.h.Sum(nil)); got != v.unit.ContentID().Value() {
			return n, fmt.Errorf("%s: stored bytes have %s: %w", v.unit, got, cookbook.ErrDigestMismatch)
		}
	}
	return n, err
}

func (v *verifyingReader) Close() error { return v.f.Close() }

// keyedMutex serializes work on one key while leaving other keys free.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedEntry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
