package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/open-edge-platform/cookbook-sync/internal/cookbook"
	"github.com/open-edge-platform/cookbook-sync/internal/utils/logger"
)

// ErrVersionNotFound is returned by Get for an unknown version number.
var ErrVersionNotFound = errors.New("repository version not found")

const (
	versionsDir = "versions"
	lockFile    = ".lock"
)

// Store persists version lineages on a billy filesystem, one JSON document
// per version:
//
//	<repository>/versions/000001.json
type Store struct {
	fs billy.Filesystem
	mu sync.Mutex
}

// NewStore returns a version store rooted at fs.
func NewStore(fs billy.Filesystem) *Store {
	return &Store{fs: fs}
}

func versionFile(repo string, n int) string {
	return path.Join(repo, versionsDir, fmt.Sprintf("%06d.json", n))
}

func checkRepository(repo string) error {
	if repo == "" || repo == "." || repo == ".." || strings.ContainsAny(repo, `/\`) {
		return fmt.Errorf("invalid repository name %q", repo)
	}
	return nil
}

// List returns the version numbers of repo in ascending order.
func (s *Store) List(repo string) ([]int, error) {
	if err := checkRepository(repo); err != nil {
		return nil, err
	}
	infos, err := s.fs.ReadDir(path.Join(repo, versionsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return []int{}, nil
		}
		return nil, fmt.Errorf("listing versions of %s: %w", repo, err)
	}

	numbers := make([]int, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(name, ".json"))
		if err != nil || n < 1 {
			continue
		}
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers, nil
}

// Get loads version n of repo. Version 0 is always the empty base.
func (s *Store) Get(repo string, n int) (*Version, error) {
	if err := checkRepository(repo); err != nil {
		return nil, err
	}
	if n == 0 {
		return Empty(repo), nil
	}
	data, err := util.ReadFile(s.fs, versionFile(repo, n))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s version %d: %w", repo, n, ErrVersionNotFound)
		}
		return nil, fmt.Errorf("reading %s version %d: %w", repo, n, err)
	}
	var v Version
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decoding %s version %d: %w", repo, n, err)
	}
	if v.Number != n || v.Repository != repo {
		return nil, fmt.Errorf("%s version %d: stored document is %s version %d", repo, n, v.Repository, v.Number)
	}
	return &v, nil
}

// Latest returns the current version of repo, the empty base if none has
// been published.
func (s *Store) Latest(repo string) (*Version, error) {
	numbers, err := s.List(repo)
	if err != nil {
		return nil, err
	}
	if len(numbers) == 0 {
		return Empty(repo), nil
	}
	return s.Get(repo, numbers[len(numbers)-1])
}

// Publish makes v the current version of its repository. It only succeeds
// when v directly follows the current latest version; otherwise, or on any
// storage error, it fails with ErrCommitFailed and nothing becomes visible.
// The document is written to a temp file and renamed into place.
func (s *Store) Publish(v *Version) error {
	log := logger.Logger()

	if err := checkRepository(v.Repository); err != nil {
		return fmt.Errorf("%w: %v", cookbook.ErrCommitFailed, err)
	}
	if v.Number != v.Base+1 {
		return fmt.Errorf("%w: version %d does not follow base %d", cookbook.ErrCommitFailed, v.Number, v.Base)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lockRepository(v.Repository)
	if err != nil {
		return fmt.Errorf("%w: %v", cookbook.ErrCommitFailed, err)
	}
	defer func() {
		if err := unlock(); err != nil {
			log.Warnf("releasing %s lock: %v", v.Repository, err)
		}
	}()

	numbers, err := s.List(v.Repository)
	if err != nil {
		return fmt.Errorf("%w: %v", cookbook.ErrCommitFailed, err)
	}
	latest := 0
	if len(numbers) > 0 {
		latest = numbers[len(numbers)-1]
	}
	if latest != v.Base {
		return fmt.Errorf("%w: %s moved from version %d to %d during the sync",
			cookbook.ErrCommitFailed, v.Repository, v.Base, latest)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding version: %v", cookbook.ErrCommitFailed, err)
	}

	dir := path.Join(v.Repository, versionsDir)
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: creating %s: %v", cookbook.ErrCommitFailed, dir, err)
	}
	tmp, err := util.TempFile(s.fs, dir, ".publish-")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", cookbook.ErrCommitFailed, err)
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("%w: writing version: %v", cookbook.ErrCommitFailed, errors.Join(werr, cerr))
	}

	target := versionFile(v.Repository, v.Number)
	if _, err := s.fs.Stat(target); err == nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("%w: %s version %d already exists", cookbook.ErrCommitFailed, v.Repository, v.Number)
	}
	if err := s.fs.Rename(tmpName, target); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("%w: publishing version: %v", cookbook.ErrCommitFailed, err)
	}

	log.Infof("published %s version %d (+%d -%d, %d units)", v.Repository, v.Number, len(v.Added), len(v.Removed), len(v.Units))
	return nil
}

// lockRepository takes the lock file of repo, which serializes publishers
// in different processes sharing the store.
func (s *Store) lockRepository(repo string) (func() error, error) {
	if err := s.fs.MkdirAll(repo, 0755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", repo, err)
	}
	f, err := s.fs.OpenFile(path.Join(repo, lockFile), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening %s lock: %w", repo, err)
	}
	if err := f.Lock(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("locking %s: %w", repo, err)
	}
	return func() error {
		return errors.Join(f.Unlock(), f.Close())
	}, nil
}
