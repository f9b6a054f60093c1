package contentstore

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/open-edge-platform/cookbook-sync/internal/cookbook"
)

func identified(t *testing.T, name, version, url string, data []byte) cookbook.PackageUnit {
	t.Helper()
	id, _, err := cookbook.ComputeImmediate(name, version, data)
	if err != nil {
		t.Fatalf("ComputeImmediate failed: %v", err)
	}
	u, err := cookbook.PackageUnit{Name: name, Version: version, DownloadURL: url}.Identify(id)
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	return u
}

func TestIngestAndDeduplicate(t *testing.T) {
	s := New(memfs.New())
	data := []byte("ntp tarball")

	id, rel, dedup, err := s.Ingest("ntp", "1.0.0", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if dedup {
		t.Error("expected first ingest to store new bytes")
	}
	if id.Type() != cookbook.ContentIDSHA256 {
		t.Errorf("expected sha256 identity, got %s", id)
	}

	id2, rel2, dedup, err := s.Ingest("ntp", "1.0.0", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("second Ingest failed: %v", err)
	}
	if !dedup || id2 != id || rel2 != rel {
		t.Errorf("expected second ingest to deduplicate onto %s, got %s dedup=%v", rel, rel2, dedup)
	}

	ok, err := s.HasArtifact(rel)
	if err != nil || !ok {
		t.Errorf("expected artifact at %s, got %v %v", rel, ok, err)
	}

	entries, err := s.Filesystem().ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("ReadDir tmp: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no temp leftovers, found %d", len(entries))
	}
}

func TestIngestDifferentBytesDoNotCollide(t *testing.T) {
	s := New(memfs.New())

	_, rel1, _, err := s.Ingest("ntp", "1.0.0", strings.NewReader("one"))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	_, rel2, dedup, err := s.Ingest("ntp", "1.0.0", strings.NewReader("two"))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if rel1 == rel2 || dedup {
		t.Errorf("expected distinct paths without dedup, got %s and %s (dedup=%v)", rel1, rel2, dedup)
	}
}

func TestIngestRejectsUnsafeName(t *testing.T) {
	s := New(memfs.New())
	_, _, _, err := s.Ingest("../escape", "1.0.0", strings.NewReader("x"))
	if !errors.Is(err, cookbook.ErrInvalidPathComponent) {
		t.Errorf("expected ErrInvalidPathComponent, got %v", err)
	}
	entries, _ := s.Filesystem().ReadDir(tmpDir)
	if len(entries) != 0 {
		t.Errorf("expected temp file to be removed, found %d", len(entries))
	}
}

func TestPutArtifactVerifiesDigest(t *testing.T) {
	s := New(memfs.New())
	u := identified(t, "apache2", "8.14.1", "http://x", []byte("real bytes"))

	if _, err := s.PutArtifact(u, strings.NewReader("forged bytes")); !errors.Is(err, cookbook.ErrDigestMismatch) {
		t.Fatalf("expected ErrDigestMismatch, got %v", err)
	}
	if ok, _ := s.HasArtifact(u.RelativePath()); ok {
		t.Error("expected mismatched bytes never to become visible")
	}

	dedup, err := s.PutArtifact(u, strings.NewReader("real bytes"))
	if err != nil || dedup {
		t.Fatalf("expected fresh store, got dedup=%v err=%v", dedup, err)
	}
	dedup, err = s.PutArtifact(u, strings.NewReader("real bytes"))
	if err != nil || !dedup {
		t.Errorf("expected dedup on second put, got dedup=%v err=%v", dedup, err)
	}

	data, err := s.ReadArtifact(u)
	if err != nil {
		t.Fatalf("ReadArtifact failed: %v", err)
	}
	if string(data) != "real bytes" {
		t.Errorf("unexpected artifact bytes %q", data)
	}
}

func TestPutArtifactRejectsUUIDUnits(t *testing.T) {
	s := New(memfs.New())
	u, err := cookbook.PackageUnit{Name: "ntp", Version: "1.0.0"}.Identify(cookbook.NewUUIDID())
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if _, err := s.PutArtifact(u, strings.NewReader("x")); err == nil {
		t.Error("expected uuid unit to be rejected")
	}
}

func TestOpenArtifactDetectsCorruption(t *testing.T) {
	fs := memfs.New()
	s := New(fs)
	u := identified(t, "ntp", "1.0.0", "http://x", []byte("good"))
	if _, err := s.PutArtifact(u, strings.NewReader("good")); err != nil {
		t.Fatalf("PutArtifact failed: %v", err)
	}

	if err := util.WriteFile(fs, artifactPath(u.RelativePath()), []byte("evil"), 0644); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	if _, err := s.ReadArtifact(u); !errors.Is(err, cookbook.ErrDigestMismatch) {
		t.Errorf("expected ErrDigestMismatch, got %v", err)
	}
}

func TestOpenArtifactMissing(t *testing.T) {
	s := New(memfs.New())
	u := identified(t, "ntp", "1.0.0", "http://x", []byte("good"))
	if _, err := s.OpenArtifact(u); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPutUnitIsImmutable(t *testing.T) {
	s := New(memfs.New())
	u := identified(t, "ntp", "1.0.0", "http://x/ntp.tgz", []byte("bytes"))

	existed, err := s.PutUnit(u)
	if err != nil || existed {
		t.Fatalf("expected fresh put, got existed=%v err=%v", existed, err)
	}
	existed, err = s.PutUnit(u)
	if err != nil || !existed {
		t.Errorf("expected identical put to be a no-op, got existed=%v err=%v", existed, err)
	}

	changed := u
	changed.DownloadURL = "http://elsewhere/ntp.tgz"
	if _, err := s.PutUnit(changed); !errors.Is(err, cookbook.ErrImmutableContentViolation) {
		t.Errorf("expected ErrImmutableContentViolation, got %v", err)
	}
	if err := s.UpdateUnit(u); !errors.Is(err, cookbook.ErrImmutableContentViolation) {
		t.Errorf("expected UpdateUnit to fail with ErrImmutableContentViolation, got %v", err)
	}

	stored, err := s.GetUnit(u.RelativePath())
	if err != nil {
		t.Fatalf("GetUnit failed: %v", err)
	}
	if !stored.Equal(u) {
		t.Errorf("expected stored unit to be unchanged, got %+v", stored)
	}
}

func TestGetUnitMissing(t *testing.T) {
	s := New(memfs.New())
	if _, err := s.GetUnit("ntp/1.0.0/x/ntp-1.0.0.tar.gz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUnitsSortedByRelativePath(t *testing.T) {
	s := New(memfs.New())

	units, err := s.Units()
	if err != nil || len(units) != 0 {
		t.Fatalf("expected empty store, got %v %v", units, err)
	}

	for i, name := range []string{"zeta", "alpha", "mid"} {
		u := identified(t, name, "1.0.0", "http://x", []byte(fmt.Sprintf("bytes-%d", i)))
		if _, err := s.PutUnit(u); err != nil {
			t.Fatalf("PutUnit failed: %v", err)
		}
	}

	units, err = s.Units()
	if err != nil {
		t.Fatalf("Units failed: %v", err)
	}
	if len(units) != 3 || units[0].Name != "alpha" || units[2].Name != "zeta" {
		t.Errorf("unexpected unit order %v", units)
	}
}

func TestConcurrentIngestSamePath(t *testing.T) {
	s := NewOS(t.TempDir())
	data := bytes.Repeat([]byte("z"), 4096)

	var wg sync.WaitGroup
	var mu sync.Mutex
	stored := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, dedup, err := s.Ingest("ntp", "1.0.0", bytes.NewReader(data))
			if err != nil {
				t.Errorf("Ingest failed: %v", err)
				return
			}
			if !dedup {
				mu.Lock()
				stored++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if stored != 1 {
		t.Errorf("expected exactly one writer to store the bytes, got %d", stored)
	}
}

func TestCleanTemp(t *testing.T) {
	fs := memfs.New()
	s := New(fs)
	if err := util.WriteFile(fs, "tmp/artifact-leftover", []byte("partial"), 0644); err != nil {
		t.Fatalf("write leftover: %v", err)
	}
	if err := s.CleanTemp(); err != nil {
		t.Fatalf("CleanTemp failed: %v", err)
	}
	if _, err := fs.Stat("tmp/artifact-leftover"); err == nil {
		t.Error("expected leftover to be removed")
	}
}

func TestLockExcludesOtherStoresOnSameDirectory(t *testing.T) {
	dir := t.TempDir()
	first, second := NewOS(dir), NewOS(dir)

	unlock, err := first.Lock()
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	acquired := make(chan func() error)
	go func() {
		unlock2, err := second.Lock()
		if err != nil {
			t.Errorf("second Lock failed: %v", err)
			close(acquired)
			return
		}
		acquired <- unlock2
	}()

	select {
	case <-acquired:
		t.Fatal("expected second store to wait for the lock")
	case <-time.After(100 * time.Millisecond):
	}

	if err := unlock(); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	select {
	case unlock2, ok := <-acquired:
		if ok {
			if err := unlock2(); err != nil {
				t.Errorf("second unlock failed: %v", err)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("second store never acquired the lock")
	}
}
