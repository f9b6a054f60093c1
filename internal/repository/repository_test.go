package repository

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/open-edge-platform/cookbook-sync/internal/cookbook"
)

var now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func unit(t *testing.T, name, version, payload string) cookbook.PackageUnit {
	t.Helper()
	id, _, err := cookbook.ComputeImmediate(name, version, []byte(payload))
	if err != nil {
		t.Fatalf("ComputeImmediate failed: %v", err)
	}
	u, err := cookbook.PackageUnit{Name: name, Version: version, DownloadURL: "http://x/" + name}.Identify(id)
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	return u
}

func rels(units []cookbook.PackageUnit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.RelativePath()
	}
	return out
}

func TestCommitFromEmpty(t *testing.T) {
	a := unit(t, "a", "1.0.0", "a")
	b := unit(t, "b", "1.0.0", "b")

	v, err := Commit(Empty("cookbooks"), []cookbook.PackageUnit{b, a}, nil, now)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if v.Number != 1 || v.Base != 0 || v.Repository != "cookbooks" {
		t.Errorf("unexpected version header %+v", v)
	}
	if got := rels(v.Units); !reflect.DeepEqual(got, []string{a.RelativePath(), b.RelativePath()}) {
		t.Errorf("expected sorted units, got %v", got)
	}
	if len(v.Added) != 2 || len(v.Removed) != 0 {
		t.Errorf("expected 2 added, 0 removed, got %v %v", v.Added, v.Removed)
	}
}

func TestCommitNilPrev(t *testing.T) {
	v, err := Commit(nil, nil, nil, now)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if v.Number != 1 || len(v.Units) != 0 {
		t.Errorf("unexpected version %+v", v)
	}
}

func TestCommitDoesNotMutatePrev(t *testing.T) {
	a := unit(t, "a", "1.0.0", "a")
	b := unit(t, "b", "1.0.0", "b")
	c := unit(t, "c", "1.0.0", "c")

	prev, err := Commit(Empty("r"), []cookbook.PackageUnit{a, b}, nil, now)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	before := rels(prev.Units)

	next, err := Commit(prev, []cookbook.PackageUnit{c}, []cookbook.PackageUnit{a}, now)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if !reflect.DeepEqual(rels(prev.Units), before) || prev.Number != 1 {
		t.Error("expected previous version to be untouched")
	}
	if next.Number != 2 || next.Base != 1 {
		t.Errorf("expected version 2 on base 1, got %d on %d", next.Number, next.Base)
	}
	if got := rels(next.Units); !reflect.DeepEqual(got, []string{b.RelativePath(), c.RelativePath()}) {
		t.Errorf("unexpected units %v", got)
	}
	if !reflect.DeepEqual(next.Added, []string{c.RelativePath()}) || !reflect.DeepEqual(next.Removed, []string{a.RelativePath()}) {
		t.Errorf("unexpected delta +%v -%v", next.Added, next.Removed)
	}
}

func TestCommitIdempotentAdditions(t *testing.T) {
	a := unit(t, "a", "1.0.0", "a")
	prev, err := Commit(Empty("r"), []cookbook.PackageUnit{a}, nil, now)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	next, err := Commit(prev, []cookbook.PackageUnit{a, a}, nil, now)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if len(next.Added) != 0 || len(next.Units) != 1 {
		t.Errorf("expected zero net additions, got +%v with %d units", next.Added, len(next.Units))
	}
}

func TestCommitRejectsConflicts(t *testing.T) {
	a := unit(t, "a", "1.0.0", "a")
	changed := a
	changed.DownloadURL = "http://elsewhere/a"

	if _, err := Commit(Empty("r"), []cookbook.PackageUnit{a, changed}, nil, now); !errors.Is(err, cookbook.ErrImmutableContentViolation) {
		t.Errorf("expected conflicting additions to fail, got %v", err)
	}

	prev, err := Commit(Empty("r"), []cookbook.PackageUnit{a}, nil, now)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if _, err := Commit(prev, []cookbook.PackageUnit{changed}, nil, now); !errors.Is(err, cookbook.ErrImmutableContentViolation) {
		t.Errorf("expected change of committed unit to fail, got %v", err)
	}
}

func TestCommitRemovalsOnlyAffectPrev(t *testing.T) {
	a := unit(t, "a", "1.0.0", "a")
	b := unit(t, "b", "1.0.0", "b")

	prev, err := Commit(Empty("r"), []cookbook.PackageUnit{a}, nil, now)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	next, err := Commit(prev, []cookbook.PackageUnit{a}, []cookbook.PackageUnit{a, b}, now)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if len(next.Removed) != 0 || len(next.Units) != 1 {
		t.Errorf("expected nothing removed, got -%v with %d units", next.Removed, len(next.Units))
	}
}

func TestCommitRejectsUnidentified(t *testing.T) {
	if _, err := Commit(nil, []cookbook.PackageUnit{{Name: "a", Version: "1"}}, nil, now); err == nil {
		t.Error("expected unidentified addition to fail")
	}
}

func TestStorePublishAndRead(t *testing.T) {
	s := NewStore(memfs.New())

	latest, err := s.Latest("cookbooks")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.Number != 0 {
		t.Fatalf("expected empty base, got %d", latest.Number)
	}

	a := unit(t, "a", "1.0.0", "a")
	v1, err := Commit(latest, []cookbook.PackageUnit{a}, nil, now)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := s.Publish(v1); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	got, err := s.Latest("cookbooks")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if got.Number != 1 || len(got.Units) != 1 || !got.Units[0].Equal(a) {
		t.Errorf("unexpected latest version %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("expected created at %s, got %s", now, got.CreatedAt)
	}
	if u, ok := got.Lookup(a.RelativePath()); !ok || !u.Equal(a) {
		t.Error("expected Lookup to find the committed unit")
	}

	numbers, err := s.List("cookbooks")
	if err != nil || !reflect.DeepEqual(numbers, []int{1}) {
		t.Errorf("expected [1], got %v %v", numbers, err)
	}
	if _, err := s.Get("cookbooks", 7); !errors.Is(err, ErrVersionNotFound) {
		t.Errorf("expected ErrVersionNotFound, got %v", err)
	}
}

func TestStorePublishRejectsStaleBase(t *testing.T) {
	s := NewStore(memfs.New())
	base, _ := s.Latest("r")

	first, err := Commit(base, []cookbook.PackageUnit{unit(t, "a", "1.0.0", "a")}, nil, now)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	second, err := Commit(base, []cookbook.PackageUnit{unit(t, "b", "1.0.0", "b")}, nil, now)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if err := s.Publish(first); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := s.Publish(second); !errors.Is(err, cookbook.ErrCommitFailed) {
		t.Fatalf("expected ErrCommitFailed, got %v", err)
	}

	latest, err := s.Latest("r")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.Units[0].Name != "a" {
		t.Errorf("expected first publish to stay current, got %v", rels(latest.Units))
	}
}

func TestStorePublishSerializesSeparateStores(t *testing.T) {
	dir := t.TempDir()
	base := Empty("r")

	const publishers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < publishers; i++ {
		v, err := Commit(base, []cookbook.PackageUnit{unit(t, fmt.Sprintf("c%d", i), "1.0.0", fmt.Sprintf("c%d", i))}, nil, now)
		if err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := NewStore(osfs.New(dir)).Publish(v)
			if err != nil && !errors.Is(err, cookbook.ErrCommitFailed) {
				t.Errorf("unexpected publish error: %v", err)
			}
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one publisher to win, got %d", succeeded)
	}
	numbers, err := NewStore(osfs.New(dir)).List("r")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if !reflect.DeepEqual(numbers, []int{1}) {
		t.Errorf("expected a single version, got %v", numbers)
	}
}

func TestStoreRejectsBadRepositoryNames(t *testing.T) {
	s := NewStore(memfs.New())
	for _, name := range []string{"", "..", "a/b"} {
		if _, err := s.Latest(name); err == nil {
			t.Errorf("expected %q to be rejected", name)
		}
		err := s.Publish(&Version{Repository: name, Number: 1})
		if !errors.Is(err, cookbook.ErrCommitFailed) {
			t.Errorf("expected ErrCommitFailed for %q, got %v", name, err)
		}
	}
}

func TestStoreListOrdersNumerically(t *testing.T) {
	s := NewStore(memfs.New())
	v, _ := s.Latest("r")
	for i := 0; i < 11; i++ {
		next, err := Commit(v, []cookbook.PackageUnit{unit(t, "a", fmt.Sprintf("1.0.%d", i), "x")}, nil, now)
		if err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		if err := s.Publish(next); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		v = next
	}
	latest, err := s.Latest("r")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.Number != 11 || len(latest.Units) != 11 {
		t.Errorf("expected version 11 with 11 units, got %d with %d", latest.Number, len(latest.Units))
	}
}
