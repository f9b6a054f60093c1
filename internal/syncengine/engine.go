// Package syncengine runs one sync of a remote catalog into a repository:
// fetch the catalog, resolve the selection, identify and store the units,
// then publish a new repository version.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/open-edge-platform/cookbook-sync/internal/catalog"
	"github.com/open-edge-platform/cookbook-sync/internal/config"
	"github.com/open-edge-platform/cookbook-sync/internal/contentstore"
	"github.com/open-edge-platform/cookbook-sync/internal/cookbook"
	"github.com/open-edge-platform/cookbook-sync/internal/pkgfetcher"
	"github.com/open-edge-platform/cookbook-sync/internal/repository"
	"github.com/open-edge-platform/cookbook-sync/internal/selection"
	"github.com/open-edge-platform/cookbook-sync/internal/utils/logger"
)

// Options wires an Engine to its collaborators.
type Options struct {
	Downloader *pkgfetcher.Downloader
	Content    *contentstore.Store
	Versions   *repository.Store
	Workers    int
	// Progress receives the download progress bar; nil means stderr.
	Progress io.Writer
	// Now stamps committed versions; nil means time.Now.
	Now func() time.Time
}

// Engine runs syncs. Syncs of different remotes may run concurrently; a
// second sync of a remote that is already syncing fails with
// ErrSyncInProgress.
type Engine struct {
	downloader *pkgfetcher.Downloader
	content    *contentstore.Store
	versions   *repository.Store
	workers    int
	progress   io.Writer
	now        func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns an Engine. A nil Downloader gets the default one.
func New(opts Options) *Engine {
	d := opts.Downloader
	if d == nil {
		d = pkgfetcher.NewDownloader(pkgfetcher.Config{})
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		downloader: d,
		content:    opts.Content,
		versions:   opts.Versions,
		workers:    workers,
		progress:   opts.Progress,
		now:        now,
		locks:      make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockFor(remote string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[remote]
	if !ok {
		l = &sync.Mutex{}
		e.locks[remote] = l
	}
	return l
}

// Sync runs one sync of remote. The returned report is never nil; on error
// its state is StateFailed and the repository's latest version is unchanged.
func (e *Engine) Sync(ctx context.Context, remote config.RemoteSpec) (*Report, error) {
	remote = remote.WithDefaults()
	r := &run{
		engine: e,
		remote: remote,
		report: &Report{
			Remote:     remote.Name,
			Repository: remote.Repository,
			Policy:     remote.Policy,
			Mirror:     remote.Mirror,
			Filter:     remote.Cookbooks.String(),
			Units:      []UnitResult{},
			Warnings:   []string{},
			StartedAt:  e.now(),
		},
		staging: newStagingSet(),
	}

	if err := remote.Validate(); err != nil {
		return r.fail(err)
	}

	lock := e.lockFor(remote.Name)
	if !lock.TryLock() {
		return r.fail(fmt.Errorf("remote %s: %w", remote.Name, cookbook.ErrSyncInProgress))
	}
	defer lock.Unlock()

	return r.execute(ctx)
}

// task is one selected unit that needs identifying.
type task struct {
	index  int                  // position in the report
	source cookbook.PackageUnit // unit as resolved from the catalog
	unit   cookbook.PackageUnit // identified unit
	dedup  bool                 // artifact bytes were already stored
	err    error
}

type run struct {
	engine  *Engine
	remote  config.RemoteSpec
	report  *Report
	base    *repository.Version
	staging *stagingSet

	tasks  []*task
	reused []cookbook.PackageUnit
}

func (r *run) enter(s State) {
	logger.Logger().Infof("sync %s: %s", r.remote.Name, s)
	r.report.State = s
	r.report.Transitions = append(r.report.Transitions, Transition{State: s, At: r.engine.now()})
}

func (r *run) fail(err error) (*Report, error) {
	logger.Logger().Errorf("sync %s failed: %v", r.remote.Name, err)
	r.enter(StateFailed)
	r.report.Error = err.Error()
	r.report.Duration = r.engine.now().Sub(r.report.StartedAt)
	return r.report, err
}

func (r *run) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logger.Logger().Warnf("sync %s: %s", r.remote.Name, msg)
	r.report.Warnings = append(r.report.Warnings, msg)
}

func (r *run) execute(ctx context.Context) (*Report, error) {
	e := r.engine
	log := logger.Logger()

	base, err := e.versions.Latest(r.remote.Repository)
	if err != nil {
		return r.fail(fmt.Errorf("loading latest version of %s: %w", r.remote.Repository, err))
	}
	r.base = base
	r.report.BaseVersion = base.Number

	r.enter(StateFetchingCatalog)
	var keyring openpgp.EntityList
	if r.remote.SigningKey != "" {
		if keyring, err = pkgfetcher.LoadKeyRing(r.remote.SigningKey); err != nil {
			return r.fail(fmt.Errorf("%w: %v", cookbook.ErrSignatureInvalid, err))
		}
	}
	raw, err := e.downloader.FetchCatalog(ctx, r.remote.URL, r.remote.IndexPath, keyring)
	if err != nil {
		return r.fail(err)
	}
	idx, err := catalog.Build(raw)
	if err != nil {
		return r.fail(err)
	}
	log.Infof("catalog of %s lists %d versions of %d cookbooks", r.remote.Name, idx.Len(), len(idx.Names()))

	r.enter(StateResolvingSelection)
	sel := selection.Resolve(r.remote.Cookbooks, idx)
	for _, w := range sel.Warnings {
		r.report.Warnings = append(r.report.Warnings, w.Error())
	}
	if len(sel.Units) == 0 {
		r.warn("selection resolved no units")
	}

	r.enter(StateFetchingUnits)
	r.report.Units = make([]UnitResult, len(sel.Units))
	for i, src := range sel.Units {
		if u, ok := r.reusable(src); ok {
			r.reused = append(r.reused, u)
			r.report.Units[i] = resultFor(u, OutcomeSkipped, "already in base version")
			continue
		}
		r.tasks = append(r.tasks, &task{index: i, source: src})
	}
	if r.remote.Policy.Deferred() {
		r.identifyDeferred()
	} else {
		r.fetchImmediate(ctx)
	}
	if err := ctx.Err(); err != nil {
		return r.fail(err)
	}

	r.enter(StateDeduplicating)
	for _, t := range r.tasks {
		if t.err == nil {
			r.reconcile(t)
		}
		if t.err != nil {
			r.report.Units[t.index] = UnitResult{
				Name:        t.source.Name,
				Version:     t.source.Version,
				DownloadURL: t.source.DownloadURL,
				Outcome:     OutcomeFailed,
				Reason:      t.err.Error(),
			}
			r.warn("%s %s: %v", t.source.Name, t.source.Version, t.err)
		}
	}
	if err := ctx.Err(); err != nil {
		return r.fail(err)
	}

	r.enter(StateCommittingVersion)
	next, err := repository.Commit(r.base, r.staging.units(), r.removals(), e.now())
	if err != nil {
		return r.fail(fmt.Errorf("%w: %w", cookbook.ErrCommitFailed, err))
	}
	if err := e.versions.Publish(next); err != nil {
		return r.fail(err)
	}
	r.report.Version = next.Number
	r.report.Added = len(next.Added)
	r.report.Removed = len(next.Removed)

	r.enter(StateDone)
	r.report.Duration = e.now().Sub(r.report.StartedAt)
	log.Infof("sync %s: published %s version %d (+%d -%d)",
		r.remote.Name, r.remote.Repository, next.Number, r.report.Added, r.report.Removed)
	return r.report, nil
}

// reusable returns the base version's unit for src when it can stand in for
// a fresh identification: a SHA256 unit whose bytes are stored, or under a
// deferred policy any unit from the same source.
func (r *run) reusable(src cookbook.PackageUnit) (cookbook.PackageUnit, bool) {
	var placeholder *cookbook.PackageUnit
	for i := range r.base.Units {
		b := r.base.Units[i]
		if !b.SameSource(src) {
			continue
		}
		switch b.ContentID().Type() {
		case cookbook.ContentIDSHA256:
			if r.remote.Policy.Deferred() {
				return b, true
			}
			ok, err := r.engine.content.HasArtifact(b.RelativePath())
			if err == nil && ok {
				return b, true
			}
		case cookbook.ContentIDUUID:
			if r.remote.Policy.Deferred() {
				placeholder = &b
			}
		}
	}
	if placeholder != nil {
		return *placeholder, true
	}
	return cookbook.PackageUnit{}, false
}

func (r *run) identifyDeferred() {
	for _, t := range r.tasks {
		id, _, err := cookbook.ComputeDeferred(t.source.Name, t.source.Version)
		if err == nil {
			t.unit, err = t.source.Identify(id)
		}
		if err != nil {
			t.err = err
			continue
		}
		r.staging.put(t.unit)
	}
}

func (r *run) fetchImmediate(ctx context.Context) {
	e := r.engine
	jobs := make([]pkgfetcher.Job, len(r.tasks))
	for i, t := range r.tasks {
		jobs[i] = pkgfetcher.Job{
			Label: t.source.Name + "-" + t.source.Version,
			Do: func(ctx context.Context) error {
				var id cookbook.ContentID
				err := e.downloader.FetchArtifact(ctx, t.source.DownloadURL, func(body io.Reader) error {
					var err error
					id, _, t.dedup, err = e.content.Ingest(t.source.Name, t.source.Version, body)
					return err
				})
				if err != nil {
					return err
				}
				if t.unit, err = t.source.Identify(id); err != nil {
					return err
				}
				r.staging.put(t.unit)
				return nil
			},
		}
	}

	errs := pkgfetcher.Run(ctx, jobs, pkgfetcher.Options{
		Workers:     e.workers,
		Description: "fetching",
		Progress:    e.progress,
	})
	for i, err := range errs {
		r.tasks[i].err = err
	}
}

// reconcile resolves t's unit against the content store. A record already
// stored under the same relative path wins over the fresh one.
func (r *run) reconcile(t *task) {
	unit, existed, err := r.engine.record(t.unit)
	if err != nil {
		r.staging.remove(t.unit.RelativePath())
		t.err = err
		return
	}
	t.unit = unit
	r.staging.put(unit)

	outcome := OutcomeAdded
	reason := ""
	if t.dedup || existed {
		outcome = OutcomeDeduplicated
		reason = "content already stored"
	}
	if r.base.Contains(unit.RelativePath()) {
		outcome = OutcomeSkipped
		reason = "already in base version"
	}
	r.report.Units[t.index] = resultFor(unit, outcome, reason)
}

// record stores u unless a record exists under its relative path, and
// returns the unit to commit.
func (e *Engine) record(u cookbook.PackageUnit) (cookbook.PackageUnit, bool, error) {
	stored, err := e.content.GetUnit(u.RelativePath())
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, contentstore.ErrNotFound) {
		return cookbook.PackageUnit{}, false, err
	}

	existed, err := e.content.PutUnit(u)
	if errors.Is(err, cookbook.ErrImmutableContentViolation) {
		// lost a race with another writer of the same path
		if stored, gerr := e.content.GetUnit(u.RelativePath()); gerr == nil {
			return stored, true, nil
		}
	}
	if err != nil {
		return cookbook.PackageUnit{}, false, err
	}
	return u, existed, nil
}

// removals lists base units that leave the repository: placeholders whose
// source now has a SHA256 unit, and under mirror every base unit outside
// this run's result except those whose fetch failed.
func (r *run) removals() []cookbook.PackageUnit {
	var sources []cookbook.PackageUnit
	keep := make(map[string]bool)
	failed := make(map[string]bool)

	for _, u := range r.reused {
		keep[u.RelativePath()] = true
		if u.ContentID().Type() == cookbook.ContentIDSHA256 {
			sources = append(sources, u)
		}
	}
	for _, t := range r.tasks {
		if t.err != nil {
			failed[t.source.Key()] = true
			continue
		}
		keep[t.unit.RelativePath()] = true
		if t.unit.ContentID().Type() == cookbook.ContentIDSHA256 {
			sources = append(sources, t.source)
		}
	}

	var out []cookbook.PackageUnit
	for _, b := range r.base.Units {
		if keep[b.RelativePath()] {
			continue
		}
		if b.ContentID().Type() == cookbook.ContentIDUUID && supersededBy(b, sources) {
			out = append(out, b)
			continue
		}
		if r.remote.Mirror && !failed[b.Key()] {
			out = append(out, b)
		}
	}
	return out
}

func supersededBy(b cookbook.PackageUnit, sources []cookbook.PackageUnit) bool {
	for _, s := range sources {
		if s.SameSource(b) {
			return true
		}
	}
	return false
}

// MaterializeResult is the outcome of Materialize.
type MaterializeResult struct {
	Unit         cookbook.PackageUnit
	Deduplicated bool
}

// Materialize makes u's bytes available in the content store. A SHA256 unit
// is fetched and verified when its artifact is missing. A UUID placeholder
// is downloaded, given its SHA256 identity and recorded; when that identity
// is already stored the stored record is returned. Repository versions are
// not touched.
func (e *Engine) Materialize(ctx context.Context, u cookbook.PackageUnit) (MaterializeResult, error) {
	log := logger.Logger()

	switch u.ContentID().Type() {
	case cookbook.ContentIDSHA256:
		ok, err := e.content.HasArtifact(u.RelativePath())
		if err != nil {
			return MaterializeResult{}, err
		}
		if ok {
			return MaterializeResult{Unit: u, Deduplicated: true}, nil
		}
		var dedup bool
		err = e.downloader.FetchArtifact(ctx, u.DownloadURL, func(body io.Reader) error {
			var err error
			dedup, err = e.content.PutArtifact(u, body)
			return err
		})
		if err != nil {
			return MaterializeResult{}, err
		}
		log.Infof("materialized %s", u.RelativePath())
		return MaterializeResult{Unit: u, Deduplicated: dedup}, nil

	case cookbook.ContentIDUUID:
		var (
			id    cookbook.ContentID
			dedup bool
		)
		err := e.downloader.FetchArtifact(ctx, u.DownloadURL, func(body io.Reader) error {
			var err error
			id, _, dedup, err = e.content.Ingest(u.Name, u.Version, body)
			return err
		})
		if err != nil {
			return MaterializeResult{}, err
		}
		source := cookbook.PackageUnit{
			Name:         u.Name,
			Version:      u.Version,
			DownloadURL:  u.DownloadURL,
			Dependencies: u.Dependencies,
		}
		identified, err := source.Identify(id)
		if err != nil {
			return MaterializeResult{}, err
		}
		unit, existed, err := e.record(identified)
		if err != nil {
			return MaterializeResult{}, err
		}
		log.Infof("materialized %s as %s", u.RelativePath(), unit.RelativePath())
		return MaterializeResult{Unit: unit, Deduplicated: dedup || existed}, nil

	default:
		return MaterializeResult{}, fmt.Errorf("materialize %s %s: unit has no content id", u.Name, u.Version)
	}
}

// stagingSet collects identified units from concurrent workers, keyed by
// relative path.
type stagingSet struct {
	mu    sync.Mutex
	byRel map[string]cookbook.PackageUnit
}

func newStagingSet() *stagingSet {
	return &stagingSet{byRel: make(map[string]cookbook.PackageUnit)}
}

func (s *stagingSet) put(u cookbook.PackageUnit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byRel[u.RelativePath()] = u
}

func (s *stagingSet) remove(rel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byRel, rel)
}

func (s *stagingSet) units() []cookbook.PackageUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cookbook.PackageUnit, 0, len(s.byRel))
	for _, u := range s.byRel {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelativePath() < out[j].RelativePath() })
	return out
}
