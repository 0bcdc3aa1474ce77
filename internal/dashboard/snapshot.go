package dashboard

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"creditos/internal/cache"
	"creditos/internal/core"
	"creditos/internal/filter"
	"creditos/internal/log"
	"creditos/internal/metrics"
	"creditos/internal/normalize"
	"creditos/internal/source"
)

// Snapshot is one normalized load of the source. It is shared read-only by
// every request until it expires or is refreshed.
type Snapshot struct {
	ID        string
	Source    string
	FetchedAt time.Time
	Data      core.Dataset
	Options   filter.Options
	Report    normalize.Report
}

const snapshotKey = "snapshot"

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	// TTL bounds how long a snapshot is served; zero keeps it until Refresh.
	TTL time.Duration
	// Timeout bounds one fetch and normalize cycle.
	Timeout time.Duration
	Logger  *log.Logger
}

// Loader fetches, normalizes and caches snapshots. Concurrent callers that
// miss the cache share one upstream fetch.
type Loader struct {
	fetcher source.Fetcher
	schema  normalize.Schema
	columns []core.Column
	timeout time.Duration
	logger  *log.Logger
	sl      *log.StructuredLogger

	group singleflight.Group
	cache *cache.LRUCache[*Snapshot]
	// gen changes on every Invalidate; loads started before it are not cached.
	gen atomic.Uint64
	// last survives expiry and invalidation.
	last atomic.Pointer[Snapshot]
	now  func() time.Time
}

// NewLoader creates a loader for the columns used by cfg.
func NewLoader(f source.Fetcher, cfg Config, opts LoaderOptions) *Loader {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentPipeline)
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cols := cfg.Columns()
	return &Loader{
		fetcher: f,
		schema:  normalize.DefaultSchema().RequireOnly(cols...),
		columns: cols,
		timeout: timeout,
		logger:  logger,
		sl:      log.NewStructuredLogger(logger),
		cache:   cache.NewLRUCache[*Snapshot](1, opts.TTL),
		now:     time.Now,
	}
}

// Cache exposes the snapshot cache so a cache.Manager can sweep it.
func (l *Loader) Cache() cache.Cleaner { return l.cache }

// Snapshot returns the cached snapshot, loading a new one when there is none.
func (l *Loader) Snapshot(ctx context.Context) (*Snapshot, error) {
	if snap, ok := l.cache.Get(snapshotKey); ok {
		metrics.CacheLookup(snapshotKey, true)
		return snap, nil
	}
	metrics.CacheLookup(snapshotKey, false)

	ch := l.group.DoChan(snapshotKey, func() (any, error) {
		// Detached so one caller giving up does not fail the others.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
		defer cancel()
		gen := l.gen.Load()
		snap, err := l.load(loadCtx)
		if err != nil {
			return nil, err
		}
		if l.gen.Load() == gen {
			l.cache.Set(snapshotKey, snap)
		}
		return snap, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

// Current returns the cached snapshot without loading.
func (l *Loader) Current() (*Snapshot, bool) {
	return l.cache.Get(snapshotKey)
}

// LastLoaded returns the most recent snapshot ever loaded, even when it has
// since expired or been invalidated.
func (l *Loader) LastLoaded() (*Snapshot, bool) {
	snap := l.last.Load()
	return snap, snap != nil
}

// Invalidate drops the cached snapshot; the next Snapshot call reloads.
func (l *Loader) Invalidate() {
	l.gen.Add(1)
	l.cache.Purge()
	l.group.Forget(snapshotKey)
}

// Refresh reloads the snapshot now.
func (l *Loader) Refresh(ctx context.Context) (*Snapshot, error) {
	l.Invalidate()
	return l.Snapshot(ctx)
}

func (l *Loader) load(ctx context.Context) (*Snapshot, error) {
	start := l.now()
	raw, err := l.fetcher.Fetch(ctx)
	metrics.ObserveFetch(l.fetcher.Name(), l.now().Sub(start), err)
	if err != nil {
		l.sl.LogError(ctx, "Dataset fetch failed", err, log.OpFetch,
			log.NewFields().WithComponent(log.ComponentSource))
		return nil, err
	}

	data, report, err := normalize.Normalize(raw, l.schema)
	if err != nil {
		l.sl.LogError(ctx, "Dataset schema check failed", err, log.OpNormalize, nil)
		return nil, fmt.Errorf("normalize %s payload: %w", l.fetcher.Name(), err)
	}

	snap := &Snapshot{
		ID:        uuid.NewString(),
		Source:    l.fetcher.Name(),
		FetchedAt: l.now(),
		Data:      data,
		Options:   filter.BuildOptions(data, l.columns),
		Report:    report,
	}

	malformed := make(map[string]int, len(report.Malformed))
	total := 0
	for col, n := range report.Malformed {
		malformed[string(col)] = n
		total += n
	}
	l.last.Store(snap)
	metrics.SetSnapshot(len(data), malformed, snap.FetchedAt)
	l.sl.LogSnapshotLoaded(ctx, snap.ID, snap.Source, len(data), total)
	return snap, nil
}
