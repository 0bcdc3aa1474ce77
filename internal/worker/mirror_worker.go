// Package worker keeps the SQLite mirror in step with the upstream dataset.
package worker

import (
	"context"
	"fmt"
	"time"

	"creditos/internal/amqp"
	"creditos/internal/core"
	"creditos/internal/log"
	"creditos/internal/metrics"
	"creditos/internal/normalize"
	"creditos/internal/source"
	"creditos/internal/storage"
)

// SnapshotStore persists mirrored payloads.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, src string, fetchedAt time.Time, rows core.RawDataset) (storage.Snapshot, error)
	Prune(ctx context.Context, keep int) (int, error)
}

// Publisher announces a new snapshot.
type Publisher interface {
	PublishDatasetRefreshed(ctx context.Context, msg *amqp.DatasetRefreshedMessage) error
}

// MirrorWorker copies the upstream dataset into the mirror on a schedule.
type MirrorWorker struct {
	upstream  source.Fetcher
	store     SnapshotStore
	publisher Publisher
	schema    normalize.Schema
	keep      int
	timeout   time.Duration
	logger    *log.Logger
	now       func() time.Time
}

// Options configures a MirrorWorker. Publisher may be nil when AMQP is not
// configured.
type Options struct {
	Publisher Publisher
	// Required lists the columns a payload must carry to be mirrored.
	Required []core.Column
	Keep     int
	Timeout  time.Duration
	Logger   *log.Logger
}

func NewMirrorWorker(upstream source.Fetcher, store SnapshotStore, opts Options) *MirrorWorker {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	schema := normalize.DefaultSchema()
	if len(opts.Required) > 0 {
		schema = schema.RequireOnly(opts.Required...)
	}
	return &MirrorWorker{
		upstream:  upstream,
		store:     store,
		publisher: opts.Publisher,
		schema:    schema,
		keep:      opts.Keep,
		timeout:   opts.Timeout,
		logger:    logger.WithComponent(log.ComponentWorker),
		now:       time.Now,
	}
}

// RunOnce performs one mirror cycle: fetch, check that the payload
// normalises, save, prune and publish. A failed publish is logged but does not
// fail the cycle since the snapshot is already stored.
func (w *MirrorWorker) RunOnce(ctx context.Context) (snap storage.Snapshot, err error) {
	defer func() { metrics.MirrorRun(err) }()

	fetchCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := w.upstream.Fetch(fetchCtx)
	metrics.ObserveFetch(w.upstream.Name(), time.Since(start), err)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("fetch upstream: %w", err)
	}

	_, report, err := normalize.Normalize(rows, w.schema)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("check %s payload: %w", w.upstream.Name(), err)
	}

	snap, err = w.store.SaveSnapshot(ctx, w.upstream.Name(), w.now(), rows)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("save snapshot: %w", err)
	}
	w.logger.InfoContext(ctx, "Snapshot mirrored",
		log.FieldOperation, log.OpMirror,
		log.FieldSnapshotID, snap.ID,
		log.FieldSource, snap.Source,
		log.FieldRows, snap.RowCount,
		log.FieldMalformed, report.Malformed)

	if w.keep > 0 {
		removed, err := w.store.Prune(ctx, w.keep)
		if err != nil {
			return snap, fmt.Errorf("prune snapshots: %w", err)
		}
		if removed > 0 {
			w.logger.InfoContext(ctx, "Old snapshots pruned",
				log.FieldOperation, log.OpPrune,
				"removed", removed,
				"keep", w.keep)
		}
	}

	if w.publisher != nil {
		msg := amqp.NewDatasetRefreshedMessage(snap.ID, snap.Source, snap.RowCount)
		if err := w.publisher.PublishDatasetRefreshed(ctx, msg); err != nil {
			w.logger.WarnContext(ctx, "Failed to publish dataset refreshed notice",
				log.FieldOperation, log.OpPublish,
				log.FieldSnapshotID, snap.ID,
				log.FieldError, err)
		}
	}
	return snap, nil
}

// Run mirrors once immediately and then every interval until ctx is done.
// Failed cycles are logged and retried on the next tick.
func (w *MirrorWorker) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("mirror interval must be positive, got %s", interval)
	}

	w.cycle(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Mirror worker stopping", log.FieldOperation, log.OpShutdown)
			return nil
		case <-ticker.C:
			w.cycle(ctx)
		}
	}
}

func (w *MirrorWorker) cycle(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
		w.logger.ErrorContext(ctx, "Mirror cycle failed",
			log.FieldOperation, log.OpMirror,
			log.FieldError, err)
	}
}
