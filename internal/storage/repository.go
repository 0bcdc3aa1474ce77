// Package storage keeps a local SQLite mirror of upstream payloads.
//
// Rows are stored as the raw JSON objects returned by the source, so the
// normalizer stays the only place where values are coerced.
package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"creditos/internal/core"
	"creditos/internal/source"

	_ "modernc.org/sqlite"
)

// SourceName is reported when the mirror itself serves the dashboard.
const SourceName = "sqlite"

// timeLayout is fixed-width so fetched_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var (
	// ErrNoSnapshot is returned when the mirror holds no snapshot yet.
	ErrNoSnapshot = errors.New("no snapshot stored")
	// ErrIncompleteSnapshot is returned when fewer rows are stored than the
	// snapshot header records, for instance after a concurrent prune.
	ErrIncompleteSnapshot = errors.New("snapshot rows incomplete")
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Snapshot describes one mirrored payload.
type Snapshot struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
	RowCount  int       `json:"row_count"`
}

type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ source.Fetcher = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string, logger *slog.Logger) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteRepository{db: db, logger: logger}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// SaveSnapshot stores rows under a new snapshot id in one transaction.
func (r *SQLiteRepository) SaveSnapshot(ctx context.Context, src string, fetchedAt time.Time, rows core.RawDataset) (Snapshot, error) {
	snap := Snapshot{
		ID:        uuid.NewString(),
		Source:    src,
		FetchedAt: fetchedAt.UTC(),
		RowCount:  len(rows),
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, source, fetched_at, row_count) VALUES (?, ?, ?, ?)`,
		snap.ID, snap.Source, snap.FetchedAt.Format(timeLayout), snap.RowCount); err != nil {
		return Snapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO snapshot_rows (snapshot_id, row_index, payload) VALUES (?, ?, ?)`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("prepare row insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		payload, err := json.Marshal(row)
		if err != nil {
			return Snapshot{}, fmt.Errorf("encode row %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, snap.ID, i, string(payload)); err != nil {
			return Snapshot{}, fmt.Errorf("insert row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Snapshot{}, fmt.Errorf("commit snapshot: %w", err)
	}

	r.logger.InfoContext(ctx, "Snapshot saved to SQLite",
		"snapshot_id", snap.ID,
		"source", snap.Source,
		"rows", snap.RowCount)
	return snap, nil
}

// LatestSnapshot returns the most recently fetched snapshot.
func (r *SQLiteRepository) LatestSnapshot(ctx context.Context) (Snapshot, error) {
	snaps, err := r.ListSnapshots(ctx, 1)
	if err != nil {
		return Snapshot{}, err
	}
	if len(snaps) == 0 {
		return Snapshot{}, ErrNoSnapshot
	}
	return snaps[0], nil
}

// ListSnapshots returns up to limit snapshots, newest first.
func (r *SQLiteRepository) ListSnapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	return listSnapshots(ctx, r.db, limit)
}

func listSnapshots(ctx context.Context, q queryer, limit int) ([]Snapshot, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, source, fetched_at, row_count FROM snapshots
		 ORDER BY fetched_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			s         Snapshot
			fetchedAt string
		)
		if err := rows.Scan(&s.ID, &s.Source, &fetchedAt, &s.RowCount); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if s.FetchedAt, err = time.Parse(timeLayout, fetchedAt); err != nil {
			return nil, fmt.Errorf("parse fetched_at %q: %w", fetchedAt, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LoadRows returns the raw rows of a snapshot in their original order.
func (r *SQLiteRepository) LoadRows(ctx context.Context, snapshotID string) (core.RawDataset, error) {
	return loadRows(ctx, r.db, snapshotID)
}

func loadRows(ctx context.Context, q queryer, snapshotID string) (core.RawDataset, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT payload FROM snapshot_rows WHERE snapshot_id = ? ORDER BY row_index`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("load rows: %w", err)
	}
	defer rows.Close()

	out := core.RawDataset{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
		dec.UseNumber()
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Name() string { return SourceName }

// Fetch serves the latest mirrored snapshot. The header and its rows are read
// in one transaction so a concurrent prune cannot leave an empty payload.
func (r *SQLiteRepository) Fetch(ctx context.Context) (core.RawDataset, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, &core.FetchError{Source: SourceName, Err: fmt.Errorf("begin transaction: %w", err)}
	}
	defer tx.Rollback()

	snaps, err := listSnapshots(ctx, tx, 1)
	if err != nil {
		return nil, &core.FetchError{Source: SourceName, Err: err}
	}
	if len(snaps) == 0 {
		return nil, &core.FetchError{Source: SourceName, Err: ErrNoSnapshot}
	}
	rows, err := readSnapshot(ctx, tx, snaps[0])
	if err != nil {
		return nil, &core.FetchError{Source: SourceName, Err: err}
	}
	return rows, nil
}

// readSnapshot loads the rows of snap and checks them against its row count.
func readSnapshot(ctx context.Context, q queryer, snap Snapshot) (core.RawDataset, error) {
	rows, err := loadRows(ctx, q, snap.ID)
	if err != nil {
		return nil, err
	}
	if len(rows) != snap.RowCount {
		return nil, fmt.Errorf("%w: snapshot %s has %d of %d rows",
			ErrIncompleteSnapshot, snap.ID, len(rows), snap.RowCount)
	}
	return rows, nil
}

// Prune deletes every snapshot but the newest keep and returns how many
// were removed.
func (r *SQLiteRepository) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 1 {
		return 0, fmt.Errorf("prune: keep must be at least 1, got %d", keep)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	const stale = `SELECT id FROM snapshots ORDER BY fetched_at DESC, rowid DESC LIMIT -1 OFFSET ?`

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM snapshot_rows WHERE snapshot_id IN (`+stale+`)`, keep); err != nil {
		return 0, fmt.Errorf("delete stale rows: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id IN (`+stale+`)`, keep)
	if err != nil {
		return 0, fmt.Errorf("delete stale snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	if n > 0 {
		r.logger.InfoContext(ctx, "Pruned old snapshots", "removed", n, "kept", keep)
	}
	return int(n), nil
}
