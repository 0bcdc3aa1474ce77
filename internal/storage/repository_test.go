package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"creditos/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "mirror.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sampleRows() core.RawDataset {
	return core.RawDataset{
		{"nombre_entidad": "A", "tasa_efectiva_promedio": "12.5"},
		{"nombre_entidad": "B", "tasa_efectiva_promedio": 10.25},
		{"nombre_entidad": "C"},
	}
}

func TestSaveAndFetchSnapshot(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	snap, err := repo.SaveSnapshot(ctx, "socrata", at, sampleRows())
	if err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if snap.ID == "" || snap.RowCount != 3 {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	latest, err := repo.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if latest.ID != snap.ID || !latest.FetchedAt.Equal(at) || latest.Source != "socrata" {
		t.Errorf("LatestSnapshot = %+v, want %+v", latest, snap)
	}

	rows, err := repo.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0]["tasa_efectiva_promedio"] != "12.5" {
		t.Errorf("string values must round-trip unchanged, got %v", rows[0]["tasa_efectiva_promedio"])
	}
	if n, ok := rows[1]["tasa_efectiva_promedio"].(json.Number); !ok || n.String() != "10.25" {
		t.Errorf("numbers must come back as json.Number, got %#v", rows[1]["tasa_efectiva_promedio"])
	}
	if _, ok := rows[2]["tasa_efectiva_promedio"]; ok {
		t.Error("absent fields must stay absent")
	}
}

func TestFetchWithoutSnapshot(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.Fetch(context.Background())

	var fe *core.FetchError
	if !errors.As(err, &fe) || !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("expected FetchError wrapping ErrNoSnapshot, got %v", err)
	}
}

func TestEmptySnapshot(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	if _, err := repo.SaveSnapshot(ctx, "socrata", time.Now(), nil); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	rows, err := repo.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Errorf("expected empty non-nil payload, got %v", rows)
	}
}

func TestPrune(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 5; i++ {
		snap, err := repo.SaveSnapshot(ctx, "socrata", base.Add(time.Duration(i)*time.Hour), sampleRows())
		if err != nil {
			t.Fatalf("SaveSnapshot %d: %v", i, err)
		}
		ids = append(ids, snap.ID)
	}

	removed, err := repo.Prune(ctx, 2)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 3 {
		t.Errorf("Prune removed %d, want 3", removed)
	}

	snaps, err := repo.ListSnapshots(ctx, 10)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(snaps) != 2 || snaps[0].ID != ids[4] || snaps[1].ID != ids[3] {
		t.Errorf("expected two newest snapshots, got %+v", snaps)
	}

	rows, err := repo.LoadRows(ctx, ids[0])
	if err != nil {
		t.Fatalf("LoadRows: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("rows of pruned snapshot must be deleted, got %d", len(rows))
	}

	if _, err := repo.Prune(ctx, 0); err == nil {
		t.Error("expected error for keep=0")
	}
}

func TestFetchRejectsSnapshotPrunedMidRead(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := repo.SaveSnapshot(ctx, "socrata", base, sampleRows()); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	first, err := repo.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	// A mirror cycle lands between reading the header and its rows.
	if _, err := repo.SaveSnapshot(ctx, "socrata", base.Add(time.Hour), sampleRows()[:2]); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if _, err := repo.Prune(ctx, 1); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	if _, err := readSnapshot(ctx, repo.db, first); !errors.Is(err, ErrIncompleteSnapshot) {
		t.Fatalf("expected ErrIncompleteSnapshot, got %v", err)
	}

	rows, err := repo.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("Fetch must serve the surviving snapshot, got %d rows", len(rows))
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.db")
	for i := 0; i < 2; i++ {
		if err := RunMigrations(path); err != nil {
			t.Fatalf("RunMigrations run %d: %v", i, err)
		}
	}
}
