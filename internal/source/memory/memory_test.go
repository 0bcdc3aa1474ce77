package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"creditos/internal/core"
)

func TestStore_FetchReturnsCopy(t *testing.T) {
	s := New(core.RawDataset{{"nombre_entidad": "A"}})

	first, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	first[0]["nombre_entidad"] = "mutated"

	second, _ := s.Fetch(context.Background())
	if second[0]["nombre_entidad"] != "A" {
		t.Errorf("store rows were mutated through a fetched copy")
	}
}

func TestStore_Replace(t *testing.T) {
	s := New(nil)
	s.Replace(core.RawDataset{{"a": 1}, {"a": 2}})
	rows, _ := s.Fetch(context.Background())
	if len(rows) != 2 {
		t.Errorf("expected 2 rows after Replace, got %d", len(rows))
	}
}

func TestStore_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.json")
	if err := os.WriteFile(path, []byte(`[{"nombre_entidad":"A","tasa_efectiva_promedio":12.5}]`), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	rows, err := NewFromFile(path).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(rows) != 1 || rows[0]["nombre_entidad"] != "A" {
		t.Errorf("unexpected rows %v", rows)
	}
}

func TestStore_FromFileErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte(`{"not":"an array"}`), 0644)

	for _, path := range []string{filepath.Join(dir, "missing.json"), bad} {
		_, err := NewFromFile(path).Fetch(context.Background())
		var fe *core.FetchError
		if !errors.As(err, &fe) || fe.Source != SourceName {
			t.Errorf("%s: expected memory FetchError, got %v", path, err)
		}
	}
}

func TestStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(nil).Fetch(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
