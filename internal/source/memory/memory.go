// Package memory serves raw rows from a JSON file or from values held in
// memory. It backs local development and tests.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"creditos/internal/core"
	"creditos/internal/source"
)

// SourceName is reported in snapshots and FetchErrors.
const SourceName = "memory"

type Store struct {
	mu   sync.Mutex
	path string
	rows core.RawDataset
}

var _ source.Fetcher = (*Store)(nil)

// New returns a store serving a copy of rows.
func New(rows core.RawDataset) *Store {
	return &Store{rows: cloneRows(rows)}
}

// NewFromFile returns a store that re-reads path on every Fetch, so edits to
// the file show up on the next refresh.
func NewFromFile(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Name() string { return SourceName }

// Fetch returns the stored rows. Callers may modify the result.
func (s *Store) Fetch(ctx context.Context) (core.RawDataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, &core.FetchError{Source: SourceName, Err: err}
	}
	if s.path != "" {
		rows, err := readFile(s.path)
		if err != nil {
			return nil, &core.FetchError{Source: SourceName, Err: err}
		}
		return rows, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRows(s.rows), nil
}

// Replace swaps the rows served by a store built with New.
func (s *Store) Replace(rows core.RawDataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = cloneRows(rows)
}

func readFile(path string) (core.RawDataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	out := make(core.RawDataset, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out, nil
}

func cloneRows(in core.RawDataset) core.RawDataset {
	out := make(core.RawDataset, len(in))
	for i, r := range in {
		row := make(core.RawRecord, len(r))
		for k, v := range r {
			row[k] = v
		}
		out[i] = row
	}
	return out
}
