// Package source defines the port every upstream dataset adapter implements.
package source

import (
	"context"

	"creditos/internal/core"
)

// Fetcher retrieves the raw disbursement payload from one upstream.
// Implementations return *core.FetchError when the upstream cannot be read.
type Fetcher interface {
	Fetch(ctx context.Context) (core.RawDataset, error)
	// Name identifies the source in logs, metrics and snapshots.
	Name() string
}

// Func adapts a function to the Fetcher interface.
type Func struct {
	SourceName string
	FetchFunc  func(ctx context.Context) (core.RawDataset, error)
}

func (f Func) Fetch(ctx context.Context) (core.RawDataset, error) { return f.FetchFunc(ctx) }
func (f Func) Name() string                                       { return f.SourceName }
