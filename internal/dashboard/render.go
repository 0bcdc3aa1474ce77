package dashboard

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"creditos/internal/aggregate"
	"creditos/internal/core"
	"creditos/internal/filter"
	"creditos/internal/metrics"
)

// Chart is a rendered view: the summary table plus the presentation hints
// needed to draw it. Empty is set when no record passed the filters, in
// which case Table has no rows.
type Chart struct {
	ID     string                 `json:"id"`
	Kind   ChartKind              `json:"kind"`
	Title  string                 `json:"title"`
	X      string                 `json:"x"`
	Y      []string               `json:"y"`
	Series string                 `json:"series,omitempty"`
	Table  aggregate.SummaryTable `json:"table"`
	Rows   int                    `json:"rows"`
	Empty  bool                   `json:"empty"`
}

// RenderView aggregates an already filtered dataset for one view.
func RenderView(ds core.Dataset, v View) (Chart, error) {
	chart := Chart{
		ID:     v.ID,
		Kind:   v.Chart,
		Title:  v.Title,
		X:      v.X,
		Y:      v.Y,
		Series: v.Series,
		Rows:   len(ds),
		Empty:  len(ds) == 0,
	}
	if chart.Empty {
		chart.Table = emptyTable(v)
		return chart, nil
	}

	table, err := aggregate.Aggregate(ds, v.Spec)
	if err != nil {
		return Chart{}, fmt.Errorf("view %s: %w", v.ID, err)
	}
	if v.SortKeys {
		table = aggregate.SortByKeys(table)
	}
	if v.Top != nil {
		if table, err = aggregate.TopN(table, v.Top.By, v.Top.N); err != nil {
			return Chart{}, fmt.Errorf("view %s: %w", v.ID, err)
		}
	}
	chart.Table = table
	return chart, nil
}

func emptyTable(v View) aggregate.SummaryTable {
	t := aggregate.SummaryTable{Rows: []aggregate.Row{}}
	for _, k := range v.GroupBy {
		t.Keys = append(t.Keys, k.Name())
	}
	for _, r := range v.Reductions {
		t.Values = append(t.Values, r.Name())
	}
	return t
}

// Filtered applies set to the snapshot data.
func (s *Snapshot) Filtered(set filter.Set) core.Dataset {
	return filter.Apply(s.Data, set)
}

// Trace applies set one filter at a time and reports the remaining rows
// after each step.
func (s *Snapshot) Trace(set filter.Set) []filter.Stage {
	_, stages := filter.ApplyTrace(s.Data, set)
	return stages
}

// Render filters the snapshot once and computes every view concurrently.
// Charts are returned in the order of views.
func (s *Snapshot) Render(ctx context.Context, views []View, set filter.Set) ([]Chart, error) {
	ds := s.Filtered(set)
	charts := make([]Chart, len(views))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, v := range views {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			chart, err := RenderView(ds, v)
			if err != nil {
				return err
			}
			metrics.ObserveView(v.ID, time.Since(start))
			charts[i] = chart
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return charts, nil
}
