package dashboard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"creditos/internal/core"
	"creditos/internal/filter"
	"creditos/internal/log"
	"creditos/internal/source"
)

func quietLogger() *log.Logger {
	return log.New(log.Config{Handler: slog.NewTextHandler(io.Discard, nil)})
}

func rawRows() core.RawDataset {
	return core.RawDataset{
		{"nombre_entidad": "A", "tipo_de_cr_dito": "Consumo", "tipo_de_persona": "Natural", "tasa_efectiva_promedio": "12.5", "fecha_corte": "2023-01-15T00:00:00.000", "montos_desembolsados": "100", "codigo_municipio": "05001", "producto_de_cr_dito": "Libre inversión", "tama_o_de_empresa": "N/A", "numero_de_creditos": "2"},
		{"nombre_entidad": "B", "tipo_de_cr_dito": "Consumo", "tipo_de_persona": "Jurídica", "tasa_efectiva_promedio": "n/a", "fecha_corte": "2023-02-20T00:00:00.000", "montos_desembolsados": "900", "codigo_municipio": "05001", "producto_de_cr_dito": "Libre inversión", "tama_o_de_empresa": "N/A", "numero_de_creditos": "2"},
		{"nombre_entidad": "A", "tipo_de_cr_dito": "Consumo", "tipo_de_persona": "Natural", "tasa_efectiva_promedio": "10", "fecha_corte": "2023-04-01T00:00:00.000", "montos_desembolsados": "300", "codigo_municipio": "11001", "producto_de_cr_dito": "Libre inversión", "tama_o_de_empresa": "N/A", "numero_de_creditos": "1"},
	}
}

type countingFetcher struct {
	calls atomic.Int32
	rows  core.RawDataset
	err   error
	gate  chan struct{}
}

func (f *countingFetcher) Name() string { return "test" }

func (f *countingFetcher) Fetch(ctx context.Context) (core.RawDataset, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func mustConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig: %v", err)
	}
	return cfg
}

func loadSnapshot(t *testing.T, rows core.RawDataset) (*Snapshot, Config) {
	t.Helper()
	cfg := mustConfig(t)
	l := NewLoader(&countingFetcher{rows: rows}, cfg, LoaderOptions{Logger: quietLogger()})
	snap, err := l.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return snap, cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := mustConfig(t)
	if len(cfg.Views) != 7 || len(cfg.Filters) != 7 {
		t.Fatalf("expected 7 filters and 7 views, got %d and %d", len(cfg.Filters), len(cfg.Views))
	}
	if _, ok := cfg.View("top_lenders"); !ok {
		t.Error("top_lenders view missing")
	}
	cols := cfg.Columns()
	for _, want := range []core.Column{core.CreditType, core.EffectiveRate, core.CutoffDate, core.MunicipalityCode, core.DisbursedAmount} {
		found := false
		for _, c := range cols {
			found = found || c == want
		}
		if !found {
			t.Errorf("Columns() missing %s", want)
		}
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "views:\n  - id: a\n    colour: red\n", "colour"},
		{"no views", "filters: []\nviews: []\n", "no views configured"},
		{"bad filter kind", "filters:\n  - {column: effective_rate, kind: multi}\nviews:\n  - {id: a, chart: bar, x: entity_name, y: [n], group_by: [{column: entity_name}], reduce: [{column: effective_rate, reducer: count, as: n}]}\n", "needs a text column"},
		{"x not a key", "views:\n  - {id: a, chart: bar, x: credit_type, y: [n], group_by: [{column: entity_name}], reduce: [{column: effective_rate, reducer: count, as: n}]}\n", "x \"credit_type\" is not a group key"},
		{"y not reduced", "views:\n  - {id: a, chart: bar, x: entity_name, y: [m], group_by: [{column: entity_name}], reduce: [{column: effective_rate, reducer: count, as: n}]}\n", "y \"m\" is not a reduced column"},
		{"unknown chart", "views:\n  - {id: a, chart: pie, x: entity_name, y: [n], group_by: [{column: entity_name}], reduce: [{column: effective_rate, reducer: count, as: n}]}\n", "unknown chart"},
		{"duplicate view", "views:\n  - {id: a, chart: bar, x: entity_name, y: [n], group_by: [{column: entity_name}], reduce: [{column: effective_rate, reducer: count, as: n}]}\n  - {id: a, chart: bar, x: entity_name, y: [n], group_by: [{column: entity_name}], reduce: [{column: effective_rate, reducer: count, as: n}]}\n", "declared twice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ParseConfig error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestParseQueryDefaults(t *testing.T) {
	snap, cfg := loadSnapshot(t, rawRows())
	set := cfg.DefaultSet(snap.Options)

	for _, spec := range set {
		switch s := spec.(type) {
		case filter.Membership, filter.SingleSelect:
			if s.Restricts() {
				t.Errorf("default %s must not restrict", s)
			}
		case filter.NumericRange:
			if s.Low != 10 || s.High != 12.5 {
				t.Errorf("default rate range = [%v, %v], want observed [10, 12.5]", s.Low, s.High)
			}
		case filter.DateRange:
			if s.From.Compare(core.NewDay(2023, time.January, 15)) != 0 || s.To.Compare(core.NewDay(2023, time.April, 1)) != 0 {
				t.Errorf("default date range = %s", s)
			}
		}
	}

	// The observed rate range drops B, whose rate is malformed.
	if got := len(snap.Filtered(set)); got != 2 {
		t.Errorf("default selection keeps %d rows, want 2", got)
	}
}

func TestParseQuerySelections(t *testing.T) {
	snap, cfg := loadSnapshot(t, rawRows())

	q := url.Values{
		"person_type":        {"Jurídica"},
		"effective_rate_min": {"0"},
		"effective_rate_max": {"100"},
	}
	set, err := cfg.ParseQuery(q, snap.Options)
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	if got := len(snap.Filtered(set)); got != 0 {
		t.Errorf("Jurídica rows with a valid rate = %d, want 0", got)
	}

	q = url.Values{"cutoff_date_from": {"2023-02-01"}, "effective_rate_min": {"11"}}
	set, err = cfg.ParseQuery(q, snap.Options)
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	if got := len(snap.Filtered(set)); got != 0 {
		t.Errorf("rows after Feb with rate >= 11 = %d, want 0", got)
	}

	q = url.Values{"entity_name": {filter.All}, "credit_type": {"Consumo"}}
	set, err = cfg.ParseQuery(q, snap.Options)
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	enc := cfg.EncodeQuery(set, snap.Options)
	if len(enc) != 0 {
		t.Errorf("selection equal to defaults should encode to nothing, got %v", enc)
	}
}

func TestParseQueryValidation(t *testing.T) {
	snap, cfg := loadSnapshot(t, rawRows())
	tests := []struct {
		name string
		q    url.Values
	}{
		{"unknown category", url.Values{"credit_type": {"Leasing"}}},
		{"unknown single", url.Values{"entity_name": {"Z"}}},
		{"bad number", url.Values{"effective_rate_min": {"doce"}}},
		{"inverted range", url.Values{"effective_rate_min": {"20"}, "effective_rate_max": {"5"}}},
		{"bad date", url.Values{"cutoff_date_to": {"15/01/2023"}}},
		{"inverted dates", url.Values{"cutoff_date_from": {"2023-05-01"}, "cutoff_date_to": {"2023-01-01"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cfg.ParseQuery(tt.q, snap.Options)
			var ve *filter.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestEncodeQueryRoundTrip(t *testing.T) {
	snap, cfg := loadSnapshot(t, rawRows())
	q := url.Values{
		"entity_name":        {"A"},
		"effective_rate_max": {"11"},
		"cutoff_date_to":     {"2023-03-31"},
	}
	set, err := cfg.ParseQuery(q, snap.Options)
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	again, err := cfg.ParseQuery(cfg.EncodeQuery(set, snap.Options), snap.Options)
	if err != nil {
		t.Fatalf("ParseQuery(encoded): %v", err)
	}
	if SetKey(set) != SetKey(again) {
		t.Errorf("round trip changed the set:\n%s\n%s", SetKey(set), SetKey(again))
	}
}

func TestSetKeyDistinguishesValuesWithSeparators(t *testing.T) {
	tests := []struct {
		name string
		a, b filter.Set
	}{
		{
			"comma inside one value",
			filter.Set{filter.Membership{Col: core.EntityName, Values: []string{"X, Y"}}},
			filter.Set{filter.Membership{Col: core.EntityName, Values: []string{"X", "Y"}}},
		},
		{
			"separator inside single select",
			filter.Set{filter.SingleSelect{Col: core.CreditType, Value: "A&B"}},
			filter.Set{filter.SingleSelect{Col: core.CreditType, Value: "A"}, filter.SingleSelect{Col: core.CreditType, Value: "B"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if SetKey(tt.a) == SetKey(tt.b) {
				t.Errorf("distinct selections share key %q", SetKey(tt.a))
			}
		})
	}
}

func TestRenderMeanByEntity(t *testing.T) {
	snap, cfg := loadSnapshot(t, rawRows())
	view, _ := cfg.View("rate_by_entity")
	set := filter.Set{filter.NumericRange{Col: core.EffectiveRate, Low: 0, High: 100}}

	charts, err := snap.Render(context.Background(), []View{view}, set)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	c := charts[0]
	if c.Rows != 2 || c.Empty {
		t.Fatalf("expected 2 filtered rows, got %+v", c)
	}
	if len(c.Table.Rows) != 1 {
		t.Fatalf("expected one group, got %+v", c.Table.Rows)
	}
	row := c.Table.Rows[0]
	if row.Keys[0] != core.NewText("A") || row.Values[0] != core.NewNumber(11.25) {
		t.Errorf("expected {A, 11.25}, got {%s, %s}", row.Keys[0], row.Values[0])
	}
}

func TestRenderAllViewsInOrder(t *testing.T) {
	snap, cfg := loadSnapshot(t, rawRows())
	charts, err := snap.Render(context.Background(), cfg.Views, nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(charts) != len(cfg.Views) {
		t.Fatalf("got %d charts for %d views", len(charts), len(cfg.Views))
	}
	for i, c := range charts {
		if c.ID != cfg.Views[i].ID {
			t.Errorf("chart %d is %s, want %s", i, c.ID, cfg.Views[i].ID)
		}
	}

	quarterly := charts[4]
	var quarters []string
	for _, r := range quarterly.Table.Rows {
		quarters = append(quarters, r.Keys[0].Value)
	}
	if strings.Join(quarters, ",") != "2023Q1,2023Q2" {
		t.Errorf("quarterly keys = %v, want [2023Q1 2023Q2]", quarters)
	}

	top := charts[6]
	if top.Table.Rows[0].Keys[0].Value != "B" || top.Table.Rows[0].Values[0] != core.NewNumber(900) {
		t.Errorf("top lender = %+v, want B with 900", top.Table.Rows[0])
	}
}

func TestRenderEmpty(t *testing.T) {
	snap, cfg := loadSnapshot(t, rawRows())
	set := filter.Set{filter.NumericRange{Col: core.EffectiveRate, Low: 90, High: 100}}

	charts, err := snap.Render(context.Background(), cfg.Views[:1], set)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !charts[0].Empty || len(charts[0].Table.Rows) != 0 || charts[0].Table.Keys[0] != "entity_name" {
		t.Errorf("expected empty chart with named columns, got %+v", charts[0])
	}
}

func TestTrace(t *testing.T) {
	snap, cfg := loadSnapshot(t, rawRows())
	stages := snap.Trace(cfg.DefaultSet(snap.Options))
	if len(stages) != 7 {
		t.Fatalf("expected a stage per filter, got %d", len(stages))
	}
	if last := stages[len(stages)-1]; last.Rows != 2 {
		t.Errorf("last stage rows = %d, want 2", last.Rows)
	}
}

func TestLoaderSharesConcurrentLoads(t *testing.T) {
	f := &countingFetcher{rows: rawRows(), gate: make(chan struct{})}
	l := NewLoader(f, mustConfig(t), LoaderOptions{Logger: quietLogger()})

	var wg sync.WaitGroup
	snaps := make([]*Snapshot, 8)
	for i := range snaps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := l.Snapshot(context.Background())
			if err != nil {
				t.Errorf("Snapshot: %v", err)
			}
			snaps[i] = s
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	if n := f.calls.Load(); n != 1 {
		t.Errorf("fetcher called %d times, want 1", n)
	}
	for _, s := range snaps[1:] {
		if s != snaps[0] {
			t.Fatal("concurrent callers must share one snapshot")
		}
	}
	if cur, ok := l.Current(); !ok || cur != snaps[0] {
		t.Error("loaded snapshot must be cached")
	}
}

func TestLoaderRefresh(t *testing.T) {
	f := &countingFetcher{rows: rawRows()}
	l := NewLoader(f, mustConfig(t), LoaderOptions{Logger: quietLogger()})
	ctx := context.Background()

	first, _ := l.Snapshot(ctx)
	cached, _ := l.Snapshot(ctx)
	if first != cached || f.calls.Load() != 1 {
		t.Fatal("second call must be served from cache")
	}

	second, err := l.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.ID == first.ID || f.calls.Load() != 2 {
		t.Errorf("Refresh must load a new snapshot")
	}
}

func TestLoaderTTL(t *testing.T) {
	f := &countingFetcher{rows: rawRows()}
	l := NewLoader(f, mustConfig(t), LoaderOptions{TTL: time.Millisecond, Logger: quietLogger()})
	l.Snapshot(context.Background())
	time.Sleep(5 * time.Millisecond)
	l.Snapshot(context.Background())
	if n := f.calls.Load(); n != 2 {
		t.Errorf("expired snapshot must be reloaded, fetch calls = %d", n)
	}
}

func TestLoaderLastLoadedOutlivesCache(t *testing.T) {
	f := &countingFetcher{rows: rawRows()}
	l := NewLoader(f, mustConfig(t), LoaderOptions{Logger: quietLogger()})
	if _, ok := l.LastLoaded(); ok {
		t.Fatal("nothing loaded yet")
	}
	snap, err := l.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	l.Invalidate()
	if _, ok := l.Current(); ok {
		t.Fatal("Invalidate must drop the cached snapshot")
	}
	if last, ok := l.LastLoaded(); !ok || last != snap {
		t.Error("LastLoaded must keep the invalidated snapshot")
	}
}

func TestLoaderErrors(t *testing.T) {
	cfg := mustConfig(t)

	fetchErr := &core.FetchError{Source: "test", StatusCode: 503}
	l := NewLoader(&countingFetcher{err: fetchErr}, cfg, LoaderOptions{Logger: quietLogger()})
	_, err := l.Snapshot(context.Background())
	var fe *core.FetchError
	if !errors.As(err, &fe) || fe.StatusCode != 503 {
		t.Errorf("expected FetchError 503, got %v", err)
	}
	if _, ok := l.Current(); ok {
		t.Error("failed load must not be cached")
	}

	noRate := core.RawDataset{{"nombre_entidad": "A"}}
	l = NewLoader(&countingFetcher{rows: noRate}, cfg, LoaderOptions{Logger: quietLogger()})
	_, err = l.Snapshot(context.Background())
	var se *core.SchemaError
	if !errors.As(err, &se) {
		t.Errorf("expected SchemaError, got %v", err)
	}
}

func TestLoaderEmptyPayload(t *testing.T) {
	snap, cfg := loadSnapshot(t, core.RawDataset{})
	charts, err := snap.Render(context.Background(), cfg.Views, cfg.DefaultSet(snap.Options))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, c := range charts {
		if !c.Empty {
			t.Errorf("%s: expected empty chart", c.ID)
		}
	}
}

var _ source.Fetcher = (*countingFetcher)(nil)
