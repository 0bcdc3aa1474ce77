// Package dashboard wires the pipeline together: it loads dataset snapshots,
// turns query selections into filter sets and renders the configured views.
package dashboard

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"creditos/internal/aggregate"
	"creditos/internal/core"
)

//go:embed views.yaml
var defaultViews []byte

// FilterKind selects the sidebar control and the filter built from it.
type FilterKind string

const (
	FilterMulti  FilterKind = "multi"
	FilterSingle FilterKind = "single"
	FilterRange  FilterKind = "range"
	FilterDate   FilterKind = "date"
)

var filterKinds = map[FilterKind]core.Kind{
	FilterMulti:  core.KindText,
	FilterSingle: core.KindText,
	FilterRange:  core.KindNumber,
	FilterDate:   core.KindDate,
}

// FilterDef declares one sidebar control.
type FilterDef struct {
	Column core.Column `yaml:"column" json:"column"`
	Label  string      `yaml:"label" json:"label"`
	Kind   FilterKind  `yaml:"kind" json:"kind"`
}

// ChartKind tells the presentation layer how to draw a view.
type ChartKind string

const (
	ChartBar        ChartKind = "bar"
	ChartGroupedBar ChartKind = "grouped_bar"
	ChartLine       ChartKind = "line"
)

// Top keeps the N groups with the largest value of By.
type Top struct {
	By string `yaml:"by" json:"by"`
	N  int    `yaml:"n" json:"n"`
}

// View is one panel: an aggregation plus how to present it.
type View struct {
	ID             string    `yaml:"id" json:"id"`
	Title          string    `yaml:"title" json:"title"`
	Chart          ChartKind `yaml:"chart" json:"chart"`
	aggregate.Spec `yaml:",inline"`
	X              string   `yaml:"x" json:"x"`
	Y              []string `yaml:"y" json:"y"`
	Series         string   `yaml:"series" json:"series,omitempty"`
	SortKeys       bool     `yaml:"sort_keys" json:"sort_keys,omitempty"`
	Top            *Top     `yaml:"top" json:"top,omitempty"`
}

// Config is the dashboard layout.
type Config struct {
	Filters []FilterDef `yaml:"filters" json:"filters"`
	Views   []View      `yaml:"views" json:"views"`
}

// DefaultConfig returns the embedded layout.
func DefaultConfig() (Config, error) {
	return ParseConfig(defaultViews)
}

// LoadConfig reads a layout file, or the embedded one when path is empty.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read views file: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes and validates a YAML layout. Unknown fields are errors.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode views: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every filter and view, reporting all problems at once.
func (c Config) Validate() error {
	var errs []error
	seenFilter := make(map[core.Column]bool)
	for _, f := range c.Filters {
		want, ok := filterKinds[f.Kind]
		if !ok {
			errs = append(errs, fmt.Errorf("filter %q: unknown kind %q", f.Column, f.Kind))
			continue
		}
		kind, ok := f.Column.Kind()
		if !ok {
			errs = append(errs, fmt.Errorf("filter %q: %w", f.Column, core.ErrUnknownColumn))
			continue
		}
		if kind != want {
			errs = append(errs, fmt.Errorf("filter %q: %s control needs a %s column", f.Column, f.Kind, want))
		}
		if seenFilter[f.Column] {
			errs = append(errs, fmt.Errorf("filter %q declared twice", f.Column))
		}
		seenFilter[f.Column] = true
	}

	if len(c.Views) == 0 {
		errs = append(errs, errors.New("no views configured"))
	}
	seenView := make(map[string]bool)
	for _, v := range c.Views {
		if err := v.validate(); err != nil {
			errs = append(errs, err)
		}
		if seenView[v.ID] {
			errs = append(errs, fmt.Errorf("view %q declared twice", v.ID))
		}
		seenView[v.ID] = true
	}
	return errors.Join(errs...)
}

func (v View) validate() error {
	if v.ID == "" {
		return errors.New("view without id")
	}
	switch v.Chart {
	case ChartBar, ChartGroupedBar, ChartLine:
	default:
		return fmt.Errorf("view %q: unknown chart %q", v.ID, v.Chart)
	}
	if err := v.Spec.Validate(); err != nil {
		return fmt.Errorf("view %q: %w", v.ID, err)
	}

	keys := make([]string, len(v.GroupBy))
	for i, k := range v.GroupBy {
		keys[i] = k.Name()
	}
	values := make([]string, len(v.Reductions))
	for i, r := range v.Reductions {
		values[i] = r.Name()
	}

	if !slices.Contains(keys, v.X) {
		return fmt.Errorf("view %q: x %q is not a group key", v.ID, v.X)
	}
	if v.Series != "" && (!slices.Contains(keys, v.Series) || v.Series == v.X) {
		return fmt.Errorf("view %q: series %q must be a group key other than x", v.ID, v.Series)
	}
	if len(v.Y) == 0 {
		return fmt.Errorf("view %q: no y columns", v.ID)
	}
	for _, y := range v.Y {
		if !slices.Contains(values, y) {
			return fmt.Errorf("view %q: y %q is not a reduced column", v.ID, y)
		}
	}
	if v.Top != nil && (v.Top.N < 1 || !slices.Contains(values, v.Top.By)) {
		return fmt.Errorf("view %q: top needs n >= 1 and a reduced column", v.ID)
	}
	return nil
}

// View returns the view with the given id.
func (c Config) View(id string) (View, bool) {
	for _, v := range c.Views {
		if v.ID == id {
			return v, true
		}
	}
	return View{}, false
}

// Filter returns the filter declared for col.
func (c Config) Filter(col core.Column) (FilterDef, bool) {
	for _, f := range c.Filters {
		if f.Column == col {
			return f, true
		}
	}
	return FilterDef{}, false
}

// Columns returns every column the layout reads, in first-use order. Only
// these need to be present in a payload.
func (c Config) Columns() []core.Column {
	var out []core.Column
	add := func(col core.Column) {
		if !slices.Contains(out, col) {
			out = append(out, col)
		}
	}
	for _, f := range c.Filters {
		add(f.Column)
	}
	for _, v := range c.Views {
		for _, k := range v.GroupBy {
			add(k.Column)
		}
		for _, r := range v.Reductions {
			add(r.Column)
		}
	}
	return out
}
