// Package aggregate groups records and reduces numeric columns into summary
// tables.
package aggregate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"creditos/internal/core"
)

// Reducer names a reduction over the non-missing values of a group.
type Reducer string

const (
	Mean  Reducer = "mean"
	Sum   Reducer = "sum"
	Min   Reducer = "min"
	Max   Reducer = "max"
	Count Reducer = "count"
)

func (r Reducer) valid() bool {
	switch r {
	case Mean, Sum, Min, Max, Count:
		return true
	}
	return false
}

// Key is a group-by key: a categorical column, or a date column bucketed by
// calendar quarter.
type Key struct {
	Column  core.Column `yaml:"column" json:"column"`
	Quarter bool        `yaml:"quarter" json:"quarter,omitempty"`
}

// Name is the key's column name in a SummaryTable.
func (k Key) Name() string {
	if k.Quarter {
		return "quarter"
	}
	return string(k.Column)
}

// Reduction reduces one numeric column.
type Reduction struct {
	Column  core.Column `yaml:"column" json:"column"`
	Reducer Reducer     `yaml:"reducer" json:"reducer"`
	As      string      `yaml:"as" json:"as,omitempty"`
}

// Name is the reduction's column name in a SummaryTable, "mean_effective_rate"
// unless As is set.
func (r Reduction) Name() string {
	if r.As != "" {
		return r.As
	}
	return string(r.Reducer) + "_" + string(r.Column)
}

// Spec describes one aggregation.
type Spec struct {
	GroupBy    []Key       `yaml:"group_by" json:"group_by"`
	Reductions []Reduction `yaml:"reduce" json:"reduce"`
}

// Validate checks column kinds and reducer names.
func (s Spec) Validate() error {
	if len(s.Reductions) == 0 {
		return errors.New("aggregation needs at least one reduction")
	}
	names := make(map[string]bool)
	for _, k := range s.GroupBy {
		kind, ok := k.Column.Kind()
		if !ok {
			return fmt.Errorf("group key %q: %w", k.Column, core.ErrUnknownColumn)
		}
		want := core.KindText
		if k.Quarter {
			want = core.KindDate
		}
		if kind != want {
			return fmt.Errorf("group key %q: expected %s column, got %s", k.Name(), want, kind)
		}
		if names[k.Name()] {
			return fmt.Errorf("duplicate column %q", k.Name())
		}
		names[k.Name()] = true
	}
	for _, r := range s.Reductions {
		kind, ok := r.Column.Kind()
		if !ok {
			return fmt.Errorf("reduction %q: %w", r.Column, core.ErrUnknownColumn)
		}
		if kind != core.KindNumber {
			return fmt.Errorf("reduction %q: expected number column, got %s", r.Column, kind)
		}
		if !r.Reducer.valid() {
			return fmt.Errorf("reduction %q: unknown reducer %q", r.Column, r.Reducer)
		}
		if names[r.Name()] {
			return fmt.Errorf("duplicate column %q", r.Name())
		}
		names[r.Name()] = true
	}
	return nil
}

// Row is one group of a SummaryTable. Records counts the group's members,
// whether or not their reduced values were missing.
type Row struct {
	Keys    []core.Text   `json:"keys"`
	Values  []core.Number `json:"values"`
	Records int           `json:"records"`
}

// SummaryTable holds one row per distinct group-key tuple.
type SummaryTable struct {
	Keys   []string `json:"keys"`
	Values []string `json:"values"`
	Rows   []Row    `json:"rows"`
}

// KeyIndex returns the position of a key column, or -1.
func (t SummaryTable) KeyIndex(name string) int {
	for i, k := range t.Keys {
		if k == name {
			return i
		}
	}
	return -1
}

// ValueIndex returns the position of a reduced column, or -1.
func (t SummaryTable) ValueIndex(name string) int {
	for i, v := range t.Values {
		if v == name {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy.
func (t SummaryTable) Clone() SummaryTable {
	out := SummaryTable{
		Keys:   append([]string(nil), t.Keys...),
		Values: append([]string(nil), t.Values...),
		Rows:   make([]Row, len(t.Rows)),
	}
	for i, r := range t.Rows {
		out.Rows[i] = Row{
			Keys:    append([]core.Text(nil), r.Keys...),
			Values:  append([]core.Number(nil), r.Values...),
			Records: r.Records,
		}
	}
	return out
}

type accumulator struct {
	n             int
	sum, min, max float64
}

func (a *accumulator) add(v core.Number) {
	if !v.Valid {
		return
	}
	if a.n == 0 {
		a.min, a.max = v.Value, v.Value
	} else {
		a.min = min(a.min, v.Value)
		a.max = max(a.max, v.Value)
	}
	a.n++
	a.sum += v.Value
}

func (a *accumulator) result(r Reducer) core.Number {
	if r == Count {
		return core.NewNumber(float64(a.n))
	}
	if a.n == 0 {
		return core.Number{}
	}
	switch r {
	case Mean:
		return core.NewNumber(a.sum / float64(a.n))
	case Sum:
		return core.NewNumber(a.sum)
	case Min:
		return core.NewNumber(a.min)
	case Max:
		return core.NewNumber(a.max)
	}
	return core.Number{}
}

// Aggregate partitions ds by spec.GroupBy and applies every reduction to each
// group. Rows appear in order of first appearance; rows whose quarter key
// has no date are left out of this table only.
func Aggregate(ds core.Dataset, spec Spec) (SummaryTable, error) {
	if err := spec.Validate(); err != nil {
		return SummaryTable{}, err
	}

	table := SummaryTable{
		Keys:   make([]string, len(spec.GroupBy)),
		Values: make([]string, len(spec.Reductions)),
		Rows:   []Row{},
	}
	for i, k := range spec.GroupBy {
		table.Keys[i] = k.Name()
	}
	for i, r := range spec.Reductions {
		table.Values[i] = r.Name()
	}

	index := make(map[string]int)
	var accs [][]accumulator

	for _, r := range ds {
		keys, ok := groupKeys(r, spec.GroupBy)
		if !ok {
			continue
		}
		id := encodeKeys(keys)
		g, seen := index[id]
		if !seen {
			g = len(table.Rows)
			index[id] = g
			table.Rows = append(table.Rows, Row{Keys: keys})
			accs = append(accs, make([]accumulator, len(spec.Reductions)))
		}
		table.Rows[g].Records++
		for j, red := range spec.Reductions {
			v, _ := r.Number(red.Column)
			accs[g][j].add(v)
		}
	}

	for g := range table.Rows {
		values := make([]core.Number, len(spec.Reductions))
		for j, red := range spec.Reductions {
			values[j] = accs[g][j].result(red.Reducer)
		}
		table.Rows[g].Values = values
	}
	return table, nil
}

func groupKeys(r core.Record, keys []Key) ([]core.Text, bool) {
	out := make([]core.Text, len(keys))
	for i, k := range keys {
		if k.Quarter {
			d, _ := r.Day(k.Column)
			if !d.Valid {
				return nil, false
			}
			out[i] = d.Quarter()
			continue
		}
		out[i], _ = r.Text(k.Column)
	}
	return out, true
}

// encodeKeys builds an unambiguous map key; a missing value never collides
// with any present string.
func encodeKeys(keys []core.Text) string {
	var b strings.Builder
	for _, k := range keys {
		if !k.Valid {
			b.WriteString("-;")
			continue
		}
		b.WriteString(strconv.Itoa(len(k.Value)))
		b.WriteByte(':')
		b.WriteString(k.Value)
	}
	return b.String()
}
