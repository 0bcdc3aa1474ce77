// Package filter narrows a dataset with composable predicates.
//
// A Set is a conjunction of Specs. Applying a Set never modifies its input:
// it returns a new Dataset holding the accepted records in input order.
package filter

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"creditos/internal/core"
)

// All is the single-select sentinel meaning "no restriction".
const All = "Todos"

// Spec is a predicate over one column.
type Spec interface {
	Column() core.Column
	Accept(r core.Record) bool
	// Restricts is false when the spec accepts every record, missing
	// values included.
	Restricts() bool
	String() string
}

// Membership accepts records whose value is one of Values. An empty Values or
// a selection covering the whole option domain (All) imposes no restriction.
type Membership struct {
	Col    core.Column
	Values []string
	All    bool
}

// NewMembership builds a multi-select filter. When selected covers every value
// of domain the filter is marked All.
func NewMembership(col core.Column, selected, domain []string) Membership {
	m := Membership{Col: col, Values: append([]string(nil), selected...)}
	if len(domain) > 0 {
		m.All = true
		for _, v := range domain {
			if !slices.Contains(selected, v) {
				m.All = false
				break
			}
		}
	}
	return m
}

func (m Membership) Column() core.Column { return m.Col }

func (m Membership) Restricts() bool {
	return !m.All && len(m.Values) > 0
}

func (m Membership) Accept(r core.Record) bool {
	if !m.Restricts() {
		return true
	}
	t, ok := r.Text(m.Col)
	if !ok || !t.Valid {
		return false
	}
	return slices.Contains(m.Values, t.Value)
}

func (m Membership) String() string {
	if !m.Restricts() {
		return string(m.Col) + " ∈ " + All
	}
	return string(m.Col) + " ∈ {" + strings.Join(m.Values, ", ") + "}"
}

// SingleSelect accepts records equal to Value, or everything when Value is the
// All sentinel (or empty).
type SingleSelect struct {
	Col   core.Column
	Value string
}

func (s SingleSelect) Column() core.Column { return s.Col }

func (s SingleSelect) Restricts() bool {
	return s.Value != "" && s.Value != All
}

func (s SingleSelect) Accept(r core.Record) bool {
	if !s.Restricts() {
		return true
	}
	t, ok := r.Text(s.Col)
	return ok && t.Valid && t.Value == s.Value
}

func (s SingleSelect) String() string {
	v := s.Value
	if v == "" {
		v = All
	}
	return string(s.Col) + " = " + v
}

// NumericRange accepts non-missing values in [Low, High].
type NumericRange struct {
	Col       core.Column
	Low, High float64
}

func (n NumericRange) Column() core.Column { return n.Col }

// Restricts is always true: a missing value cannot be judged in range.
func (n NumericRange) Restricts() bool { return true }

func (n NumericRange) Accept(r core.Record) bool {
	v, ok := r.Number(n.Col)
	return ok && v.Valid && v.Value >= n.Low && v.Value <= n.High
}

func (n NumericRange) String() string {
	return fmt.Sprintf("%s ∈ [%s, %s]", n.Col,
		strconv.FormatFloat(n.Low, 'f', -1, 64), strconv.FormatFloat(n.High, 'f', -1, 64))
}

// DateRange accepts non-missing dates in [From, To]. A missing bound leaves
// that side open.
type DateRange struct {
	Col      core.Column
	From, To core.Day
}

func (d DateRange) Column() core.Column { return d.Col }

func (d DateRange) Restricts() bool { return true }

func (d DateRange) Accept(r core.Record) bool {
	v, ok := r.Day(d.Col)
	if !ok || !v.Valid {
		return false
	}
	if d.From.Valid && v.Time.Before(d.From.Time) {
		return false
	}
	if d.To.Valid && v.Time.After(d.To.Time) {
		return false
	}
	return true
}

func (d DateRange) String() string {
	return fmt.Sprintf("%s ∈ [%s, %s]", d.Col, d.From, d.To)
}

// Set is an ordered conjunction of specs.
type Set []Spec

// With returns a new Set with specs appended; the receiver is unchanged.
func (s Set) With(specs ...Spec) Set {
	out := make(Set, 0, len(s)+len(specs))
	out = append(out, s...)
	return append(out, specs...)
}

// Accept reports whether r passes every spec.
func (s Set) Accept(r core.Record) bool {
	for _, spec := range s {
		if !spec.Accept(r) {
			return false
		}
	}
	return true
}

// Apply returns the records of ds accepted by every spec of set.
func Apply(ds core.Dataset, set Set) core.Dataset {
	out := make(core.Dataset, 0, len(ds))
	for _, r := range ds {
		if set.Accept(r) {
			out = append(out, r)
		}
	}
	return out
}

// Stage is the row count left after one spec of a traced application.
type Stage struct {
	Filter string `json:"filter"`
	Rows   int    `json:"rows"`
}

// ApplyTrace applies the specs one at a time and records the remaining row
// count after each. The result equals Apply(ds, set).
func ApplyTrace(ds core.Dataset, set Set) (core.Dataset, []Stage) {
	stages := make([]Stage, 0, len(set))
	cur := ds
	for _, spec := range set {
		cur = Apply(cur, Set{spec})
		stages = append(stages, Stage{Filter: spec.String(), Rows: len(cur)})
	}
	if len(set) == 0 {
		cur = Apply(ds, nil)
	}
	return cur, stages
}
