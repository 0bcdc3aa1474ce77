package filter

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"creditos/internal/core"
)

// Bounds is the observed range of a numeric column. Valid is false when the
// column has no present value.
type Bounds struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Valid bool    `json:"valid"`
}

// DateBounds is the observed range of a date column.
type DateBounds struct {
	From core.Day `json:"from"`
	To   core.Day `json:"to"`
}

// Options holds the option domain of each filterable column. It is computed
// once per loaded dataset so that controls can be populated and selections
// validated without running the filters.
type Options struct {
	Categories map[core.Column][]string   `json:"categories"`
	Numbers    map[core.Column]Bounds     `json:"numbers"`
	Dates      map[core.Column]DateBounds `json:"dates"`
}

// BuildOptions computes the domains of cols over ds. Missing values are not
// part of any domain. Categories are sorted with Spanish collation.
func BuildOptions(ds core.Dataset, cols []core.Column) Options {
	opts := Options{
		Categories: make(map[core.Column][]string),
		Numbers:    make(map[core.Column]Bounds),
		Dates:      make(map[core.Column]DateBounds),
	}
	coll := collate.New(language.Spanish)

	for _, col := range cols {
		kind, ok := col.Kind()
		if !ok {
			continue
		}
		switch kind {
		case core.KindText:
			seen := make(map[string]struct{})
			values := make([]string, 0)
			for _, r := range ds {
				t, _ := r.Text(col)
				if !t.Valid {
					continue
				}
				if _, dup := seen[t.Value]; dup {
					continue
				}
				seen[t.Value] = struct{}{}
				values = append(values, t.Value)
			}
			coll.SortStrings(values)
			opts.Categories[col] = values
		case core.KindNumber:
			var b Bounds
			for _, r := range ds {
				n, _ := r.Number(col)
				if !n.Valid {
					continue
				}
				if !b.Valid {
					b = Bounds{Min: n.Value, Max: n.Value, Valid: true}
					continue
				}
				b.Min = min(b.Min, n.Value)
				b.Max = max(b.Max, n.Value)
			}
			opts.Numbers[col] = b
		case core.KindDate:
			var b DateBounds
			for _, r := range ds {
				d, _ := r.Day(col)
				if !d.Valid {
					continue
				}
				if !b.From.Valid || d.Time.Before(b.From.Time) {
					b.From = d
				}
				if !b.To.Valid || d.Time.After(b.To.Time) {
					b.To = d
				}
			}
			opts.Dates[col] = b
		}
	}
	return opts
}

// ValidationError lists selections that fall outside the option domains.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid filter selection: " + strings.Join(e.Problems, "; ")
}

// Validate checks every spec of set against the domains.
func (o Options) Validate(set Set) error {
	var problems []string
	for _, spec := range set {
		switch s := spec.(type) {
		case Membership:
			domain := o.Categories[s.Col]
			for _, v := range s.Values {
				if !slices.Contains(domain, v) {
					problems = append(problems, fmt.Sprintf("%s: unknown value %q", s.Col, v))
				}
			}
		case SingleSelect:
			if s.Restricts() && !slices.Contains(o.Categories[s.Col], s.Value) {
				problems = append(problems, fmt.Sprintf("%s: unknown value %q", s.Col, s.Value))
			}
		case NumericRange:
			if s.Low > s.High {
				problems = append(problems, fmt.Sprintf("%s: lower bound above upper bound", s.Col))
			}
		case DateRange:
			if s.From.Valid && s.To.Valid && s.From.Time.After(s.To.Time) {
				problems = append(problems, fmt.Sprintf("%s: start date after end date", s.Col))
			}
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
