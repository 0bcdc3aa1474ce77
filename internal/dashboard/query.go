package dashboard

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"creditos/internal/core"
	"creditos/internal/filter"
)

// Query parameter suffixes for range controls.
const (
	suffixMin  = "_min"
	suffixMax  = "_max"
	suffixFrom = "_from"
	suffixTo   = "_to"
)

// DefaultSet is the selection shown before the user touches any control:
// every category, the sentinel for single selects and the observed bounds.
func (c Config) DefaultSet(opts filter.Options) filter.Set {
	set, _ := c.ParseQuery(url.Values{}, opts)
	return set
}

// ParseQuery builds the filter set for q, one spec per configured filter in
// sidebar order.
//
// Multi-select values repeat the column name (credit_type=A&credit_type=B);
// an absent column selects everything. Single selects take one value or
// "Todos". Ranges use <col>_min/<col>_max and dates <col>_from/<col>_to in
// YYYY-MM-DD; an absent bound defaults to the observed one. A range whose
// column has no observed value and no bound in q is left out.
//
// Malformed numbers or dates and selections outside the option domains are
// reported as a *filter.ValidationError.
func (c Config) ParseQuery(q url.Values, opts filter.Options) (filter.Set, error) {
	var (
		set      filter.Set
		problems []string
	)
	for _, f := range c.Filters {
		col := string(f.Column)
		switch f.Kind {
		case FilterMulti:
			domain := opts.Categories[f.Column]
			selected := nonEmpty(q[col])
			if len(selected) == 0 {
				selected = domain
			}
			set = append(set, filter.NewMembership(f.Column, selected, domain))

		case FilterSingle:
			v := strings.TrimSpace(q.Get(col))
			if v == "" {
				v = filter.All
			}
			set = append(set, filter.SingleSelect{Col: f.Column, Value: v})

		case FilterRange:
			b := opts.Numbers[f.Column]
			low, lowSet, err := parseFloat(q.Get(col + suffixMin))
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", col+suffixMin, err))
			}
			high, highSet, err := parseFloat(q.Get(col + suffixMax))
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", col+suffixMax, err))
			}
			if !b.Valid && !lowSet && !highSet {
				continue
			}
			if !lowSet {
				low = b.Min
				if !b.Valid {
					low = math.Inf(-1)
				}
			}
			if !highSet {
				high = b.Max
				if !b.Valid {
					high = math.Inf(1)
				}
			}
			set = append(set, filter.NumericRange{Col: f.Column, Low: low, High: high})

		case FilterDate:
			b := opts.Dates[f.Column]
			from, fromSet, err := parseDay(q.Get(col + suffixFrom))
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", col+suffixFrom, err))
			}
			to, toSet, err := parseDay(q.Get(col + suffixTo))
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", col+suffixTo, err))
			}
			if !b.From.Valid && !fromSet && !toSet {
				continue
			}
			if !fromSet {
				from = b.From
			}
			if !toSet {
				to = b.To
			}
			set = append(set, filter.DateRange{Col: f.Column, From: from, To: to})
		}
	}

	if len(problems) > 0 {
		return nil, &filter.ValidationError{Problems: problems}
	}
	if err := opts.Validate(set); err != nil {
		return nil, err
	}
	return set, nil
}

// EncodeQuery is the inverse of ParseQuery for restricting specs; specs at
// their defaults are left out so URLs stay short.
func (c Config) EncodeQuery(set filter.Set, opts filter.Options) url.Values {
	q := url.Values{}
	for _, spec := range set {
		col := string(spec.Column())
		switch s := spec.(type) {
		case filter.Membership:
			if s.Restricts() {
				q[col] = append([]string(nil), s.Values...)
			}
		case filter.SingleSelect:
			if s.Restricts() {
				q.Set(col, s.Value)
			}
		case filter.NumericRange:
			b := opts.Numbers[s.Col]
			if !b.Valid || s.Low != b.Min {
				q.Set(col+suffixMin, strconv.FormatFloat(s.Low, 'f', -1, 64))
			}
			if !b.Valid || s.High != b.Max {
				q.Set(col+suffixMax, strconv.FormatFloat(s.High, 'f', -1, 64))
			}
		case filter.DateRange:
			b := opts.Dates[s.Col]
			if s.From.Valid && s.From.Compare(b.From) != 0 {
				q.Set(col+suffixFrom, s.From.String())
			}
			if s.To.Valid && s.To.Compare(b.To) != 0 {
				q.Set(col+suffixTo, s.To.String())
			}
		}
	}
	return q
}

// SetKey is a canonical string for set, used as a cache key. Selected values
// are quoted so that no value can mimic a separator.
func SetKey(set filter.Set) string {
	parts := make([]string, len(set))
	for i, s := range set {
		switch s := s.(type) {
		case filter.Membership:
			if !s.Restricts() {
				parts[i] = s.String()
				continue
			}
			quoted := make([]string, len(s.Values))
			for j, v := range s.Values {
				quoted[j] = strconv.Quote(v)
			}
			parts[i] = string(s.Col) + " in {" + strings.Join(quoted, ",") + "}"
		case filter.SingleSelect:
			if !s.Restricts() {
				parts[i] = s.String()
				continue
			}
			parts[i] = string(s.Col) + " = " + strconv.Quote(s.Value)
		default:
			parts[i] = s.String()
		}
	}
	return strings.Join(parts, "&")
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseFloat(s string) (float64, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false, fmt.Errorf("not a number: %q", s)
	}
	return v, true, nil
}

func parseDay(s string) (core.Day, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return core.Day{}, false, nil
	}
	d, err := core.ParseDay(s)
	if err != nil {
		return core.Day{}, false, fmt.Errorf("not a date (want YYYY-MM-DD): %q", s)
	}
	return d, true, nil
}
