package aggregate

import (
	"fmt"
	"sort"
)

// TopN returns a copy of t sorted by the named value column, descending, cut
// to n rows (n <= 0 keeps all). Ties are broken by the key tuple in ascending
// lexical order and missing values sort last, so the order is total.
func TopN(t SummaryTable, value string, n int) (SummaryTable, error) {
	col := t.ValueIndex(value)
	if col < 0 {
		return SummaryTable{}, fmt.Errorf("top-n: unknown value column %q", value)
	}
	out := t.Clone()
	sort.SliceStable(out.Rows, func(i, j int) bool {
		a, b := out.Rows[i].Values[col], out.Rows[j].Values[col]
		switch {
		case a.Valid && !b.Valid:
			return true
		case !a.Valid && b.Valid:
			return false
		case a.Valid && b.Valid && a.Value != b.Value:
			return a.Value > b.Value
		}
		return compareKeys(out.Rows[i], out.Rows[j]) < 0
	})
	if n > 0 && len(out.Rows) > n {
		out.Rows = out.Rows[:n]
	}
	return out, nil
}

// SortByKeys returns a copy of t ordered by the key tuple, ascending.
func SortByKeys(t SummaryTable) SummaryTable {
	out := t.Clone()
	sort.SliceStable(out.Rows, func(i, j int) bool {
		return compareKeys(out.Rows[i], out.Rows[j]) < 0
	})
	return out
}

func compareKeys(a, b Row) int {
	for k := range a.Keys {
		if c := a.Keys[k].Compare(b.Keys[k]); c != 0 {
			return c
		}
	}
	return 0
}
