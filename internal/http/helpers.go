package http

import (
	"math"
	"slices"
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"creditos/internal/core"
	"creditos/internal/dashboard"
	"creditos/internal/filter"
)

// missingValue is shown for cells without a value.
const missingValue = "–"

var printer = message.NewPrinter(language.MustParse("es-CO"))

// formatNumber renders n with Colombian separators and at most two decimals.
func formatNumber(n core.Number) string {
	if !n.Valid {
		return missingValue
	}
	return printer.Sprint(number.Decimal(n.Value, number.MaxFractionDigits(2)))
}

// formatCount renders an integer count with thousands separators.
func formatCount(n int) string {
	return printer.Sprint(number.Decimal(n))
}

// barWidth scales v against max as a rounded percentage. Small positive
// values get a minimum width so they stay visible.
func barWidth(v, max float64) int {
	if max <= 0 || v <= 0 {
		return 0
	}
	width := int(math.Round(v * 100 / max))
	if width < 2 {
		width = 2
	}
	if width > 100 {
		width = 100
	}
	return width
}

type bar struct {
	Name   string
	Value  string
	Width  int
	Series int
}

type barGroup struct {
	Label string
	Bars  []bar
}

type tableView struct {
	Head []string
	Body [][]string
}

// panel is the template model of one chart.
type panel struct {
	ID     string
	Title  string
	Kind   dashboard.ChartKind
	Rows   string
	Empty  bool
	Legend []string
	Groups []barGroup
	Table  tableView
}

// buildPanel lays out a chart as bar groups along X. Without a series each
// group holds one bar per Y column; with a series it holds one bar per series
// value, measured on the first Y column.
func buildPanel(c dashboard.Chart) panel {
	p := panel{
		ID:    c.ID,
		Title: c.Title,
		Kind:  c.Kind,
		Rows:  formatCount(c.Rows),
		Empty: c.Empty,
		Table: buildTable(c),
	}
	if c.Empty {
		return p
	}

	t := c.Table
	xi := t.KeyIndex(c.X)
	yis := make([]int, 0, len(c.Y))
	for _, y := range c.Y {
		if i := t.ValueIndex(y); i >= 0 {
			yis = append(yis, i)
		}
	}
	if xi < 0 || len(yis) == 0 {
		return p
	}

	max := 0.0
	for _, r := range t.Rows {
		for _, yi := range yis {
			if v := r.Values[yi]; v.Valid && v.Value > max {
				max = v.Value
			}
		}
	}

	si := -1
	if c.Series != "" {
		si = t.KeyIndex(c.Series)
	}

	groupIdx := make(map[string]int)
	group := func(label string) *barGroup {
		i, ok := groupIdx[label]
		if !ok {
			i = len(p.Groups)
			groupIdx[label] = i
			p.Groups = append(p.Groups, barGroup{Label: label})
		}
		return &p.Groups[i]
	}

	if si < 0 {
		p.Legend = append(p.Legend, c.Y...)
		for _, r := range t.Rows {
			g := group(r.Keys[xi].String())
			for n, yi := range yis {
				v := r.Values[yi]
				g.Bars = append(g.Bars, bar{Name: c.Y[n], Value: formatNumber(v), Width: barWidth(v.Value, max), Series: n})
			}
		}
		return p
	}

	for _, r := range t.Rows {
		name := r.Keys[si].String()
		n := slices.Index(p.Legend, name)
		if n < 0 {
			n = len(p.Legend)
			p.Legend = append(p.Legend, name)
		}
		v := r.Values[yis[0]]
		g := group(r.Keys[xi].String())
		g.Bars = append(g.Bars, bar{Name: name, Value: formatNumber(v), Width: barWidth(v.Value, max), Series: n})
	}
	return p
}

func buildTable(c dashboard.Chart) tableView {
	tv := tableView{Head: append(append([]string(nil), c.Table.Keys...), c.Table.Values...)}
	for _, r := range c.Table.Rows {
		row := make([]string, 0, len(r.Keys)+len(r.Values))
		for _, k := range r.Keys {
			row = append(row, k.String())
		}
		for _, v := range r.Values {
			row = append(row, formatNumber(v))
		}
		tv.Body = append(tv.Body, row)
	}
	return tv
}

type option struct {
	Value    string
	Selected bool
}

// control is the template model of one sidebar filter.
type control struct {
	Column   string
	Label    string
	Kind     dashboard.FilterKind
	Options  []option
	Low      string
	High     string
	MinLimit string
	MaxLimit string
	// Disabled is set for ranges over a column with no observed value.
	Disabled bool
}

// buildControls renders the sidebar for the current selection.
func buildControls(cfg dashboard.Config, opts filter.Options, set filter.Set) []control {
	specs := make(map[core.Column]filter.Spec, len(set))
	for _, s := range set {
		specs[s.Column()] = s
	}

	controls := make([]control, 0, len(cfg.Filters))
	for _, f := range cfg.Filters {
		c := control{Column: string(f.Column), Label: f.Label, Kind: f.Kind}
		if c.Label == "" {
			c.Label = c.Column
		}
		switch f.Kind {
		case dashboard.FilterMulti:
			m, _ := specs[f.Column].(filter.Membership)
			for _, v := range opts.Categories[f.Column] {
				c.Options = append(c.Options, option{Value: v, Selected: m.All || slices.Contains(m.Values, v)})
			}
		case dashboard.FilterSingle:
			s, _ := specs[f.Column].(filter.SingleSelect)
			c.Options = append(c.Options, option{Value: filter.All, Selected: !s.Restricts()})
			for _, v := range opts.Categories[f.Column] {
				c.Options = append(c.Options, option{Value: v, Selected: s.Restricts() && s.Value == v})
			}
		case dashboard.FilterRange:
			b := opts.Numbers[f.Column]
			if b.Valid {
				c.MinLimit = strconv.FormatFloat(b.Min, 'f', -1, 64)
				c.MaxLimit = strconv.FormatFloat(b.Max, 'f', -1, 64)
			}
			if r, ok := specs[f.Column].(filter.NumericRange); ok {
				c.Low = formatBound(r.Low)
				c.High = formatBound(r.High)
			} else {
				c.Disabled = true
			}
		case dashboard.FilterDate:
			b := opts.Dates[f.Column]
			if b.From.Valid {
				c.MinLimit, c.MaxLimit = b.From.String(), b.To.String()
			}
			if r, ok := specs[f.Column].(filter.DateRange); ok {
				if r.From.Valid {
					c.Low = r.From.String()
				}
				if r.To.Valid {
					c.High = r.To.String()
				}
			} else {
				c.Disabled = true
			}
		}
		controls = append(controls, c)
	}
	return controls
}

func formatBound(v float64) string {
	if math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
