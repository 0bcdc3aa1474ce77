package http

import (
	"testing"

	"creditos/internal/aggregate"
	"creditos/internal/core"
	"creditos/internal/dashboard"
	"creditos/internal/filter"
)

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   core.Number
		want string
	}{
		{core.Number{}, missingValue},
		{core.NewNumber(11.25), "11,25"},
		{core.NewNumber(1234.5), "1.234,5"},
		{core.NewNumber(2.0 / 3), "0,67"},
	}
	for _, tt := range tests {
		if got := formatNumber(tt.in); got != tt.want {
			t.Errorf("formatNumber(%v)=%q want %q", tt.in, got, tt.want)
		}
	}
}

func TestBarWidth(t *testing.T) {
	tests := []struct {
		v, max float64
		want   int
	}{
		{0, 100, 0},
		{10, 0, 0},
		{0.5, 100, 2},
		{50, 100, 50},
		{12.5, 12.5, 100},
		{200, 100, 100},
	}
	for _, tt := range tests {
		if got := barWidth(tt.v, tt.max); got != tt.want {
			t.Errorf("barWidth(%v, %v)=%d want %d", tt.v, tt.max, got, tt.want)
		}
	}
}

func TestBuildPanelWithSeries(t *testing.T) {
	c := dashboard.Chart{
		ID:     "rate_by_city",
		Kind:   dashboard.ChartGroupedBar,
		X:      "municipality_code",
		Y:      []string{"mean_effective_rate"},
		Series: "credit_type",
		Rows:   3,
		Table: aggregate.SummaryTable{
			Keys:   []string{"municipality_code", "credit_type"},
			Values: []string{"mean_effective_rate"},
			Rows: []aggregate.Row{
				{Keys: []core.Text{core.NewText("05001"), core.NewText("Consumo")}, Values: []core.Number{core.NewNumber(20)}},
				{Keys: []core.Text{core.NewText("05001"), core.NewText("Vivienda")}, Values: []core.Number{core.NewNumber(10)}},
				{Keys: []core.Text{core.NewText("11001"), core.NewText("Consumo")}, Values: []core.Number{{}}},
			},
		},
	}

	p := buildPanel(c)
	if len(p.Legend) != 2 || p.Legend[0] != "Consumo" || p.Legend[1] != "Vivienda" {
		t.Fatalf("legend=%v", p.Legend)
	}
	if len(p.Groups) != 2 || p.Groups[0].Label != "05001" || len(p.Groups[0].Bars) != 2 {
		t.Fatalf("groups=%+v", p.Groups)
	}
	if b := p.Groups[0].Bars[1]; b.Width != 50 || b.Series != 1 || b.Value != "10" {
		t.Errorf("bar=%+v", b)
	}
	if b := p.Groups[1].Bars[0]; b.Width != 0 || b.Value != missingValue {
		t.Errorf("missing bar=%+v", b)
	}
	if len(p.Table.Body) != 3 || p.Table.Body[2][2] != missingValue {
		t.Errorf("table=%+v", p.Table)
	}
}

func TestBuildPanelEmpty(t *testing.T) {
	p := buildPanel(dashboard.Chart{ID: "x", Empty: true, Y: []string{"mean_effective_rate"}})
	if !p.Empty || len(p.Groups) != 0 {
		t.Fatalf("panel=%+v", p)
	}
}

func TestBuildControls(t *testing.T) {
	cfg := dashboard.Config{Filters: []dashboard.FilterDef{
		{Column: core.CreditType, Kind: dashboard.FilterMulti},
		{Column: core.PersonType, Label: "Tipo de persona", Kind: dashboard.FilterSingle},
		{Column: core.EffectiveRate, Kind: dashboard.FilterRange},
	}}
	opts := filter.Options{
		Categories: map[core.Column][]string{
			core.CreditType: {"Consumo", "Vivienda"},
			core.PersonType: {"Jurídica", "Natural"},
		},
		Numbers: map[core.Column]filter.Bounds{},
	}
	set := filter.Set{
		filter.NewMembership(core.CreditType, []string{"Vivienda"}, opts.Categories[core.CreditType]),
		filter.SingleSelect{Col: core.PersonType, Value: "Natural"},
	}

	got := buildControls(cfg, opts, set)
	if len(got) != 3 {
		t.Fatalf("controls=%d", len(got))
	}
	if got[0].Label != "credit_type" || got[0].Options[0].Selected || !got[0].Options[1].Selected {
		t.Errorf("multi=%+v", got[0])
	}
	single := got[1]
	if single.Options[0].Value != filter.All || single.Options[0].Selected || !single.Options[2].Selected {
		t.Errorf("single=%+v", single)
	}
	if !got[2].Disabled || got[2].MinLimit != "" {
		t.Errorf("range over a column without values should be disabled: %+v", got[2])
	}
}
