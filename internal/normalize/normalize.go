// Package normalize coerces raw source rows into typed records.
//
// Coercion is total: a field that cannot be parsed becomes Missing and the
// row is kept. The only batch-level failure is a required column that is
// absent from every row of the payload.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"creditos/internal/core"
)

// Field binds a typed column to its upstream field name.
type Field struct {
	Column   core.Column
	Raw      string
	Optional bool
}

// Schema lists the columns to coerce.
type Schema struct {
	Fields []Field
}

// DefaultSchema maps every column to the field names used by the
// datos.gov.co credit-disbursement dataset. All columns are required.
func DefaultSchema() Schema {
	return Schema{Fields: []Field{
		{Column: core.EntityName, Raw: "nombre_entidad"},
		{Column: core.CreditType, Raw: "tipo_de_cr_dito"},
		{Column: core.CreditProduct, Raw: "producto_de_cr_dito"},
		{Column: core.GuaranteeType, Raw: "tipo_de_garant_a"},
		{Column: core.PersonType, Raw: "tipo_de_persona"},
		{Column: core.CompanySize, Raw: "tama_o_de_empresa"},
		{Column: core.CompanyAgeBracket, Raw: "antiguedad_de_la_empresa"},
		{Column: core.MunicipalityCode, Raw: "codigo_municipio"},
		{Column: core.EffectiveRate, Raw: "tasa_efectiva_promedio"},
		{Column: core.CutoffDate, Raw: "fecha_corte"},
		{Column: core.DisbursedAmount, Raw: "montos_desembolsados"},
		{Column: core.CreditCount, Raw: "numero_de_creditos"},
	}}
}

// RequireOnly returns a copy of the schema where only the given columns are
// required; the rest are coerced when present and left Missing otherwise.
func (s Schema) RequireOnly(cols ...core.Column) Schema {
	want := make(map[core.Column]bool, len(cols))
	for _, c := range cols {
		want[c] = true
	}
	out := Schema{Fields: make([]Field, len(s.Fields))}
	for i, f := range s.Fields {
		f.Optional = !want[f.Column]
		out.Fields[i] = f
	}
	return out
}

// Report summarises per-field coercion outcomes. Malformed counts values that
// were present but could not be coerced; Missing counts every field that ended
// up Missing, malformed or not.
type Report struct {
	Rows      int
	Missing   map[core.Column]int
	Malformed map[core.Column]int
}

// dateLayouts are tried in order; the first is the Socrata floating timestamp.
var dateLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	time.RFC3339,
	core.DayLayout,
}

// Normalize coerces raw into a typed dataset. raw is never modified.
func Normalize(raw core.RawDataset, schema Schema) (core.Dataset, Report, error) {
	report := Report{
		Rows:      len(raw),
		Missing:   make(map[core.Column]int),
		Malformed: make(map[core.Column]int),
	}

	for _, f := range schema.Fields {
		if _, ok := f.Column.Kind(); !ok {
			return nil, report, fmt.Errorf("schema field %q: %w", f.Column, core.ErrUnknownColumn)
		}
	}
	if err := checkColumns(raw, schema); err != nil {
		return nil, report, err
	}

	out := make(core.Dataset, len(raw))
	for i, row := range raw {
		var rec core.Record
		for _, f := range schema.Fields {
			v := row[f.Raw]
			kind, _ := f.Column.Kind()
			var missing, malformed bool
			switch kind {
			case core.KindText:
				t := coerceText(v)
				missing = !t.Valid
				rec.SetText(f.Column, t)
			case core.KindNumber:
				var n core.Number
				n, malformed = coerceNumber(v)
				missing = !n.Valid
				rec.SetNumber(f.Column, n)
			case core.KindDate:
				var d core.Day
				d, malformed = coerceDay(v)
				missing = !d.Valid
				rec.SetDay(f.Column, d)
			}
			if missing {
				report.Missing[f.Column]++
			}
			if malformed {
				report.Malformed[f.Column]++
			}
		}
		out[i] = rec
	}
	return out, report, nil
}

// checkColumns fails when a required column appears in no row. An empty
// payload has nothing to judge and passes.
func checkColumns(raw core.RawDataset, schema Schema) error {
	if len(raw) == 0 {
		return nil
	}
	var missing []string
	for _, f := range schema.Fields {
		if f.Optional {
			continue
		}
		found := false
		for _, row := range raw {
			if _, ok := row[f.Raw]; ok {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, f.Raw)
		}
	}
	if len(missing) > 0 {
		return &core.SchemaError{Missing: missing}
	}
	return nil
}

func coerceText(v any) core.Text {
	switch x := v.(type) {
	case nil:
		return core.Text{}
	case string:
		return core.NewText(norm.NFC.String(x))
	case float64:
		return core.NewText(strconv.FormatFloat(x, 'f', -1, 64))
	case json.Number:
		return core.NewText(x.String())
	case bool:
		return core.NewText(strconv.FormatBool(x))
	default:
		return core.NewText(fmt.Sprint(x))
	}
}

// coerceNumber returns the parsed value and whether a present value was
// rejected.
func coerceNumber(v any) (core.Number, bool) {
	var f float64
	switch x := v.(type) {
	case nil:
		return core.Number{}, false
	case float64:
		f = x
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		p, err := x.Float64()
		if err != nil {
			return core.Number{}, true
		}
		f = p
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return core.Number{}, false
		}
		if isHexLiteral(s) {
			return core.Number{}, true
		}
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return core.Number{}, true
		}
		f = p
	default:
		return core.Number{}, true
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return core.Number{}, true
	}
	return core.NewNumber(f), false
}

// isHexLiteral reports a Go hex float such as "0x1p3", which ParseFloat
// accepts but upstream decimal text never uses.
func isHexLiteral(s string) bool {
	s = strings.TrimLeft(s, "+-")
	return len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

func coerceDay(v any) (core.Day, bool) {
	switch x := v.(type) {
	case nil:
		return core.Day{}, false
	case time.Time:
		return core.DayOf(x), false
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return core.Day{}, false
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return core.DayOf(t), false
			}
		}
		return core.Day{}, true
	default:
		return core.Day{}, true
	}
}
