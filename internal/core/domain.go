package core

// Kind is the semantic type of a column.
type Kind int

const (
	KindText Kind = iota
	KindNumber
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	default:
		return "unknown"
	}
}

// Column names a typed field of a Record.
type Column string

const (
	EntityName        Column = "entity_name"
	CreditType        Column = "credit_type"
	CreditProduct     Column = "credit_product"
	GuaranteeType     Column = "guarantee_type"
	PersonType        Column = "person_type"
	CompanySize       Column = "company_size"
	CompanyAgeBracket Column = "company_age_bracket"
	MunicipalityCode  Column = "municipality_code"
	EffectiveRate     Column = "effective_rate"
	CutoffDate        Column = "cutoff_date"
	DisbursedAmount   Column = "disbursed_amount"
	CreditCount       Column = "credit_count"
)

var columns = []Column{
	EntityName, CreditType, CreditProduct, GuaranteeType, PersonType,
	CompanySize, CompanyAgeBracket, MunicipalityCode,
	EffectiveRate, CutoffDate, DisbursedAmount, CreditCount,
}

var columnKinds = map[Column]Kind{
	EntityName:        KindText,
	CreditType:        KindText,
	CreditProduct:     KindText,
	GuaranteeType:     KindText,
	PersonType:        KindText,
	CompanySize:       KindText,
	CompanyAgeBracket: KindText,
	MunicipalityCode:  KindText,
	EffectiveRate:     KindNumber,
	CutoffDate:        KindDate,
	DisbursedAmount:   KindNumber,
	CreditCount:       KindNumber,
}

// Columns returns every known column in declaration order.
func Columns() []Column {
	return append([]Column(nil), columns...)
}

// Kind reports the semantic type of the column.
func (c Column) Kind() (Kind, bool) {
	k, ok := columnKinds[c]
	return k, ok
}

// Record is one normalized disbursement observation.
type Record struct {
	EntityName        Text
	CreditType        Text
	CreditProduct     Text
	GuaranteeType     Text
	PersonType        Text
	CompanySize       Text
	CompanyAgeBracket Text
	MunicipalityCode  Text

	EffectiveRate   Number
	CutoffDate      Day
	DisbursedAmount Number
	CreditCount     Number
}

// Text returns a categorical field. ok is false when c is not categorical.
func (r Record) Text(c Column) (v Text, ok bool) {
	switch c {
	case EntityName:
		return r.EntityName, true
	case CreditType:
		return r.CreditType, true
	case CreditProduct:
		return r.CreditProduct, true
	case GuaranteeType:
		return r.GuaranteeType, true
	case PersonType:
		return r.PersonType, true
	case CompanySize:
		return r.CompanySize, true
	case CompanyAgeBracket:
		return r.CompanyAgeBracket, true
	case MunicipalityCode:
		return r.MunicipalityCode, true
	}
	return Text{}, false
}

// Number returns a numeric field. ok is false when c is not numeric.
func (r Record) Number(c Column) (v Number, ok bool) {
	switch c {
	case EffectiveRate:
		return r.EffectiveRate, true
	case DisbursedAmount:
		return r.DisbursedAmount, true
	case CreditCount:
		return r.CreditCount, true
	}
	return Number{}, false
}

// Day returns a date field. ok is false when c is not a date.
func (r Record) Day(c Column) (v Day, ok bool) {
	if c == CutoffDate {
		return r.CutoffDate, true
	}
	return Day{}, false
}

// SetText assigns a categorical field; unknown columns are ignored.
func (r *Record) SetText(c Column, v Text) {
	switch c {
	case EntityName:
		r.EntityName = v
	case CreditType:
		r.CreditType = v
	case CreditProduct:
		r.CreditProduct = v
	case GuaranteeType:
		r.GuaranteeType = v
	case PersonType:
		r.PersonType = v
	case CompanySize:
		r.CompanySize = v
	case CompanyAgeBracket:
		r.CompanyAgeBracket = v
	case MunicipalityCode:
		r.MunicipalityCode = v
	}
}

// SetNumber assigns a numeric field; unknown columns are ignored.
func (r *Record) SetNumber(c Column, v Number) {
	switch c {
	case EffectiveRate:
		r.EffectiveRate = v
	case DisbursedAmount:
		r.DisbursedAmount = v
	case CreditCount:
		r.CreditCount = v
	}
}

// SetDay assigns a date field; unknown columns are ignored.
func (r *Record) SetDay(c Column, v Day) {
	if c == CutoffDate {
		r.CutoffDate = v
	}
}

// Dataset is an ordered sequence of records. Datasets handed out by the
// pipeline are never mutated in place.
type Dataset []Record

// RawRecord is one untyped row as decoded from a source: JSON scalars keyed
// by the upstream field name.
type RawRecord map[string]any

// RawDataset is the untyped payload returned by a source adapter.
type RawDataset []RawRecord
