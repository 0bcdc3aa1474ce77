package core

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// MissingLabel is how a missing categorical value is displayed. It is only a
// label: a missing Text never compares equal to a present Text holding the
// same string.
const MissingLabel = "(sin dato)"

// DayLayout is the calendar-date layout used in query strings and JSON.
const DayLayout = "2006-01-02"

type (
	// Text is a categorical value that may be missing.
	Text struct {
		Value string
		Valid bool
	}

	// Number is a decimal value that may be missing.
	Number struct {
		Value float64
		Valid bool
	}

	// Day is a calendar date (UTC midnight) that may be missing.
	Day struct {
		Time  time.Time
		Valid bool
	}
)

// NewText returns a present Text.
func NewText(s string) Text {
	return Text{Value: s, Valid: true}
}

// NewNumber returns a present Number.
func NewNumber(v float64) Number {
	return Number{Value: v, Valid: true}
}

// NewDay returns a present Day for the given calendar date.
func NewDay(year int, month time.Month, day int) Day {
	return Day{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), Valid: true}
}

// DayOf truncates t to its calendar date.
func DayOf(t time.Time) Day {
	return NewDay(t.Year(), t.Month(), t.Day())
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayLayout, strings.TrimSpace(s))
	if err != nil {
		return Day{}, err
	}
	return DayOf(t), nil
}

func (t Text) String() string {
	if !t.Valid {
		return MissingLabel
	}
	return t.Value
}

// Compare orders present values lexically and missing values last.
func (t Text) Compare(o Text) int {
	switch {
	case t.Valid && o.Valid:
		return strings.Compare(t.Value, o.Value)
	case t.Valid:
		return -1
	case o.Valid:
		return 1
	default:
		return 0
	}
}

func (t Text) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.Value)
}

func (n Number) String() string {
	if !n.Valid {
		return MissingLabel
	}
	return strconv.FormatFloat(n.Value, 'f', -1, 64)
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

func (d Day) String() string {
	if !d.Valid {
		return MissingLabel
	}
	return d.Time.Format(DayLayout)
}

// Compare orders two present days chronologically. Missing days sort last.
func (d Day) Compare(o Day) int {
	switch {
	case d.Valid && o.Valid:
		return d.Time.Compare(o.Time)
	case d.Valid:
		return -1
	case o.Valid:
		return 1
	default:
		return 0
	}
}

// Quarter returns the calendar quarter bucket, e.g. "2023Q2".
func (d Day) Quarter() Text {
	if !d.Valid {
		return Text{}
	}
	q := (int(d.Time.Month())-1)/3 + 1
	return NewText(strconv.Itoa(d.Time.Year()) + "Q" + strconv.Itoa(q))
}

func (d Day) MarshalJSON() ([]byte, error) {
	if !d.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(d.Time.Format(DayLayout))
}

func (t *Text) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*t = Text{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = NewText(s)
	return nil
}

func (n *Number) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*n = Number{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = NewNumber(v)
	return nil
}

func (d *Day) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Day{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	day, err := ParseDay(s)
	if err != nil {
		return err
	}
	*d = day
	return nil
}
