package model

import (
	"encoding/json"
	"math"
	"strconv"
)

// RawRow is one ordered row of field values as produced by a reader. Values
// are strings (numbers-as-strings) or native numbers.
type RawRow []any

// RowFromStrings adapts a CSV/XLSX record to a RawRow.
func RowFromStrings(fields []string) RawRow {
	row := make(RawRow, len(fields))
	for i, f := range fields {
		row[i] = f
	}
	return row
}

// Value is a field that was expected to be numeric. It holds the float when
// coercion succeeded and the original string otherwise.
type Value struct {
	num     float64
	raw     string
	numeric bool
}

// Number returns a numeric Value.
func Number(f float64) Value {
	return Value{num: f, numeric: true}
}

// Text returns a Value that failed (or skipped) numeric coercion.
func Text(s string) Value {
	return Value{raw: s}
}

// Float returns the numeric value and whether the field was coercible.
func (v Value) Float() (float64, bool) {
	return v.num, v.numeric
}

// IsNumeric reports whether the field holds a number.
func (v Value) IsNumeric() bool { return v.numeric }

// IsFinite reports whether the field holds a finite number.
func (v Value) IsFinite() bool {
	return v.numeric && !math.IsNaN(v.num) && !math.IsInf(v.num, 0)
}

// String renders numbers in their shortest form (310, not 310.0).
func (v Value) String() string {
	if v.numeric {
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	}
	return v.raw
}

// MarshalJSON writes numbers as JSON numbers and everything else as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsFinite() {
		return json.Marshal(v.num)
	}
	return json.Marshal(v.String())
}
