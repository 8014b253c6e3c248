package models

import (
	"math"
	"strconv"
	"strings"
)

// CellKind enumerates the values a spreadsheet cell may hold.
type CellKind uint8

const (
	CellEmpty CellKind = iota
	CellString
	CellNumber
	CellBool
)

func (k CellKind) String() string {
	switch k {
	case CellString:
		return "string"
	case CellNumber:
		return "number"
	case CellBool:
		return "boolean"
	default:
		return "empty"
	}
}

// Cell is a closed variant over string, number, boolean and empty.
// Only the field matching Kind is meaningful.
type Cell struct {
	Kind CellKind `msgpack:"k"`
	Str  string   `msgpack:"s,omitempty"`
	Num  float64  `msgpack:"n,omitempty"`
	Bool bool     `msgpack:"b,omitempty"`
}

func EmptyCell() Cell                  { return Cell{Kind: CellEmpty} }
func StringCell(s string) Cell         { return Cell{Kind: CellString, Str: s} }
func NumberCell(f float64) Cell        { return Cell{Kind: CellNumber, Num: f} }
func BoolCell(b bool) Cell             { return Cell{Kind: CellBool, Bool: b} }
func (c Cell) IsEmpty() bool           { return c.Kind == CellEmpty }
func (c Cell) Number() (float64, bool) { return c.Num, c.Kind == CellNumber }

// Text is the natural text representation of the cell value.
func (c Cell) Text() string {
	switch c.Kind {
	case CellString:
		return c.Str
	case CellNumber:
		return formatNumber(c.Num)
	case CellBool:
		return strconv.FormatBool(c.Bool)
	default:
		return ""
	}
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	if f == 0 {
		return "0"
	}
	// plain notation for 1e-6 <= |f| < 1e21, otherwise an unpadded exponent
	if abs := math.Abs(f); abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	mant, exp, _ := strings.Cut(strconv.FormatFloat(f, 'e', -1, 64), "e")
	return mant + "e" + exp[:1] + strings.TrimLeft(exp[1:], "0")
}

// Row maps a header name to the cell found under it.
type Row map[string]Cell

// Get returns the cell for header, or an empty cell when it is missing.
func (r Row) Get(header string) Cell {
	if c, ok := r[header]; ok {
		return c
	}
	return EmptyCell()
}

// ParsedTable is the first sheet of an uploaded file: headers plus row records.
// It is built once per upload and never mutated afterwards.
type ParsedTable struct {
	FileName string   `json:"file_name" msgpack:"file_name"`
	Headers  []string `json:"headers" msgpack:"headers"`
	Rows     []Row    `json:"rows" msgpack:"rows"`
}

// RowCount reports the number of data rows.
func (t *ParsedTable) RowCount() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}
