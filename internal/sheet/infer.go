package sheet

import (
	"math"
	"strconv"
	"strings"

	"excelanalyst/internal/models"
)

// inferCell types a textual cell the way spreadsheet tools do for CSV input:
// booleans and plain decimal numbers are recognised, everything else stays text.
func inferCell(raw string) models.Cell {
	v := strings.TrimSpace(raw)
	if v == "" {
		return models.EmptyCell()
	}
	switch {
	case strings.EqualFold(v, "true"):
		return models.BoolCell(true)
	case strings.EqualFold(v, "false"):
		return models.BoolCell(false)
	}
	if f, ok := parseNumber(v); ok {
		return models.NumberCell(f)
	}
	return models.StringCell(raw)
}

func parseNumber(v string) (float64, bool) {
	lower := strings.ToLower(v)
	if strings.Contains(lower, "x") || strings.Contains(lower, "_") ||
		strings.Contains(lower, "inf") || strings.Contains(lower, "nan") {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
