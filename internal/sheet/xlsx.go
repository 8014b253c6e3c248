package sheet

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"excelanalyst/internal/models"
)

func readXLSX(data []byte) ([][]models.Cell, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	name := sheets[0]
	rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", name, err)
	}

	grid := make([][]models.Cell, len(rows))
	for r, row := range rows {
		cells := make([]models.Cell, len(row))
		for c, raw := range row {
			if raw == "" {
				cells[c] = models.EmptyCell()
				continue
			}
			axis, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return nil, err
			}
			typ, err := f.GetCellType(name, axis)
			if err != nil {
				return nil, fmt.Errorf("cell type %s: %w", axis, err)
			}
			cells[c] = typedCell(typ, raw)
		}
		grid[r] = cells
	}
	return grid, nil
}

// typedCell keeps the workbook's own typing: booleans and numeric cells are
// converted, string cells stay text even when they look numeric.
func typedCell(typ excelize.CellType, raw string) models.Cell {
	switch typ {
	case excelize.CellTypeBool:
		return models.BoolCell(raw == "1" || strings.EqualFold(raw, "true"))
	case excelize.CellTypeNumber, excelize.CellTypeUnset, excelize.CellTypeDate, excelize.CellTypeFormula:
		if f, ok := parseNumber(strings.TrimSpace(raw)); ok {
			return models.NumberCell(f)
		}
		return models.StringCell(raw)
	default:
		return models.StringCell(raw)
	}
}
