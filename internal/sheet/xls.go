package sheet

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/shakinm/xlsReader/xls"
	"github.com/shakinm/xlsReader/xls/record"
	"github.com/shakinm/xlsReader/xls/structure"

	"excelanalyst/internal/models"
)

func readXLS(data []byte) (grid [][]models.Cell, err error) {
	// the BIFF reader indexes the stream without bounds checks
	defer func() {
		if r := recover(); r != nil {
			grid = nil
			err = fmt.Errorf("decode xls: %v", r)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	if wb.GetNumberSheets() == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	ws, err := wb.GetSheet(0)
	if err != nil {
		return nil, fmt.Errorf("first sheet: %w", err)
	}

	for _, row := range ws.GetRows() {
		var cells []models.Cell
		if row != nil {
			cols := row.GetCols()
			cells = make([]models.Cell, len(cols))
			for c, cd := range cols {
				cells[c] = xlsCell(cd)
			}
		}
		grid = append(grid, cells)
	}

	// formula results and RK numbers come from the raw record stream
	extra, err := scanSheetRecords(data)
	if err != nil {
		return nil, err
	}
	for ref, cell := range extra {
		grid = placeCell(grid, ref, cell)
	}
	return grid, nil
}

// xlsCell maps a decoded BIFF record onto a cell, keeping the record's own
// type instead of re-inferring it from text.
func xlsCell(cd structure.CellData) models.Cell {
	switch c := cd.(type) {
	case *record.Rk, *record.Number:
		return models.NumberCell(c.GetFloat64())
	case *record.BoolErr:
		switch s := c.GetString(); s {
		case "TRUE":
			return models.BoolCell(true)
		case "FALSE":
			return models.BoolCell(false)
		case "#NUM!!":
			return models.StringCell("#NUM!")
		default:
			return models.StringCell(s)
		}
	case *record.LabelSSt, *record.LabelBIFF8, *record.LabelBIFF5:
		s := c.GetString()
		if strings.TrimSpace(s) == "" {
			return models.EmptyCell()
		}
		return models.StringCell(s)
	case *record.Blank, *record.FakeBlank, nil:
		return models.EmptyCell()
	default:
		return inferCell(cd.GetString())
	}
}

func placeCell(grid [][]models.Cell, ref cellRef, cell models.Cell) [][]models.Cell {
	for len(grid) <= ref.row {
		grid = append(grid, nil)
	}
	row := grid[ref.row]
	for len(row) <= ref.col {
		row = append(row, models.EmptyCell())
	}
	row[ref.col] = cell
	grid[ref.row] = row
	return grid
}
