package sheet

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"excelanalyst/internal/models"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func readCSV(data []byte) ([][]models.Cell, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	grid := make([][]models.Cell, len(records))
	for i, rec := range records {
		cells := make([]models.Cell, len(rec))
		for j, v := range rec {
			cells[j] = inferCell(v)
		}
		grid[i] = cells
	}
	return grid, nil
}
