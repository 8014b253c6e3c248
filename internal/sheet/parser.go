package sheet

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"excelanalyst/internal/models"
)

// SupportedExtensions lists the upload formats the parser accepts.
var SupportedExtensions = []string{".xlsx", ".xls", ".csv"}

// IsSupported reports whether the file name carries an accepted extension.
func IsSupported(fileName string) bool {
	ext := strings.ToLower(filepath.Ext(fileName))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// Parser turns raw spreadsheet bytes into a ParsedTable using the first sheet.
type Parser struct {
	maxBytes int64
	logger   *zap.Logger
}

// NewParser builds a parser. maxBytes <= 0 disables the size guard.
func NewParser(maxBytes int64, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{maxBytes: maxBytes, logger: logger.Named("sheet")}
}

// Parse decodes data according to the extension of fileName.
func (p *Parser) Parse(ctx context.Context, fileName string, data []byte) (*models.ParsedTable, error) {
	if err := ctx.Err(); err != nil {
		return nil, newParseError(fileName, ErrUnreadable, err)
	}
	if p.maxBytes > 0 && int64(len(data)) > p.maxBytes {
		return nil, newParseError(fileName, ErrTooLarge, fmt.Errorf("%d bytes", len(data)))
	}
	if len(data) == 0 {
		return nil, newParseError(fileName, ErrEmptySheet, nil)
	}

	var (
		grid [][]models.Cell
		err  error
	)
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx":
		grid, err = readXLSX(data)
	case ".xls":
		grid, err = readXLS(data)
	case ".csv":
		grid, err = readCSV(data)
	default:
		return nil, newParseError(fileName, ErrUnsupportedFormat, nil)
	}
	if err != nil {
		return nil, newParseError(fileName, ErrUnreadable, err)
	}

	table, err := buildTable(fileName, grid)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("parsed spreadsheet",
		zap.String("file", fileName),
		zap.Int("columns", len(table.Headers)),
		zap.Int("rows", len(table.Rows)))
	return table, nil
}

// buildTable maps the first non-blank row to headers and the rest to records.
func buildTable(fileName string, grid [][]models.Cell) (*models.ParsedTable, error) {
	start := 0
	for start < len(grid) && isBlank(grid[start]) {
		start++
	}
	if start == len(grid) {
		return nil, newParseError(fileName, ErrEmptySheet, nil)
	}

	headerRow := grid[start]
	headers := make([]string, len(headerRow))
	for i, c := range headerRow {
		h := strings.TrimSpace(c.Text())
		if h == "" {
			h = fmt.Sprintf("Column_%d", i+1)
		}
		headers[i] = h
	}

	rows := make([]models.Row, 0, len(grid)-start-1)
	for _, raw := range grid[start+1:] {
		if isBlank(raw) {
			continue
		}
		row := make(models.Row, len(headers))
		for i, h := range headers {
			if i < len(raw) {
				row[h] = raw[i]
			} else {
				row[h] = models.EmptyCell()
			}
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, newParseError(fileName, ErrEmptySheet, nil)
	}
	return &models.ParsedTable{FileName: fileName, Headers: headers, Rows: rows}, nil
}

func isBlank(cells []models.Cell) bool {
	for _, c := range cells {
		if c.Kind == models.CellString && strings.TrimSpace(c.Str) == "" {
			continue
		}
		if !c.IsEmpty() {
			return false
		}
	}
	return true
}
