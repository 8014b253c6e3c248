package sheet

import "excelanalyst/internal/models"

const (
	DefaultPreviewColumns = 6
	DefaultPreviewRows    = 10
)

// Preview is a small, display-ready slice of a table.
type Preview struct {
	FileName    string     `json:"file_name" msgpack:"file_name"`
	Headers     []string   `json:"headers" msgpack:"headers"`
	Rows        [][]string `json:"rows" msgpack:"rows"`
	TotalRows   int        `json:"total_rows" msgpack:"total_rows"`
	MoreColumns bool       `json:"more_columns" msgpack:"more_columns"`
	ContextRows int        `json:"context_rows" msgpack:"context_rows"`
}

// NewPreview takes the leading maxCols columns and maxRows rows of table.
// Empty cells render as "-".
func NewPreview(table *models.ParsedTable, maxCols, maxRows int) Preview {
	if table == nil {
		return Preview{Headers: []string{}, Rows: [][]string{}}
	}
	if maxCols <= 0 {
		maxCols = DefaultPreviewColumns
	}
	if maxRows <= 0 {
		maxRows = DefaultPreviewRows
	}
	headers := table.Headers[:min(maxCols, len(table.Headers))]
	src := table.Rows[:min(maxRows, len(table.Rows))]

	rows := make([][]string, len(src))
	for i, row := range src {
		out := make([]string, len(headers))
		for j, h := range headers {
			text := row.Get(h).Text()
			if text == "" {
				text = "-"
			}
			out[j] = text
		}
		rows[i] = out
	}
	return Preview{
		FileName:    table.FileName,
		Headers:     append([]string(nil), headers...),
		Rows:        rows,
		TotalRows:   len(table.Rows),
		MoreColumns: len(table.Headers) > maxCols,
		ContextRows: ContextRowCount(table),
	}
}
