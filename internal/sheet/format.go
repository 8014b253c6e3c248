package sheet

import (
	"strings"

	"excelanalyst/internal/models"
)

// MaxContextRows caps how many data rows are sent to the model.
const MaxContextRows = 1500

// FormatForModel serializes the table as CSV text for the model prompt.
// The header line appears twice: once as a label and once as the CSV header.
func FormatForModel(table *models.ParsedTable) string {
	if table == nil {
		return ""
	}
	headerLine := strings.Join(table.Headers, ",")

	rows := table.Rows
	if len(rows) > MaxContextRows {
		rows = rows[:MaxContextRows]
	}

	var b strings.Builder
	b.WriteString("\nData Headers: ")
	b.WriteString(headerLine)
	b.WriteString("\nData Content (CSV Format):\n")
	b.WriteString(headerLine)
	b.WriteString("\n")
	writeRows(&b, table.Headers, rows)
	b.WriteString("\n")
	return b.String()
}

// ContextRowCount is the number of rows FormatForModel will include.
func ContextRowCount(table *models.ParsedTable) int {
	return min(table.RowCount(), MaxContextRows)
}

// FormatRows renders the header line followed by every row, using the same
// quoting as FormatForModel and no row cap.
func FormatRows(table *models.ParsedTable) string {
	if table == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(strings.Join(table.Headers, ","))
	b.WriteString("\n")
	writeRows(&b, table.Headers, table.Rows)
	return b.String()
}

func writeRows(b *strings.Builder, headers []string, rows []models.Row) {
	for i, row := range rows {
		if i > 0 {
			b.WriteString("\n")
		}
		for j, h := range headers {
			if j > 0 {
				b.WriteString(",")
			}
			b.WriteString(formatCell(row.Get(h)))
		}
	}
}

func formatCell(c models.Cell) string {
	if c.Kind != models.CellString {
		return c.Text()
	}
	if strings.ContainsAny(c.Str, ",\"\n") {
		return `"` + strings.ReplaceAll(c.Str, `"`, `""`) + `"`
	}
	return c.Str
}
