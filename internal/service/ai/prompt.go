package ai

import (
	"strconv"
	"strings"
)

const analystInstruction = `You are an expert data analyst working on a spreadsheet the user uploaded.
The complete dataset (or its first rows when it is large) is included below in CSV form.

Rules:
- Answer in the same language the user writes in.
- Base every number you report on the data. Do not invent values.
- Use code execution for calculations, aggregations and sorting instead of estimating.
- When a chart helps, draw it with matplotlib and keep labels readable.
- Format answers in markdown. Use tables for tabular results.
- If the question cannot be answered from the data, say so and explain what is missing.`

const toolInstruction = `You cannot run code. Use the provided tools for exact figures:
column_stats computes summary statistics over one column of the full table,
find_rows returns rows whose column matches a value.`

// systemPrompt renders the instruction block sent when a session starts.
func systemPrompt(ds Dataset, withTools bool) string {
	var b strings.Builder
	b.WriteString(analystInstruction)
	if withTools {
		b.WriteString("\n\n")
		b.WriteString(toolInstruction)
	}
	if ds.FileName != "" {
		b.WriteString("\n\nFile name: ")
		b.WriteString(ds.FileName)
	}
	if ds.Table != nil {
		b.WriteString("\nTotal rows in file: ")
		b.WriteString(strconv.Itoa(ds.Table.RowCount()))
	}
	b.WriteString("\n")
	b.WriteString(ds.Context)
	return b.String()
}
