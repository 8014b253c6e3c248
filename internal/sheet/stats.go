package sheet

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"excelanalyst/internal/models"
)

var ErrUnknownColumn = errors.New("unknown column")

// Stats summarises the numeric cells of a single column.
type Stats struct {
	Column  string  `json:"column"`
	Count   int     `json:"count"`
	Numeric int     `json:"numeric"`
	Sum     float64 `json:"sum"`
	Mean    float64 `json:"mean"`
	Median  float64 `json:"median"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	StdDev  float64 `json:"std_dev"`
}

// ColumnStats computes Stats over every row of the table, not only the
// rows included in the model context.
func ColumnStats(table *models.ParsedTable, column string) (Stats, error) {
	if table == nil || !slices.Contains(table.Headers, column) {
		return Stats{}, fmt.Errorf("%w: %s", ErrUnknownColumn, column)
	}
	st := Stats{Column: column}
	values := make([]float64, 0, len(table.Rows))
	for _, row := range table.Rows {
		c := row.Get(column)
		if c.IsEmpty() {
			continue
		}
		st.Count++
		if f, ok := c.Number(); ok {
			values = append(values, f)
		}
	}
	st.Numeric = len(values)
	if len(values) == 0 {
		return st, nil
	}

	st.Min, st.Max = values[0], values[0]
	for _, v := range values {
		st.Sum += v
		st.Min = math.Min(st.Min, v)
		st.Max = math.Max(st.Max, v)
	}
	st.Mean = st.Sum / float64(len(values))

	sorted := slices.Clone(values)
	slices.Sort(sorted)
	n := len(sorted)
	if n%2 == 0 {
		st.Median = (sorted[n/2-1] + sorted[n/2]) / 2
	} else {
		st.Median = sorted[n/2]
	}

	if n > 1 {
		var sumSq float64
		for _, v := range values {
			d := v - st.Mean
			sumSq += d * d
		}
		st.StdDev = math.Sqrt(sumSq / float64(n-1))
	}
	return st, nil
}
