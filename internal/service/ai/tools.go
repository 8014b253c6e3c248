package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"excelanalyst/internal/models"
	"excelanalyst/internal/sheet"
)

// tableTools exposes the full parsed table to models without remote code
// execution. Each session gets its own limiter key.
func tableTools(table *models.ParsedTable, limiterKey string) []tool.BaseTool {
	if table == nil {
		return nil
	}
	t := &tableToolset{table: table, key: limiterKey}
	return []tool.BaseTool{t.columnStatsTool(), t.findRowsTool()}
}

type tableToolset struct {
	table *models.ParsedTable
	key   string
}

type columnStatsParams struct {
	Column string `json:"column"`
}

type findRowsParams struct {
	Column string `json:"column"`
	Value  string `json:"value"`
	Limit  int    `json:"limit,omitempty"`
}

func (t *tableToolset) columnStatsTool() tool.InvokableTool {
	info := &schema.ToolInfo{
		Name: "column_stats",
		Desc: "Summary statistics (count, sum, mean, median, min, max, standard deviation) " +
			"over the numeric cells of one column of the full uploaded table.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"column": {
				Desc:     "Exact header name of the column.",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, t.columnStats)
}

func (t *tableToolset) findRowsTool() tool.InvokableTool {
	info := &schema.ToolInfo{
		Name: "find_rows",
		Desc: "Return rows of the full uploaded table whose column equals the value (case-insensitive), as CSV.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"column": {
				Desc:     "Exact header name of the column to match.",
				Type:     schema.String,
				Required: true,
			},
			"value": {
				Desc:     "Value to compare against the cell text.",
				Type:     schema.String,
				Required: true,
			},
			"limit": {
				Desc:     fmt.Sprintf("Maximum rows to return, default %d, max %d.", FindRowsLimitDefault, FindRowsLimitMax),
				Type:     schema.Integer,
				Required: false,
			},
		}),
	}
	return utils.NewTool(info, t.findRows)
}

func (t *tableToolset) columnStats(_ context.Context, params *columnStatsParams) (string, error) {
	if params == nil || strings.TrimSpace(params.Column) == "" {
		return "", errors.New("column is required")
	}
	if !tableToolLimiter.Allow(t.key) {
		return "", errRateLimited
	}
	st, err := sheet.ColumnStats(t.table, params.Column)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("marshal stats: %w", err)
	}
	return string(out), nil
}

func (t *tableToolset) findRows(_ context.Context, params *findRowsParams) (string, error) {
	if params == nil || strings.TrimSpace(params.Column) == "" {
		return "", errors.New("column is required")
	}
	if !slices.Contains(t.table.Headers, params.Column) {
		return "", fmt.Errorf("%w: %s", sheet.ErrUnknownColumn, params.Column)
	}
	if !tableToolLimiter.Allow(t.key) {
		return "", errRateLimited
	}
	limit := clampLimit(params.Limit)
	want := strings.TrimSpace(params.Value)

	matched := &models.ParsedTable{FileName: t.table.FileName, Headers: t.table.Headers}
	total := 0
	for _, row := range t.table.Rows {
		if !strings.EqualFold(strings.TrimSpace(row.Get(params.Column).Text()), want) {
			continue
		}
		total++
		if len(matched.Rows) < limit {
			matched.Rows = append(matched.Rows, row)
		}
	}
	if total == 0 {
		return "no matching rows", nil
	}
	return fmt.Sprintf("%d matching rows, showing %d\n%s", total, len(matched.Rows), sheet.FormatRows(matched)), nil
}
