package tools

import (
	"context"

	"github.com/nstogner/analyst/pkg/sandbox"
	"github.com/nstogner/analyst/pkg/table"
)

// QueryRunner executes a query, optionally over data context tables.
type QueryRunner interface {
	Run(ctx context.Context, q string, tables map[string]*table.Table) (*table.Table, error)
}

// Plotter renders a scatter chart of two columns as a data URI or an error
// string.
type Plotter interface {
	Render(t *table.Table, x, y string) string
}

// --- Run Query Tool ---

const ToolNameRunQuery = "run_query"

// RunQueryTool runs SQL. Stored tables can be referenced by their names.
type RunQueryTool struct {
	runner QueryRunner
}

func NewRunQueryTool(runner QueryRunner) *RunQueryTool {
	return &RunQueryTool{runner: runner}
}

func (t *RunQueryTool) Name() string { return ToolNameRunQuery }

func (t *RunQueryTool) Description() string {
	return "Run a SQL (sqlite dialect) query. Tables in the data context can be referenced by name. The result is stored as a new table."
}

func (t *RunQueryTool) InputSchema() map[string]any {
	return schema(map[string]any{
		"query": prop("string", "The SQL query to run."),
	}, "query")
}

func (t *RunQueryTool) Execute(ctx context.Context, env *Env, input map[string]any) (Result, error) {
	q, err := stringArg(input, "query")
	if err != nil {
		return Result{}, err
	}
	tables := make(map[string]*table.Table, env.Data.Len())
	for _, name := range env.Data.Names() {
		tables[name], _ = env.Data.Get(name)
	}
	tbl, err := t.runner.Run(ctx, q, tables)
	if err != nil {
		return Result{}, err
	}
	return Result{Table: tbl, TablePrefix: "query_result"}, nil
}

// --- Run Code Tool ---

const ToolNameRunCode = "run_code"

// RunCodeTool executes code in the sandbox with a stored table bound to df.
type RunCodeTool struct {
	sandbox sandbox.Sandbox
}

func NewRunCodeTool(sb sandbox.Sandbox) *RunCodeTool {
	return &RunCodeTool{sandbox: sb}
}

func (t *RunCodeTool) Name() string { return ToolNameRunCode }

func (t *RunCodeTool) Description() string {
	return "Execute code with a stored table bound to df. Everything the code prints is returned. If df changes it is stored as a new table.\n" + t.sandbox.Describe()
}

func (t *RunCodeTool) InputSchema() map[string]any {
	return schema(map[string]any{
		"code":  prop("string", "The code to execute."),
		"table": prop("string", "Name of the table to bind to df. Defaults to the most recent table."),
	}, "code")
}

func (t *RunCodeTool) Execute(ctx context.Context, env *Env, input map[string]any) (Result, error) {
	code, err := stringArg(input, "code")
	if err != nil {
		return Result{}, err
	}

	var in *table.Table
	if optionalString(input, "table") != "" || env.Data.Len() > 0 {
		_, in, err = resolveTable(env, input, "table")
		if err != nil {
			return Result{}, err
		}
	}

	res := t.sandbox.Execute(ctx, code, in)
	out := Result{Output: res.Output}
	if res.Table != nil && !res.Table.Equal(in) {
		out.Table = res.Table
		out.TablePrefix = "df"
	}
	return out, nil
}

// --- Scatter Plot Tool ---

const ToolNameScatterPlot = "scatter_plot"

// ScatterPlotTool renders a scatter plot with a regression line.
type ScatterPlotTool struct {
	plotter Plotter
}

func NewScatterPlotTool(p Plotter) *ScatterPlotTool {
	return &ScatterPlotTool{plotter: p}
}

func (t *ScatterPlotTool) Name() string { return ToolNameScatterPlot }

func (t *ScatterPlotTool) Description() string {
	return "Draw a scatter plot of two numeric columns with a dotted red regression line. Returns a data:image/png;base64 URI, or an error string when there is no numeric data or the image is too large."
}

func (t *ScatterPlotTool) InputSchema() map[string]any {
	return schema(map[string]any{
		"table": prop("string", "Name of the table. Defaults to the most recent table."),
		"x":     prop("string", "Column for the x axis."),
		"y":     prop("string", "Column for the y axis."),
	}, "x", "y")
}

func (t *ScatterPlotTool) Execute(ctx context.Context, env *Env, input map[string]any) (Result, error) {
	x, err := stringArg(input, "x")
	if err != nil {
		return Result{}, err
	}
	y, err := stringArg(input, "y")
	if err != nil {
		return Result{}, err
	}
	_, tbl, err := resolveTable(env, input, "table")
	if err != nil {
		return Result{}, err
	}
	return Result{Output: t.plotter.Render(tbl, x, y)}, nil
}
