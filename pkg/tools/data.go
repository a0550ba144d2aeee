package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nstogner/analyst/pkg/scrape"
	"github.com/nstogner/analyst/pkg/table"
)

// Fetcher downloads a web page and extracts a table from it.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts scrape.Options) (*table.Table, error)
}

// --- Load Table Tool ---

const ToolNameLoadTable = "load_table"

// LoadTableTool loads an uploaded file or scrapes an HTML table from a URL.
type LoadTableTool struct {
	fetcher Fetcher
}

// NewLoadTableTool creates the tool. fetcher may be nil to disable URLs.
func NewLoadTableTool(fetcher Fetcher) *LoadTableTool {
	return &LoadTableTool{fetcher: fetcher}
}

func (t *LoadTableTool) Name() string { return ToolNameLoadTable }

func (t *LoadTableTool) Description() string {
	return "Load a table from an uploaded file (.csv, .tsv, .json) or scrape an HTML table from a web page URL. The table is stored in the data context."
}

func (t *LoadTableTool) InputSchema() map[string]any {
	return schema(map[string]any{
		"source": prop("string", "An uploaded file name or an http(s) URL."),
		"match":  prop("string", "For URLs: pick the first table containing this text."),
		"index":  prop("integer", "For URLs: pick the n-th matching table, starting at 0."),
	}, "source")
}

func (t *LoadTableTool) Execute(ctx context.Context, env *Env, input map[string]any) (Result, error) {
	source, err := stringArg(input, "source")
	if err != nil {
		return Result{}, err
	}
	source = strings.TrimSpace(source)

	if data, ok := env.Files[source]; ok {
		slog.Info("Loading uploaded table", "file", source, "size", len(data))
		tbl, err := table.ReadFile(source, data)
		if err != nil {
			return Result{}, fmt.Errorf("loading %s: %w", source, err)
		}
		return Result{Table: tbl, TablePrefix: "df"}, nil
	}

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		if t.fetcher == nil {
			return Result{}, fmt.Errorf("loading from URLs is disabled")
		}
		tbl, err := t.fetcher.Fetch(ctx, source, scrape.Options{
			Match: optionalString(input, "match"),
			Index: optionalInt(input, "index"),
		})
		if err != nil {
			return Result{}, err
		}
		return Result{Table: tbl, TablePrefix: "df"}, nil
	}

	uploads := "none"
	if names := env.FileNames(); len(names) > 0 {
		uploads = strings.Join(names, ", ")
	}
	return Result{}, fmt.Errorf("unknown source %q (uploads: %s)", source, uploads)
}

// --- Describe Table Tool ---

const ToolNameDescribeTable = "describe_table"

// DescribeTableTool shows column kinds and the first rows of a table.
type DescribeTableTool struct{}

func (t *DescribeTableTool) Name() string { return ToolNameDescribeTable }

func (t *DescribeTableTool) Description() string {
	return "Show the columns, their kinds and the first rows of a stored table."
}

func (t *DescribeTableTool) InputSchema() map[string]any {
	return schema(map[string]any{
		"table": prop("string", "Name of a table in the data context. Defaults to the most recent table."),
		"rows":  prop("integer", "How many rows to show (default 5)."),
	})
}

func (t *DescribeTableTool) Execute(ctx context.Context, env *Env, input map[string]any) (Result, error) {
	name, tbl, err := resolveTable(env, input, "table")
	if err != nil {
		return Result{}, err
	}
	n := optionalInt(input, "rows")
	if n <= 0 {
		n = 5
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", name, tbl.Summary())
	for _, c := range tbl.Columns {
		kind, _ := tbl.Kind(c)
		fmt.Fprintf(&b, "  %s (%s)\n", c, kind)
	}
	b.WriteString(tbl.Head(n).String())
	return Result{Output: b.String(), Informational: true}, nil
}
