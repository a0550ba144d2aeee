package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nstogner/analyst/pkg/sandbox"
	"github.com/nstogner/analyst/pkg/sandbox/ops"
	"github.com/nstogner/analyst/pkg/scrape"
	"github.com/nstogner/analyst/pkg/table"
)

type mockFetcher struct {
	url string
	tbl *table.Table
	err error
}

func (f *mockFetcher) Fetch(ctx context.Context, url string, opts scrape.Options) (*table.Table, error) {
	f.url = url
	return f.tbl, f.err
}

type mockRunner struct {
	query  string
	tables map[string]*table.Table
	tbl    *table.Table
	err    error
}

func (r *mockRunner) Run(ctx context.Context, q string, tables map[string]*table.Table) (*table.Table, error) {
	r.query = q
	r.tables = tables
	return r.tbl, r.err
}

type mockPlotter struct {
	got *table.Table
}

func (p *mockPlotter) Render(t *table.Table, x, y string) string {
	p.got = t
	return "data:image/png;base64,xyz"
}

func scores() *table.Table {
	return table.New([]string{"name", "score"}, [][]any{{"a", 1}, {"b", 2}})
}

func newRegistry(f Fetcher, r QueryRunner, sb sandbox.Sandbox, p Plotter) *Registry {
	return NewRegistry(
		NewLoadTableTool(f),
		NewRunQueryTool(r),
		NewRunCodeTool(sb),
		NewScatterPlotTool(p),
		&DescribeTableTool{},
	)
}

func TestDispatchUnknownTool(t *testing.T) {
	reg := newRegistry(nil, &mockRunner{}, ops.New(nil), &mockPlotter{})
	_, err := reg.Dispatch(context.Background(), NewEnv(nil), "frobnicate", nil)
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("err = %v, want ErrUnknownTool", err)
	}
	if !strings.Contains(err.Error(), "frobnicate") {
		t.Errorf("error should name the tool: %v", err)
	}
}

func TestDispatchMissingArg(t *testing.T) {
	runner := &mockRunner{}
	reg := newRegistry(nil, runner, ops.New(nil), &mockPlotter{})
	_, err := reg.Dispatch(context.Background(), NewEnv(nil), ToolNameRunQuery, map[string]any{"query": "  "})
	if !errors.Is(err, ErrMissingArg) {
		t.Fatalf("err = %v, want ErrMissingArg", err)
	}
	if runner.query != "" {
		t.Error("tool ran despite missing argument")
	}
}

func TestListIsSorted(t *testing.T) {
	reg := newRegistry(nil, &mockRunner{}, ops.New(nil), &mockPlotter{})
	var names []string
	for _, tool := range reg.List() {
		names = append(names, tool.Name())
	}
	want := "describe_table,load_table,run_code,run_query,scatter_plot"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("List() = %s, want %s", got, want)
	}
	if !strings.Contains(reg.Describe(), `"required":["query"]`) {
		t.Errorf("Describe() missing schema:\n%s", reg.Describe())
	}
}

func TestLoadTableFromUpload(t *testing.T) {
	env := NewEnv(map[string][]byte{"data.csv": []byte("x,y\n1,2\n3,4\n")})
	reg := newRegistry(nil, &mockRunner{}, ops.New(nil), &mockPlotter{})
	res, err := reg.Dispatch(context.Background(), env, ToolNameLoadTable, map[string]any{"source": "data.csv"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Table.Len() != 2 || res.TablePrefix != "df" {
		t.Errorf("got %s prefix %q", res.Table.Summary(), res.TablePrefix)
	}
}

func TestLoadTableFromURL(t *testing.T) {
	f := &mockFetcher{tbl: scores()}
	reg := newRegistry(f, &mockRunner{}, ops.New(nil), &mockPlotter{})
	res, err := reg.Dispatch(context.Background(), NewEnv(nil), ToolNameLoadTable, map[string]any{"source": "https://example.com/films"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if f.url != "https://example.com/films" || res.Table != f.tbl {
		t.Errorf("fetcher not used: url=%q", f.url)
	}
}

func TestLoadTableUnknownSource(t *testing.T) {
	env := NewEnv(map[string][]byte{"a.csv": nil})
	reg := newRegistry(nil, &mockRunner{}, ops.New(nil), &mockPlotter{})
	_, err := reg.Dispatch(context.Background(), env, ToolNameLoadTable, map[string]any{"source": "b.csv"})
	if err == nil || !strings.Contains(err.Error(), "a.csv") {
		t.Errorf("err = %v, want unknown source listing uploads", err)
	}
}

func TestRunQueryPassesContextTables(t *testing.T) {
	env := NewEnv(nil)
	name := env.Data.Put("df", scores())
	runner := &mockRunner{tbl: table.New([]string{"n"}, [][]any{{2}})}
	reg := newRegistry(nil, runner, ops.New(nil), &mockPlotter{})

	res, err := reg.Dispatch(context.Background(), env, ToolNameRunQuery, map[string]any{"query": "SELECT COUNT(*) AS n FROM " + name})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.TablePrefix != "query_result" || res.Table != runner.tbl {
		t.Errorf("unexpected result: %+v", res)
	}
	if _, ok := runner.tables[name]; !ok {
		t.Errorf("runner did not receive %s", name)
	}
}

func TestRunCodeStoresChangedTable(t *testing.T) {
	env := NewEnv(nil)
	name := env.Data.Put("df", scores())
	reg := newRegistry(nil, &mockRunner{}, ops.New(nil), &mockPlotter{})

	res, err := reg.Dispatch(context.Background(), env, ToolNameRunCode, map[string]any{
		"table": name,
		"code":  `[{"op":"filter","column":"score","cmp":">","value":1},{"op":"count"}]`,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Output != "1" {
		t.Errorf("Output = %q, want %q", res.Output, "1")
	}
	if res.Table == nil || res.Table.Len() != 1 {
		t.Fatalf("expected the filtered table to be returned, got %v", res.Table)
	}
	stored, _ := env.Data.Get(name)
	if stored.Len() != 2 {
		t.Error("stored table was mutated")
	}
}

func TestRunCodeStructuredCode(t *testing.T) {
	env := NewEnv(nil)
	env.Data.Put("df", scores())
	reg := newRegistry(nil, &mockRunner{}, ops.New(nil), &mockPlotter{})

	res, err := reg.Dispatch(context.Background(), env, ToolNameRunCode, map[string]any{
		"code": []any{map[string]any{"op": "count"}},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Output != "2" || res.Table != nil {
		t.Errorf("Output = %q Table = %v, want \"2\" and no new table", res.Output, res.Table)
	}
}

func TestRunCodeMissingTable(t *testing.T) {
	env := NewEnv(nil)
	reg := newRegistry(nil, &mockRunner{}, ops.New(nil), &mockPlotter{})
	_, err := reg.Dispatch(context.Background(), env, ToolNameRunCode, map[string]any{"table": "df_7", "code": `{"op":"count"}`})
	if !errors.Is(err, table.ErrNoSuchTable) {
		t.Errorf("err = %v, want ErrNoSuchTable", err)
	}
}

func TestScatterPlotUsesLatestTable(t *testing.T) {
	env := NewEnv(nil)
	env.Data.Put("df", table.New([]string{"x"}, nil))
	latest := scores()
	env.Data.Put("query_result", latest)
	p := &mockPlotter{}
	reg := newRegistry(nil, &mockRunner{}, ops.New(nil), p)

	res, err := reg.Dispatch(context.Background(), env, ToolNameScatterPlot, map[string]any{"x": "score", "y": "score"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if p.got != latest || res.Output != "data:image/png;base64,xyz" {
		t.Errorf("plotter got %v output %q", p.got, res.Output)
	}
}

func TestDescribeTableIsInformational(t *testing.T) {
	env := NewEnv(nil)
	env.Data.Put("df", scores())
	reg := newRegistry(nil, &mockRunner{}, ops.New(nil), &mockPlotter{})
	res, err := reg.Dispatch(context.Background(), env, ToolNameDescribeTable, nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.Informational || !strings.Contains(res.Output, "score (number)") {
		t.Errorf("unexpected result: %+v", res)
	}
}
