package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nstogner/analyst/pkg/table"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	e, err := Open("sqlite3", t.TempDir()+"/query.db", time.Second)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestRunLiteralQuery(t *testing.T) {
	e := newTestExecutor(t)
	got, err := e.Run(context.Background(), "SELECT 1 AS a, 'x' AS b, NULL AS c", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := &table.Table{Columns: []string{"a", "b", "c"}, Rows: [][]any{{1.0, "x", nil}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestRunAgainstContextTable(t *testing.T) {
	e := newTestExecutor(t)
	scores := table.New([]string{"name", "score"}, [][]any{{"a", 1}, {"b", 2.5}, {"c", 4}})
	tables := map[string]*table.Table{"df_1": scores}

	got, err := e.Run(context.Background(), `SELECT name FROM df_1 WHERE score > 2 ORDER BY score DESC`, tables)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := [][]any{{"c"}, {"b"}}
	if diff := cmp.Diff(want, got.Rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}

	// Temp tables are dropped after each query so a rerun does not collide.
	if _, err := e.Run(context.Background(), `SELECT COUNT(*) AS n FROM df_1`, tables); err != nil {
		t.Fatalf("second Run: %v", err)
	}
}

func TestRunBadSQL(t *testing.T) {
	e := newTestExecutor(t)
	if _, err := e.Run(context.Background(), "SELEC nonsense", nil); err == nil {
		t.Error("expected syntax error")
	}
	if _, err := e.Run(context.Background(), "  ", nil); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestRunBoundedTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := runBounded(context.Background(), 50*time.Millisecond, func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("bounded wait took %s", elapsed)
	}
}

func TestRunBoundedReturnsValue(t *testing.T) {
	v, err := runBounded(context.Background(), time.Second, func(ctx context.Context) (string, error) {
		return "done", nil
	})
	if err != nil || v != "done" {
		t.Errorf("runBounded = (%q, %v), want (\"done\", nil)", v, err)
	}
}

func TestRunBoundedParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := runBounded(ctx, time.Second, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if errors.Is(err, ErrTimeout) {
		t.Errorf("parent cancellation reported as timeout: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestOpenDuckDB(t *testing.T) {
	e, err := Open("duckdb", "", time.Second)
	if err != nil {
		t.Skipf("Skipping: duckdb driver unavailable: %v", err)
	}
	defer e.Close()
	if err := e.db.PingContext(context.Background()); err != nil {
		t.Skipf("Skipping: duckdb driver unavailable: %v", err)
	}

	got, err := e.Run(context.Background(), "SELECT 42 AS answer", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := &table.Table{Columns: []string{"answer"}, Rows: [][]any{{42.0}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}

	scores := table.New([]string{"name", "score"}, [][]any{{"a", 1.0}, {"b", 3.0}})
	got, err = e.Run(context.Background(), `SELECT name FROM df_1 WHERE score > 2`, map[string]*table.Table{"df_1": scores})
	if err != nil {
		t.Fatalf("Run with context table: %v", err)
	}
	if diff := cmp.Diff([][]any{{"b"}}, got.Rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open("postgres", "", time.Second); err == nil {
		t.Error("expected error for unknown driver")
	}
}
