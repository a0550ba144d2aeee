package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nstogner/analyst/pkg/table"
)

// DefaultTimeout bounds a single query. It is kept below typical hosting
// request timeouts.
const DefaultTimeout = 25 * time.Second

// ErrTimeout is returned when a query does not finish within its bound.
var ErrTimeout = errors.New("query timed out")

// Executor runs SQL against a sqlite or duckdb database. Tables from the caller's data
// context can be referenced by name; they are attached as temporary tables
// on a dedicated connection for the duration of the query.
type Executor struct {
	db      *sql.DB
	timeout time.Duration
}

// Open opens a database with the named driver. An empty dsn opens a private
// in-memory database.
func Open(driver, dsn string, timeout time.Duration) (*Executor, error) {
	switch driver {
	case "sqlite3":
		if dsn == "" {
			dsn = ":memory:"
		}
	case "duckdb":
	default:
		return nil, fmt.Errorf("unsupported query driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return New(db, timeout), nil
}

// New wraps an existing database handle.
func New(db *sql.DB, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{db: db, timeout: timeout}
}

// Close closes the underlying database.
func (e *Executor) Close() error {
	return e.db.Close()
}

// Timeout returns the per-query bound.
func (e *Executor) Timeout() time.Duration { return e.timeout }

// Run executes q and returns its result set. tables maps names the query may
// reference to their contents. If the bound expires the error wraps
// ErrTimeout and the query is abandoned.
func (e *Executor) Run(ctx context.Context, q string, tables map[string]*table.Table) (*table.Table, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, errors.New("empty query")
	}
	slog.Debug("Running query", "query", q, "timeout", e.timeout)
	return runBounded(ctx, e.timeout, func(ctx context.Context) (*table.Table, error) {
		return e.run(ctx, q, tables)
	})
}

func (e *Executor) run(ctx context.Context, q string, tables map[string]*table.Table) (*table.Table, error) {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	var attached []string
	defer func() {
		for _, name := range attached {
			if _, err := conn.ExecContext(context.Background(), "DROP TABLE IF EXISTS temp."+quoteIdent(name)); err != nil {
				slog.Warn("Dropping temp table failed", "table", name, "error", err)
			}
		}
	}()
	for name, t := range tables {
		if !strings.Contains(q, name) {
			continue
		}
		attached = append(attached, name)
		if err := attach(ctx, conn, name, t); err != nil {
			return nil, fmt.Errorf("attaching table %s: %w", name, err)
		}
	}

	rows, err := conn.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := &table.Table{Columns: cols}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out.Append(vals)
	}
	return out, rows.Err()
}

func attach(ctx context.Context, conn *sql.Conn, name string, t *table.Table) error {
	if len(t.Columns) == 0 {
		return errors.New("table has no columns")
	}
	cols := make([]string, len(t.Columns))
	marks := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = quoteIdent(c)
		marks[i] = "?"
	}
	create := fmt.Sprintf("CREATE TEMP TABLE %s (%s)", quoteIdent(name), strings.Join(cols, ", "))
	if _, err := conn.ExecContext(ctx, create); err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO temp.%s VALUES (%s)", quoteIdent(name), strings.Join(marks, ", ")))
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, row := range t.Rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// runBounded runs fn on a separate goroutine and waits at most timeout for
// it. fn receives a context that is cancelled when the wait gives up.
func runBounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	var zero T
	select {
	case r := <-ch:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return r.v, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return zero, ctx.Err()
	}
}
