package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nstogner/analyst/pkg/domain"
	"github.com/nstogner/analyst/pkg/store"
)

// Store implements store.RunStore using SQLite.
type Store struct {
	db *sql.DB
}

// Verify interface compliance at compile time.
var _ store.RunStore = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		task TEXT NOT NULL DEFAULT '',
		mode TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'running',
		answer TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

	CREATE TABLE IF NOT EXISTS steps (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		tool_name TEXT NOT NULL,
		args TEXT NOT NULL DEFAULT '{}',
		observation TEXT NOT NULL DEFAULT '',
		is_error INTEGER NOT NULL DEFAULT 0,
		table_name TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, seq),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) CreateRun(ctx context.Context, run *domain.Run) error {
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now
	if run.Status == "" {
		run.Status = domain.StatusRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, task, mode, model, status, answer, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Task, run.Mode, run.Model, run.Status, run.Answer, run.Error,
		run.CreatedAt, run.UpdatedAt,
	)
	return err
}

func (s *Store) UpdateRun(ctx context.Context, run *domain.Run) error {
	run.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status=?, answer=?, error=?, updated_at=? WHERE id=?`,
		run.Status, run.Answer, run.Error, run.UpdatedAt, run.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	run := &domain.Run{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, task, mode, model, status, answer, error, created_at, updated_at
		 FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.Task, &run.Mode, &run.Model, &run.Status, &run.Answer, &run.Error,
		&run.CreatedAt, &run.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", id, store.ErrNotFound)
	}
	return run, err
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	query := `SELECT id, task, mode, model, status, answer, error, created_at, updated_at
		FROM runs ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		var r domain.Run
		if err := rows.Scan(&r.ID, &r.Task, &r.Mode, &r.Model, &r.Status, &r.Answer, &r.Error,
			&r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) AppendStep(ctx context.Context, runID string, step domain.Step) error {
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now().UTC()
	}
	args, err := json.Marshal(step.Action.Args)
	if err != nil {
		return fmt.Errorf("encoding args: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO steps (run_id, seq, tool_name, args, observation, is_error, table_name, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, step.Index, step.Action.ToolName, string(args),
		step.Observation.Text, step.Observation.IsError, step.Observation.Table, step.Timestamp,
	)
	return err
}

func (s *Store) GetSteps(ctx context.Context, runID string) ([]domain.Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, tool_name, args, observation, is_error, table_name, timestamp
		 FROM steps WHERE run_id=? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	steps := []domain.Step{}
	for rows.Next() {
		var (
			st   domain.Step
			args string
		)
		if err := rows.Scan(&st.Index, &st.Action.ToolName, &args,
			&st.Observation.Text, &st.Observation.IsError, &st.Observation.Table, &st.Timestamp,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(args), &st.Action.Args); err != nil {
			return nil, fmt.Errorf("decoding args of step %d: %w", st.Index, err)
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}
