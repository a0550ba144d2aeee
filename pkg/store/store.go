package store

import (
	"context"
	"errors"

	"github.com/nstogner/analyst/pkg/domain"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// RunStore journals agent runs and their steps. Runs never read the journal
// back; it exists for inspection.
type RunStore interface {
	// CreateRun persists a new run. The ID field must be set by the caller.
	CreateRun(ctx context.Context, run *domain.Run) error

	// UpdateRun records a run's status, answer and error.
	UpdateRun(ctx context.Context, run *domain.Run) error

	// GetRun retrieves a run by ID.
	// Returns an error wrapping ErrNotFound if the run does not exist.
	GetRun(ctx context.Context, id string) (*domain.Run, error)

	// ListRuns returns the most recent runs first. If limit > 0, returns at
	// most that many.
	ListRuns(ctx context.Context, limit int) ([]domain.Run, error)

	// AppendStep adds a step to the end of a run's history.
	AppendStep(ctx context.Context, runID string, step domain.Step) error

	// GetSteps returns a run's steps in order.
	GetSteps(ctx context.Context, runID string) ([]domain.Step, error)
}
