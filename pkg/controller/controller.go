package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nstogner/analyst/pkg/domain"
	"github.com/nstogner/analyst/pkg/formatter"
	"github.com/nstogner/analyst/pkg/planner"
	"github.com/nstogner/analyst/pkg/store"
	"github.com/nstogner/analyst/pkg/tools"
)

// DefaultMaxSteps is the step ceiling used when Config.MaxSteps is unset.
const DefaultMaxSteps = 10

// ErrExhausted is reported when a run reaches its step ceiling without
// finishing.
var ErrExhausted = errors.New("exceeded maximum number of steps")

// invalidActionTool names the history entry recorded when planning fails.
const invalidActionTool = "invalid_action"

// Planner produces actions for a run.
type Planner interface {
	Next(ctx context.Context, in planner.Input) (domain.Action, error)
	Plan(ctx context.Context, in planner.Input) ([]domain.Action, error)
}

// Config controls a controller's runs.
type Config struct {
	Mode     planner.Mode
	MaxSteps int
	// Model is recorded in the journal only.
	Model string
}

// StepFunc is called after every recorded step.
type StepFunc func(domain.Step)

// Controller runs the agent loop: plan, dispatch, observe, until the planner
// finishes or the step ceiling is reached. Each call to Run is independent.
type Controller struct {
	planner Planner
	tools   *tools.Registry
	journal store.RunStore
	cfg     Config
}

// New creates a new Controller. journal may be nil.
func New(p Planner, registry *tools.Registry, journal store.RunStore, cfg Config) *Controller {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.Mode == "" {
		cfg.Mode = planner.ModeIterative
	}
	return &Controller{planner: p, tools: registry, journal: journal, cfg: cfg}
}

// Run answers task using the uploaded files. The returned error is non-nil
// only when ctx ends the run; every other failure is reported through the
// outcome's status.
func (c *Controller) Run(ctx context.Context, task string, files map[string][]byte, onStep StepFunc) (*domain.Outcome, error) {
	r := &run{
		id:     uuid.New().String(),
		task:   task,
		env:    tools.NewEnv(files),
		onStep: onStep,
		c:      c,
	}
	log := slog.With("runID", r.id, "mode", c.cfg.Mode)
	log.Info("Starting run", "uploads", len(files), "maxSteps", c.cfg.MaxSteps)

	c.journalCreate(ctx, r)

	var err error
	switch c.cfg.Mode {
	case planner.ModeUpfront:
		err = r.upfront(ctx)
	default:
		err = r.iterative(ctx)
	}

	out := r.outcome()
	if err != nil {
		out.Status = domain.StatusFailed
		out.Error = err.Error()
	}
	log.Info("Run ended", "status", out.Status, "steps", len(out.Steps))
	c.journalFinish(ctx, out)
	return out, err
}

// run is the state of a single request.
type run struct {
	id      string
	task    string
	env     *tools.Env
	onStep  StepFunc
	c       *Controller
	history []domain.Step
	outputs []formatter.Output
	// produced is set once a tool succeeds with an answer value.
	produced bool
	lastErr  string

	status   domain.Status
	answer   any
	finished bool // answer was supplied by a finish action
	errText  string
}

func (r *run) input() planner.Input {
	return planner.Input{
		Task:    r.task,
		Context: r.env.Data.Summary(),
		Uploads: r.env.FileNames(),
		History: r.history,
	}
}

func (r *run) iterative(ctx context.Context) error {
	for len(r.history) < r.c.cfg.MaxSteps {
		action, err := r.c.planner.Next(ctx, r.input())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.invalid(err)
			continue
		}
		if done, err := r.execute(ctx, action); done || err != nil {
			return err
		}
	}
	r.exhausted()
	return nil
}

func (r *run) upfront(ctx context.Context) error {
	var plan []domain.Action
	for plan == nil {
		if len(r.history) >= r.c.cfg.MaxSteps {
			r.exhausted()
			return nil
		}
		actions, err := r.c.planner.Plan(ctx, r.input())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.invalid(err)
			continue
		}
		plan = actions
	}
	slog.Debug("Executing plan", "runID", r.id, "actions", len(plan))

	for _, action := range plan {
		if len(r.history) >= r.c.cfg.MaxSteps {
			r.exhausted()
			return nil
		}
		if done, err := r.execute(ctx, action); done || err != nil {
			return err
		}
	}
	r.status = domain.StatusCompleted
	return nil
}

// execute runs one action and reports whether the run has ended.
func (r *run) execute(ctx context.Context, action domain.Action) (bool, error) {
	if action.IsFinish() {
		r.finish(action)
		return true, nil
	}

	obs, err := r.dispatch(ctx, action)
	r.record(action, obs)
	if err != nil {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		r.status = domain.StatusTimedOut
		r.errText = err.Error()
		return true, nil
	}
	return false, nil
}

func (r *run) finish(action domain.Action) {
	r.status = domain.StatusFinished
	if payload, ok := finishPayload(action.Args); ok {
		r.answer = payload
		r.finished = true
	}
	r.record(action, domain.Observation{Text: "finished"})
}

// finishPayload returns the answer carried by a finish action.
func finishPayload(args map[string]any) (any, bool) {
	for _, key := range []string{"final_answers", "answers", "answer"} {
		if v, ok := args[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (r *run) invalid(err error) {
	slog.Warn("Planning failed", "runID", r.id, "error", err)
	r.record(domain.Action{ToolName: invalidActionTool, Args: map[string]any{}},
		domain.Observation{Text: err.Error(), IsError: true})
}

func (r *run) exhausted() {
	slog.Warn("Step ceiling reached", "runID", r.id, "maxSteps", r.c.cfg.MaxSteps)
	r.status = domain.StatusExhausted
	r.errText = ErrExhausted.Error()
}

func (r *run) record(action domain.Action, obs domain.Observation) {
	step := domain.Step{
		Index:       len(r.history) + 1,
		Action:      action,
		Observation: obs,
		Timestamp:   time.Now().UTC(),
	}
	r.history = append(r.history, step)
	r.c.journalStep(r.id, step)
	if r.onStep != nil {
		r.onStep(step)
	}
}

func (r *run) outcome() *domain.Outcome {
	out := &domain.Outcome{
		RunID:  r.id,
		Status: r.status,
		Error:  r.errText,
		Steps:  r.history,
	}
	switch r.status {
	case domain.StatusExhausted, domain.StatusTimedOut:
		return out
	}

	if r.finished {
		out.Answer = r.answer
		return out
	}
	if !r.produced && r.env.Data.Len() == 0 && r.lastErr != "" {
		out.Status = domain.StatusFailed
		out.Error = r.lastErr
		return out
	}
	out.Answer = formatter.Format(r.task, r.outputs)
	return out
}

func (c *Controller) journalCreate(ctx context.Context, r *run) {
	if c.journal == nil {
		return
	}
	err := c.journal.CreateRun(ctx, &domain.Run{
		ID:    r.id,
		Task:  r.task,
		Mode:  string(c.cfg.Mode),
		Model: c.cfg.Model,
	})
	if err != nil {
		slog.Warn("Failed to journal run", "runID", r.id, "error", err)
	}
}

func (c *Controller) journalStep(runID string, step domain.Step) {
	if c.journal == nil {
		return
	}
	if err := c.journal.AppendStep(context.Background(), runID, step); err != nil {
		slog.Warn("Failed to journal step", "runID", runID, "step", step.Index, "error", err)
	}
}

func (c *Controller) journalFinish(ctx context.Context, out *domain.Outcome) {
	if c.journal == nil {
		return
	}
	run := &domain.Run{ID: out.RunID, Status: out.Status, Error: out.Error}
	if out.Answer != nil {
		b, err := json.Marshal(out.Answer)
		if err != nil {
			b = []byte(fmt.Sprintf("%q", fmt.Sprint(out.Answer)))
		}
		run.Answer = string(b)
	}
	if err := c.journal.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		slog.Warn("Failed to journal outcome", "runID", out.RunID, "error", err)
	}
}
