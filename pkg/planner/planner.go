// Package planner asks a language model for the next action of a run.
//
// A planner works in one of two modes. In iterative mode it is consulted once
// per step with the full history and returns a single action. In upfront mode
// it is consulted once and returns an ordered plan that runs without further
// consultation. The planner keeps no state between calls.
package planner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nstogner/analyst/pkg/domain"
	"github.com/nstogner/analyst/pkg/model"
)

// Mode selects how the planner is consulted.
type Mode string

const (
	ModeIterative Mode = "iterative"
	ModeUpfront   Mode = "upfront"
)

// ParseMode validates a mode name. An empty name means iterative.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeIterative:
		return ModeIterative, nil
	case ModeUpfront:
		return ModeUpfront, nil
	}
	return "", fmt.Errorf("unknown planner mode %q (want %s or %s)", s, ModeIterative, ModeUpfront)
}

// Input is everything a planning call sees.
type Input struct {
	// Task is the user's request, verbatim.
	Task string
	// Context summarizes the data context: table names and shapes only.
	Context string
	// Uploads lists the names of files attached to the request.
	Uploads []string
	// History is the run so far.
	History []domain.Step
}

// Planner builds prompts and parses model replies into actions.
type Planner struct {
	provider model.Provider
	model    string
	tools    string
}

// New creates a planner. tools is the rendered tool catalogue included in
// every prompt.
func New(provider model.Provider, modelName, tools string) *Planner {
	return &Planner{provider: provider, model: modelName, tools: tools}
}

// Next returns the single next action.
func (p *Planner) Next(ctx context.Context, in Input) (domain.Action, error) {
	text, err := p.complete(ctx, nextInstructions, in)
	if err != nil {
		return domain.Action{}, err
	}
	action, err := ParseAction(text)
	if err != nil {
		slog.Warn("Planner returned an invalid action", "error", err, "reply", truncate(text, 200))
		return domain.Action{}, err
	}
	return action, nil
}

// Plan returns an ordered list of actions for the whole task.
func (p *Planner) Plan(ctx context.Context, in Input) ([]domain.Action, error) {
	text, err := p.complete(ctx, planInstructions, in)
	if err != nil {
		return nil, err
	}
	actions, err := ParsePlan(text)
	if err != nil {
		slog.Warn("Planner returned an invalid plan", "error", err, "reply", truncate(text, 200))
		return nil, err
	}
	return actions, nil
}

func (p *Planner) complete(ctx context.Context, mode string, in Input) (string, error) {
	req := model.Request{
		Model:        p.model,
		Instructions: p.instructions(mode),
		Messages:     []model.Message{{Role: domain.RoleUser, Text: Prompt(in)}},
		JSON:         true,
	}
	slog.Debug("Calling planner", "model", p.model, "historyLen", len(in.History))
	text, err := model.Complete(ctx, p.provider, req)
	if err != nil {
		return "", fmt.Errorf("planner model call: %w", err)
	}
	return text, nil
}
