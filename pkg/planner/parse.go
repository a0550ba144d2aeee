package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nstogner/analyst/pkg/domain"
)

// ErrInvalidAction is returned when a model reply does not parse as an
// action or a plan.
var ErrInvalidAction = errors.New("invalid action")

// ParseAction decodes a single action. Only tool_name and args are allowed.
func ParseAction(text string) (domain.Action, error) {
	var a domain.Action
	if err := decodeStrict(stripFences(text), &a); err != nil {
		return domain.Action{}, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	if err := validate(&a); err != nil {
		return domain.Action{}, err
	}
	return a, nil
}

// ParsePlan decodes {"steps": [...]} or a bare array of actions.
func ParsePlan(text string) ([]domain.Action, error) {
	body := stripFences(text)

	var actions []domain.Action
	if strings.HasPrefix(body, "[") {
		if err := decodeStrict(body, &actions); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
		}
	} else {
		var plan struct {
			Steps []domain.Action `json:"steps"`
		}
		if err := decodeStrict(body, &plan); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
		}
		actions = plan.Steps
	}

	if len(actions) == 0 {
		return nil, fmt.Errorf("%w: plan has no steps", ErrInvalidAction)
	}
	for i := range actions {
		if err := validate(&actions[i]); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return actions, nil
}

func validate(a *domain.Action) error {
	a.ToolName = strings.TrimSpace(a.ToolName)
	if a.ToolName == "" {
		return fmt.Errorf("%w: tool_name is required", ErrInvalidAction)
	}
	if a.Args == nil {
		a.Args = map[string]any{}
	}
	return nil
}

func decodeStrict(body string, v any) error {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
