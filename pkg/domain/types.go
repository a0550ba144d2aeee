package domain

import "time"

// FinishTool is the sentinel tool name that ends a run.
const FinishTool = "finish"

// Action is a single tool invocation authored by the planner.
type Action struct {
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args"`
}

// IsFinish reports whether the action terminates the run.
func (a Action) IsFinish() bool { return a.ToolName == FinishTool }

// Observation is the result of dispatching one Action.
type Observation struct {
	Text    string `json:"text"`
	IsError bool   `json:"is_error,omitempty"`
	// Table names the data context entry created by this step, if any.
	Table string `json:"table,omitempty"`
}

// Step pairs an Action with its Observation. The ordered list of steps is
// the run's history.
type Step struct {
	Index       int         `json:"index"`
	Action      Action      `json:"action"`
	Observation Observation `json:"observation"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Status is the terminal state of a run.
type Status string

const (
	// StatusRunning is recorded while a run is in progress.
	StatusRunning Status = "running"
	// StatusFinished means the planner issued a finish action.
	StatusFinished Status = "finished"
	// StatusCompleted means an upfront plan ran out without a finish action.
	StatusCompleted Status = "completed"
	// StatusExhausted means the step ceiling was reached.
	StatusExhausted Status = "exhausted"
	// StatusTimedOut means a bounded-wait tool expired.
	StatusTimedOut Status = "timed_out"
	// StatusFailed means nothing usable was produced.
	StatusFailed Status = "failed"
)

// Outcome is what a run hands back to its caller.
type Outcome struct {
	RunID  string `json:"run_id"`
	Status Status `json:"status"`
	Answer any    `json:"answer,omitempty"`
	Error  string `json:"error,omitempty"`
	Steps  []Step `json:"steps"`
}

// Run is the journal record of one agent run.
type Run struct {
	ID        string    `json:"id"`
	Task      string    `json:"task"`
	Mode      string    `json:"mode"`
	Model     string    `json:"model"`
	Status    Status    `json:"status"`
	Answer    string    `json:"answer,omitempty"` // JSON-encoded
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Model represents an available LLM model.
type Model struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}
