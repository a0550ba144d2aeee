package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/nstogner/analyst/pkg/table"
)

// Result represents the output of one sandbox execution.
type Result struct {
	// Output is everything the code printed, trimmed. Failures are reported
	// here as well.
	Output string `json:"output"`
	// Table is the value bound to df after execution. It is never the
	// table that was passed in.
	Table *table.Table `json:"-"`
}

// Sandbox executes a code string against a table bound to df.
//
// Execute never returns an error: any failure is written into
// Result.Output and execution stops at that point. The input table is
// never mutated. Every resource acquired for a call is released before
// Execute returns.
type Sandbox interface {
	// Name returns the engine identifier (e.g. "ops", "docker").
	Name() string

	// Describe returns the language guide shown to the planner.
	Describe() string

	// Execute runs code with in bound to df. in may be nil.
	Execute(ctx context.Context, code string, in *table.Table) Result
}

// Failed builds a Result that reports err after whatever was already printed.
func Failed(printed string, err error, t *table.Table) Result {
	out := strings.TrimSpace(printed)
	if out != "" {
		out += "\n"
	}
	return Result{Output: out + fmt.Sprintf("Error: %v", err), Table: t}
}
