package planner

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nstogner/analyst/pkg/domain"
)

// maxObservationLen bounds each observation in the serialized history.
const maxObservationLen = 2000

const baseInstructions = `You are a data analyst agent. You answer the user's request by calling tools one at a time.

Tables you produce are stored in a data context under generated names (for example df_1 or query_result_2). You only ever see a table's name, row count and columns; use describe_table or run_code to inspect values.

Available tools:
%s
- finish: End the task. args: {"final_answers": <the answer as a JSON array or object, in the shape the request asks for>}

Rules:
- Print every computed answer value in run_code; printed output is what gets reported.
- If a tool fails, read the error and try a different approach.
- When every question has been answered, call finish with the answers.
`

const nextInstructions = `Reply with exactly one JSON object of the form {"tool_name": "<tool>", "args": {...}} and nothing else.`

const planInstructions = `Plan every step up front. Table names come from one counter shared by every kind of table (df_1, query_result_2, df_3, ...) and run_code only stores df when it changes it, so do not guess names: omit the table argument and the most recent table is used.
Reply with exactly one JSON object of the form {"steps": [{"tool_name": "<tool>", "args": {...}}, ...]} and nothing else.`

func (p *Planner) instructions(mode string) string {
	return fmt.Sprintf(baseInstructions, p.tools) + "\n" + mode
}

// Prompt renders the user turn of a planning request.
func Prompt(in Input) string {
	var b strings.Builder
	b.WriteString("Request:\n")
	b.WriteString(in.Task)
	b.WriteString("\n\n")

	if len(in.Uploads) > 0 {
		b.WriteString("Uploaded files (load them with load_table using the file name as source):\n")
		for _, name := range in.Uploads {
			fmt.Fprintf(&b, "- %s\n", name)
		}
		b.WriteString("\n")
	}

	b.WriteString("Data context:\n")
	b.WriteString(in.Context)
	b.WriteString("\n")

	if len(in.History) > 0 {
		b.WriteString("\nHistory:\n")
		b.WriteString(History(in.History))
	}
	return b.String()
}

// History serializes steps for a prompt.
func History(steps []domain.Step) string {
	var b strings.Builder
	for _, s := range steps {
		args, err := json.Marshal(s.Action.Args)
		if err != nil {
			args = []byte("{}")
		}
		fmt.Fprintf(&b, "Step %d: %s %s\n", s.Index, s.Action.ToolName, args)
		label := "Observation"
		if s.Observation.IsError {
			label = "Error"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, truncate(s.Observation.Text, maxObservationLen))
	}
	return b.String()
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + fmt.Sprintf("... (%d more characters)", len(s)-n)
}
