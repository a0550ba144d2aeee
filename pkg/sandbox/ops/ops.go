// Package ops is an in-process sandbox engine. Programs are JSON encoded
// operations applied to the table bound to df, so no generated code is
// ever interpreted.
package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/nstogner/analyst/pkg/sandbox"
	"github.com/nstogner/analyst/pkg/table"
)

// Plotter renders a scatter chart of two columns. It returns a data URI or
// a human readable error string.
type Plotter interface {
	Render(t *table.Table, x, y string) string
}

// Op is one operation in a program. Which fields apply depends on Op.
type Op struct {
	Op      string   `json:"op"`
	Column  string   `json:"column,omitempty"`
	Columns []string `json:"columns,omitempty"`
	Cmp     string   `json:"cmp,omitempty"`
	Value   any      `json:"value,omitempty"`
	N       int      `json:"n,omitempty"`
	Desc    bool     `json:"desc,omitempty"`
	From    string   `json:"from,omitempty"`
	To      string   `json:"to,omitempty"`
	X       string   `json:"x,omitempty"`
	Y       string   `json:"y,omitempty"`
	Start   string   `json:"start,omitempty"`
	End     string   `json:"end,omitempty"`
	Layout  string   `json:"layout,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// Engine implements sandbox.Sandbox over the operation language.
type Engine struct {
	plotter Plotter
}

// Verify interface compliance.
var _ sandbox.Sandbox = (*Engine)(nil)

// New creates an engine. plotter may be nil, in which case the plot
// operation reports an error.
func New(plotter Plotter) *Engine {
	return &Engine{plotter: plotter}
}

// Name returns the engine identifier.
func (e *Engine) Name() string { return "ops" }

// Describe returns the operation reference given to the planner.
func (e *Engine) Describe() string {
	return `Code is a JSON operation or a JSON array of operations applied in order to the table bound to df.
Table operations replace df:
  {"op":"filter","column":C,"cmp":">"|">="|"<"|"<="|"=="|"!="|"contains","value":V}
  {"op":"sort","column":C,"desc":true}
  {"op":"select","columns":[C,...]}
  {"op":"head","n":N}                   first N rows (default 10)
  {"op":"rename","from":C,"to":C2}
  {"op":"to_number","column":C}        strips $ , footnotes and understands million/billion
  {"op":"dropna","columns":[C,...]}     all columns when omitted
  {"op":"date_diff","start":C,"end":C2,"to":C3}   days between two date columns
  {"op":"group_count","column":C}       one row per value with a count column
Output operations print one line:
  {"op":"count"}
  {"op":"value","column":C,"n":ROW}     also "first"
  {"op":"corr","x":C,"y":C2}            Pearson correlation
  {"op":"slope","x":C,"y":C2}           regression slope of y on x
  {"op":"sum"|"mean"|"min"|"max","column":C}
  {"op":"describe"}
  {"op":"print","n":N}
  {"op":"echo","text":T}
  {"op":"plot","x":C,"y":C2}            scatter with regression line as a data URI`
}

// Parse decodes a program. Unknown fields are rejected.
func Parse(code string) ([]Op, error) {
	code = strings.TrimSpace(code)
	code = strings.TrimPrefix(code, "```json")
	code = strings.TrimPrefix(code, "```")
	code = strings.TrimSuffix(code, "```")
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.New("empty program")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(code)))
	dec.DisallowUnknownFields()
	var prog []Op
	if code[0] == '[' {
		if err := dec.Decode(&prog); err != nil {
			return nil, fmt.Errorf("parsing program: %w", err)
		}
	} else {
		var op Op
		if err := dec.Decode(&op); err != nil {
			return nil, fmt.Errorf("parsing program: %w", err)
		}
		prog = []Op{op}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("parsing program: trailing data after program")
	}
	for i, op := range prog {
		if op.Op == "" {
			return nil, fmt.Errorf("operation %d has no op field", i+1)
		}
	}
	return prog, nil
}

// Execute applies the program to a copy of in.
func (e *Engine) Execute(ctx context.Context, code string, in *table.Table) (res sandbox.Result) {
	var out strings.Builder
	df := in.Clone()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("ops sandbox panic", "panic", r)
			res = sandbox.Failed(out.String(), fmt.Errorf("internal error: %v", r), df)
		}
	}()

	prog, err := Parse(code)
	if err != nil {
		return sandbox.Failed("", err, df)
	}

	for i, op := range prog {
		if err := ctx.Err(); err != nil {
			return sandbox.Failed(out.String(), err, df)
		}
		next, text, err := e.apply(op, df)
		if err != nil {
			return sandbox.Failed(out.String(), fmt.Errorf("operation %d (%s): %w", i+1, op.Op, err), df)
		}
		if text != "" {
			out.WriteString(text)
			out.WriteByte('\n')
		}
		if next != nil {
			df = next
		}
	}
	return sandbox.Result{Output: strings.TrimSpace(out.String()), Table: df}
}
