package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nstogner/analyst/pkg/table"
)

var (
	// ErrUnknownTool is returned when an action names no registered tool.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrMissingArg is returned when a required argument is absent or empty.
	ErrMissingArg = errors.New("missing required argument")
)

// Env is the request-scoped state tools operate on.
type Env struct {
	// Data is the run's data context.
	Data *table.Context
	// Files holds uploaded files by name.
	Files map[string][]byte
}

// NewEnv returns an env with an empty data context.
func NewEnv(files map[string][]byte) *Env {
	if files == nil {
		files = map[string][]byte{}
	}
	return &Env{Data: table.NewContext(), Files: files}
}

// FileNames returns the upload names in sorted order.
func (e *Env) FileNames() []string {
	names := make([]string, 0, len(e.Files))
	for n := range e.Files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Result is what a tool hands back to the controller.
type Result struct {
	// Output is the text the tool produced: printed output, a chart URI or
	// an in-place error string.
	Output string
	// Table, when set, is stored in the data context under a fresh name
	// built from TablePrefix.
	Table       *table.Table
	TablePrefix string
	// Informational marks Output as useful to the planner only, never as an
	// answer value.
	Informational bool
}

// Tool defines the interface that all agent tools must implement.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any // Simple representation of JSON schema
	Execute(ctx context.Context, env *Env, input map[string]any) (Result, error)
}

// Registry manages the available tools.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a registry holding the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool to the registry.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	var list []Tool
	for _, t := range r.tools {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// Dispatch validates input against the tool's required arguments and runs it.
func (r *Registry) Dispatch(ctx context.Context, env *Env, name string, input map[string]any) (Result, error) {
	t, ok := r.tools[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if input == nil {
		input = map[string]any{}
	}
	for _, key := range required(t.InputSchema()) {
		if isEmpty(input[key]) {
			return Result{}, fmt.Errorf("%s: %w %q", name, ErrMissingArg, key)
		}
	}
	return t.Execute(ctx, env, input)
}

// Describe renders every tool with its argument schema for a prompt.
func (r *Registry) Describe() string {
	var b strings.Builder
	for _, t := range r.List() {
		schema, _ := json.Marshal(t.InputSchema())
		fmt.Fprintf(&b, "- %s: %s\n  args schema: %s\n", t.Name(), t.Description(), schema)
	}
	return strings.TrimRight(b.String(), "\n")
}

func required(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		var out []string
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	}
	return false
}

// stringArg returns input[key] as a string. Non-string values are JSON
// encoded so structured arguments survive.
func stringArg(input map[string]any, key string) (string, error) {
	v, ok := input[key]
	if !ok || isEmpty(v) {
		return "", fmt.Errorf("%w %q", ErrMissingArg, key)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("argument %q: %w", key, err)
	}
	return string(b), nil
}

func optionalString(input map[string]any, key string) string {
	s, _ := input[key].(string)
	return strings.TrimSpace(s)
}

func optionalInt(input map[string]any, key string) int {
	switch v := input[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// resolveTable looks up the table named by input[key], falling back to the
// most recent table when the argument is absent.
func resolveTable(env *Env, input map[string]any, key string) (string, *table.Table, error) {
	if name := optionalString(input, key); name != "" {
		t, err := env.Data.Get(name)
		if err != nil {
			return "", nil, err
		}
		return name, t, nil
	}
	name, t, ok := env.Data.Latest()
	if !ok {
		return "", nil, fmt.Errorf("%w: no tables have been loaded", table.ErrNoSuchTable)
	}
	return name, t, nil
}

func schema(props map[string]any, required ...string) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}
