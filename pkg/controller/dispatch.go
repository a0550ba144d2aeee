package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nstogner/analyst/pkg/domain"
	"github.com/nstogner/analyst/pkg/formatter"
	"github.com/nstogner/analyst/pkg/query"
	"github.com/nstogner/analyst/pkg/tools"
)

// dispatch runs action against the registry and turns the result into an
// observation. The returned error is non-nil only for failures that end the
// run: a bounded wait expiring or ctx ending.
func (r *run) dispatch(ctx context.Context, action domain.Action) (domain.Observation, error) {
	log := slog.With("runID", r.id, "tool", action.ToolName)
	log.Info("Dispatching tool")

	res, err := r.c.tools.Dispatch(ctx, r.env, action.ToolName, action.Args)
	if err != nil {
		switch {
		case errors.Is(err, query.ErrTimeout):
			log.Warn("Tool timed out", "error", err)
			return domain.Observation{Text: "Error: " + err.Error(), IsError: true}, err
		case ctx.Err() != nil:
			return domain.Observation{Text: "Error: " + ctx.Err().Error(), IsError: true}, ctx.Err()
		case errors.Is(err, tools.ErrUnknownTool):
			log.Warn("Unknown tool called")
			return domain.Observation{Text: fmt.Sprintf("unknown tool: %s", action.ToolName), IsError: true}, nil
		}
		log.Warn("Tool failed", "error", err)
		msg := "Error: " + err.Error()
		r.lastErr = msg
		r.outputs = append(r.outputs, formatter.Output{Value: msg})
		return domain.Observation{Text: msg, IsError: true}, nil
	}

	obs := domain.Observation{Text: res.Output}
	if res.Output != "" && !res.Informational {
		r.outputs = append(r.outputs, formatter.Output{Value: formatter.Value(res.Output)})
		r.produced = true
	}

	if res.Table != nil {
		name := r.env.Data.Put(res.TablePrefix, res.Table)
		stored := fmt.Sprintf("stored as %s (%s)", name, res.Table.Summary())
		log.Info("Stored table", "name", name, "rows", res.Table.Len())
		r.outputs = append(r.outputs, formatter.Output{Value: stored, Bookkeeping: true})
		obs.Table = name
		if obs.Text == "" {
			obs.Text = stored
		} else {
			obs.Text += "\n" + stored
		}
	}

	if obs.Text == "" {
		obs.Text = "(no output)"
	}
	return obs, nil
}
