// Package app wires configuration into a ready controller. Both binaries
// build their dependencies through it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/nstogner/analyst/pkg/chart"
	"github.com/nstogner/analyst/pkg/config"
	"github.com/nstogner/analyst/pkg/controller"
	"github.com/nstogner/analyst/pkg/model"
	"github.com/nstogner/analyst/pkg/model/gemini"
	"github.com/nstogner/analyst/pkg/model/openai"
	"github.com/nstogner/analyst/pkg/model/scripted"
	"github.com/nstogner/analyst/pkg/planner"
	"github.com/nstogner/analyst/pkg/query"
	"github.com/nstogner/analyst/pkg/sandbox"
	"github.com/nstogner/analyst/pkg/sandbox/docker"
	"github.com/nstogner/analyst/pkg/sandbox/ops"
	"github.com/nstogner/analyst/pkg/scrape"
	"github.com/nstogner/analyst/pkg/store"
	"github.com/nstogner/analyst/pkg/store/sqlite"
	"github.com/nstogner/analyst/pkg/tools"
)

// App holds the long-lived dependencies of a process.
type App struct {
	Config     *config.Config
	Provider   model.Provider
	Sandbox    sandbox.Sandbox
	Tools      *tools.Registry
	Journal    store.RunStore // nil when disabled
	Controller *controller.Controller

	closers []func() error
}

// New builds every dependency described by cfg. Call Close when done.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.Provider, err = NewProvider(ctx, cfg); err != nil {
		return nil, fmt.Errorf("model provider %s: %w", cfg.Provider, err)
	}

	plotter := chart.New()
	if a.Sandbox, err = a.newSandbox(ctx, plotter); err != nil {
		return nil, fmt.Errorf("sandbox %s: %w", cfg.Sandbox, err)
	}

	exec, err := query.Open(cfg.QueryDriver, cfg.QueryDSN, cfg.StepTimeout)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, exec.Close)

	a.Tools = tools.NewRegistry(
		tools.NewLoadTableTool(scrape.New(&http.Client{Timeout: cfg.StepTimeout})),
		&tools.DescribeTableTool{},
		tools.NewRunQueryTool(exec),
		tools.NewRunCodeTool(a.Sandbox),
		tools.NewScatterPlotTool(plotter),
	)

	if cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
		db, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.Journal = db
	}

	mode, err := planner.ParseMode(cfg.PlannerMode)
	if err != nil {
		return nil, err
	}

	a.Controller = controller.New(
		planner.New(a.Provider, cfg.Model, a.Tools.Describe()),
		a.Tools,
		a.Journal,
		controller.Config{Mode: mode, MaxSteps: cfg.MaxSteps, Model: cfg.Model},
	)

	slog.Info("Analyst ready",
		"provider", a.Provider.Name(),
		"model", cfg.Model,
		"sandbox", a.Sandbox.Name(),
		"mode", mode,
		"maxSteps", cfg.MaxSteps,
		"journal", cfg.DBPath != "",
	)
	return a, nil
}

// Close releases everything New opened, in reverse order.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// NewProvider returns the model provider named by cfg.Provider.
func NewProvider(ctx context.Context, cfg *config.Config) (model.Provider, error) {
	switch cfg.Provider {
	case "gemini":
		return gemini.New(ctx, cfg.GeminiAPIKey)
	case "openai":
		return openai.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, nil), nil
	case "scripted":
		// Offline smoke runs: every request finishes immediately.
		return scripted.New(`{"tool_name":"finish","args":{}}`).Repeat(), nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}

func (a *App) newSandbox(ctx context.Context, plotter ops.Plotter) (sandbox.Sandbox, error) {
	if a.Config.Sandbox != "docker" {
		return ops.New(plotter), nil
	}
	eng, err := docker.New(docker.Options{
		Image:   a.Config.SandboxImage,
		Network: a.Config.SandboxNetwork,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, eng.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := eng.Ping(pingCtx); err != nil {
		return nil, err
	}
	return eng, nil
}
