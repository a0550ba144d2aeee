// Command cli runs analysis tasks from the terminal.
//
// Usage:
//
//	export GEMINI_API_KEY="your-api-key"
//	go run ./cmd/cli [-q questions.txt] [data.csv ...]
//
// Files given as arguments are attached to every task. Without -q the
// question is typed into the prompt.
//
// Commands:
//
//	/exit - Exit the program
//	<question> - Run an analysis task
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/nstogner/analyst/pkg/app"
	"github.com/nstogner/analyst/pkg/config"
	"github.com/nstogner/analyst/pkg/controller"
	"github.com/nstogner/analyst/pkg/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("5")).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")).
			Bold(true)

	observationStyle = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("240"))
	stepErrorStyle   = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("9"))
	errorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Padding(0, 1) // Red
)

// maxObservation bounds how much of each observation is shown.
const maxObservation = 600

type state int

const (
	stateInput state = iota
	stateRunning
)

type stepMsg domain.Step

type doneMsg struct {
	outcome *domain.Outcome
	err     error
}

type model struct {
	ctx    context.Context
	runner *controller.Controller
	files  map[string][]byte

	state  state
	width  int
	height int
	err    error
	steps  <-chan domain.Step
	done   <-chan doneMsg
	cancel context.CancelFunc

	// UI Components
	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model

	transcript strings.Builder
	renderer   *glamour.TermRenderer
}

func initialModel(ctx context.Context, runner *controller.Controller, files map[string][]byte) *model {
	ta := textarea.New()
	ta.Placeholder = "Ask a question about your data..."
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 4000

	ta.SetWidth(80)
	ta.SetHeight(3)

	// Remove cursor line styling
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false

	vp := viewport.New(80, 20)

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	// Use "light" style to avoid terminal queries that leak into input
	r, _ := glamour.NewTermRenderer(
		glamour.WithStandardStyle("light"),
		glamour.WithWordWrap(80),
	)

	m := &model{
		ctx:      ctx,
		runner:   runner,
		files:    files,
		viewport: vp,
		textarea: ta,
		spinner:  sp,
		renderer: r,
	}
	if len(files) > 0 {
		names := make([]string, 0, len(files))
		for n := range files {
			names = append(names, n)
		}
		m.transcript.WriteString(fmt.Sprintf("Attached: %s\n\n", strings.Join(names, ", ")))
	}
	m.viewport.SetContent(m.transcript.String() + "Type a question and press Enter.")
	return m
}

func (m *model) Init() tea.Cmd {
	return textarea.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	var tiCmd, vpCmd tea.Cmd
	if m.state == stateInput {
		m.textarea, tiCmd = m.textarea.Update(msg)
		cmds = append(cmds, tiCmd)
	}
	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.textarea.SetWidth(msg.Width)
		m.viewport.Height = msg.Height - m.textarea.Height() - 4 // Header + status + margins
		if m.viewport.Height < 0 {
			m.viewport.Height = 0
		}

		// Recreate renderer with new width
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithStandardStyle("light"),
			glamour.WithWordWrap(max(m.width-4, 20)),
		)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			if m.state == stateRunning {
				// Cancel the run; the controller reports it through doneMsg.
				m.cancel()
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyEnter:
			if m.state == stateInput {
				return m.submit()
			}
		}

	case spinner.TickMsg:
		if m.state == stateRunning {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case stepMsg:
		m.appendStep(domain.Step(msg))
		cmds = append(cmds, waitForStep(m.steps, m.done))

	case doneMsg:
		m.state = stateInput
		m.cancel()
		m.textarea.Focus()
		if msg.err != nil {
			m.err = msg.err
		}
		if msg.outcome != nil {
			m.appendOutcome(msg.outcome)
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *model) View() string {
	var errorView string
	if m.err != nil {
		errorView = errorStyle.Width(m.width).Render(fmt.Sprintf("Error: %v", m.err))
	}

	status := ""
	if m.state == stateRunning {
		status = m.spinner.View() + " Working... (Esc to cancel)"
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render("Data Analyst"),
		m.viewport.View(),
		status,
		errorView,
		m.textarea.View(),
	)
}

// Actions

func (m *model) submit() (tea.Model, tea.Cmd) {
	task := strings.TrimSpace(m.textarea.Value())
	if task == "" {
		return m, nil
	}
	if task == "/exit" {
		return m, tea.Quit
	}
	m.textarea.Reset()
	m.err = nil
	return m, m.start(task)
}

// start runs task in the background and streams its steps into the model.
func (m *model) start(task string) tea.Cmd {
	m.state = stateRunning
	m.textarea.Blur()
	m.transcript.WriteString(userStyle.Render("Question:") + "\n" + task + "\n\n")
	m.refresh()

	steps := make(chan domain.Step, 16)
	done := make(chan doneMsg, 1)
	m.steps, m.done = steps, done

	runCtx, cancel := context.WithCancel(m.ctx)
	m.cancel = cancel
	files := m.files

	go func() {
		defer close(steps)
		out, err := m.runner.Run(runCtx, task, files, func(s domain.Step) {
			steps <- s
		})
		done <- doneMsg{outcome: out, err: err}
	}()

	return tea.Batch(m.spinner.Tick, waitForStep(steps, done))
}

func (m *model) appendStep(s domain.Step) {
	args, _ := json.Marshal(s.Action.Args)
	m.transcript.WriteString(toolStyle.Render(fmt.Sprintf("Step %d: %s", s.Index, s.Action.ToolName)))
	m.transcript.WriteString(" " + truncate(string(args), 200) + "\n")

	style := observationStyle
	if s.Observation.IsError {
		style = stepErrorStyle
	}
	if text := strings.TrimSpace(s.Observation.Text); text != "" {
		m.transcript.WriteString(style.Render(truncate(text, maxObservation)) + "\n")
	}
	m.transcript.WriteString("\n")
	m.refresh()
}

func (m *model) appendOutcome(out *domain.Outcome) {
	slog.Info("Run finished", "runID", out.RunID, "status", out.Status, "steps", len(out.Steps))
	if out.Error != "" {
		m.transcript.WriteString(stepErrorStyle.Render(fmt.Sprintf("[%s] %s", out.Status, out.Error)) + "\n\n")
		m.refresh()
		return
	}

	answer, err := json.MarshalIndent(out.Answer, "", "  ")
	if err != nil {
		m.err = err
		return
	}
	md := fmt.Sprintf("### Answer (%s)\n\n```json\n%s\n```\n", out.Status, truncateImages(string(answer)))
	rendered := md
	if m.renderer != nil {
		if r, err := m.renderer.Render(md); err == nil {
			rendered = r
		}
	}
	m.transcript.WriteString(rendered + "\n")
	m.refresh()
}

func (m *model) refresh() {
	m.viewport.SetContent(m.transcript.String())
	m.viewport.GotoBottom()
}

func waitForStep(steps <-chan domain.Step, done <-chan doneMsg) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-steps
		if !ok {
			return <-done
		}
		return stepMsg(s)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + fmt.Sprintf("... (%d more characters)", len(s)-n)
}

// truncateImages shortens data URIs so a chart does not flood the terminal.
func truncateImages(s string) string {
	const prefix = "data:image/"
	var b strings.Builder
	for {
		i := strings.Index(s, prefix)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.IndexByte(s[i:], '"')
		if end < 0 {
			end = len(s) - i
		}
		b.WriteString(s[:i])
		b.WriteString(truncate(s[i:i+end], 64))
		s = s[i+end:]
	}
}

func readAttachments(paths []string) (map[string][]byte, error) {
	files := make(map[string][]byte, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		files[filepath.Base(p)] = data
	}
	return files, nil
}

// --- Main ---

func main() {
	questions := flag.String("q", "", "Read the question from this file and run it once without the prompt.")
	logPath := flag.String("log", "analyst.log", "Log file.")
	flag.Parse()

	config.LoadEnvFile()
	cfg, err := config.Load()
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}

	// 1. Setup Logging
	f, err := os.OpenFile(*logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	defer f.Close()

	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
	slog.Info("Logging initialized", "level", logLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Initialize dependencies
	a, err := app.New(ctx, cfg)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	defer a.Close()

	files, err := readAttachments(flag.Args())
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}

	m := initialModel(ctx, a.Controller, files)
	var startCmd tea.Cmd
	if *questions != "" {
		task, err := os.ReadFile(*questions)
		if err != nil {
			fmt.Println("Error:", err)
			os.Exit(1)
		}
		startCmd = m.start(strings.TrimSpace(string(task)))
	}

	// 3. Start Program
	p := tea.NewProgram(&startup{model: m, cmd: startCmd}, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}

// startup issues an initial command before handing control to the model.
type startup struct {
	*model
	cmd tea.Cmd
}

func (s *startup) Init() tea.Cmd {
	return tea.Batch(s.model.Init(), s.cmd)
}
