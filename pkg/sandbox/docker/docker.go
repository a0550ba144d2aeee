package docker

import (
	"archive/tar"
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/nstogner/analyst/pkg/sandbox"
	"github.com/nstogner/analyst/pkg/table"
)

const (
	// LabelManager is the label used to identify containers managed by this system.
	LabelManager = "manager"
	// LabelManagerValue is the value of the manager label.
	LabelManagerValue = "analyst"
	// SandboxImage is the default sandbox container image, built from the
	// Dockerfile next to this file.
	SandboxImage = "analyst-sandbox:latest"
	// workDir holds the code, the input table and the output table.
	workDir = "/work"
	// maxOutputBytes bounds the captured stdout.
	maxOutputBytes = 4 << 20
)

//go:embed runner.py
var runnerScript []byte

// Options configure the engine.
type Options struct {
	Image string
	// Network enables container networking. It is off by default.
	Network bool
	// MemoryBytes and NanoCPUs cap each container. Zero means no limit.
	MemoryBytes int64
	NanoCPUs    int64
}

// Engine implements sandbox.Sandbox by running Python in a throwaway
// container per call.
type Engine struct {
	client *client.Client
	opts   Options
}

// Verify interface compliance.
var _ sandbox.Sandbox = (*Engine)(nil)

// New creates a new Docker sandbox engine.
func New(opts Options) (*Engine, error) {
	if opts.Image == "" {
		opts.Image = SandboxImage
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Engine{client: cli, opts: opts}, nil
}

// Close releases the Docker client resources.
func (e *Engine) Close() error {
	return e.client.Close()
}

// Ping verifies the daemon is reachable and the image exists.
func (e *Engine) Ping(ctx context.Context) error {
	if _, err := e.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon not reachable: %w", err)
	}
	if _, _, err := e.client.ImageInspectWithRaw(ctx, e.opts.Image); err != nil {
		return fmt.Errorf("sandbox image '%s' not found (docker build -t %s pkg/sandbox/docker): %w", e.opts.Image, e.opts.Image, err)
	}
	return nil
}

func (e *Engine) Name() string { return "docker" }

func (e *Engine) Describe() string {
	return `The code is Python 3. Available names: df (pandas DataFrame of the bound table, or None), pd, np, plt (matplotlib, Agg backend), io, base64, duckdb, urllib (urllib.request imported).
pd.read_html works for HTML tables (lxml is installed). duckdb.sql("SELECT ... FROM df").df() queries df directly.
Print every result you need with print(). To return a chart, save it to a BytesIO as PNG and print "data:image/png;base64," followed by the base64 text.
If you assign a new DataFrame to df it is stored as a new table.`
}

// Execute runs code with in bound to df. Failures are reported in the
// result's output and never returned.
func (e *Engine) Execute(ctx context.Context, code string, in *table.Table) sandbox.Result {
	orig := in.Clone()
	out, df, err := e.run(ctx, code, in)
	if err != nil {
		slog.Error("Docker sandbox failed", "error", err)
		return sandbox.Failed(out, err, orig)
	}
	if df == nil {
		df = orig
	}
	return sandbox.Result{Output: strings.TrimSpace(out), Table: df}
}

func (e *Engine) run(ctx context.Context, code string, in *table.Table) (string, *table.Table, error) {
	archive, err := buildArchive(code, in)
	if err != nil {
		return "", nil, fmt.Errorf("preparing input: %w", err)
	}

	cfg := &container.Config{
		Image:      e.opts.Image,
		Cmd:        []string{"python", workDir + "/runner.py"},
		WorkingDir: workDir,
		Labels:     map[string]string{LabelManager: LabelManagerValue},
	}
	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:   e.opts.MemoryBytes,
			NanoCPUs: e.opts.NanoCPUs,
		},
	}
	if !e.opts.Network {
		hostCfg.NetworkMode = "none"
	}

	name := "analyst-sandbox-" + uuid.New().String()
	resp, err := e.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", nil, fmt.Errorf("creating container: %w", err)
	}
	defer e.remove(resp.ID)

	if err := e.client.CopyToContainer(ctx, resp.ID, workDir, archive, types.CopyToContainerOptions{}); err != nil {
		return "", nil, fmt.Errorf("copying code into container: %w", err)
	}

	if err := e.client.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return "", nil, fmt.Errorf("starting container: %w", err)
	}

	statusCh, errCh := e.client.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		return "", nil, fmt.Errorf("waiting for container: %w", err)
	case st := <-statusCh:
		exitCode = st.StatusCode
	}

	stdout, stderr, err := e.logs(ctx, resp.ID)
	if err != nil {
		return "", nil, err
	}
	if exitCode != 0 {
		slog.Warn("Sandbox exited with error", "exitCode", exitCode, "stderr", truncate(stderr, 500))
		return stdout, nil, fmt.Errorf("sandbox exited with code %d: %s", exitCode, lastLine(stderr))
	}

	df, err := e.readOutput(ctx, resp.ID)
	if err != nil {
		return stdout, nil, err
	}
	return stdout, df, nil
}

func (e *Engine) logs(ctx context.Context, id string) (string, string, error) {
	rc, err := e.client.ContainerLogs(ctx, id, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", fmt.Errorf("reading container logs: %w", err)
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&limitWriter{w: &stdout, n: maxOutputBytes}, &limitWriter{w: &stderr, n: maxOutputBytes}, rc); err != nil {
		return "", "", fmt.Errorf("demultiplexing container logs: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}

// readOutput returns the table the code left in df, or nil if there is none.
func (e *Engine) readOutput(ctx context.Context, id string) (*table.Table, error) {
	rc, _, err := e.client.CopyFromContainer(ctx, id, workDir+"/output.csv")
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("copying output table: %w", err)
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading output archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		t, err := table.ReadCSV(tr, ',')
		if err != nil {
			return nil, fmt.Errorf("parsing output table: %w", err)
		}
		return t, nil
	}
}

func (e *Engine) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.client.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true}); err != nil {
		slog.Warn("Failed to remove sandbox container", "id", id, "error", err)
	}
}

// buildArchive packs the runner, the code and the input table as a tar
// stream for CopyToContainer.
func buildArchive(code string, in *table.Table) (io.Reader, error) {
	files := map[string][]byte{
		"runner.py": runnerScript,
		"code.py":   []byte(code),
	}
	if in != nil {
		var csv bytes.Buffer
		if err := in.WriteCSV(&csv); err != nil {
			return nil, err
		}
		files["input.csv"] = csv.Bytes()
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, name := range []string{"runner.py", "code.py", "input.csv"} {
		data, ok := files[name]
		if !ok {
			continue
		}
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(data)), ModTime: time.Now()}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write(data); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// limitWriter discards everything past n bytes.
type limitWriter struct {
	w io.Writer
	n int
}

func (l *limitWriter) Write(p []byte) (int, error) {
	if l.n <= 0 {
		return len(p), nil
	}
	keep := p
	if len(keep) > l.n {
		keep = keep[:l.n]
	}
	n, err := l.w.Write(keep)
	l.n -= n
	if err != nil {
		return n, err
	}
	return len(p), nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
