package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/nstogner/analyst/pkg/controller"
	"github.com/nstogner/analyst/pkg/domain"
	"github.com/nstogner/analyst/pkg/model"
	"github.com/nstogner/analyst/pkg/store"
)

// --- Mocks ---

type fakeRunner struct {
	outcome *domain.Outcome
	err     error
	panics  bool

	task  string
	files map[string][]byte
}

func (f *fakeRunner) Run(ctx context.Context, task string, files map[string][]byte, onStep controller.StepFunc) (*domain.Outcome, error) {
	if f.panics {
		panic("boom")
	}
	f.task = task
	f.files = files
	if onStep != nil && f.outcome != nil {
		for _, s := range f.outcome.Steps {
			onStep(s)
		}
	}
	return f.outcome, f.err
}

type fakeProvider struct{}

func (fakeProvider) Name() string { return "fake" }
func (fakeProvider) List(ctx context.Context) ([]domain.Model, error) {
	return []domain.Model{{ID: "m1", Name: "Model One", Provider: "fake"}}, nil
}
func (fakeProvider) Stream(ctx context.Context, req model.Request) (model.ModelStream, error) {
	return nil, errors.New("not implemented")
}

type fakeRuns struct {
	runs  map[string]*domain.Run
	steps map[string][]domain.Step
}

func (f *fakeRuns) CreateRun(ctx context.Context, run *domain.Run) error { return nil }
func (f *fakeRuns) UpdateRun(ctx context.Context, run *domain.Run) error { return nil }
func (f *fakeRuns) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	r, ok := f.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}
func (f *fakeRuns) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	var out []domain.Run
	for _, r := range f.runs {
		out = append(out, *r)
	}
	return out, nil
}
func (f *fakeRuns) AppendStep(ctx context.Context, runID string, step domain.Step) error { return nil }
func (f *fakeRuns) GetSteps(ctx context.Context, runID string) ([]domain.Step, error) {
	return f.steps[runID], nil
}

var _ store.RunStore = (*fakeRuns)(nil)

// --- Helpers ---

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile(name, name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		fw.Write([]byte(content))
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func postAnalyze(t *testing.T, srv *Server, files map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, files)
	req := httptest.NewRequest(http.MethodPost, "/api/", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) any {
	t.Helper()
	var v any
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

// --- Tests ---

func TestAnalyzeReturnsAnswer(t *testing.T) {
	runner := &fakeRunner{outcome: &domain.Outcome{
		Status: domain.StatusFinished,
		Answer: []any{1.0, "Titanic"},
	}}
	srv := New(runner, fakeProvider{}, nil, false)

	rec := postAnalyze(t, srv, map[string]string{
		"questions.txt": "How many films?",
		"data.csv":      "a,b\n1,2\n",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if diff := cmp.Diff([]any{1.0, "Titanic"}, decode(t, rec)); diff != "" {
		t.Errorf("answer mismatch (-want +got):\n%s", diff)
	}
	if runner.task != "How many films?" {
		t.Errorf("task = %q", runner.task)
	}
	if diff := cmp.Diff(map[string][]byte{"data.csv": []byte("a,b\n1,2\n")}, runner.files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyzeMissingQuestions(t *testing.T) {
	runner := &fakeRunner{}
	srv := New(runner, fakeProvider{}, nil, false)

	rec := postAnalyze(t, srv, map[string]string{"data.csv": "a\n1\n"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	want := map[string]any{"error": "questions.txt is missing"}
	if diff := cmp.Diff(want, decode(t, rec)); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyzeStatusMapping(t *testing.T) {
	tests := []struct {
		status domain.Status
		want   int
	}{
		{domain.StatusCompleted, http.StatusOK},
		{domain.StatusExhausted, http.StatusUnprocessableEntity},
		{domain.StatusTimedOut, http.StatusGatewayTimeout},
		{domain.StatusFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			runner := &fakeRunner{outcome: &domain.Outcome{Status: tt.status, Answer: []any{}, Error: "some error"}}
			rec := postAnalyze(t, New(runner, fakeProvider{}, nil, false), map[string]string{"questions.txt": "q?"})
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAnalyzeExhaustedBody(t *testing.T) {
	runner := &fakeRunner{outcome: &domain.Outcome{
		Status: domain.StatusExhausted,
		Error:  "exceeded maximum number of steps",
		Steps:  []domain.Step{{Index: 1}},
	}}

	rec := postAnalyze(t, New(runner, fakeProvider{}, nil, false), map[string]string{"questions.txt": "q?"})
	want := map[string]any{"error": "exceeded maximum number of steps"}
	if diff := cmp.Diff(want, decode(t, rec)); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}

	rec = postAnalyze(t, New(runner, fakeProvider{}, nil, true), map[string]string{"questions.txt": "q?"})
	body := decode(t, rec).(map[string]any)
	if _, ok := body["details"]; !ok {
		t.Errorf("debug body missing details: %v", body)
	}
}

func TestAnalyzeRunnerError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("provider down")}
	rec := postAnalyze(t, New(runner, fakeProvider{}, nil, false), map[string]string{"questions.txt": "q?"})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	runner := &fakeRunner{panics: true}

	rec := postAnalyze(t, New(runner, fakeProvider{}, nil, true), map[string]string{"questions.txt": "q?"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := decode(t, rec).(map[string]any)
	if body["details"] != "boom" {
		t.Errorf("details = %v, want boom", body["details"])
	}
	if trace, _ := body["trace"].(string); !strings.Contains(trace, "goroutine") {
		t.Errorf("trace = %q", trace)
	}

	rec = postAnalyze(t, New(runner, fakeProvider{}, nil, false), map[string]string{"questions.txt": "q?"})
	body = decode(t, rec).(map[string]any)
	if _, ok := body["trace"]; ok {
		t.Errorf("trace leaked without debug: %v", body)
	}
}

func TestListModels(t *testing.T) {
	srv := New(&fakeRunner{}, fakeProvider{}, nil, false)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/models", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []domain.Model
	json.Unmarshal(rec.Body.Bytes(), &got)
	want := []domain.Model{{ID: "m1", Name: "Model One", Provider: "fake"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("models mismatch (-want +got):\n%s", diff)
	}
}

func TestRunJournal(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	runs := &fakeRuns{
		runs: map[string]*domain.Run{
			"r1": {ID: "r1", Task: "q?", Status: domain.StatusFinished, CreatedAt: now, UpdatedAt: now},
		},
		steps: map[string][]domain.Step{
			"r1": {{Index: 1, Action: domain.Action{ToolName: "finish", Args: map[string]any{}}, Timestamp: now}},
		},
	}
	h := New(&fakeRunner{}, fakeProvider{}, runs, false).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/r1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var got struct {
		domain.Run
		Steps []domain.Step `json:"steps"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got.ID != "r1" || len(got.Steps) != 1 || got.Steps[0].Action.ToolName != "finish" {
		t.Errorf("got %+v", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing run status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	var list []domain.Run
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list) != 1 {
		t.Errorf("list = %+v", list)
	}
}

func TestRunJournalDisabled(t *testing.T) {
	h := New(&fakeRunner{}, fakeProvider{}, nil, false).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := New(&fakeRunner{}, fakeProvider{}, nil, false).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestAnalyzeWebSocket(t *testing.T) {
	runner := &fakeRunner{outcome: &domain.Outcome{
		RunID:  "r1",
		Status: domain.StatusFinished,
		Answer: []any{4.0},
		Steps: []domain.Step{
			{Index: 1, Action: domain.Action{ToolName: "count", Args: map[string]any{}}},
			{Index: 2, Action: domain.Action{ToolName: "finish", Args: map[string]any{}}},
		},
	}}
	ts := httptest.NewServer(New(runner, fakeProvider{}, nil, false).Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	req := wsRequest{
		Task:  "count rows",
		Files: map[string]string{"data.csv": base64.StdEncoding.EncodeToString([]byte("a\n1\n"))},
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var types []string
	for {
		var ev wsEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		types = append(types, ev.Type)
		if ev.Type == "outcome" {
			if ev.Outcome.RunID != "r1" {
				t.Errorf("outcome = %+v", ev.Outcome)
			}
			break
		}
	}
	if diff := cmp.Diff([]string{"step", "step", "outcome"}, types); diff != "" {
		t.Errorf("event types mismatch (-want +got):\n%s", diff)
	}
	if string(runner.files["data.csv"]) != "a\n1\n" {
		t.Errorf("files = %v", runner.files)
	}
}
