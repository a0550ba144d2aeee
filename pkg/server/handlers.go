package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/nstogner/analyst/pkg/domain"
	"github.com/nstogner/analyst/pkg/store"
)

const (
	// QuestionsFile is the required multipart part holding the task.
	QuestionsFile = "questions.txt"
	// maxUploadBytes bounds a whole multipart request.
	maxUploadBytes = 64 << 20
)

// --- Analysis ---

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("reading multipart form: %w", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	task, files, err := readUploads(r.MultipartForm)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}

	slog.Info("Analysis request", "taskLen", len(task), "uploads", len(files))
	out, err := s.runner.Run(r.Context(), task, files, nil)
	if err != nil && out == nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.outcomeResponse(w, out)
}

// readUploads returns the task text and every other uploaded file by name.
func readUploads(form *multipart.Form) (string, map[string][]byte, error) {
	var (
		task     string
		hasTask  bool
		files    = map[string][]byte{}
		maxFiles = 32
	)
	for field, headers := range form.File {
		for _, fh := range headers {
			name := fh.Filename
			if name == "" {
				name = field
			}
			data, err := readPart(fh)
			if err != nil {
				return "", nil, fmt.Errorf("reading %s: %w", name, err)
			}
			if field == QuestionsFile || name == QuestionsFile {
				task, hasTask = string(data), true
				continue
			}
			if len(files) >= maxFiles {
				return "", nil, fmt.Errorf("too many files (limit %d)", maxFiles)
			}
			files[name] = data
		}
	}
	if !hasTask {
		return "", nil, fmt.Errorf("%s is missing", QuestionsFile)
	}
	return task, files, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// outcomeResponse writes the answer of a successful run, or an error body
// whose status reflects how the run ended.
func (s *Server) outcomeResponse(w http.ResponseWriter, out *domain.Outcome) {
	var status int
	switch out.Status {
	case domain.StatusFinished, domain.StatusCompleted:
		s.jsonResponse(w, http.StatusOK, out.Answer)
		return
	case domain.StatusExhausted:
		status = http.StatusUnprocessableEntity
	case domain.StatusTimedOut:
		status = http.StatusGatewayTimeout
	default:
		status = http.StatusInternalServerError
	}

	slog.Warn("Run did not produce an answer", "runID", out.RunID, "status", out.Status, "error", out.Error)
	body := map[string]any{"error": out.Error}
	if s.debug {
		body["run_id"] = out.RunID
		body["status"] = out.Status
		body["details"] = out.Steps
	}
	s.jsonResponse(w, status, body)
}

// --- Run journal ---

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.errorResponse(w, http.StatusNotFound, errors.New("run journal is disabled"))
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []domain.Run{}
	}
	s.jsonResponse(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.errorResponse(w, http.StatusNotFound, errors.New("run journal is disabled"))
		return
	}
	id := r.PathValue("id")
	run, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		s.errorResponse(w, status, err)
		return
	}
	steps, err := s.runs.GetSteps(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, struct {
		*domain.Run
		Steps []domain.Step `json:"steps"`
	}{run, steps})
}

// --- Models ---

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.provider.List(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, models)
}
