package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/nstogner/analyst/pkg/controller"
	"github.com/nstogner/analyst/pkg/domain"
	"github.com/nstogner/analyst/pkg/model"
	"github.com/nstogner/analyst/pkg/store"
)

// Runner executes one analysis request.
type Runner interface {
	Run(ctx context.Context, task string, files map[string][]byte, onStep controller.StepFunc) (*domain.Outcome, error)
}

// Server serves the analysis API.
type Server struct {
	runner   Runner
	provider model.Provider
	runs     store.RunStore
	debug    bool
	srv      *http.Server
}

// New creates a new Server. runs may be nil, in which case the run journal
// endpoints answer 404.
func New(runner Runner, provider model.Provider, runs store.RunStore, debug bool) *Server {
	return &Server{
		runner:   runner,
		provider: provider,
		runs:     runs,
		debug:    debug,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Analysis
	mux.HandleFunc("POST /api/{$}", s.handleAnalyze)
	mux.HandleFunc("POST /api", s.handleAnalyze)

	// Run journal
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)

	// Models
	mux.HandleFunc("GET /api/models", s.handleListModels)

	// WebSocket
	mux.HandleFunc("/api/ws", s.handleAnalyzeWebSocket)

	return s.corsMiddleware(s.recoverMiddleware(mux))
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	slog.Info("Starting web server", "addr", addr)
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoverMiddleware turns a handler panic into a JSON 500.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				stack := string(debug.Stack())
				slog.Error("Handler panic", "panic", rec, "path", r.URL.Path, "stack", stack)
				body := map[string]any{"error": "An internal server error occurred."}
				if s.debug {
					body["details"] = fmt.Sprint(rec)
					body["trace"] = stack
				}
				s.jsonResponse(w, http.StatusInternalServerError, body)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	slog.Error("API Error", "status", status, "error", err)
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}
