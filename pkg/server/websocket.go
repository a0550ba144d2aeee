package server

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nstogner/analyst/pkg/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsRequest is the single message a client sends to start a run.
type wsRequest struct {
	Task string `json:"task"`
	// Files maps upload names to base64 content.
	Files map[string]string `json:"files"`
}

// wsEvent is every message the server sends.
type wsEvent struct {
	Type    string          `json:"type"` // "step", "outcome" or "error"
	Step    *domain.Step    `json:"step,omitempty"`
	Outcome *domain.Outcome `json:"outcome,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// handleAnalyzeWebSocket runs one task and streams each step as it is
// recorded, then the outcome.
func (s *Server) handleAnalyzeWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	var req wsRequest
	if err := ws.ReadJSON(&req); err != nil {
		slog.Error("WebSocket read error", "error", err)
		return
	}

	var mu sync.Mutex
	send := func(ev wsEvent) {
		mu.Lock()
		defer mu.Unlock()
		if err := ws.WriteJSON(ev); err != nil {
			slog.Error("WebSocket write error", "error", err)
		}
	}

	if req.Task == "" {
		send(wsEvent{Type: "error", Error: "task is required"})
		return
	}
	files := make(map[string][]byte, len(req.Files))
	for name, enc := range req.Files {
		data, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			send(wsEvent{Type: "error", Error: "file " + name + " is not valid base64"})
			return
		}
		files[name] = data
	}

	out, err := s.runner.Run(r.Context(), req.Task, files, func(step domain.Step) {
		send(wsEvent{Type: "step", Step: &step})
	})
	if err != nil && out == nil {
		send(wsEvent{Type: "error", Error: err.Error()})
		return
	}
	send(wsEvent{Type: "outcome", Outcome: out})

	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
