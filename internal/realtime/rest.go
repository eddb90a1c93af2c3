package realtime

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"agentwatch/internal/hooks"
	"agentwatch/internal/protocol"
	"agentwatch/internal/session"
)

// maxHookBody bounds a hook payload; tool responses can be large.
const maxHookBody = 4 << 20

type registerSessionRequest struct {
	SessionID string `json:"sessionId"`
	Cwd       string `json:"cwd"`
}

type dataRequest struct {
	Data string `json:"data"`
}

type cwdRequest struct {
	Cwd string `json:"cwd"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHook accepts a hook payload from the agent. Whether or not a session
// claims the event, a well-formed payload gets 200.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		rtLog.Warn("hook_rate_limited")
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"success": false, "error": "rate limited"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxHookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "read body"})
		return
	}

	if _, err := hooks.Dispatch(s.tracker, body); err != nil {
		rtLog.Debug("hook_rejected", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Invalid JSON"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleRegisterSession(w http.ResponseWriter, r *http.Request) {
	var req registerSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	info, err := s.register(req.SessionID, req.Cwd)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrLimit) {
			status = http.StatusTooManyRequests
		}
		writeError(w, status, err.Error())
		return
	}

	msg, err := protocol.NewMessage(protocol.TypeSessionRegistered, protocol.SessionRegisteredPayload{
		Session: sessionState(info),
	})
	if err == nil {
		s.broadcast(msg)
	}

	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.List())
}

// handleGetSession answers with the default idle state for unknown ids.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.GetState(r.PathValue("id")))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if !s.tracker.Destroy(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "destroyed"})
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req dataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !s.feedOutput(id, req.Data) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, s.tracker.GetState(id))
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req dataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !s.tracker.Exists(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.tracker.NotifyInput(id, req.Data)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCwd(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req cwdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Cwd == "" {
		writeError(w, http.StatusBadRequest, "cwd is required")
		return
	}

	if !s.tracker.UpdateWorkingDirectory(id, req.Cwd) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": len(s.tracker.List())})
}
