package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/opsprobe/opsprobe/internal/audit"
	"github.com/opsprobe/opsprobe/internal/db"
	"github.com/opsprobe/opsprobe/internal/metrics"
	"github.com/opsprobe/opsprobe/internal/session"
)

type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg, ErrorType: errorType(status)})
}

func errorType(status int) string {
	switch {
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusServiceUnavailable:
		return "unavailable"
	case status >= 500:
		return "internal_error"
	default:
		return "validation_error"
	}
}

// handleCreateSession starts (or resumes) an investigation and blocks until
// it reaches a terminal state. Clients wanting progress open the WebSocket
// stream with the session ID from a prior call.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	resp, err := s.sessions.Investigate(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidWorkflowType), errors.Is(err, session.ErrEmptyQuery):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, session.ErrSessionBudgetExceeded):
			// Timeout-class error; the caller still gets the execution path.
			body := map[string]interface{}{
				"success":    false,
				"error":      err.Error(),
				"error_type": "timeout",
			}
			if resp != nil {
				body["session_id"] = resp.SessionID
				body["status"] = resp.Status
				body["execution_path"] = resp.ExecutionPath
			}
			writeJSON(w, http.StatusGatewayTimeout, body)
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existed, err := s.sessions.Delete(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !existed {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "session_id": id})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.sessions.List(r.Context(), "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"checkpoints": summaries,
	})
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	summaries, err := s.sessions.List(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"session_id":  id,
		"checkpoints": summaries,
	})
}

// handleSweepCheckpoints removes checkpoints older than the configured TTL
// (or an explicit ttl_hours override) and reports how many were deleted.
func (s *Server) handleSweepCheckpoints(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "checkpoint store not configured")
		return
	}

	ttlHours := s.cfg.Checkpoint.TTLHours
	if v := r.URL.Query().Get("ttl_hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "ttl_hours must be a positive integer")
			return
		}
		ttlHours = n
	}

	cutoff := time.Now().UTC().Add(-time.Duration(ttlHours) * time.Hour)
	n, err := s.store.DeleteExpiredCheckpoints(r.Context(), cutoff)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if n > 0 {
		metrics.CheckpointsSwept.Add(float64(n))
		if s.auditLog != nil {
			_ = s.auditLog.Log(r.Context(), audit.NewEvent(audit.EventCheckpointSwept).
				WithResult(audit.ResultSuccess).
				WithDescription(fmt.Sprintf("Manual sweep removed %d checkpoint(s)", n)))
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"swept":     n,
		"ttl_hours": ttlHours,
	})
}

// handleListAuditEvents queries the persisted audit trail, newest first.
func (s *Server) handleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "audit store not configured")
		return
	}

	q := db.AuditQuery{
		SessionID: r.URL.Query().Get("session_id"),
		EventType: r.URL.Query().Get("type"),
		Limit:     100,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		q.Limit = n
	}

	events, err := s.store.QueryAuditEvents(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"events":  events,
	})
}

// handleHealth reports liveness and checkpoint-store reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	status := http.StatusOK
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			health["status"] = "degraded"
			health["store_error"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, health)
}
