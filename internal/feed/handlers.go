package feed

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wethinkt/thinkt-browse/internal/transcript"
	"github.com/wethinkt/thinkt-browse/internal/tuilog"
)

// handleListMessages serves GET /v1/sessions/{sessionID}/messages?first=&after=.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	first := DefaultPageSize
	if v := r.URL.Query().Get("first"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			pageRequestsTotal.WithLabelValues("bad_request").Inc()
			writeError(w, http.StatusBadRequest, "validation_error", "first must be a positive integer")
			return
		}
		first = n
	}
	after := transcript.Cursor(r.URL.Query().Get("after"))

	page, err := s.log.Page(r.Context(), sessionID, first, after)
	if err != nil {
		if errors.Is(err, ErrInvalidCursor) {
			pageRequestsTotal.WithLabelValues("bad_request").Inc()
			writeError(w, http.StatusBadRequest, "invalid_cursor", err.Error())
			return
		}
		pageRequestsTotal.WithLabelValues("error").Inc()
		tuilog.Log.Error("Failed to read page", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "page_error", "Failed to read messages")
		return
	}

	pageRequestsTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, page)
}

// handleIngest processes POST /v1/sessions/{sessionID}/messages.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { ingestDurationSeconds.Observe(time.Since(start).Seconds()) }()

	sessionID := chi.URLParam(r, "sessionID")
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Failed to parse request body")
		return
	}

	dropped, err := NormalizeRequest(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if dropped > 0 {
		ingestMessagesTotal.WithLabelValues("dropped").Add(float64(dropped))
		tuilog.Log.Info("Dropped invalid entries during normalization",
			"session_id", sessionID, "dropped", dropped)
	}

	if len(req.Entries) == 0 {
		writeJSON(w, http.StatusOK, IngestResponse{Dropped: dropped, Message: "all entries dropped during validation"})
		return
	}

	resp, err := s.Ingest(r.Context(), sessionID, req.Entries)
	if err != nil {
		tuilog.Log.Error("Failed to ingest batch", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "ingest_error", "Failed to store messages")
		return
	}
	resp.Dropped = dropped

	tuilog.Log.Info("Ingested messages",
		"session_id", sessionID,
		"source", req.Source,
		"accepted", resp.Accepted,
		"duplicates", resp.Duplicates)

	writeJSON(w, http.StatusOK, resp)
}

// handleInvalidate processes POST /v1/sessions/{sessionID}/invalidate.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req InvalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Failed to parse request body")
		return
	}
	if !req.Facet.Valid() {
		writeError(w, http.StatusBadRequest, "validation_error", "unknown facet: "+string(req.Facet))
		return
	}

	s.Invalidate(sessionID, req.Facet)
	w.WriteHeader(http.StatusAccepted)
}

// handleListSessions returns every session in the log, most recent first.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.log.Sessions())
}

// handleHealth returns a health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Sessions:      s.log.Len(),
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	})
}

// handleIssueTicket grants a single-use WebSocket ticket for a session.
// POST /v1/ws/ticket with body {"session_id": "...", "connection_id": "..."};
// connection_id is optional and assigned when missing.
func (s *Server) handleIssueTicket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID    string `json:"session_id"`
		ConnectionID string `json:"connection_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Failed to parse request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "session_id is required")
		return
	}

	grant, err := s.tickets.Issue(req.SessionID, req.ConnectionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ticket_error", "Failed to issue ticket")
		return
	}
	writeJSON(w, http.StatusOK, grant)
}
