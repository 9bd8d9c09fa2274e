package feed

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/wethinkt/thinkt-browse/internal/transcript"
	"github.com/wethinkt/thinkt-browse/internal/tuilog"
)

// handleSessionWS upgrades to WebSocket and pushes live events for one
// session. Clients identify themselves with ?conn=; appends are addressed to
// that connection ID. History is not replayed: a client that reconnects pages
// back to the last message it holds.
// Auth: either Authorization header (handled by bearerAuth middleware) or ?ticket= query param.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "sessionID is required")
		return
	}

	connID := r.URL.Query().Get("conn")

	// Ticket auth for clients that can't set headers on a WebSocket dial.
	// The grant fixes the connection ID.
	if ticket := r.URL.Query().Get("ticket"); ticket != "" {
		grant, ok := s.tickets.Redeem(ticket, sessionID)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired ticket")
			return
		}
		if connID != "" && connID != grant.ConnectionID {
			writeError(w, http.StatusForbidden, "forbidden", "Ticket was issued for another connection")
			return
		}
		connID = grant.ConnectionID
	}

	if connID == "" {
		id, err := transcript.NewConnectionID(time.Time{})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "ws_error", "Failed to assign connection id")
			return
		}
		connID = id
	}

	// Subscribe before the upgrade completes so nothing published after the
	// client sees the handshake is missed.
	ch, unsub := s.pubsub.Subscribe(sessionID, connID)
	defer unsub()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		tuilog.Log.Error("WebSocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	// Clients never send frames; CloseRead handles control frames and
	// cancels ctx when the client goes away.
	ctx := conn.CloseRead(r.Context())

	wsConnectionsActive.Inc()
	defer wsConnectionsActive.Dec()
	tuilog.Log.Info("WebSocket client connected", "session_id", sessionID, "connection_id", connID)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "server shutting down")
			tuilog.Log.Info("WebSocket client disconnected", "session_id", sessionID, "connection_id", connID)
			return
		case ev, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "subscription closed")
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				tuilog.Log.Debug("WS write failed", "session_id", sessionID, "error", err)
				return
			}
		}
	}
}
