package feed

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wethinkt/thinkt-browse/internal/config"
	"github.com/wethinkt/thinkt-browse/internal/transcript"
	"github.com/wethinkt/thinkt-browse/internal/tuilog"
)

// Server is the feed HTTP server. It owns the message log and the live
// fan-out; everything is lost on exit.
type Server struct {
	config    ServerConfig
	log       *MemoryLog
	pubsub    *SessionPubSub
	tickets   *TicketStore
	router    chi.Router
	startedAt time.Time
}

// NewServer creates a feed server with an empty log.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}

	s := &Server{
		config:    cfg,
		log:       NewMemoryLog(),
		pubsub:    NewSessionPubSub(),
		tickets:   NewTicketStore(),
		startedAt: time.Now(),
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler { return s.router }

// Log returns the server's message log.
func (s *Server) Log() *MemoryLog { return s.log }

// setupRouter configures the feed routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware)

	if !s.config.Quiet {
		r.Use(middleware.Logger)
	}

	if s.config.Token != "" {
		tuilog.Log.Info("Feed authentication enabled")
		r.Use(bearerAuth(s.config.Token))
	} else {
		tuilog.Log.Warn("Feed running without authentication - use --token to secure")
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/sessions", s.handleListSessions)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/messages", s.handleListMessages)
			r.Post("/messages", s.handleIngest)
			r.Post("/invalidate", s.handleInvalidate)
			r.Get("/ws", s.handleSessionWS)
		})
		r.Post("/ws/ticket", s.handleIssueTicket)
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// ListenAndServe starts the feed server and blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if existing := config.FindInstanceByPort(s.config.Port); existing != nil && s.config.Port != 0 {
		return fmt.Errorf("port %d is already in use by thinkt-browse %s (PID %d, started %s)",
			s.config.Port, existing.Type, existing.PID, existing.StartedAt.Format(time.RFC3339))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	// Update port if auto-assigned
	if s.config.Port == 0 {
		s.config.Port = ln.Addr().(*net.TCPAddr).Port
	}

	inst := config.Instance{
		Type:      config.InstanceFeed,
		PID:       os.Getpid(),
		Port:      s.config.Port,
		Host:      s.config.Host,
		StartedAt: time.Now(),
	}
	if err := config.RegisterInstance(inst); err != nil {
		tuilog.Log.Warn("Failed to register feed instance", "error", err)
	}

	go s.cleanTickets(ctx)

	go func() {
		<-ctx.Done()
		config.UnregisterInstance(os.Getpid())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	tuilog.Log.Info("Feed server listening", "addr", s.Addr())
	if !s.config.Quiet {
		fmt.Printf("Feed server running at http://%s\n", s.Addr())
	}
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Addr returns the server address string.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Ingest appends a batch to a session's log and publishes the new messages
// to live subscribers, followed by invalidations for the facets the batch
// touched. Entries must already be normalized.
func (s *Server) Ingest(ctx context.Context, sessionID string, entries []IngestEntry) (IngestResponse, error) {
	var resp IngestResponse
	var events []transcript.LiveEvent
	for _, e := range entries {
		edge, dup, err := s.log.Append(ctx, sessionID, e.toMessage(sessionID))
		if err != nil {
			return resp, fmt.Errorf("append %s: %w", e.UUID, err)
		}
		if dup {
			resp.Duplicates++
			continue
		}
		resp.Accepted++
		node := edge.Node
		events = append(events, transcript.LiveEvent{
			V:         transcript.ProtocolVersion,
			Kind:      transcript.KindAppend,
			Node:      &node,
			Cursor:    edge.Cursor,
			SessionID: sessionID,
		})
	}
	ingestMessagesTotal.WithLabelValues("accepted").Add(float64(resp.Accepted))
	ingestMessagesTotal.WithLabelValues("duplicate").Add(float64(resp.Duplicates))
	activeSessions.Set(float64(s.log.Len()))

	if resp.Accepted == 0 {
		return resp, nil
	}
	s.pubsub.Publish(sessionID, events...)
	s.Invalidate(sessionID, transcript.FacetMessages)
	for _, f := range facetsFor(entries) {
		s.Invalidate(sessionID, f)
	}
	return resp, nil
}

// Invalidate publishes an invalidation pointer for one facet of a session.
func (s *Server) Invalidate(sessionID string, facet transcript.Facet) {
	invalidationsTotal.WithLabelValues(string(facet)).Inc()
	s.pubsub.Publish(sessionID, transcript.LiveEvent{
		V:         transcript.ProtocolVersion,
		Kind:      transcript.KindInvalidate,
		SessionID: sessionID,
		Facet:     facet,
	})
}

// cleanTickets periodically removes expired WebSocket tickets.
func (s *Server) cleanTickets(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.tickets.Cleanup(); removed > 0 {
				tuilog.Log.Debug("Cleaned expired tickets", "removed", removed)
			}
		}
	}
}

// bearerAuth returns middleware that validates a bearer token using
// constant-time comparison to prevent timing attacks. Health checks and
// ticketed WebSocket upgrades pass through.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/v1/health" {
				next.ServeHTTP(w, r)
				return
			}
			if strings.HasSuffix(r.URL.Path, "/ws") && r.URL.Query().Get("ticket") != "" {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="thinkt-browse"`)
				writeError(w, http.StatusUnauthorized, "unauthorized", "Missing Authorization header")
				return
			}

			const prefix = "Bearer "
			if len(auth) < len(prefix) || auth[:len(prefix)] != prefix {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid Authorization header format")
				return
			}

			if subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware adds CORS headers for cross-origin requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, err string, msg string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: msg})
}
