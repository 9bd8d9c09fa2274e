// Package feed implements the reference transcript feed server. It keeps
// session logs in memory, serves them newest-first over the page protocol and
// pushes appends and invalidations to WebSocket subscribers.
package feed

import (
	"encoding/json"
	"time"

	"github.com/wethinkt/thinkt-browse/internal/transcript"
)

// Default configuration values for the feed server.
const (
	DefaultPort     = 8786
	DefaultHost     = "localhost"
	DefaultPageSize = transcript.DefaultPageSize
	MaxPageSize     = 200
)

// ServerConfig holds configuration for the feed server.
type ServerConfig struct {
	Port     int
	Host     string
	Token    string // bearer token for auth
	Quiet    bool
	WatchDir string // directory of JSONL transcripts to tail, optional
}

// DefaultServerConfig returns a ServerConfig with default values.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port: DefaultPort,
		Host: DefaultHost,
	}
}

// IngestRequest is the POST /v1/sessions/{sessionID}/messages request body.
type IngestRequest struct {
	Source  string        `json:"source,omitempty"`
	Entries []IngestEntry `json:"entries"`
}

// IngestEntry is a single message within an ingest payload.
type IngestEntry struct {
	UUID      string          `json:"uuid"`
	Role      string          `json:"role"`
	Timestamp time.Time       `json:"timestamp"`
	Text      string          `json:"text,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// IngestResponse is returned by POST /v1/sessions/{sessionID}/messages.
type IngestResponse struct {
	Accepted   int    `json:"accepted"`
	Duplicates int    `json:"duplicates"`
	Dropped    int    `json:"dropped"`
	Message    string `json:"message,omitempty"`
}

// InvalidateRequest is the POST /v1/sessions/{sessionID}/invalidate body.
type InvalidateRequest struct {
	Facet transcript.Facet `json:"facet"`
}

// SessionSummary describes one session held by the log.
type SessionSummary struct {
	ID           string    `json:"id"`
	MessageCount int       `json:"message_count"`
	FirstSeen    time.Time `json:"first_seen"`
	LastUpdated  time.Time `json:"last_updated"`
}

// HealthResponse is returned by GET /v1/health.
type HealthResponse struct {
	Status        string  `json:"status"`
	Sessions      int     `json:"sessions"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}
