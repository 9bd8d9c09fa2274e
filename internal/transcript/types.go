// Package transcript keeps a live, ordered, deduplicated view of a session's
// append-only message log. Older history is paged in on demand through a
// Fetcher while new messages arrive from a push Channel; both sources are
// merged through a single gate so the materialized Window never holds the
// same message twice.
package transcript

import (
	"encoding/json"
	"time"
)

// DefaultPageSize is the number of messages requested per page.
const DefaultPageSize = 50

// Cursor is an opaque, server-issued pagination token. Cursors are only
// meaningful for paging toward older entries.
type Cursor string

// Message is an immutable log record. ID is unique across the whole log.
type Message struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	Seq       int64           `json:"seq,omitempty"` // server log position, 0 when unknown
	Timestamp time.Time       `json:"timestamp"`
	Role      string          `json:"role,omitempty"` // "user", "assistant", "tool_use", "tool_result", "system"
	Text      string          `json:"text,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"` // opaque to the engine
}

// Edge pairs a message with the cursor the server issued for it.
type Edge struct {
	Node   Message `json:"node"`
	Cursor Cursor  `json:"cursor"`
}

// PageInfo carries the pagination metadata of a Page.
type PageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   Cursor `json:"endCursor,omitempty"`
}

// Page is one response of the fetch protocol. Edges are newest-first.
type Page struct {
	Edges      []Edge   `json:"edges"`
	PageInfo   PageInfo `json:"pageInfo"`
	TotalCount int      `json:"totalCount"`
}

// PageRequest is one request of the fetch protocol. An empty After asks for
// the newest PageSize messages.
type PageRequest struct {
	SessionID string
	PageSize  int
	After     Cursor
}

// Facet names an auxiliary part of a session that can be invalidated as a unit.
type Facet string

const (
	FacetMessages Facet = "messages"
	FacetTodos    Facet = "todos"
	FacetFiles    Facet = "files"
	FacetHooks    Facet = "hooks"
	FacetTasks    Facet = "tasks"
)

// Valid reports whether f is a known facet.
func (f Facet) Valid() bool {
	switch f {
	case FacetMessages, FacetTodos, FacetFiles, FacetHooks, FacetTasks:
		return true
	}
	return false
}

// Event kinds on the live channel.
const (
	KindAppend     = "append"
	KindInvalidate = "invalidate"
)

// Link kinds are reported by a transport about its own connection, in order
// with the events it delivers. They are never valid on the wire.
const (
	KindLinkDown = "link_down" // connection lost; events may be missed until KindLinkUp
	KindLinkUp   = "link_up"   // connection restored
)

// IsLinkKind reports whether kind is reported by a transport rather than sent
// by a server.
func IsLinkKind(kind string) bool {
	return kind == KindLinkDown || kind == KindLinkUp
}

// ProtocolVersion is embedded in every live channel frame.
const ProtocolVersion = "v1"

// LiveEvent is one frame of the live channel. Append events carry a full
// node and its cursor addressed to a connection; invalidate events carry only
// the session and the facet that changed.
type LiveEvent struct {
	V            string   `json:"v"`
	Kind         string   `json:"kind"`
	Node         *Message `json:"node,omitempty"`
	Cursor       Cursor   `json:"cursor,omitempty"`
	ConnectionID string   `json:"connectionId,omitempty"`
	SessionID    string   `json:"sessionId,omitempty"`
	Facet        Facet    `json:"facet,omitempty"`
}

// Snapshot is the read-only projection handed to the presentation layer.
type Snapshot struct {
	SessionID      string
	ConnectionID   string
	Messages       []Message // oldest-first
	HasOlder       bool
	IsLoadingOlder bool
	LoadError      error // transient; set by the last failed backward load
	IsLive         bool
	TotalCount     int

	// RefreshGeneration increments once per coalesced invalidation flush.
	// Auxiliary panels re-fetch when it changes.
	RefreshGeneration uint64
	RefreshedFacets   []Facet
}
