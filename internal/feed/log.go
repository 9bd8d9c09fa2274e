package feed

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wethinkt/thinkt-browse/internal/transcript"
)

const memMaxMessagesPerSession = 100_000

// ErrInvalidCursor is returned for a cursor the log did not issue or no
// longer holds.
var ErrInvalidCursor = errors.New("invalid cursor")

// MemoryLog is an append-only, in-memory store of session transcripts.
// Appends are idempotent by message ID and get a monotonic per-session seq.
type MemoryLog struct {
	mu       sync.Mutex
	sessions map[string]*memSession
	max      int
}

type memSession struct {
	seq         int64
	byID        map[string]int64 // message id -> seq
	edges       []transcript.Edge // ordered by seq ASC
	firstSeen   time.Time
	lastUpdated time.Time
}

// NewMemoryLog constructs an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		sessions: make(map[string]*memSession),
		max:      memMaxMessagesPerSession,
	}
}

// Append stores msg at the head of its session. It reports duplicated=true,
// and returns the stored edge, when the ID is already present.
func (l *MemoryLog) Append(ctx context.Context, sessionID string, msg transcript.Message) (edge transcript.Edge, duplicated bool, err error) {
	if sessionID == "" || msg.ID == "" {
		return transcript.Edge{}, false, errors.New("session id and message id are required")
	}
	if err := ctx.Err(); err != nil {
		return transcript.Edge{}, false, err
	}

	now := time.Now().UTC()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	msg.SessionID = sessionID

	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.sessions[sessionID]
	if s == nil {
		s = &memSession{
			byID:      make(map[string]int64),
			edges:     make([]transcript.Edge, 0, 256),
			firstSeen: now,
		}
		l.sessions[sessionID] = s
	}

	if seq, ok := s.byID[msg.ID]; ok {
		if i, found := s.indexOf(seq); found {
			return s.edges[i], true, nil
		}
		return transcript.Edge{Node: msg}, true, nil
	}

	s.seq++
	msg.Seq = s.seq
	edge = transcript.Edge{Node: msg, Cursor: transcript.EncodeCursor(msg.Timestamp, msg.ID)}
	s.byID[msg.ID] = msg.Seq
	s.edges = append(s.edges, edge)
	s.lastUpdated = now

	// Bound memory; IDs stay known so trimmed messages are not re-added.
	if len(s.edges) > l.max {
		s.edges = slices.Clone(s.edges[len(s.edges)-l.max:])
	}
	return edge, false, nil
}

// Page returns up to first messages newest-first. An empty after starts from
// the newest message; otherwise the page starts just below the message the
// cursor points at.
func (l *MemoryLog) Page(ctx context.Context, sessionID string, first int, after transcript.Cursor) (transcript.Page, error) {
	if sessionID == "" {
		return transcript.Page{}, errors.New("missing session id")
	}
	if err := ctx.Err(); err != nil {
		return transcript.Page{}, err
	}
	if first <= 0 {
		first = DefaultPageSize
	}
	first = min(first, MaxPageSize)

	l.mu.Lock()
	defer l.mu.Unlock()

	page := transcript.Page{Edges: []transcript.Edge{}}
	s := l.sessions[sessionID]
	if s == nil {
		if after != "" {
			return transcript.Page{}, fmt.Errorf("%w: unknown session %s", ErrInvalidCursor, sessionID)
		}
		return page, nil
	}
	page.TotalCount = len(s.edges)

	// end is the exclusive upper bound in s.edges.
	end := len(s.edges)
	if after != "" {
		_, id, ok := transcript.DecodeCursor(after)
		if !ok {
			return transcript.Page{}, fmt.Errorf("%w: %q", ErrInvalidCursor, after)
		}
		seq, known := s.byID[id]
		if !known {
			return transcript.Page{}, fmt.Errorf("%w: unknown message %s", ErrInvalidCursor, id)
		}
		end, _ = s.indexOf(seq)
	}

	// Fetch one extra to learn whether older messages remain.
	start := max(end-(first+1), 0)
	window := s.edges[start:end]
	hasMore := len(window) > first
	if hasMore {
		window = window[1:]
	}

	for i := len(window) - 1; i >= 0; i-- {
		page.Edges = append(page.Edges, window[i])
	}
	if n := len(page.Edges); n > 0 {
		page.PageInfo.EndCursor = page.Edges[n-1].Cursor
	}
	page.PageInfo.HasNextPage = hasMore
	return page, nil
}

// Sessions returns a summary of every session, most recently updated first.
func (l *MemoryLog) Sessions() []SessionSummary {
	l.mu.Lock()
	out := make([]SessionSummary, 0, len(l.sessions))
	for id, s := range l.sessions {
		out = append(out, SessionSummary{
			ID:           id,
			MessageCount: len(s.edges),
			FirstSeen:    s.firstSeen,
			LastUpdated:  s.lastUpdated,
		})
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].LastUpdated.After(out[j].LastUpdated)
		}
		return strings.Compare(out[i].ID, out[j].ID) < 0
	})
	return out
}

// Len returns the number of sessions.
func (l *MemoryLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

// indexOf locates seq in edges. When seq has been trimmed it returns 0 and
// false, which makes a page after it empty.
func (s *memSession) indexOf(seq int64) (int, bool) {
	i := sort.Search(len(s.edges), func(i int) bool { return s.edges[i].Node.Seq >= seq })
	if i < len(s.edges) && s.edges[i].Node.Seq == seq {
		return i, true
	}
	return 0, false
}
