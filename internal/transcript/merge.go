package transcript

import "github.com/wethinkt/thinkt-browse/internal/tuilog"

// Source labels where a candidate message came from.
type Source string

const (
	SourceInitial Source = "initial"
	SourceOlder   Source = "older"
	SourceLive    Source = "live"
)

// Merger is the only writer of a Window. Every candidate message, whether it
// came from a fetched page or the live channel, passes ShouldAdmit first, so
// a message the user just paged in and a redelivered live event collapse to
// one copy. Merger is not safe for concurrent use; SessionView holds the lock.
type Merger struct {
	sessionID string
	window    *Window
}

// NewMerger returns a Merger guarding w for the given session.
func NewMerger(sessionID string, w *Window) *Merger {
	return &Merger{sessionID: sessionID, window: w}
}

// Window returns the guarded window for reading.
func (m *Merger) Window() *Window { return m.window }

// ShouldAdmit reports whether msg is new to the Window and belongs to this
// session.
func (m *Merger) ShouldAdmit(msg Message) bool {
	if msg.ID == "" {
		return false
	}
	if msg.SessionID != "" && msg.SessionID != m.sessionID {
		return false
	}
	return !m.window.Contains(msg.ID)
}

// MergeInitial validates the first page and initializes the Window with it.
func (m *Merger) MergeInitial(page Page) error {
	if err := m.validate(page, false); err != nil {
		return err
	}
	page.Edges = m.filter(page.Edges, SourceInitial)
	return m.window.Initialize(page)
}

// MergeOlder validates a backward page, drops messages the Window already
// holds, and merges the rest onto the old end.
func (m *Merger) MergeOlder(page Page) error {
	if !m.window.Initialized() {
		return ErrNotInitialized
	}
	if err := m.validate(page, true); err != nil {
		return err
	}
	page.Edges = m.filter(page.Edges, SourceOlder)
	return m.window.PrependOlder(page)
}

// MergeLive admits a single live-appended message as the newest entry. It
// reports whether the Window changed.
func (m *Merger) MergeLive(msg Message, cursor Cursor) bool {
	if !m.ShouldAdmit(msg) {
		duplicatesDropped.WithLabelValues(string(SourceLive)).Inc()
		tuilog.Log.Debug("Dropped live message", "session_id", m.sessionID, "message_id", msg.ID)
		return false
	}
	return m.window.AppendNewest(msg, cursor)
}

// filter removes edges that are already known, including repeats inside the
// page itself.
func (m *Merger) filter(edges []Edge, src Source) []Edge {
	out := make([]Edge, 0, len(edges))
	seen := make(map[string]struct{}, len(edges))
	for _, e := range edges {
		if _, dup := seen[e.Node.ID]; dup || !m.ShouldAdmit(e.Node) {
			duplicatesDropped.WithLabelValues(string(src)).Inc()
			continue
		}
		seen[e.Node.ID] = struct{}{}
		out = append(out, e)
	}
	if dropped := len(edges) - len(out); dropped > 0 {
		tuilog.Log.Debug("Dropped known messages from page", "session_id", m.sessionID,
			"source", src, "dropped", dropped)
	}
	return out
}

// validate checks a fetched page against the fetch protocol: every edge has
// an ID and a cursor, a continuing page names its end cursor, and the page is
// newest-first and strictly older than what the Window already holds.
func (m *Merger) validate(page Page, older bool) error {
	if page.PageInfo.HasNextPage && page.PageInfo.EndCursor == "" {
		return protocolErrorf(m.sessionID, "hasNextPage without endCursor")
	}
	var prev int64
	for i, e := range page.Edges {
		if e.Node.ID == "" {
			return protocolErrorf(m.sessionID, "edge %d has no message id", i)
		}
		if e.Cursor == "" {
			return protocolErrorf(m.sessionID, "edge %d (%s) has no cursor", i, e.Node.ID)
		}
		if e.Node.Seq != 0 && prev != 0 && e.Node.Seq >= prev {
			return protocolErrorf(m.sessionID, "page not newest-first at edge %d (seq %d after %d)", i, e.Node.Seq, prev)
		}
		if e.Node.Seq != 0 {
			prev = e.Node.Seq
		}
	}
	if !older {
		return nil
	}

	// Only unknown messages must be older; known ones are dropped by filter.
	if oldest, ok := m.window.oldest(); ok && oldest.Node.Seq != 0 {
		for _, e := range page.Edges {
			if m.window.Contains(e.Node.ID) {
				continue
			}
			if e.Node.Seq != 0 && e.Node.Seq >= oldest.Node.Seq {
				return protocolErrorf(m.sessionID, "older page starts at seq %d, window oldest is %d", e.Node.Seq, oldest.Node.Seq)
			}
			break
		}
	}
	if page.PageInfo.HasNextPage && page.PageInfo.EndCursor == m.window.OldestCursor() {
		return protocolErrorf(m.sessionID, "older page did not advance past cursor %s", page.PageInfo.EndCursor)
	}
	return nil
}
