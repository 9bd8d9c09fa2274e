package transcript

import "fmt"

// Window is the materialized contiguous slice of a session's log. Edges are
// kept in fetch order: index 0 is the newest message, the last index the
// oldest. Window does no I/O and no locking; the Merger serializes access.
type Window struct {
	edges        []Edge
	index        map[string]struct{}
	initialized  bool
	hasOlder     bool
	oldestCursor Cursor
	totalCount   int
}

// NewWindow returns an empty, uninitialized Window.
func NewWindow() *Window {
	return &Window{index: make(map[string]struct{})}
}

// Initialize populates the Window from the first (newest) page. A Window is
// initialized at most once.
func (w *Window) Initialize(page Page) error {
	if w.initialized {
		return ErrAlreadyInitialized
	}
	seen := make(map[string]struct{}, len(page.Edges))
	for _, e := range page.Edges {
		if _, dup := seen[e.Node.ID]; dup {
			return fmt.Errorf("initialize: %w: %s", ErrDuplicateMessage, e.Node.ID)
		}
		seen[e.Node.ID] = struct{}{}
	}

	w.edges = append(make([]Edge, 0, len(page.Edges)), page.Edges...)
	w.index = seen
	w.initialized = true
	w.applyPageInfo(page)
	return nil
}

// PrependOlder merges an older page onto the old end of fetch order. None of
// the page's messages may already be present.
func (w *Window) PrependOlder(page Page) error {
	if !w.initialized {
		return ErrNotInitialized
	}
	for _, e := range page.Edges {
		if _, dup := w.index[e.Node.ID]; dup {
			return fmt.Errorf("prepend older: %w: %s", ErrDuplicateMessage, e.Node.ID)
		}
	}
	for _, e := range page.Edges {
		w.index[e.Node.ID] = struct{}{}
	}
	w.edges = append(w.edges, page.Edges...)
	w.applyPageInfo(page)
	return nil
}

// AppendNewest inserts msg as the new head of fetch order. It reports false
// and changes nothing when the ID is already present.
func (w *Window) AppendNewest(msg Message, cursor Cursor) bool {
	if _, dup := w.index[msg.ID]; dup {
		return false
	}
	w.index[msg.ID] = struct{}{}
	w.edges = append(w.edges, Edge{})
	copy(w.edges[1:], w.edges)
	w.edges[0] = Edge{Node: msg, Cursor: cursor}
	w.totalCount++
	return true
}

func (w *Window) applyPageInfo(page Page) {
	w.hasOlder = page.PageInfo.HasNextPage
	if page.PageInfo.EndCursor != "" {
		w.oldestCursor = page.PageInfo.EndCursor
	} else if n := len(page.Edges); n > 0 {
		w.oldestCursor = page.Edges[n-1].Cursor
	}
	w.totalCount = max(page.TotalCount, len(w.edges))
}

// ProjectDisplayOrder returns the messages oldest-first. It is the exact
// reverse of fetch order and never re-sorts by timestamp.
func (w *Window) ProjectDisplayOrder() []Message {
	out := make([]Message, len(w.edges))
	for i, e := range w.edges {
		out[len(w.edges)-1-i] = e.Node
	}
	return out
}

// FetchOrder returns a copy of the edges, newest-first.
func (w *Window) FetchOrder() []Edge {
	return append([]Edge(nil), w.edges...)
}

// Contains reports whether a message with the given ID is present.
func (w *Window) Contains(id string) bool {
	_, ok := w.index[id]
	return ok
}

func (w *Window) Len() int             { return len(w.edges) }
func (w *Window) Initialized() bool    { return w.initialized }
func (w *Window) HasOlder() bool       { return w.hasOlder }
func (w *Window) OldestCursor() Cursor { return w.oldestCursor }
func (w *Window) TotalCount() int      { return w.totalCount }

// oldest returns the oldest edge held, if any.
func (w *Window) oldest() (Edge, bool) {
	if len(w.edges) == 0 {
		return Edge{}, false
	}
	return w.edges[len(w.edges)-1], true
}
