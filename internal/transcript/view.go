package transcript

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/wethinkt/thinkt-browse/internal/tuilog"
)

// maxPendingLive bounds the live appends held back while the initial page is
// in flight.
const maxPendingLive = 256

// gate serializes every mutation of one session's Window. Fetch I/O happens
// outside the lock; only merges and state transitions run under it.
type gate struct {
	sessionID string
	connID    string

	mu      sync.Mutex
	merger  *Merger
	epoch   uint64 // bumped on Reload; fetches from an older epoch are discarded
	closed  bool
	pending []Edge

	catchUpAfterInit bool // a catch-up was requested before the Window existed

	refreshGen      uint64
	refreshedFacets []Facet

	notify chan struct{}
}

// changed signals a new snapshot without blocking. Signals coalesce.
func (g *gate) changed() {
	select {
	case g.notify <- struct{}{}:
	default:
	}
}

// admitLive merges a live append, or holds it until the Window has been
// initialized.
func (g *gate) admitLive(msg Message, cursor Cursor) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	if !g.merger.Window().Initialized() {
		if len(g.pending) >= maxPendingLive {
			tuilog.Log.Warn("Live buffer full, dropping oldest held append",
				"session_id", g.sessionID, "message_id", g.pending[0].Node.ID)
			g.pending = g.pending[1:]
		}
		g.pending = append(g.pending, Edge{Node: msg, Cursor: cursor})
		g.mu.Unlock()
		return
	}
	ok := g.merger.MergeLive(msg, cursor)
	g.mu.Unlock()
	if ok {
		g.changed()
	}
}

// replayPendingLocked merges held live appends in arrival order. Must be
// called with mu held, right after the initial page has been merged.
func (g *gate) replayPendingLocked() {
	if len(g.pending) == 0 {
		return
	}
	merged := 0
	for _, e := range g.pending {
		if g.merger.MergeLive(e.Node, e.Cursor) {
			merged++
		}
	}
	tuilog.Log.Debug("Replayed held live appends", "session_id", g.sessionID,
		"held", len(g.pending), "merged", merged)
	g.pending = nil
}

// Options configures a SessionView.
type Options struct {
	SessionID string
	Fetcher   Fetcher
	Channel   Channel // optional; nil means pagination only

	PageSize       int
	CoalesceWindow time.Duration
	Clock          Clock

	// OnRefresh is called after each coalesced invalidation flush, outside
	// any lock, with the facets that changed.
	OnRefresh func([]Facet)
}

// SessionView is the synchronization engine for one open session. It wires
// the Window, Merger, Pager, live adapter and coalescer together and exposes
// snapshots to the presentation layer.
type SessionView struct {
	gate      *gate
	pager     *Pager
	live      *LiveAdapter
	coalescer *Coalescer
	onRefresh func([]Facet)
}

// NewSessionView builds a view for opts.SessionID. Nothing is fetched until
// Start is called.
func NewSessionView(opts Options) (*SessionView, error) {
	if opts.SessionID == "" {
		return nil, errors.New("session id is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	connID, err := NewConnectionID(time.Time{})
	if err != nil {
		return nil, err
	}

	g := &gate{
		sessionID: opts.SessionID,
		connID:    connID,
		merger:    NewMerger(opts.SessionID, NewWindow()),
		notify:    make(chan struct{}, 1),
	}
	v := &SessionView{gate: g, onRefresh: opts.OnRefresh}
	v.pager = newPager(g, opts.Fetcher, opts.PageSize)
	v.coalescer = NewCoalescer(opts.Clock, opts.CoalesceWindow, v.flush)
	v.live = newLiveAdapter(g, opts.Channel, v.coalescer, v.catchUp)
	return v, nil
}

// Start subscribes to the live channel and then loads the newest page.
// Subscribing first leaves no gap between the page and the live stream;
// appends that arrive early are held and replayed. A channel failure is
// logged and does not fail Start. The returned error is the initial load's.
func (v *SessionView) Start(ctx context.Context) error {
	tuilog.Log.Info("Opening session view", "session_id", v.gate.sessionID, "connection_id", v.gate.connID)
	v.live.Start(ctx)
	return v.pager.LoadInitial(ctx)
}

// SessionID returns the session this view follows.
func (v *SessionView) SessionID() string { return v.gate.sessionID }

// ConnectionID returns the identifier sent with the live subscription.
func (v *SessionView) ConnectionID() string { return v.gate.connID }

// Pager returns the pagination controller.
func (v *SessionView) Pager() *Pager { return v.pager }

// NewAnchor returns a scroll anchor bound to this view's pager.
func (v *SessionView) NewAnchor(vp Viewport) *Anchor { return NewAnchor(v.pager, vp) }

// Changes delivers a signal whenever the snapshot may have changed. Signals
// are coalesced; read Snapshot after each one.
func (v *SessionView) Changes() <-chan struct{} { return v.gate.notify }

// Snapshot returns the current read-only projection.
func (v *SessionView) Snapshot() Snapshot {
	isLive := v.live.IsLive()

	g := v.gate
	g.mu.Lock()
	defer g.mu.Unlock()
	w := g.merger.Window()
	return Snapshot{
		SessionID:         g.sessionID,
		ConnectionID:      g.connID,
		Messages:          w.ProjectDisplayOrder(),
		HasOlder:          w.HasOlder(),
		IsLoadingOlder:    v.pager.state == PagerLoading && w.Initialized(),
		LoadError:         v.pager.lastErr,
		IsLive:            isLive,
		TotalCount:        w.TotalCount(),
		RefreshGeneration: g.refreshGen,
		RefreshedFacets:   slices.Clone(g.refreshedFacets),
	}
}

// Reload drops the Window and loads the newest page again. Any fetch still in
// flight is discarded when it returns. The live subscription is kept.
func (v *SessionView) Reload(ctx context.Context) error {
	g := v.gate
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	g.epoch++
	g.merger = NewMerger(g.sessionID, NewWindow())
	g.pending = nil
	g.catchUpAfterInit = false
	v.pager.reset()
	g.mu.Unlock()
	g.changed()

	tuilog.Log.Info("Reloading session view", "session_id", g.sessionID)
	return v.pager.LoadInitial(ctx)
}

// Close stops the live subscription and the coalescer. Fetches that complete
// afterwards are discarded.
func (v *SessionView) Close() error {
	g := v.gate
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.pending = nil
	g.mu.Unlock()

	err := v.live.Close()
	v.coalescer.Stop()
	tuilog.Log.Info("Closed session view", "session_id", g.sessionID)
	return err
}

// catchUp fills the gap a reconnected live channel left. A gap too wide to
// page through is resolved by reloading the newest page.
func (v *SessionView) catchUp(ctx context.Context) error {
	complete, err := v.pager.catchUp(ctx)
	if err != nil || complete {
		return err
	}
	tuilog.Log.Warn("Live gap too wide to page through, reloading", "session_id", v.gate.sessionID)
	return v.Reload(ctx)
}

func (v *SessionView) flush(facets []Facet) {
	g := v.gate
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.refreshGen++
	g.refreshedFacets = facets
	gen := g.refreshGen
	g.mu.Unlock()

	tuilog.Log.Debug("Coalesced refresh", "session_id", g.sessionID, "generation", gen, "facets", facets)
	g.changed()
	if v.onRefresh != nil {
		v.onRefresh(facets)
	}
}
