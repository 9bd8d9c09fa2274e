package transcript

import (
	"context"
	"errors"

	"github.com/wethinkt/thinkt-browse/internal/tuilog"
)

// maxCatchUpPages bounds how far back a catch-up pages before the view falls
// back to a reload.
const maxCatchUpPages = 10

// Fetcher is the consumed fetch protocol.
type Fetcher interface {
	FetchPage(ctx context.Context, req PageRequest) (Page, error)
}

// PagerState is the state of the pagination controller.
type PagerState int

const (
	PagerIdle PagerState = iota
	PagerLoading
	PagerExhausted
)

func (s PagerState) String() string {
	switch s {
	case PagerIdle:
		return "idle"
	case PagerLoading:
		return "loading"
	case PagerExhausted:
		return "exhausted"
	}
	return "unknown"
}

// Pager drives page fetches for one session view. At most one fetch is in
// flight: requests made while Loading are dropped, not queued.
type Pager struct {
	gate     *gate
	fetcher  Fetcher
	pageSize int

	// guarded by gate.mu
	state   PagerState
	lastErr error
}

func newPager(g *gate, f Fetcher, pageSize int) *Pager {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Pager{gate: g, fetcher: f, pageSize: pageSize}
}

// State returns the current pager state.
func (p *Pager) State() PagerState {
	p.gate.mu.Lock()
	defer p.gate.mu.Unlock()
	return p.state
}

// Err returns the error of the last failed load, cleared when the next load
// starts.
func (p *Pager) Err() error {
	p.gate.mu.Lock()
	defer p.gate.mu.Unlock()
	return p.lastErr
}

// epoch returns the Window generation, bumped by every reload.
func (p *Pager) epoch() uint64 {
	p.gate.mu.Lock()
	defer p.gate.mu.Unlock()
	return p.gate.epoch
}

// CanLoadOlder reports whether RequestOlder would issue a fetch right now.
func (p *Pager) CanLoadOlder() bool {
	p.gate.mu.Lock()
	defer p.gate.mu.Unlock()
	return p.canLoadOlderLocked()
}

func (p *Pager) canLoadOlderLocked() bool {
	w := p.gate.merger.Window()
	return !p.gate.closed && p.state == PagerIdle && w.Initialized() && w.HasOlder()
}

// LoadInitial fetches the newest page and initializes the Window with it.
// Live appends buffered while the Window was empty are replayed afterwards.
// It may be retried after a failure.
func (p *Pager) LoadInitial(ctx context.Context) error {
	g := p.gate
	g.mu.Lock()
	switch {
	case g.closed:
		g.mu.Unlock()
		return ErrClosed
	case g.merger.Window().Initialized():
		g.mu.Unlock()
		return ErrAlreadyInitialized
	case p.state == PagerLoading:
		g.mu.Unlock()
		return nil
	}
	req := PageRequest{SessionID: g.sessionID, PageSize: p.pageSize}
	epoch := p.begin()
	g.mu.Unlock()
	g.changed()

	page, err := p.fetcher.FetchPage(ctx, req)
	err = p.finish(epoch, req, page, err, func(page Page) error {
		return g.merger.MergeInitial(page)
	})
	if err != nil {
		return err
	}

	// The live channel came back while this page was in flight.
	g.mu.Lock()
	again := g.catchUpAfterInit
	g.catchUpAfterInit = false
	g.mu.Unlock()
	if again {
		if complete, err := p.catchUp(ctx); err != nil || !complete {
			tuilog.Log.Warn("Catch-up after initial load incomplete", "session_id", req.SessionID, "error", err)
		}
	}
	return nil
}

// RequestOlder fetches the next older page using the Window's oldest cursor.
// It reports false without doing anything unless the pager is Idle and the
// Window has older history. A failure leaves the Window untouched and is
// returned as well as kept for the presentation layer.
func (p *Pager) RequestOlder(ctx context.Context) (bool, error) {
	g := p.gate
	g.mu.Lock()
	if !p.canLoadOlderLocked() {
		g.mu.Unlock()
		return false, nil
	}
	req := PageRequest{
		SessionID: g.sessionID,
		PageSize:  p.pageSize,
		After:     g.merger.Window().OldestCursor(),
	}
	epoch := p.begin()
	g.mu.Unlock()
	g.changed()

	page, err := p.fetcher.FetchPage(ctx, req)
	return true, p.finish(epoch, req, page, err, func(page Page) error {
		return g.merger.MergeOlder(page)
	})
}

// catchUp pages back from the newest message until it reaches the Window's
// head, then appends the messages in between oldest first. It fills the gap
// left by a live channel that was disconnected. It reports false when no
// known message was found within maxCatchUpPages; the Window is unchanged in
// that case. Catch-up does not use the Pager state, so it may overlap a
// backward load.
func (p *Pager) catchUp(ctx context.Context) (bool, error) {
	g := p.gate
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false, ErrClosed
	}
	if !g.merger.Window().Initialized() {
		// The initial load will pick this up once it lands.
		g.catchUpAfterInit = true
		g.mu.Unlock()
		return true, nil
	}
	epoch := g.epoch
	g.mu.Unlock()

	var missing []Edge // newest-first
	var after Cursor
	for range maxCatchUpPages {
		req := PageRequest{SessionID: g.sessionID, PageSize: p.pageSize, After: after}
		page, err := p.fetcher.FetchPage(ctx, req)
		if err != nil {
			pagesFetched.WithLabelValues("error").Inc()
			return false, &FetchError{SessionID: g.sessionID, After: after, Err: err}
		}

		g.mu.Lock()
		if err := g.merger.validate(page, false); err != nil {
			g.mu.Unlock()
			pagesFetched.WithLabelValues("protocol").Inc()
			return false, err
		}
		reached := false
		for _, e := range page.Edges {
			if g.merger.Window().Contains(e.Node.ID) {
				reached = true
				break
			}
			missing = append(missing, e)
		}
		g.mu.Unlock()
		pagesFetched.WithLabelValues("catch_up").Inc()

		if reached || !page.PageInfo.HasNextPage {
			p.appendMissing(epoch, missing)
			return true, nil
		}
		after = page.PageInfo.EndCursor
	}
	return false, nil
}

func (p *Pager) appendMissing(epoch uint64, missing []Edge) {
	g := p.gate
	g.mu.Lock()
	if g.closed || g.epoch != epoch {
		g.mu.Unlock()
		return
	}
	merged := 0
	for i := len(missing) - 1; i >= 0; i-- {
		if g.merger.MergeLive(missing[i].Node, missing[i].Cursor) {
			merged++
		}
	}
	g.mu.Unlock()

	tuilog.Log.Info("Caught up after reconnect", "session_id", g.sessionID, "merged", merged)
	if merged > 0 {
		g.changed()
	}
}

// begin moves to Loading. Must be called with gate.mu held.
func (p *Pager) begin() uint64 {
	p.state = PagerLoading
	p.lastErr = nil
	return p.gate.epoch
}

func (p *Pager) finish(epoch uint64, req PageRequest, page Page, fetchErr error, merge func(Page) error) error {
	g := p.gate
	g.mu.Lock()

	if g.closed || g.epoch != epoch {
		g.mu.Unlock()
		pagesFetched.WithLabelValues("stale").Inc()
		tuilog.Log.Debug("Discarded stale page", "session_id", req.SessionID, "after", req.After)
		return nil
	}

	var err error
	switch {
	case fetchErr != nil:
		err = &FetchError{SessionID: req.SessionID, After: req.After, Err: fetchErr}
		pagesFetched.WithLabelValues("error").Inc()
		tuilog.Log.Warn("Page fetch failed", "session_id", req.SessionID, "after", req.After, "error", fetchErr)
	default:
		if mergeErr := merge(page); mergeErr != nil {
			err = mergeErr
			var pe *ProtocolError
			if errors.As(mergeErr, &pe) {
				pagesFetched.WithLabelValues("protocol").Inc()
				tuilog.Log.Error("Rejected page", "kind", "protocol", "session_id", req.SessionID, "error", mergeErr)
			} else {
				pagesFetched.WithLabelValues("error").Inc()
				tuilog.Log.Error("Page merge failed", "session_id", req.SessionID, "error", mergeErr)
			}
		} else {
			pagesFetched.WithLabelValues("ok").Inc()
			if req.After == "" {
				g.replayPendingLocked()
			}
		}
	}

	p.lastErr = err
	p.state = PagerIdle
	if w := g.merger.Window(); w.Initialized() && !w.HasOlder() {
		p.state = PagerExhausted
	}
	g.mu.Unlock()
	g.changed()
	return err
}

// reset returns the pager to Idle for a fresh Window. Must be called with
// gate.mu held.
func (p *Pager) reset() {
	p.state = PagerIdle
	p.lastErr = nil
}
