package transcript

import (
	"context"
	"sync"
)

// Viewport is the scrollable surface the anchor controls. Extent and offset
// are in the same unit (rows for the terminal UI).
type Viewport interface {
	ContentExtent() int
	ScrollOffset() int
	SetScrollOffset(offset int)
	ScrollToEnd()
}

// Anchor keeps the visible message fixed while older history is prepended.
// It records the content extent before a backward load and, once the new
// content has been laid out, shifts the offset by the growth.
type Anchor struct {
	pager *Pager
	vp    Viewport

	mu                sync.Mutex
	epoch             uint64 // Window generation the state below belongs to
	initialScrollDone bool
	inFlight          bool
	priorExtent       int
}

// NewAnchor binds an anchor to a pager and a viewport.
func NewAnchor(p *Pager, vp Viewport) *Anchor {
	return &Anchor{pager: p, vp: vp, epoch: p.epoch()}
}

// Reset forgets the initial scroll and any recorded load, as for a new
// Window. Reloading the view resets its anchors implicitly.
func (a *Anchor) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked(a.pager.epoch())
}

func (a *Anchor) resetLocked(epoch uint64) {
	a.epoch = epoch
	a.initialScrollDone = false
	a.inFlight = false
	a.priorExtent = 0
}

// syncLocked resets the anchor when the view has been reloaded since the
// state was recorded. Must be called with mu held.
func (a *Anchor) syncLocked() {
	if e := a.pager.epoch(); e != a.epoch {
		a.resetLocked(e)
	}
}

// Populated scrolls to the newest message the first time the Window has
// content. Later calls do nothing until the view is reloaded.
func (a *Anchor) Populated(count int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.syncLocked()
	if a.initialScrollDone || count == 0 {
		return
	}
	a.initialScrollDone = true
	a.vp.ScrollToEnd()
}

// InitialScrollDone reports whether the view has been scrolled to its end
// once.
func (a *Anchor) InitialScrollDone() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.syncLocked()
	return a.initialScrollDone
}

// BeginLoad records the current extent when a backward load can start. It
// reports false when the pager cannot load or a load is already anchored.
func (a *Anchor) BeginLoad() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.syncLocked()
	if a.inFlight || !a.pager.CanLoadOlder() {
		return false
	}
	a.inFlight = true
	a.priorExtent = a.vp.ContentExtent()
	return true
}

// LoadOlder runs the backward load recorded by BeginLoad. If the pager
// declined to start, the recorded extent is discarded.
func (a *Anchor) LoadOlder(ctx context.Context) error {
	started, err := a.pager.RequestOlder(ctx)
	if !started {
		a.mu.Lock()
		a.inFlight = false
		a.mu.Unlock()
	}
	return err
}

// NearStart is the trigger for a user reaching the start of the content:
// BeginLoad followed by LoadOlder. Call Settle after the new content has been
// rendered into the viewport.
func (a *Anchor) NearStart(ctx context.Context) error {
	if !a.BeginLoad() {
		return nil
	}
	return a.LoadOlder(ctx)
}

// Pending reports whether an extent is recorded and waiting for Settle.
func (a *Anchor) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.syncLocked()
	return a.inFlight
}

// Settle applies the recorded correction after the viewport has been
// re-rendered. It is a no-op while the load is still running. It returns the
// offset delta applied; a failed or empty load yields zero.
func (a *Anchor) Settle() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.syncLocked()
	if !a.inFlight || a.pager.State() == PagerLoading {
		return 0
	}
	a.inFlight = false
	delta := a.vp.ContentExtent() - a.priorExtent
	if delta <= 0 {
		return 0
	}
	a.vp.SetScrollOffset(a.vp.ScrollOffset() + delta)
	return delta
}
