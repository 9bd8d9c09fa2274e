package transcript

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wethinkt/thinkt-browse/internal/tuilog"
)

// Channel is the consumed live push protocol.
type Channel interface {
	Subscribe(ctx context.Context, req SubscribeRequest) (Subscription, error)
}

// SubscribeRequest addresses a subscription to one session view.
type SubscribeRequest struct {
	SessionID    string
	ConnectionID string
}

// Subscription is an open live feed. Events is closed when the feed ends;
// Err then reports why (nil after Close or context cancellation). A transport
// that reconnects on its own reports KindLinkDown and KindLinkUp on Events,
// in order with the frames it delivers.
type Subscription interface {
	Events() <-chan LiveEvent
	Err() error
	Close() error
}

// Validate checks the structural rules of a live frame.
func (e LiveEvent) Validate() error {
	if e.V != "" && e.V != ProtocolVersion {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	switch e.Kind {
	case KindAppend:
		if e.Node == nil {
			return fmt.Errorf("append without node")
		}
		if e.Node.ID == "" {
			return fmt.Errorf("append node without id")
		}
		if e.Cursor == "" {
			return fmt.Errorf("append %s without cursor", e.Node.ID)
		}
	case KindInvalidate:
		if !e.Facet.Valid() {
			return fmt.Errorf("invalidate with unknown facet %q", e.Facet)
		}
	case "":
		return fmt.Errorf("missing field: kind")
	default:
		return fmt.Errorf("unknown kind: %q", e.Kind)
	}
	return nil
}

// Delays between catch-up attempts after a reconnect.
const (
	catchUpBaseDelay = 250 * time.Millisecond
	catchUpMaxDelay  = 5 * time.Second
)

// LiveAdapter owns the live subscription of one session view. Full-node
// appends go straight through the merge gate; invalidation pointers are
// coalesced into a single refresh. While the transport is reconnecting the
// view is offline; once it is back, the messages published in between are
// paged in before any newer event is merged. A failing channel is logged and
// dropped, leaving the view on pagination only.
type LiveAdapter struct {
	gate      *gate
	channel   Channel
	coalescer *Coalescer
	catchUp   func(context.Context) error

	mu     sync.Mutex
	live   bool
	sub    Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

func newLiveAdapter(g *gate, ch Channel, c *Coalescer, catchUp func(context.Context) error) *LiveAdapter {
	return &LiveAdapter{gate: g, channel: ch, coalescer: c, catchUp: catchUp}
}

// IsLive reports whether the subscription is currently delivering.
func (a *LiveAdapter) IsLive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

// Start subscribes once. Failures are logged and leave the adapter offline.
func (a *LiveAdapter) Start(ctx context.Context) {
	if a.channel == nil {
		return
	}
	a.mu.Lock()
	if a.done != nil {
		a.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.mu.Unlock()

	req := SubscribeRequest{SessionID: a.gate.sessionID, ConnectionID: a.gate.connID}
	sub, err := a.channel.Subscribe(ctx, req)
	if err != nil {
		close(a.done)
		a.fail(&ChannelError{SessionID: req.SessionID, Err: err})
		return
	}

	a.mu.Lock()
	a.sub = sub
	a.mu.Unlock()
	tuilog.Log.Info("Live channel connected", "session_id", req.SessionID, "connection_id", req.ConnectionID)
	a.setLive(true)

	go a.run(ctx, sub)
}

// setLive records connectivity and signals a change on transitions.
func (a *LiveAdapter) setLive(live bool) {
	a.mu.Lock()
	was := a.live
	a.live = live
	a.mu.Unlock()
	if was == live {
		return
	}
	if live {
		liveSessions.Inc()
	} else {
		liveSessions.Dec()
	}
	a.gate.changed()
}

func (a *LiveAdapter) run(ctx context.Context, sub Subscription) {
	defer close(a.done)
	for ev := range sub.Events() {
		switch ev.Kind {
		case KindLinkDown:
			tuilog.Log.Warn("Live channel interrupted", "session_id", a.gate.sessionID)
			a.setLive(false)
		case KindLinkUp:
			if !a.resync(ctx) {
				continue
			}
			a.setLive(true)
		default:
			a.handle(ev)
		}
	}
	a.setLive(false)

	if ctx.Err() != nil {
		return
	}
	err := sub.Err()
	if err == nil {
		err = fmt.Errorf("subscription ended")
	}
	a.fail(&ChannelError{SessionID: a.gate.sessionID, Err: err})
}

// resync runs the catch-up until it succeeds. Newer events wait in the
// transport meanwhile, so they are merged after the gap is filled. It reports
// false when the view or the subscription went away first.
func (a *LiveAdapter) resync(ctx context.Context) bool {
	if a.catchUp == nil {
		return true
	}
	delay := catchUpBaseDelay
	for {
		err := a.catchUp(ctx)
		if err == nil {
			return true
		}
		if ctx.Err() != nil || errors.Is(err, ErrClosed) {
			return false
		}
		tuilog.Log.Warn("Catch-up after reconnect failed", "session_id", a.gate.sessionID,
			"retry_in", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false
		}
		delay = min(delay*2, catchUpMaxDelay)
	}
}

func (a *LiveAdapter) fail(err *ChannelError) {
	a.setLive(false)
	tuilog.Log.Warn("Live channel unavailable, continuing with pagination only",
		"session_id", err.SessionID, "error", err.Err)
	a.gate.changed()
}

func (a *LiveAdapter) handle(ev LiveEvent) {
	if err := ev.Validate(); err != nil {
		liveEvents.WithLabelValues("invalid").Inc()
		tuilog.Log.Error("Dropped live event", "kind", "protocol", "session_id", a.gate.sessionID, "error", err)
		return
	}

	liveEvents.WithLabelValues(ev.Kind).Inc()

	switch ev.Kind {
	case KindAppend:
		if ev.ConnectionID != "" && ev.ConnectionID != a.gate.connID {
			tuilog.Log.Debug("Dropped append for another connection",
				"session_id", a.gate.sessionID, "connection_id", ev.ConnectionID)
			return
		}
		a.gate.admitLive(*ev.Node, ev.Cursor)
	case KindInvalidate:
		if ev.SessionID != "" && ev.SessionID != a.gate.sessionID {
			return
		}
		a.coalescer.Trigger(ev.Facet)
	}
}

// Close tears the subscription down and waits for the delivery goroutine.
func (a *LiveAdapter) Close() error {
	a.mu.Lock()
	cancel, sub, done := a.cancel, a.sub, a.done
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if sub != nil {
		err = sub.Close()
	}
	if done != nil {
		<-done
	}
	a.coalescer.Stop()
	return err
}
