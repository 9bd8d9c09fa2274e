package feed

import (
	"sync"

	"github.com/wethinkt/thinkt-browse/internal/transcript"
	"github.com/wethinkt/thinkt-browse/internal/tuilog"
)

// SessionPubSub fans live events out to the WebSocket subscribers of each
// session. Append events are addressed to every subscriber's connection ID.
type SessionPubSub struct {
	mu   sync.RWMutex
	subs map[string][]*subscriber
}

type subscriber struct {
	connID string
	ch     chan transcript.LiveEvent
	closed bool
}

// NewSessionPubSub creates a new pub/sub instance.
func NewSessionPubSub() *SessionPubSub {
	return &SessionPubSub{
		subs: make(map[string][]*subscriber),
	}
}

// Subscribe returns a channel that receives events for the given session on
// behalf of connection connID. Call the returned function to unsubscribe and
// close the channel.
func (ps *SessionPubSub) Subscribe(sessionID, connID string) (<-chan transcript.LiveEvent, func()) {
	ch := make(chan transcript.LiveEvent, 64)
	sub := &subscriber{connID: connID, ch: ch}

	ps.mu.Lock()
	ps.subs[sessionID] = append(ps.subs[sessionID], sub)
	ps.mu.Unlock()

	unsub := func() {
		ps.mu.Lock()
		defer ps.mu.Unlock()

		subs := ps.subs[sessionID]
		for i, s := range subs {
			if s == sub {
				ps.subs[sessionID] = append(subs[:i:i], subs[i+1:]...)
				if !s.closed {
					s.closed = true
					close(s.ch)
				}
				break
			}
		}
		if len(ps.subs[sessionID]) == 0 {
			delete(ps.subs, sessionID)
		}
	}

	return ch, unsub
}

// Publish sends events to all subscribers watching the given session.
// A subscriber whose buffer is full is cut off: its channel is closed, the
// WebSocket handler drops the connection, and the client pages in what it
// missed when it reconnects.
func (ps *SessionPubSub) Publish(sessionID string, events ...transcript.LiveEvent) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	for _, sub := range ps.subs[sessionID] {
		if sub.closed {
			continue
		}
		for _, ev := range events {
			if ev.Kind == transcript.KindAppend {
				ev.ConnectionID = sub.connID
			}
			select {
			case sub.ch <- ev:
				continue
			default:
			}
			tuilog.Log.Warn("Disconnecting slow WebSocket subscriber",
				"session_id", sessionID, "connection_id", sub.connID, "kind", ev.Kind)
			slowSubscribers.Inc()
			sub.closed = true
			close(sub.ch)
			break
		}
	}
}

// Subscribers returns the number of open subscriptions for a session.
func (ps *SessionPubSub) Subscribers(sessionID string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.subs[sessionID])
}
