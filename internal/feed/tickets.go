package feed

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wethinkt/thinkt-browse/internal/transcript"
)

const defaultGrantTTL = 30 * time.Second

// Grant is a single-use permission to open one session's live channel as one
// connection. Clients that cannot set an Authorization header on a WebSocket
// dial exchange their bearer token for a grant and pass its ticket as
// ?ticket=.
type Grant struct {
	Ticket       string    `json:"ticket"`
	SessionID    string    `json:"session_id"`
	ConnectionID string    `json:"connection_id"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// TicketStore holds outstanding grants until they are redeemed or expire.
type TicketStore struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	grants map[string]Grant
}

// NewTicketStore creates an empty store with a 30 s grant lifetime.
func NewTicketStore() *TicketStore {
	return &TicketStore{
		ttl:    defaultGrantTTL,
		now:    time.Now,
		grants: make(map[string]Grant),
	}
}

// Issue grants access to sessionID. connID names the connection the grant is
// for; when empty a fresh connection ID is assigned. The ticket and the
// connection ID are distinct ULIDs, so a ticket never leaks into event
// addressing.
func (ts *TicketStore) Issue(sessionID, connID string) (Grant, error) {
	now := ts.now()
	if connID == "" {
		id, err := transcript.NewConnectionID(now)
		if err != nil {
			return Grant{}, err
		}
		connID = id
	}
	ticket, err := ulid.New(ulid.Timestamp(now), ulid.DefaultEntropy())
	if err != nil {
		return Grant{}, err
	}

	g := Grant{
		Ticket:       ticket.String(),
		SessionID:    sessionID,
		ConnectionID: connID,
		ExpiresAt:    now.Add(ts.ttl),
	}
	ts.mu.Lock()
	ts.grants[g.Ticket] = g
	ts.mu.Unlock()
	return g, nil
}

// Redeem burns ticket and returns its grant if it is unexpired and was issued
// for sessionID.
func (ts *TicketStore) Redeem(ticket, sessionID string) (Grant, bool) {
	ts.mu.Lock()
	g, ok := ts.grants[ticket]
	delete(ts.grants, ticket)
	ts.mu.Unlock()

	if !ok || ts.now().After(g.ExpiresAt) || g.SessionID != sessionID {
		return Grant{}, false
	}
	return g, true
}

// Cleanup drops expired grants and reports how many were removed.
func (ts *TicketStore) Cleanup() int {
	now := ts.now()
	ts.mu.Lock()
	defer ts.mu.Unlock()

	removed := 0
	for k, g := range ts.grants {
		if now.After(g.ExpiresAt) {
			delete(ts.grants, k)
			removed++
		}
	}
	return removed
}
