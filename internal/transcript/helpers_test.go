package transcript

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// testMsg returns message seq of session s1. Higher seq is newer.
func testMsg(seq int64) Message {
	return Message{
		ID:        fmt.Sprintf("m%d", seq),
		SessionID: "s1",
		Seq:       seq,
		Timestamp: testEpoch.Add(time.Duration(seq) * time.Minute),
		Role:      "user",
		Text:      fmt.Sprintf("message %d", seq),
	}
}

func testEdge(seq int64) Edge {
	m := testMsg(seq)
	return Edge{Node: m, Cursor: EncodeCursor(m.Timestamp, m.ID)}
}

// testPage returns messages newest..oldest (inclusive), newest-first, as the
// server would for a log of total messages.
func testPage(newest, oldest int64, total int) Page {
	var p Page
	for seq := newest; seq >= oldest; seq-- {
		p.Edges = append(p.Edges, testEdge(seq))
	}
	p.TotalCount = total
	if oldest > 1 {
		p.PageInfo = PageInfo{HasNextPage: true, EndCursor: p.Edges[len(p.Edges)-1].Cursor}
	}
	return p
}

// pagedLog splits a log of n messages into pages of size, keyed by the
// cursor used to request them.
func pagedLog(n, size int) map[Cursor]Page {
	pages := make(map[Cursor]Page)
	var after Cursor
	for newest := int64(n); newest >= 1; newest -= int64(size) {
		oldest := max(newest-int64(size)+1, 1)
		p := testPage(newest, oldest, n)
		pages[after] = p
		after = p.PageInfo.EndCursor
	}
	return pages
}

func displayIDs(msgs []Message) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// fakeFetcher serves pages from a map keyed by the request cursor. When
// blockOlder is set, backward fetches wait on it.
type fakeFetcher struct {
	mu         sync.Mutex
	pages      map[Cursor]Page
	err        error
	calls      []PageRequest
	blockOlder chan struct{}
	started    chan PageRequest
}

func (f *fakeFetcher) FetchPage(ctx context.Context, req PageRequest) (Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	block := f.blockOlder
	started := f.started
	f.mu.Unlock()

	if started != nil {
		started <- req
	}
	if block != nil && req.After != "" {
		select {
		case <-block:
		case <-ctx.Done():
			return Page{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Page{}, f.err
	}
	page, ok := f.pages[req.After]
	if !ok {
		return Page{}, fmt.Errorf("no page after %q", req.After)
	}
	return page, nil
}

func (f *fakeFetcher) setPages(pages map[Cursor]Page) {
	f.mu.Lock()
	f.pages = pages
	f.mu.Unlock()
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeFetcher) olderCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.After != "" {
			n++
		}
	}
	return n
}

// fakeChannel hands out one fakeSubscription per Subscribe call.
type fakeChannel struct {
	mu   sync.Mutex
	subs []*fakeSubscription
	err  error
}

func (c *fakeChannel) Subscribe(ctx context.Context, req SubscribeRequest) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	s := &fakeSubscription{req: req, events: make(chan LiveEvent, 64)}
	c.subs = append(c.subs, s)
	return s, nil
}

func (c *fakeChannel) last() *fakeSubscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subs) == 0 {
		return nil
	}
	return c.subs[len(c.subs)-1]
}

type fakeSubscription struct {
	req    SubscribeRequest
	events chan LiveEvent

	mu   sync.Mutex
	err  error
	once sync.Once
}

func (s *fakeSubscription) Events() <-chan LiveEvent { return s.events }

func (s *fakeSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSubscription) Close() error {
	s.once.Do(func() { close(s.events) })
	return nil
}

// fail ends the subscription with err, as a dropped connection would.
func (s *fakeSubscription) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.Close()
}

func (s *fakeSubscription) appendMsg(m Message) {
	s.events <- LiveEvent{
		V:            ProtocolVersion,
		Kind:         KindAppend,
		Node:         &m,
		Cursor:       EncodeCursor(m.Timestamp, m.ID),
		ConnectionID: s.req.ConnectionID,
	}
}

// link reports a transport connectivity change.
func (s *fakeSubscription) link(kind string) {
	s.events <- LiveEvent{Kind: kind}
}

func (s *fakeSubscription) invalidate(f Facet) {
	s.events <- LiveEvent{V: ProtocolVersion, Kind: KindInvalidate, SessionID: s.req.SessionID, Facet: f}
}

type fakeViewport struct {
	extent      int
	offset      int
	scrollToEnd int
}

func (v *fakeViewport) ContentExtent() int   { return v.extent }
func (v *fakeViewport) ScrollOffset() int    { return v.offset }
func (v *fakeViewport) SetScrollOffset(o int) { v.offset = o }
func (v *fakeViewport) ScrollToEnd() {
	v.scrollToEnd++
	v.offset = v.extent
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func newTestView(t *testing.T, f *fakeFetcher, ch Channel, clock Clock) *SessionView {
	t.Helper()
	v, err := NewSessionView(Options{SessionID: "s1", Fetcher: f, Channel: ch, PageSize: 3, Clock: clock})
	if err != nil {
		t.Fatalf("NewSessionView: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	return v
}
