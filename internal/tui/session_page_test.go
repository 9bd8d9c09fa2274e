package tui

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"

	"github.com/wethinkt/thinkt-browse/internal/transcript"
)

// sliceFetcher serves newest-first pages over an oldest-first slice.
type sliceFetcher struct {
	mu       sync.Mutex
	msgs     []transcript.Message
	olderErr error
}

func newSliceFetcher(n int) *sliceFetcher {
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	f := &sliceFetcher{}
	for i := 1; i <= n; i++ {
		f.msgs = append(f.msgs, transcript.Message{
			ID:        fmt.Sprintf("m%d", i),
			SessionID: "s1",
			Seq:       int64(i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Role:      "assistant",
			Text:      fmt.Sprintf("message %d", i),
		})
	}
	return f
}

func cursorOf(m transcript.Message) transcript.Cursor {
	return transcript.EncodeCursor(m.Timestamp, m.ID)
}

func (f *sliceFetcher) FetchPage(ctx context.Context, req transcript.PageRequest) (transcript.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.After != "" && f.olderErr != nil {
		return transcript.Page{}, f.olderErr
	}

	end := len(f.msgs)
	if req.After != "" {
		for i, m := range f.msgs {
			if cursorOf(m) == req.After {
				end = i
			}
		}
	}
	start := max(0, end-req.PageSize)

	page := transcript.Page{TotalCount: len(f.msgs)}
	for i := end - 1; i >= start; i-- {
		page.Edges = append(page.Edges, transcript.Edge{Node: f.msgs[i], Cursor: cursorOf(f.msgs[i])})
	}
	if n := len(page.Edges); n > 0 {
		page.PageInfo.EndCursor = page.Edges[n-1].Cursor
	}
	page.PageInfo.HasNextPage = start > 0
	return page, nil
}

func (f *sliceFetcher) failOlder(err error) {
	f.mu.Lock()
	f.olderErr = err
	f.mu.Unlock()
}

func newTestModel(t *testing.T, f transcript.Fetcher) *SessionModel {
	t.Helper()
	view, err := transcript.NewSessionView(transcript.Options{SessionID: "s1", Fetcher: f, PageSize: 20})
	if err != nil {
		t.Fatal(err)
	}
	m := NewSessionModel(context.Background(), view)
	t.Cleanup(func() {
		m.cancel()
		view.Close()
	})

	m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	m.Update(m.start()())
	return m
}

func press(m *SessionModel, r rune) tea.Cmd {
	_, cmd := m.Update(tea.KeyPressMsg{Code: r, Text: string(r)})
	return cmd
}

func TestSessionModel_InitialLoadScrollsToEnd(t *testing.T) {
	m := newTestModel(t, newSliceFetcher(100))

	if len(m.snap.Messages) != 20 {
		t.Fatalf("window holds %d messages, want 20", len(m.snap.Messages))
	}
	if !m.anchor.InitialScrollDone() {
		t.Error("initial scroll should be done")
	}
	if !m.viewport.AtBottom() {
		t.Error("viewport should start at the newest message")
	}
}

func TestSessionModel_OlderPageKeepsPosition(t *testing.T) {
	m := newTestModel(t, newSliceFetcher(100))
	before := m.viewport.TotalLineCount()

	cmd := press(m, 'g')
	if cmd == nil {
		t.Fatal("reaching the top should start a backward load")
	}
	if press(m, 'g') != nil {
		t.Error("a second trigger while loading must not start another load")
	}

	m.Update(cmd())

	if len(m.snap.Messages) != 40 {
		t.Fatalf("window holds %d messages, want 40", len(m.snap.Messages))
	}
	grown := m.viewport.TotalLineCount() - before
	if grown <= 0 {
		t.Fatalf("content did not grow")
	}
	if got := m.viewport.YOffset(); got != grown {
		t.Errorf("offset = %d, want %d (the prepended lines)", got, grown)
	}
	if m.anchor.Pending() {
		t.Error("anchor should be settled")
	}
}

func TestSessionModel_FailedOlderLoadWaitsForRetry(t *testing.T) {
	f := newSliceFetcher(100)
	m := newTestModel(t, f)
	f.failOlder(errors.New("boom"))

	m.Update(press(m, 'g')())
	if m.snap.LoadError == nil {
		t.Fatal("expected a load error in the snapshot")
	}
	if m.viewport.YOffset() != 0 {
		t.Errorf("offset moved after a failed load: %d", m.viewport.YOffset())
	}
	if press(m, 'g') != nil {
		t.Error("reaching the top again must not retry automatically")
	}

	f.failOlder(nil)
	cmd := press(m, 'r')
	if cmd == nil {
		t.Fatal("r should retry the failed load")
	}
	m.Update(cmd())
	if m.snap.LoadError != nil || len(m.snap.Messages) != 40 {
		t.Errorf("after retry: err=%v messages=%d", m.snap.LoadError, len(m.snap.Messages))
	}
}

func TestSessionModel_FilterToggleRerenders(t *testing.T) {
	m := newTestModel(t, newSliceFetcher(5))
	before := m.viewport.TotalLineCount()

	press(m, '2') // hide assistant messages
	if after := m.viewport.TotalLineCount(); after >= before {
		t.Errorf("hiding messages should shrink content: %d -> %d", before, after)
	}
}

func TestViewportAdapter(t *testing.T) {
	vp := viewport.New()
	vp.SetWidth(20)
	vp.SetHeight(5)
	vp.SetContent("1\n2\n3\n4\n5\n6\n7\n8\n9\n10")
	a := viewportAdapter{vp: &vp}

	if a.ContentExtent() != 10 {
		t.Errorf("extent = %d, want 10", a.ContentExtent())
	}
	a.ScrollToEnd()
	if a.ScrollOffset() != 5 {
		t.Errorf("offset at end = %d, want 5", a.ScrollOffset())
	}
	a.SetScrollOffset(2)
	if a.ScrollOffset() != 2 {
		t.Errorf("offset = %d, want 2", a.ScrollOffset())
	}
}
