package transcript

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestLiveEvent_Validate(t *testing.T) {
	m := testMsg(1)
	tests := []struct {
		name    string
		ev      LiveEvent
		wantErr bool
	}{
		{"append", LiveEvent{V: "v1", Kind: KindAppend, Node: &m, Cursor: "c"}, false},
		{"append without version", LiveEvent{Kind: KindAppend, Node: &m, Cursor: "c"}, false},
		{"invalidate", LiveEvent{V: "v1", Kind: KindInvalidate, SessionID: "s1", Facet: FacetTodos}, false},
		{"future version", LiveEvent{V: "v2", Kind: KindAppend, Node: &m, Cursor: "c"}, true},
		{"append without node", LiveEvent{V: "v1", Kind: KindAppend, Cursor: "c"}, true},
		{"append without cursor", LiveEvent{V: "v1", Kind: KindAppend, Node: &m}, true},
		{"append node without id", LiveEvent{V: "v1", Kind: KindAppend, Node: &Message{}, Cursor: "c"}, true},
		{"unknown facet", LiveEvent{V: "v1", Kind: KindInvalidate, Facet: "weather"}, true},
		{"missing kind", LiveEvent{V: "v1"}, true},
		{"unknown kind", LiveEvent{V: "v1", Kind: "delete"}, true},
		{"link kind on the wire", LiveEvent{V: "v1", Kind: KindLinkUp}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLiveAdapter_DuplicateAppendIgnored(t *testing.T) {
	f := &fakeFetcher{pages: pagedLog(3, 3)}
	ch := &fakeChannel{}
	v := newTestView(t, f, ch, nil)
	if err := v.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	sub := ch.last()
	if sub.req.SessionID != "s1" || sub.req.ConnectionID != v.ConnectionID() {
		t.Fatalf("subscribe request = %+v", sub.req)
	}

	// Already fetched, then redelivered.
	sub.appendMsg(testMsg(3))
	sub.appendMsg(testMsg(3))
	// A new one marks the point where the duplicates have been handled.
	sub.appendMsg(testMsg(4))
	sub.appendMsg(testMsg(4))
	waitFor(t, "live append", func() bool { return len(v.Snapshot().Messages) >= 4 })
	sub.appendMsg(testMsg(5))
	waitFor(t, "live append", func() bool { return len(v.Snapshot().Messages) >= 5 })

	want := []string{"m1", "m2", "m3", "m4", "m5"}
	if got := displayIDs(v.Snapshot().Messages); !equalIDs(got, want) {
		t.Errorf("display order = %v, want %v", got, want)
	}
}

func TestLiveAdapter_AppendForOtherConnectionDropped(t *testing.T) {
	f := &fakeFetcher{pages: pagedLog(3, 3)}
	ch := &fakeChannel{}
	v := newTestView(t, f, ch, nil)
	if err := v.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	sub := ch.last()

	m := testMsg(4)
	sub.events <- LiveEvent{V: ProtocolVersion, Kind: KindAppend, Node: &m, Cursor: "c4", ConnectionID: "someone-else"}
	bad := testMsg(5)
	sub.events <- LiveEvent{V: "v9", Kind: KindAppend, Node: &bad, Cursor: "c5"}
	sub.appendMsg(testMsg(6))
	waitFor(t, "live append", func() bool { return len(v.Snapshot().Messages) == 4 })

	want := []string{"m1", "m2", "m3", "m6"}
	if got := displayIDs(v.Snapshot().Messages); !equalIDs(got, want) {
		t.Errorf("display order = %v, want %v", got, want)
	}
}

func TestLiveAdapter_AppendsHeldUntilInitialized(t *testing.T) {
	f := &fakeFetcher{pages: pagedLog(3, 3), started: make(chan PageRequest)}
	ch := &fakeChannel{}
	v := newTestView(t, f, ch, nil)

	done := make(chan error, 1)
	go func() { done <- v.Start(context.Background()) }()

	// The initial fetch is parked on the started channel; the subscription
	// is already open.
	var sub *fakeSubscription
	waitFor(t, "subscription", func() bool { sub = ch.last(); return sub != nil })
	sub.appendMsg(testMsg(4))
	sub.appendMsg(testMsg(3))
	waitFor(t, "held appends", func() bool {
		v.gate.mu.Lock()
		defer v.gate.mu.Unlock()
		return len(v.gate.pending) == 2
	})
	if n := len(v.Snapshot().Messages); n != 0 {
		t.Fatalf("appends reached an uninitialized window: %d messages", n)
	}

	<-f.started
	if err := <-done; err != nil {
		t.Fatalf("Start: %v", err)
	}

	want := []string{"m1", "m2", "m3", "m4"}
	if got := displayIDs(v.Snapshot().Messages); !equalIDs(got, want) {
		t.Errorf("display order = %v, want %v", got, want)
	}
}

func TestLiveAdapter_ChannelFailureDegradesToPagination(t *testing.T) {
	f := &fakeFetcher{pages: pagedLog(6, 3)}
	ch := &fakeChannel{}
	v := newTestView(t, f, ch, nil)
	ctx := context.Background()
	if err := v.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if !v.Snapshot().IsLive {
		t.Fatal("expected the view to be live")
	}

	ch.last().fail(errors.New("connection reset by peer"))
	waitFor(t, "live indicator to drop", func() bool { return !v.Snapshot().IsLive })

	started, err := v.Pager().RequestOlder(ctx)
	if !started || err != nil {
		t.Fatalf("RequestOlder after channel failure = (%v, %v)", started, err)
	}
	snap := v.Snapshot()
	if len(snap.Messages) != 6 || snap.LoadError != nil {
		t.Errorf("after channel failure: %d messages, error=%v", len(snap.Messages), snap.LoadError)
	}
}

func TestLiveAdapter_SubscribeFailureIsNotFatal(t *testing.T) {
	f := &fakeFetcher{pages: pagedLog(3, 3)}
	ch := &fakeChannel{err: errors.New("401 unauthorized")}
	v := newTestView(t, f, ch, nil)

	if err := v.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap := v.Snapshot()
	if snap.IsLive {
		t.Error("view should not be live without a subscription")
	}
	if len(snap.Messages) != 3 {
		t.Errorf("window length = %d, want 3", len(snap.Messages))
	}
}

func TestLiveAdapter_InvalidationsCoalesced(t *testing.T) {
	f := &fakeFetcher{pages: pagedLog(3, 3)}
	ch := &fakeChannel{}
	clock := NewFakeClock(testEpoch)

	var refreshed [][]Facet
	v, err := NewSessionView(Options{
		SessionID: "s1",
		Fetcher:   f,
		Channel:   ch,
		Clock:     clock,
		OnRefresh: func(fs []Facet) { refreshed = append(refreshed, fs) },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()
	if err := v.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	sub := ch.last()

	for _, facet := range []Facet{FacetTodos, FacetFiles, FacetTodos, FacetMessages} {
		sub.invalidate(facet)
	}
	other := LiveEvent{V: ProtocolVersion, Kind: KindInvalidate, SessionID: "s2", Facet: FacetHooks}
	sub.events <- other
	sub.appendMsg(testMsg(4))
	waitFor(t, "events to drain", func() bool { return len(v.Snapshot().Messages) == 4 })

	if gen := v.Snapshot().RefreshGeneration; gen != 0 {
		t.Fatalf("refresh fired before the quiet window: generation %d", gen)
	}
	clock.Advance(DefaultCoalesceWindow)

	snap := v.Snapshot()
	if snap.RefreshGeneration != 1 {
		t.Errorf("refresh generation = %d, want 1", snap.RefreshGeneration)
	}
	want := []Facet{FacetFiles, FacetMessages, FacetTodos}
	if len(refreshed) != 1 || len(refreshed[0]) != len(want) {
		t.Fatalf("refreshes = %v, want one of %v", refreshed, want)
	}
	for i := range want {
		if snap.RefreshedFacets[i] != want[i] {
			t.Errorf("refreshed facets = %v, want %v", snap.RefreshedFacets, want)
			break
		}
	}
}

func TestLiveAdapter_CloseStopsDelivery(t *testing.T) {
	f := &fakeFetcher{pages: pagedLog(3, 3)}
	ch := &fakeChannel{}
	v := newTestView(t, f, ch, nil)
	if err := v.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	closed := make(chan error, 1)
	go func() { closed <- v.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Close: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
	if v.Snapshot().IsLive {
		t.Error("closed view still reports live")
	}
}

func TestLiveAdapter_OfflineWhileReconnecting(t *testing.T) {
	f := &fakeFetcher{pages: pagedLog(3, 3)}
	ch := &fakeChannel{}
	v := newTestView(t, f, ch, nil)
	if err := v.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	sub := ch.last()

	sub.link(KindLinkDown)
	waitFor(t, "live indicator to drop", func() bool { return !v.Snapshot().IsLive })

	sub.link(KindLinkUp)
	waitFor(t, "live indicator to return", func() bool { return v.Snapshot().IsLive })
}

func TestLiveAdapter_CatchUpAfterReconnect(t *testing.T) {
	f := &fakeFetcher{pages: pagedLog(3, 3)}
	ch := &fakeChannel{}
	v := newTestView(t, f, ch, nil)
	if err := v.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	sub := ch.last()

	sub.link(KindLinkDown)
	waitFor(t, "offline", func() bool { return !v.Snapshot().IsLive })

	// m4..m6 are published while the channel is down.
	f.setPages(pagedLog(6, 3))
	sub.link(KindLinkUp)
	// m7 arrives on the new connection and must land after the gap.
	sub.appendMsg(testMsg(7))
	sub.appendMsg(testMsg(6))

	waitFor(t, "catch-up", func() bool { return len(v.Snapshot().Messages) == 7 })
	snap := v.Snapshot()
	want := []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7"}
	if got := displayIDs(snap.Messages); !equalIDs(got, want) {
		t.Errorf("display order = %v, want %v", got, want)
	}
	if !snap.IsLive {
		t.Error("view should be live after catching up")
	}
	if snap.TotalCount != 7 {
		t.Errorf("total count = %d, want 7", snap.TotalCount)
	}
}

func TestLiveAdapter_CatchUpRetriesFailedFetch(t *testing.T) {
	f := &fakeFetcher{pages: pagedLog(3, 3)}
	ch := &fakeChannel{}
	v := newTestView(t, f, ch, nil)
	if err := v.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	sub := ch.last()

	sub.link(KindLinkDown)
	f.setPages(pagedLog(4, 3))
	f.setErr(errors.New("502 bad gateway"))
	before := f.callCount()
	sub.link(KindLinkUp)

	waitFor(t, "first catch-up attempt", func() bool { return f.callCount() > before })
	if v.Snapshot().IsLive {
		t.Error("view must stay offline until the gap is filled")
	}

	f.setErr(nil)
	waitFor(t, "catch-up retry", func() bool { return v.Snapshot().IsLive })
	want := []string{"m1", "m2", "m3", "m4"}
	if got := displayIDs(v.Snapshot().Messages); !equalIDs(got, want) {
		t.Errorf("display order = %v, want %v", got, want)
	}
}

func TestLiveAdapter_WideGapReloads(t *testing.T) {
	f := &fakeFetcher{pages: pagedLog(3, 3)}
	ch := &fakeChannel{}
	v := newTestView(t, f, ch, nil)
	if err := v.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	sub := ch.last()

	sub.link(KindLinkDown)
	f.setPages(pagedLog(3*maxCatchUpPages+10, 3))
	sub.link(KindLinkUp)

	waitFor(t, "reload", func() bool { return v.Snapshot().IsLive })
	n := 3*maxCatchUpPages + 10
	want := []string{fmt.Sprintf("m%d", n-2), fmt.Sprintf("m%d", n-1), fmt.Sprintf("m%d", n)}
	snap := v.Snapshot()
	if got := displayIDs(snap.Messages); !equalIDs(got, want) {
		t.Errorf("display order = %v, want %v", got, want)
	}
	if !snap.HasOlder {
		t.Error("reloaded window should have older history")
	}
}

func TestLiveAdapter_RejectedKindNotUsedAsLabel(t *testing.T) {
	f := &fakeFetcher{pages: pagedLog(3, 3)}
	ch := &fakeChannel{}
	v := newTestView(t, f, ch, nil)
	if err := v.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	const kind = "kind-from-an-untrusted-frame"
	before := counterValue(t, "invalid")
	ch.last().events <- LiveEvent{V: ProtocolVersion, Kind: kind, SessionID: "s1"}
	waitFor(t, "rejected frame to be counted", func() bool {
		return counterValue(t, "invalid") > before
	})

	if liveEvents.DeleteLabelValues(kind) {
		t.Errorf("frame kind %q was recorded as a metric label", kind)
	}
	if n := len(v.Snapshot().Messages); n != 3 {
		t.Errorf("messages = %d, want 3", n)
	}
}

func counterValue(t *testing.T, label string) float64 {
	t.Helper()
	var m dto.Metric
	if err := liveEvents.WithLabelValues(label).Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetCounter().GetValue()
}
