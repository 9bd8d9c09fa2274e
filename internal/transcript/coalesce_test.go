package transcript

import (
	"slices"
	"testing"
	"time"
)

type flushRecorder struct {
	flushes [][]Facet
}

func (r *flushRecorder) flush(f []Facet) { r.flushes = append(r.flushes, f) }

func TestCoalescer_BurstProducesOneFlush(t *testing.T) {
	clock := NewFakeClock(testEpoch)
	rec := &flushRecorder{}
	c := NewCoalescer(clock, 500*time.Millisecond, rec.flush)

	// Five pointers, 100ms apart: each one pushes the deadline out.
	facets := []Facet{FacetTodos, FacetFiles, FacetTodos, FacetHooks, FacetFiles}
	for i, f := range facets {
		if i > 0 {
			clock.Advance(100 * time.Millisecond)
		}
		c.Trigger(f)
	}
	if !c.Pending() {
		t.Fatal("expected a pending flush")
	}

	clock.Advance(499 * time.Millisecond)
	if len(rec.flushes) != 0 {
		t.Fatalf("flushed %d times before the quiet window elapsed", len(rec.flushes))
	}

	clock.Advance(time.Millisecond)
	if len(rec.flushes) != 1 {
		t.Fatalf("got %d flushes, want 1", len(rec.flushes))
	}
	want := []Facet{FacetFiles, FacetHooks, FacetTodos}
	if !slices.Equal(rec.flushes[0], want) {
		t.Errorf("flushed facets = %v, want %v", rec.flushes[0], want)
	}
	if c.Pending() {
		t.Error("coalescer should be idle after flushing")
	}
	if n := clock.Pending(); n != 0 {
		t.Errorf("%d timers still armed", n)
	}
}

func TestCoalescer_SeparateBursts(t *testing.T) {
	clock := NewFakeClock(testEpoch)
	rec := &flushRecorder{}
	c := NewCoalescer(clock, 0, rec.flush)

	c.Trigger(FacetTodos)
	clock.Advance(DefaultCoalesceWindow)
	c.Trigger(FacetFiles)
	c.Trigger(FacetFiles)
	clock.Advance(DefaultCoalesceWindow)

	if len(rec.flushes) != 2 {
		t.Fatalf("got %d flushes, want 2", len(rec.flushes))
	}
	if !slices.Equal(rec.flushes[0], []Facet{FacetTodos}) || !slices.Equal(rec.flushes[1], []Facet{FacetFiles}) {
		t.Errorf("flushes = %v", rec.flushes)
	}
}

func TestCoalescer_Stop(t *testing.T) {
	clock := NewFakeClock(testEpoch)
	rec := &flushRecorder{}
	c := NewCoalescer(clock, 500*time.Millisecond, rec.flush)

	c.Trigger(FacetHooks)
	c.Stop()
	c.Trigger(FacetHooks)
	clock.Advance(time.Second)

	if len(rec.flushes) != 0 {
		t.Errorf("stopped coalescer flushed %d times", len(rec.flushes))
	}
	if c.Pending() {
		t.Error("stopped coalescer reports pending")
	}
}

func TestFakeClock_AdvanceRunsInDeadlineOrder(t *testing.T) {
	clock := NewFakeClock(testEpoch)
	var order []int
	clock.AfterFunc(300*time.Millisecond, func() { order = append(order, 3) })
	clock.AfterFunc(100*time.Millisecond, func() { order = append(order, 1) })
	stopped := clock.AfterFunc(200*time.Millisecond, func() { order = append(order, 2) })
	if !stopped.Stop() {
		t.Fatal("Stop on an armed timer should report true")
	}

	clock.Advance(time.Second)
	if !slices.Equal(order, []int{1, 3}) {
		t.Errorf("order = %v, want [1 3]", order)
	}
	if got := clock.Now(); !got.Equal(testEpoch.Add(time.Second)) {
		t.Errorf("Now = %v", got)
	}
}
