package transcript

import (
	"slices"
	"sync"
	"time"
)

// DefaultCoalesceWindow is the quiet period after the last invalidation
// before a refresh is triggered.
const DefaultCoalesceWindow = 500 * time.Millisecond

type coalesceState int

const (
	coalesceIdle coalesceState = iota
	coalescePending
)

// Coalescer collapses bursts of invalidation pointers into one flush. It is a
// two-state machine, Idle -> PendingFlush(deadline) -> Idle, driven by a
// single timer: every Trigger pushes the deadline to now+window, and the
// flush runs once the deadline passes without further triggers.
type Coalescer struct {
	clock  Clock
	window time.Duration
	flush  func([]Facet)

	mu       sync.Mutex
	state    coalesceState
	deadline time.Time
	timer    Timer
	facets   map[Facet]struct{}
	stopped  bool
}

// NewCoalescer returns a Coalescer calling flush with the sorted set of
// facets seen during each burst. A non-positive window uses the default.
func NewCoalescer(clock Clock, window time.Duration, flush func([]Facet)) *Coalescer {
	if clock == nil {
		clock = RealClock()
	}
	if window <= 0 {
		window = DefaultCoalesceWindow
	}
	return &Coalescer{
		clock:  clock,
		window: window,
		flush:  flush,
		facets: make(map[Facet]struct{}),
	}
}

// Trigger records an invalidation of f and (re)arms the flush deadline.
func (c *Coalescer) Trigger(f Facet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	c.facets[f] = struct{}{}
	c.deadline = c.clock.Now().Add(c.window)
	if c.state == coalesceIdle {
		c.state = coalescePending
		if c.timer == nil {
			c.timer = c.clock.AfterFunc(c.window, c.fire)
		} else {
			c.timer.Reset(c.window)
		}
	}
}

// Pending reports whether a flush is scheduled.
func (c *Coalescer) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == coalescePending
}

// Stop cancels any scheduled flush. Triggers after Stop are ignored.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.state = coalesceIdle
	if c.timer != nil {
		c.timer.Stop()
	}
}

func (c *Coalescer) fire() {
	c.mu.Lock()
	if c.stopped || c.state != coalescePending {
		c.mu.Unlock()
		return
	}
	if remaining := c.deadline.Sub(c.clock.Now()); remaining > 0 {
		// Triggered again since the timer was armed.
		c.timer.Reset(remaining)
		c.mu.Unlock()
		return
	}

	facets := make([]Facet, 0, len(c.facets))
	for f := range c.facets {
		facets = append(facets, f)
	}
	slices.Sort(facets)
	clear(c.facets)
	c.state = coalesceIdle
	c.mu.Unlock()

	refreshFlushes.Inc()
	if c.flush != nil {
		c.flush(facets)
	}
}
