package transcript

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thinkt",
		Subsystem: "sync",
		Name:      "pages_fetched_total",
		Help:      "Page fetches issued by session views, by result (ok, error, protocol, stale, catch_up).",
	}, []string{"result"})

	duplicatesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thinkt",
		Subsystem: "sync",
		Name:      "duplicates_dropped_total",
		Help:      "Candidate messages rejected by the dedup gate, by source.",
	}, []string{"source"})

	liveEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thinkt",
		Subsystem: "sync",
		Name:      "live_events_total",
		Help:      "Live channel events received, by kind (append, invalidate, invalid).",
	}, []string{"kind"})

	refreshFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "thinkt",
		Subsystem: "sync",
		Name:      "refresh_flushes_total",
		Help:      "Coalesced invalidation flushes delivered to auxiliary panels.",
	})

	liveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "thinkt",
		Subsystem: "sync",
		Name:      "live_sessions",
		Help:      "Number of session views with a connected live channel.",
	})
)
