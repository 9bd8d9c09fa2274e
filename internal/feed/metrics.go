package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thinkt",
		Subsystem: "feed",
		Name:      "ingest_messages_total",
		Help:      "Messages offered to the log, by result (accepted, duplicate, dropped).",
	}, []string{"result"})

	ingestDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "thinkt",
		Subsystem: "feed",
		Name:      "ingest_duration_seconds",
		Help:      "Ingest request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	pageRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thinkt",
		Subsystem: "feed",
		Name:      "page_requests_total",
		Help:      "Page requests served, by status (ok, bad_request, error).",
	}, []string{"status"})

	invalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thinkt",
		Subsystem: "feed",
		Name:      "invalidations_total",
		Help:      "Invalidation pointers published, by facet.",
	}, []string{"facet"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "thinkt",
		Subsystem: "feed",
		Name:      "active_sessions",
		Help:      "Number of sessions held by the log.",
	})

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "thinkt",
		Subsystem: "feed",
		Name:      "ws_connections_active",
		Help:      "Number of active WebSocket connections.",
	})

	slowSubscribers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "thinkt",
		Subsystem: "feed",
		Name:      "ws_slow_disconnects_total",
		Help:      "WebSocket subscribers cut off because their buffer was full.",
	})
)
