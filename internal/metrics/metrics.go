package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codecollab_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codecollab_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	UsersRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codecollab_users_registered_total",
			Help: "Total users registered",
		},
	)

	LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codecollab_logins_total",
			Help: "Login attempts by result",
		},
		[]string{"result"}, // "ok" or "denied"
	)

	// Relay metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codecollab_ws_connections_active",
			Help: "Open WebSocket connections",
		},
	)

	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codecollab_rooms_active",
			Help: "Rooms with at least one local member",
		},
	)

	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codecollab_events_received_total",
			Help: "Events received from clients",
		},
		[]string{"event"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codecollab_events_dropped_total",
			Help: "Events dropped by the relay",
		},
		[]string{"reason"},
	)

	SnapshotBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "codecollab_snapshot_bytes",
			Help:    "Size of broadcast buffer snapshots",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codecollab_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codecollab_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)
)
