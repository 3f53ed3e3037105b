package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Entity cache
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_cache_requests_total",
			Help: "Entity cache lookups by result (hit, stale, miss)",
		},
		[]string{"cache", "result"},
	)

	CacheFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_cache_fetches_total",
			Help: "Read-through fetches by outcome (success, error, shared, discarded)",
		},
		[]string{"cache", "outcome"},
	)

	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_cache_entries",
			Help: "Current number of cached entries",
		},
		[]string{"cache"},
	)

	// Push channel
	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_connection_state",
			Help: "Push channel state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=closing)",
		},
	)

	ConnectionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_connection_transitions_total",
			Help: "Push channel state transitions",
		},
		[]string{"from", "to"},
	)

	ConnectionUnavailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_connection_unavailable",
			Help: "1 when reconnect attempts are exhausted and the channel needs a manual connect",
		},
	)

	ReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_reconnect_attempts_total",
			Help: "Automatic reconnect attempts",
		},
	)

	OutboundQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_outbound_queue_depth",
			Help: "Messages queued while the push channel is not connected",
		},
	)

	OutboundDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_outbound_dropped_total",
			Help: "Queued messages dropped because the outbound queue was full",
		},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_messages_sent_total",
			Help: "Envelopes written to the push channel",
		},
		[]string{"type"},
	)

	// Router
	FramesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_frames_received_total",
			Help: "Inbound frames handed to the router",
		},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_frames_dropped_total",
			Help: "Inbound frames dropped by reason",
		},
		[]string{"reason"},
	)

	EventsRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_events_routed_total",
			Help: "Events dispatched by type",
		},
		[]string{"type"},
	)

	SubscriberFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_subscriber_failures_total",
			Help: "Subscriber callbacks that panicked",
		},
		[]string{"type"},
	)

	// Poller
	PollFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_poll_fetches_total",
			Help: "Poll ticks by outcome (success, error, skipped)",
		},
		[]string{"outcome"},
	)

	PollHandles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_poll_handles",
			Help: "Resources currently being polled",
		},
	)

	// HTTP fallback
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_api_requests_total",
			Help: "HTTP fallback requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_api_request_duration_seconds",
			Help:    "HTTP fallback request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Price history writer
	PriceRowsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_price_rows_written_total",
			Help: "Price history rows inserted",
		},
	)

	WriterErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_writer_errors_total",
			Help: "Failed price history batch inserts",
		},
	)
)

// RecordAPIRequest records one HTTP fallback request.
// A zero status means the request never produced a response.
func RecordAPIRequest(endpoint string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	APIRequests.WithLabelValues(endpoint, label).Inc()
	APIRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordTransition records a push channel state transition.
func RecordTransition(from, to string, toValue int) {
	ConnectionTransitions.WithLabelValues(from, to).Inc()
	ConnectionState.Set(float64(toValue))
}

// SetUnavailable flips the exhausted-reconnect gauge.
func SetUnavailable(unavailable bool) {
	if unavailable {
		ConnectionUnavailable.Set(1)
		return
	}
	ConnectionUnavailable.Set(0)
}
