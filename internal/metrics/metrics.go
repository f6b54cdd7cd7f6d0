package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tracks the number of outbound calls to wikifolio.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wikifolio_requests_total",
			Help: "Total number of wikifolio requests made (by endpoint kind, method and status).",
		},
		[]string{"endpoint", "method", "status"},
	)

	// Measures duration of requests to wikifolio.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wikifolio_request_duration_seconds",
			Help:    "Duration of wikifolio requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms → ~10s
		},
		[]string{"endpoint", "method"},
	)

	LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wikifolio_logins_total",
			Help: "Login handshakes performed, by result.",
		},
		[]string{"result"}, // ok | failed | restored
	)

	QuoteNegotiations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wikifolio_quote_negotiations_total",
			Help: "Quote negotiations over the SignalR stream, by result.",
		},
		[]string{"result"}, // ok | error | timeout
	)

	QuoteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wikifolio_quote_negotiation_seconds",
			Help:    "Time from negotiate to quote id.",
			Buckets: prometheus.DefBuckets,
		},
	)

	OrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wikifolio_orders_total",
			Help: "Order submissions and cancellations, by result.",
		},
		[]string{"action", "result"},
	)

	// Tracks cached entity loads (hit = served from loaded source).
	EntityFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wikifolio_entity_fetch_total",
			Help: "Entity source loads by kind, source tag and result.",
		},
		[]string{"kind", "source", "result"}, // hit | miss | error
	)

	// Tracks NATS messages processed by subject and result.
	NATSMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_total",
			Help: "Total number of NATS messages processed.",
		},
		[]string{"subject", "result"}, // result = "ok" | "error"
	)

	NATSMessageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nats_message_latency_seconds",
			Help:    "Time taken to publish NATS messages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)

	// Tracks cache hits and misses for secrets / credentials.
	SecretsCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secrets_cache_access_total",
			Help: "Number of cache hits/misses in secret cache.",
		},
		[]string{"result"}, // hit | miss
	)

	// Tracks total errors (aggregated).
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adapter_errors_total",
			Help: "Count of adapter-level errors by component.",
		},
		[]string{"component", "reason"},
	)

	// Gauges the last successful poll time (seconds since epoch).
	LastPollTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "adapter_last_poll_timestamp",
			Help: "Timestamp (unix seconds) of the last successful order or price poll.",
		},
		[]string{"component"},
	)
)

// ObserveDuration records the time taken for a function and updates the given histogram.
func ObserveDuration(v interface{}, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case prometheus.Histogram:
		metric.Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	default:
		// silently ignore counters; they're not meant for duration tracking
	}
}

func IncRequest(endpoint, method, status string) {
	RequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

func IncLogin(result string) {
	LoginsTotal.WithLabelValues(result).Inc()
}

func IncQuote(result string) {
	QuoteNegotiations.WithLabelValues(result).Inc()
}

func IncOrder(action, result string) {
	OrdersTotal.WithLabelValues(action, result).Inc()
}

func IncEntityFetch(kind, source, result string) {
	EntityFetches.WithLabelValues(kind, source, result).Inc()
}

func IncNATSMessage(subject, result string) {
	NATSMessageCount.WithLabelValues(subject, result).Inc()
}

func IncCacheHit(result string) {
	SecretsCacheHits.WithLabelValues(result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func SetLastPoll(component string, t time.Time) {
	LastPollTimestamp.WithLabelValues(component).Set(float64(t.Unix()))
}
