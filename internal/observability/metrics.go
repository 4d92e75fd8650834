package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreOpLatency records document store operation latency.
	StoreOpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sologram_store_op_latency_seconds",
		Help:    "Document store operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "collection"})

	// ActiveSubscriptions is the gauge of live store subscriptions.
	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sologram_store_active_subscriptions",
		Help: "Number of active document store subscriptions",
	})

	// MalformedDocsDropped counts documents skipped during materialization.
	MalformedDocsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sologram_store_malformed_docs_dropped_total",
		Help: "Total number of malformed documents dropped at read time",
	}, []string{"collection"})

	// LikeTransactionFailures counts like-toggle transactions that failed
	// after the store's internal retries.
	LikeTransactionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sologram_like_transaction_failures_total",
		Help: "Total number of like toggles aborted after conflict retries",
	})

	// WebSocketConnections is the gauge of active WebSocket connections.
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sologram_websocket_connections",
		Help: "Number of active WebSocket connections",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sologram_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// MessageThroughput counts chat messages accepted. No per-chat label:
	// chat ids are unbounded cardinality.
	MessageThroughput = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sologram_message_throughput_total",
		Help: "Total number of chat messages accepted",
	})
)

// ObserveStoreOp records the latency of a store operation.
func ObserveStoreOp(operation, collection string, start time.Time) {
	StoreOpLatency.WithLabelValues(operation, collection).Observe(time.Since(start).Seconds())
}
