// Package metrics provides Prometheus instrumentation for the FlatBuddies
// chat server. It exposes gauges for connection counts, counters for message
// and match throughput, and histograms for send latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flatbuddies_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// MessagesPersisted counts messages durably stored.
	MessagesPersisted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flatbuddies_messages_persisted_total",
		Help: "Total number of messages durably stored",
	})

	// MessagesDelivered counts messages pushed to an online recipient,
	// labeled by delivery path: "room" or "direct".
	MessagesDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flatbuddies_messages_delivered_total",
		Help: "Total number of messages delivered to online recipients",
	}, []string{"path"}) // path = "room", "direct"

	// DeliveryMisses counts stored messages whose recipient was offline or
	// whose connection write failed.
	DeliveryMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flatbuddies_delivery_misses_total",
		Help: "Total number of stored messages not delivered in real time",
	})

	// MatchesCreated counts mutual matches created.
	MatchesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flatbuddies_matches_created_total",
		Help: "Total number of mutual matches created",
	})

	// SendLatency records end-to-end message send latency in seconds,
	// from receipt of the client frame to post-delivery acknowledgment.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flatbuddies_send_latency_seconds",
		Help:    "Message send latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// DispatchErrors counts protocol frames that failed to dispatch,
	// labeled by message type.
	DispatchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flatbuddies_dispatch_errors_total",
		Help: "Total number of frames that failed to dispatch",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MessagesPersisted,
		MessagesDelivered,
		DeliveryMisses,
		MatchesCreated,
		SendLatency,
		DispatchErrors,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
