// Package metrics provides Prometheus instrumentation for the listing chat
// service. It exposes gauges for connection and room counts, counters for
// message throughput, and a histogram for send latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks the current number of live WebSocket connections.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "listingchat_connections_active",
		Help: "Current number of active WebSocket connections",
	})

	// RoomMemberships tracks the current number of (session, conversation)
	// join entries across all rooms.
	RoomMemberships = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "listingchat_room_memberships",
		Help: "Current number of session-conversation room memberships",
	})

	// MessagesTotal counts send intents by outcome: "sent", "rejected",
	// or "rate_limited".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "listingchat_messages_total",
		Help: "Total number of send intents processed",
	}, []string{"result"})

	// SendLatency records end-to-end send processing latency in seconds,
	// from intent receipt through persistence and fan-out.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "listingchat_send_latency_seconds",
		Help:    "Send pipeline latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// TypingActive tracks the current number of live typing flags.
	TypingActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "listingchat_typing_active",
		Help: "Current number of active typing indicators",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		RoomMemberships,
		MessagesTotal,
		SendLatency,
		TypingActive,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
