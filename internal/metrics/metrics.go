// Package metrics provides Prometheus instrumentation for the Majlis chat
// server. It exposes gauges for connection and room counts, counters for
// message and moderation outcomes, and a histogram for broadcast fan-out.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "majlis_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// RoomsTotal tracks the number of rooms the directory knows about,
	// including retained empty rooms.
	RoomsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "majlis_rooms_total",
		Help: "Current number of known rooms",
	})

	// MessagesTotal counts processed messages, labeled by kind ("text",
	// "image", "private", "system") and outcome ("delivered", "blocked",
	// "rejected").
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "majlis_messages_total",
		Help: "Total number of messages processed",
	}, []string{"kind", "outcome"})

	// ModerationActionsTotal counts admin and policy actions, labeled by
	// action ("kick", "ban", "promote", "word_ban", "reaped").
	ModerationActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "majlis_moderation_actions_total",
		Help: "Total number of moderation actions applied",
	}, []string{"action"})

	// BroadcastFanout records how many connections each room broadcast
	// reached.
	BroadcastFanout = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "majlis_broadcast_fanout",
		Help:    "Number of connections reached per room broadcast",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		RoomsTotal,
		MessagesTotal,
		ModerationActionsTotal,
		BroadcastFanout,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
