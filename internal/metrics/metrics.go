// Package metrics provides Prometheus instrumentation for the Drift chat
// coordinator. It exposes gauges for connection, queue, and pairing counts,
// plus counters for message, signaling, and abuse-control throughput.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "drift_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// QueueSize tracks the current number of connections in the matchmaking queue.
	QueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "drift_queue_size",
		Help: "Current number of connections in the matchmaking queue",
	})

	// ActivePairs tracks the current number of active pairings.
	ActivePairs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "drift_active_pairs",
		Help: "Current number of active pairings",
	})

	// MessagesTotal counts chat messages processed, labeled by outcome:
	// "delivered", "rate_limited", "oversize", or "flagged" (shadow-mode
	// moderation hit, still delivered).
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drift_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"outcome"})

	// SignalsTotal counts relayed signaling messages by kind.
	SignalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drift_signals_total",
		Help: "Total number of relayed signaling messages",
	}, []string{"kind"})

	// ReportsTotal counts abuse reports accepted by the ledger.
	ReportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drift_reports_total",
		Help: "Total number of abuse reports accepted",
	})

	// BansTotal counts connections banned by the report threshold.
	BansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drift_bans_total",
		Help: "Total number of connections banned",
	})

	// OutboundDropsTotal counts frames dropped because a peer's outbound
	// buffer was full.
	OutboundDropsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drift_outbound_drops_total",
		Help: "Total number of outbound frames dropped on buffer overflow",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		QueueSize,
		ActivePairs,
		MessagesTotal,
		SignalsTotal,
		ReportsTotal,
		BansTotal,
		OutboundDropsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
