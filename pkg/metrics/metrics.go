// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// WSConnectionsActive tracks open realtime connections.
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_connections_active",
			Help: "Number of open realtime connections",
		},
	)

	// WSConnectionsRejected counts handshakes refused before upgrade.
	WSConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_connections_rejected_total",
			Help: "Realtime handshakes rejected before upgrade",
		},
		[]string{"reason"},
	)

	// WSSlowConsumers counts connections closed because their send queue filled.
	WSSlowConsumers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_slow_consumers_total",
			Help: "Realtime connections closed for a full send queue",
		},
	)

	// UsersOnline tracks users holding at least one realtime connection.
	UsersOnline = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_users_online",
			Help: "Users with at least one live realtime connection",
		},
		[]string{"role"},
	)

	// ConversationsTotal tracks conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_conversations_created_total",
			Help: "Total conversations created",
		},
	)

	// MessagesTotal tracks messages persisted.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total messages persisted",
		},
		[]string{"role", "transport"},
	)

	// StatusTransitions tracks message status changes.
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_message_status_transitions_total",
			Help: "Message status transitions applied",
		},
		[]string{"status"},
	)

	// EventsBroadcast tracks events fanned out to rooms.
	EventsBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_broadcast_total",
			Help: "Realtime events broadcast, by event type",
		},
		[]string{"event"},
	)

	// EventsMirrored tracks events published to the NATS mirror.
	EventsMirrored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_mirrored_total",
			Help: "Events published to the JetStream mirror",
		},
		[]string{"result"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, route, status string, duration float64) {
	RequestDuration.WithLabelValues(method, route, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, route, status).Inc()
}

// IncrementWSConnections increments the open realtime connection count.
func IncrementWSConnections() {
	WSConnectionsActive.Inc()
}

// DecrementWSConnections decrements the open realtime connection count.
func DecrementWSConnections() {
	WSConnectionsActive.Dec()
}
