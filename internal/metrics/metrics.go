// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

// Package metrics declares the Prometheus instruments exported on /metrics.
//
// Instruments are registered with the default registry through promauto at
// package init. Components record through the Record* helpers rather than
// touching the vectors directly so label sets stay consistent.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Route kinds used as the "kind" label of MessagesRouted.
const (
	RouteBroadcast = "broadcast"
	RouteServer    = "server"
	RouteBuffered  = "buffered"
	RouteDirect    = "direct"
	RouteDropped   = "dropped"
	RouteRaw       = "raw"
)

var (
	// Connection Metrics
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncrelay_connections",
			Help: "Current number of registered client connections",
		},
	)

	ActivePaths = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncrelay_paths",
			Help: "Current number of paths with at least one connection",
		},
	)

	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncrelay_connections_rejected_total",
			Help: "Connections closed during the handshake",
		},
		[]string{"reason"}, // duplicate, no_resource, path_full, start_failed, stopped
	)

	ConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncrelay_connection_duration_seconds",
			Help:    "Lifetime of client connections",
			Buckets: []float64{1, 10, 60, 300, 900, 3600, 14400, 86400},
		},
	)

	// Message Metrics
	MessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "syncrelay_messages_received_total",
			Help: "Text frames read from clients",
		},
	)

	MessagesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncrelay_messages_routed_total",
			Help: "Messages handled by the router by outcome",
		},
		[]string{"kind"},
	)

	MessageBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncrelay_message_bytes",
			Help:    "Size of inbound frames",
			Buckets: prometheus.ExponentialBuckets(16, 4, 8),
		},
	)

	SendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncrelay_send_failures_total",
			Help: "Failed deliveries to a recipient",
		},
		[]string{"route"},
	)

	ProtocolErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "syncrelay_protocol_errors_total",
			Help: "Frames that could not be parsed and were forwarded raw",
		},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "syncrelay_messages_rate_limited_total",
			Help: "Inbound frames dropped by the per-connection rate limiter",
		},
	)

	BufferedMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncrelay_buffered_messages",
			Help: "Messages waiting in per-client and per-resource pending buffers",
		},
	)

	BufferOverflows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "syncrelay_buffer_overflow_total",
			Help: "Buffered messages discarded because a buffer reached its cap",
		},
	)

	// Path Resource Metrics
	ResourceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncrelay_resource_transitions_total",
			Help: "Path resource state transitions",
		},
		[]string{"from", "to"},
	)

	ResourceOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncrelay_resource_operation_duration_seconds",
			Help:    "Duration of path resource create, start and stop",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ResourceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncrelay_resource_errors_total",
			Help: "Errors forwarded from path resources",
		},
		[]string{"operation"},
	)

	ActiveResources = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncrelay_resources",
			Help: "Path resources currently held by the manager",
		},
	)

	// Persister Metrics
	PersisterOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncrelay_persister_operation_duration_seconds",
			Help:    "Duration of persister backend operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	PersisterErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncrelay_persister_errors_total",
			Help: "Failed persister backend operations",
		},
		[]string{"backend", "operation"},
	)

	// Event Publishing Metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncrelay_events_published_total",
			Help: "Lifecycle events published to NATS",
		},
		[]string{"topic"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncrelay_events_dropped_total",
			Help: "Lifecycle events not published",
		},
		[]string{"reason"}, // queue_full, closed, marshal_error, publish_error
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncrelay_http_requests_total",
			Help: "HTTP requests served by the monitoring API",
		},
		[]string{"method", "route", "status"},
	)
)

// RecordRoute counts one routed message.
func RecordRoute(kind string) {
	MessagesRouted.WithLabelValues(kind).Inc()
}

// RecordSendFailure counts one failed delivery.
func RecordSendFailure(route string) {
	SendFailures.WithLabelValues(route).Inc()
}

// RecordInbound records a frame read from a client.
func RecordInbound(size int) {
	MessagesReceived.Inc()
	MessageBytes.Observe(float64(size))
}

// RecordRejected counts a connection refused during the handshake.
func RecordRejected(reason string) {
	ConnectionsRejected.WithLabelValues(reason).Inc()
}

// RecordConnectionClosed records the lifetime of a finished connection.
func RecordConnectionClosed(connectedAt time.Time) {
	ConnectionDuration.Observe(time.Since(connectedAt).Seconds())
}

// RecordResourceOperation records a create/start/stop of a path resource.
func RecordResourceOperation(operation string, duration time.Duration, err error) {
	ResourceOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		ResourceErrors.WithLabelValues(operation).Inc()
	}
}

// RecordResourceTransition counts a state change of a path resource.
func RecordResourceTransition(from, to string) {
	ResourceTransitions.WithLabelValues(from, to).Inc()
}

// RecordPersisterOperation records a backend load/save.
func RecordPersisterOperation(backend, operation string, duration time.Duration, err error) {
	PersisterOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if err != nil {
		PersisterErrors.WithLabelValues(backend, operation).Inc()
	}
}

// UpdateRegistryGauges sets the connection and path gauges.
func UpdateRegistryGauges(paths, clients int) {
	ActivePaths.Set(float64(paths))
	ActiveConnections.Set(float64(clients))
}

// RecordEventPublished counts a lifecycle event published to topic.
func RecordEventPublished(topic string) {
	EventsPublished.WithLabelValues(topic).Inc()
}

// RecordEventDropped counts a lifecycle event that was not published.
func RecordEventDropped(reason string) {
	EventsDropped.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest counts one monitoring API request.
func RecordHTTPRequest(method, route string, status int) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
