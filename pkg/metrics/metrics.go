package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the chat service
type Metrics struct {
	registry *prometheus.Registry

	// HTTP request metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Message lifecycle metrics
	messagesCreatedTotal   *prometheus.CounterVec
	messagesPersistedTotal *prometheus.CounterVec
	messagesPublishedTotal *prometheus.CounterVec

	// WebSocket metrics
	websocketConnections prometheus.Gauge
	websocketEventsTotal *prometheus.CounterVec
	clientDroppedTotal   *prometheus.CounterVec

	// Rate limiting metrics
	rateLimitBlockedTotal *prometheus.CounterVec

	// Receipt metrics
	receiptIncrementFailedTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics on a private registry
func NewMetrics(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		registry: registry,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),

		messagesCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "chat_message_created_total",
				Help:        "Total number of messages created",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		messagesPersistedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "chat_message_persisted_total",
				Help:        "Total number of messages persisted to the message store",
				ConstLabels: labels,
			},
			[]string{"status"},
		),
		messagesPublishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "chat_message_published_total",
				Help:        "Total number of events published for real-time delivery",
				ConstLabels: labels,
			},
			[]string{"status"},
		),

		websocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "chat_websocket_connections",
				Help:        "Current number of active WebSocket connections",
				ConstLabels: labels,
			},
		),
		websocketEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "chat_websocket_events_total",
				Help:        "Total number of WebSocket events handled",
				ConstLabels: labels,
			},
			[]string{"event", "status"},
		),
		clientDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "chat_client_message_dropped_total",
				Help:        "Total number of outbound messages dropped to slow clients",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),

		rateLimitBlockedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "chat_rate_limit_blocked_total",
				Help:        "Total number of events blocked by rate limiting",
				ConstLabels: labels,
			},
			[]string{"event"},
		),

		receiptIncrementFailedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "chat_receipt_increment_failed_total",
				Help:        "Total number of failed unread-count increments (non-fatal)",
				ConstLabels: labels,
			},
		),
	}
}

// GetRegistry returns the private Prometheus registry for the /metrics endpoint
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the number of in-flight HTTP requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the number of in-flight HTTP requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// RecordMessageCreated records a created message by kind (text, image, file)
func (m *Metrics) RecordMessageCreated(kind string) {
	m.messagesCreatedTotal.WithLabelValues(kind).Inc()
}

// RecordMessagePersisted records a persistence attempt outcome
func (m *Metrics) RecordMessagePersisted(status string) {
	m.messagesPersistedTotal.WithLabelValues(status).Inc()
}

// RecordMessagePublished records a pub/sub publish outcome
func (m *Metrics) RecordMessagePublished(status string) {
	m.messagesPublishedTotal.WithLabelValues(status).Inc()
}

// IncrementWebSocketConnections increments the active connection gauge
func (m *Metrics) IncrementWebSocketConnections() {
	m.websocketConnections.Inc()
}

// DecrementWebSocketConnections decrements the active connection gauge
func (m *Metrics) DecrementWebSocketConnections() {
	m.websocketConnections.Dec()
}

// RecordWebSocketEvent records a handled client event and its outcome
func (m *Metrics) RecordWebSocketEvent(event, status string) {
	m.websocketEventsTotal.WithLabelValues(event, status).Inc()
}

// RecordClientDropped records an outbound message dropped to a slow client
func (m *Metrics) RecordClientDropped(reason string) {
	m.clientDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordRateLimitBlocked records an event blocked by the rate limiter
func (m *Metrics) RecordRateLimitBlocked(event string) {
	m.rateLimitBlockedTotal.WithLabelValues(event).Inc()
}

// RecordReceiptIncrementFailure records a swallowed unread-count increment failure
func (m *Metrics) RecordReceiptIncrementFailure() {
	m.receiptIncrementFailedTotal.Inc()
}
