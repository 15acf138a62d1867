package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the chat relay service
type Metrics struct {
	// TCP chat metrics
	ConnectionsAccepted prometheus.Counter
	AcceptErrors        prometheus.Counter
	ActiveClients       prometheus.Gauge
	LinesReceived       prometheus.Counter
	Logins              prometheus.Counter
	Quits               prometheus.Counter
	MessagesBroadcast   prometheus.Counter
	BroadcastErrors     prometheus.Counter

	// UDP relay metrics
	DatagramsReceived prometheus.Counter
	DatagramsRelayed  prometheus.Counter
	RelayErrors       prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chat_connections_accepted_total",
			Help: "Total number of TCP chat connections accepted",
		}),
		AcceptErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chat_accept_errors_total",
			Help: "Total number of TCP accept failures",
		}),
		ActiveClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chat_active_clients",
			Help: "Current number of registered chat clients",
		}),
		LinesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chat_lines_received_total",
			Help: "Total number of protocol lines received from clients",
		}),
		Logins: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chat_logins_total",
			Help: "Total number of login lines processed",
		}),
		Quits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chat_quits_total",
			Help: "Total number of explicit quit lines processed",
		}),
		MessagesBroadcast: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_broadcast_total",
			Help: "Total number of lines fanned out to other clients",
		}),
		BroadcastErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chat_broadcast_errors_total",
			Help: "Total number of per-recipient broadcast send failures",
		}),

		DatagramsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_datagrams_received_total",
			Help: "Total number of UDP datagrams received",
		}),
		DatagramsRelayed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_datagrams_relayed_total",
			Help: "Total number of UDP datagrams sent to relay targets",
		}),
		RelayErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_errors_total",
			Help: "Total number of UDP relay send failures",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordConnectionAccepted increments the accepted connections counter
func (m *Metrics) RecordConnectionAccepted() {
	m.ConnectionsAccepted.Inc()
}

// RecordAcceptError increments the accept failures counter
func (m *Metrics) RecordAcceptError() {
	m.AcceptErrors.Inc()
}

// SetActiveClients sets the current number of registered clients
func (m *Metrics) SetActiveClients(count int) {
	m.ActiveClients.Set(float64(count))
}

// RecordLineReceived increments the received lines counter
func (m *Metrics) RecordLineReceived() {
	m.LinesReceived.Inc()
}

// RecordLogin increments the logins counter
func (m *Metrics) RecordLogin() {
	m.Logins.Inc()
}

// RecordQuit increments the quits counter
func (m *Metrics) RecordQuit() {
	m.Quits.Inc()
}

// RecordBroadcast records a fan-out of one line to n recipients
func (m *Metrics) RecordBroadcast(recipients int) {
	m.MessagesBroadcast.Add(float64(recipients))
}

// RecordBroadcastError increments the per-recipient send failure counter
func (m *Metrics) RecordBroadcastError() {
	m.BroadcastErrors.Inc()
}

// RecordDatagramReceived increments the received datagrams counter
func (m *Metrics) RecordDatagramReceived() {
	m.DatagramsReceived.Inc()
}

// RecordDatagramRelayed increments the relayed datagrams counter
func (m *Metrics) RecordDatagramRelayed() {
	m.DatagramsRelayed.Inc()
}

// RecordRelayError increments the relay send failure counter
func (m *Metrics) RecordRelayError() {
	m.RelayErrors.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
