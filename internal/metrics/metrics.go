// Package metrics provides the Prometheus collectors for live channel clients
// and the dev server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "q360live"

// Metrics holds one registry and its collectors. Each process (or test)
// creates its own instance, so nothing is registered globally.
type Metrics struct {
	registry *prometheus.Registry

	ChannelState       *prometheus.GaugeVec
	Reconnects         *prometheus.CounterVec
	MessagesReceived   *prometheus.CounterVec
	MalformedMessages  *prometheus.CounterVec
	SendFailures       *prometheus.CounterVec
	ServerConnections  *prometheus.GaugeVec
	ServerBroadcasts   *prometheus.CounterVec
	ServerRateLimited  *prometheus.CounterVec
	GeneratedAuditLogs prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ChannelState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_channel_state",
				Help:      "Current connection state of a live channel (0=connecting, 1=open, 2=closed, 3=errored)",
			},
			[]string{"endpoint"},
		),
		Reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "live_channel_reconnects_total",
				Help:      "Total number of scheduled reconnect attempts",
			},
			[]string{"endpoint"},
		),
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "live_channel_messages_total",
				Help:      "Total number of inbound messages by kind",
			},
			[]string{"endpoint", "kind"},
		),
		MalformedMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "live_channel_malformed_total",
				Help:      "Total number of inbound messages that failed to parse",
			},
			[]string{"endpoint"},
		),
		SendFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "live_channel_send_failures_total",
				Help:      "Total number of rejected or failed outbound commands",
			},
			[]string{"endpoint"},
		),
		ServerConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_server_connections",
				Help:      "Number of open WebSocket connections per channel",
			},
			[]string{"channel"},
		),
		ServerBroadcasts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "live_server_broadcasts_total",
				Help:      "Total number of broadcast messages per channel",
			},
			[]string{"channel"},
		),
		ServerRateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "live_server_rate_limited_total",
				Help:      "Total number of inbound commands dropped by the rate limiter",
			},
			[]string{"channel"},
		),
		GeneratedAuditLogs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generated_audit_logs_total",
				Help:      "Total number of synthetic audit events produced by the generator",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ChannelState,
		m.Reconnects,
		m.MessagesReceived,
		m.MalformedMessages,
		m.SendFailures,
		m.ServerConnections,
		m.ServerBroadcasts,
		m.ServerRateLimited,
		m.GeneratedAuditLogs,
	)

	return m
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
