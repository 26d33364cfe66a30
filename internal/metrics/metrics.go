// ABOUTME: Prometheus counters for webhook, outbound, session and notification traffic
// ABOUTME: Each Metrics owns its registry; a nil *Metrics records nothing

package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
)

// Metrics holds the switchboard collectors.
type Metrics struct {
	registry *prometheus.Registry

	webhookMessages *prometheus.CounterVec
	outbound        *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	notifications   *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, along with the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		webhookMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_webhook_messages_total",
			Help: "Inbound webhook messages by processing outcome.",
		}, []string{"outcome"}),
		outbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_outbound_messages_total",
			Help: "Outbound provider messages by kind and outcome.",
		}, []string{"kind", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_mode_transitions_total",
			Help: "Session mode transitions by target mode.",
		}, []string{"mode"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_notifications_published_total",
			Help: "Routing notifications published by origin.",
		}, []string{"origin"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.webhookMessages,
		m.outbound,
		m.transitions,
		m.notifications,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WebhookMessage counts one inbound message.
func (m *Metrics) WebhookMessage(outcome string) {
	if m == nil {
		return
	}
	m.webhookMessages.WithLabelValues(outcome).Inc()
}

// OutboundMessage counts one send attempt.
func (m *Metrics) OutboundMessage(kind, outcome string) {
	if m == nil {
		return
	}
	m.outbound.WithLabelValues(kind, outcome).Inc()
}

// ModeTransition counts one persisted mode change.
func (m *Metrics) ModeTransition(mode int) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(strconv.Itoa(mode)).Inc()
}

// NotificationPublished counts one routing notification.
func (m *Metrics) NotificationPublished(origin string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(origin).Inc()
}
