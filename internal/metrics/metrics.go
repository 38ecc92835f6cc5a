// Package metrics exposes Prometheus collectors for link activity.
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pairlink"

// Link roles used as label values
const (
	RoleListener  = "listener"
	RoleConnector = "connector"
)

// Connect attempt results used as label values
const (
	ResultSuccess     = "success"
	ResultAuthFailure = "auth_failure"
	ResultError       = "error"
)

// Send routes used as label values
const (
	RouteConnector = "connector"
	RouteListener  = "listener"
	RouteNone      = "none"
)

// Health notification kinds used as label values
const (
	NotifyHealthy    = "healthy"
	NotifyUnhealthy  = "unhealthy"
	NotifySuppressed = "suppressed"
)

// Metrics holds the collectors of one node
type Metrics struct {
	connectAttempts  *prometheus.CounterVec
	linkEvents       *prometheus.CounterVec
	linkUp           *prometheus.GaugeVec
	healthy          prometheus.Gauge
	notifications    *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	bytesSent        prometheus.Counter
	messagesReceived *prometheus.CounterVec
	bytesReceived    prometheus.Counter
}

// New creates the collectors and registers them on reg.
// A nil reg creates unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connectAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Connector attempts to reach the peer, by result.",
		}, []string{"result"}),
		linkEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_events_total",
			Help:      "Link connect and disconnect events, by role.",
		}, []string{"role", "event"}),
		linkUp: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_up",
			Help:      "Whether the link of each role is connected.",
		}, []string{"role"}),
		healthy: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "healthy",
			Help:      "Whether both links are connected to the peer.",
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_notifications_total",
			Help:      "Cluster health notifications, including suppressed unhealthy ones.",
		}, []string{"kind"}),
		messagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Send calls by the route taken; route none means no link was available.",
		}, []string{"route"}),
		bytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sent_bytes_total",
			Help:      "Payload bytes successfully sent.",
		}),
		messagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages received, by role.",
		}, []string{"role"}),
		bytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "received_bytes_total",
			Help:      "Payload bytes received.",
		}),
	}
}

// ConnectAttempt records the outcome of one connector attempt
func (m *Metrics) ConnectAttempt(result string) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(result).Inc()
}

// LinkChanged records a role connecting or disconnecting
func (m *Metrics) LinkChanged(role string, connected bool) {
	if m == nil {
		return
	}
	event := "disconnected"
	value := 0.0
	if connected {
		event = "connected"
		value = 1
	}
	m.linkEvents.WithLabelValues(role, event).Inc()
	m.linkUp.WithLabelValues(role).Set(value)
}

// HealthNotified records a health notification of the given kind
func (m *Metrics) HealthNotified(kind string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind).Inc()
	switch kind {
	case NotifyHealthy:
		m.healthy.Set(1)
	case NotifyUnhealthy:
		m.healthy.Set(0)
	}
}

// SetHealthy sets the aggregate health gauge
func (m *Metrics) SetHealthy(healthy bool) {
	if m == nil {
		return
	}
	if healthy {
		m.healthy.Set(1)
	} else {
		m.healthy.Set(0)
	}
}

// MessageSent records a send call routed through route
func (m *Metrics) MessageSent(route string, ok bool, bytes int64) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(route).Inc()
	if ok {
		m.bytesSent.Add(float64(bytes))
	}
}

// MessageReceived records an inbound message on role
func (m *Metrics) MessageReceived(role string, bytes int64) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(role).Inc()
	m.bytesReceived.Add(float64(bytes))
}
