package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gem_relay"

// Drop reasons used as the "reason" label of MessagesDropped.
const (
	DropUnknownType = "unknown_type"
	DropPanelSource = "panel_source"
	DropQueueFull   = "queue_full"
	DropClosed      = "closed"
)

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Relay holds the relay's collectors. A nil *Relay is valid and records nothing.
type Relay struct {
	ActiveConnections   *prometheus.GaugeVec
	ConnectionsTotal    *prometheus.CounterVec
	ConnectionDuration  *prometheus.HistogramVec
	ConnectionsRejected *prometheus.CounterVec
	Disconnects         *prometheus.CounterVec
	FramesReceived      *prometheus.CounterVec
	ParseErrors         *prometheus.CounterVec
	MessagesForwarded   *prometheus.CounterVec
	MessagesDropped     *prometheus.CounterVec
	JournalDropped      prometheus.Counter
	JournalFlushErrors  prometheus.Counter
}

// NewRelay creates and registers relay metrics on the given registry.
func NewRelay(reg prometheus.Registerer) *Relay {
	m := &Relay{
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "active",
			Help:      "Number of registered connections.",
		}, []string{"role"}),
		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "opened_total",
			Help:      "Total number of connections opened.",
		}, []string{"role"}),
		ConnectionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "duration_seconds",
			Help:      "Lifetime of closed connections.",
			Buckets:   []float64{1, 10, 60, 300, 1800, 3600, 21600, 86400},
		}, []string{"role"}),
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "rejected_total",
			Help:      "Upgrades refused before or during registration.",
		}, []string{"reason"}),
		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "closed_total",
			Help:      "Connections closed, by close reason.",
		}, []string{"role", "reason"}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "received_total",
			Help:      "Inbound frames parsed successfully.",
		}, []string{"role"}),
		ParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "parse_errors_total",
			Help:      "Inbound frames dropped as malformed.",
		}, []string{"role"}),
		MessagesForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "forwarded_total",
			Help:      "Messages enqueued to panels (one per recipient).",
		}, []string{"type"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "dropped_total",
			Help:      "Messages not forwarded, by reason.",
		}, []string{"reason"}),
		JournalDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "dropped_total",
			Help:      "Connection events dropped because the journal buffer was full.",
		}),
		JournalFlushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "flush_errors_total",
			Help:      "Failed journal batch inserts.",
		}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.ConnectionsTotal,
		m.ConnectionDuration,
		m.ConnectionsRejected,
		m.Disconnects,
		m.FramesReceived,
		m.ParseErrors,
		m.MessagesForwarded,
		m.MessagesDropped,
		m.JournalDropped,
		m.JournalFlushErrors,
	)
	return m
}

// ConnectionOpened records a registered connection.
func (m *Relay) ConnectionOpened(role string) {
	if m == nil {
		return
	}
	m.ActiveConnections.WithLabelValues(role).Inc()
	m.ConnectionsTotal.WithLabelValues(role).Inc()
}

// ConnectionClosed records an unregistered connection.
func (m *Relay) ConnectionClosed(role, reason string, lifetime time.Duration) {
	if m == nil {
		return
	}
	m.ActiveConnections.WithLabelValues(role).Dec()
	m.Disconnects.WithLabelValues(role, reason).Inc()
	m.ConnectionDuration.WithLabelValues(role).Observe(lifetime.Seconds())
}

// ConnectionRejected records an upgrade that never became a registered connection.
func (m *Relay) ConnectionRejected(reason string) {
	if m == nil {
		return
	}
	m.ConnectionsRejected.WithLabelValues(reason).Inc()
}

// FrameReceived records a parsed inbound frame.
func (m *Relay) FrameReceived(role string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(role).Inc()
}

// ParseError records a malformed inbound frame.
func (m *Relay) ParseError(role string) {
	if m == nil {
		return
	}
	m.ParseErrors.WithLabelValues(role).Inc()
}

// Forwarded records one message enqueued to n panels.
func (m *Relay) Forwarded(msgType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.MessagesForwarded.WithLabelValues(msgType).Add(float64(n))
}

// Dropped records a message not forwarded.
func (m *Relay) Dropped(reason string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(reason).Inc()
}

// JournalDrop records a journal event lost to a full buffer.
func (m *Relay) JournalDrop() {
	if m == nil {
		return
	}
	m.JournalDropped.Inc()
}

// JournalFlushError records a failed journal flush.
func (m *Relay) JournalFlushError() {
	if m == nil {
		return
	}
	m.JournalFlushErrors.Inc()
}
