package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the chat server. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ConnectionsTotal  prometheus.Counter
	ActiveSessions    prometheus.Gauge
	EventsTotal       *prometheus.CounterVec
	DeliveriesTotal   prometheus.Counter
	DropsTotal        prometheus.Counter
	PersistenceErrors *prometheus.CounterVec
	RateLimitedTotal  prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomchat_connections_total",
			Help: "Total WebSocket connections accepted",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomchat_active_sessions",
			Help: "Current open sessions",
		}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomchat_events_total",
			Help: "Inbound client events by type",
		}, []string{"type"}),
		DeliveriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomchat_deliveries_total",
			Help: "Outbound frames queued to a connection",
		}),
		DropsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomchat_drops_total",
			Help: "Outbound frames skipped because the recipient was full or closed",
		}),
		PersistenceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomchat_persistence_errors_total",
			Help: "Failed durable storage calls by operation",
		}, []string{"op"}),
		RateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomchat_rate_limited_total",
			Help: "Inbound frames rejected by the per-connection rate limit",
		}),
	}
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) EventReceived(eventType string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(eventType).Inc()
}

func (m *Metrics) Delivered(delivered, dropped int) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.Add(float64(delivered))
	m.DropsTotal.Add(float64(dropped))
}

func (m *Metrics) PersistenceError(op string) {
	if m == nil {
		return
	}
	m.PersistenceErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}
