package transport

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/risa-org/relink/disconnect"
)

// Metrics counts transport lifecycle events.
// All methods are safe on a nil *Metrics, so transports built without
// metrics skip recording entirely.
type Metrics struct {
	connects      *prometheus.CounterVec
	disconnects   *prometheus.CounterVec
	staleDropped  *prometheus.CounterVec
	writesDropped *prometheus.CounterVec
	generation    *prometheus.GaugeVec
}

// NewMetrics creates the transport collectors and registers them with reg.
// Pass prometheus.NewRegistry() in tests to avoid global state.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relink",
			Subsystem: "transport",
			Name:      "connects_total",
			Help:      "Handshakes completed and delivered to the delegate.",
		}, []string{"transport"}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relink",
			Subsystem: "transport",
			Name:      "disconnects_total",
			Help:      "Disconnect notifications delivered, by kind.",
		}, []string{"transport", "kind"}),
		staleDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relink",
			Subsystem: "transport",
			Name:      "stale_events_dropped_total",
			Help:      "Socket events dropped because their generation was superseded or closing.",
		}, []string{"event"}),
		writesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relink",
			Subsystem: "transport",
			Name:      "writes_dropped_total",
			Help:      "Frames dropped because no connection was open.",
		}, []string{"transport"}),
		generation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "relink",
			Subsystem: "transport",
			Name:      "generation",
			Help:      "Current socket generation.",
		}, []string{"transport"}),
	}

	if reg != nil {
		reg.MustRegister(m.connects, m.disconnects, m.staleDropped, m.writesDropped, m.generation)
	}
	return m
}

func (m *Metrics) connected(transport string) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues(transport).Inc()
}

func (m *Metrics) disconnected(transport string, kind disconnect.Kind) {
	if m == nil {
		return
	}
	m.disconnects.WithLabelValues(transport, kind.String()).Inc()
}

func (m *Metrics) stale(event string) {
	if m == nil {
		return
	}
	m.staleDropped.WithLabelValues(event).Inc()
}

func (m *Metrics) writeDropped(transport string) {
	if m == nil {
		return
	}
	m.writesDropped.WithLabelValues(transport).Inc()
}

func (m *Metrics) setGeneration(transport string, gen uint64) {
	if m == nil {
		return
	}
	m.generation.WithLabelValues(transport).Set(float64(gen))
}
