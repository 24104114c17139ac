package chatsync

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes connection health as Prometheus collectors. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	State       prometheus.Gauge
	QueueDepth  prometheus.Gauge
	Reconnects  prometheus.Counter
	Failures    prometheus.Counter
	Dispatched  *prometheus.CounterVec
	Malformed   prometheus.Counter
	FramesSent  prometheus.Counter
	WriteErrors prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatsync",
			Name:      "connection_state",
			Help:      "Connection state: 0 idle, 1 connecting, 2 open, 3 closing, 4 closed.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatsync",
			Name:      "outbound_queue_depth",
			Help:      "Commands waiting for the connection to open.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts scheduled after unintentional closes.",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "reconnect_exhausted_total",
			Help:      "Times the automatic reconnect policy gave up.",
		}),
		Dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "events_dispatched_total",
			Help:      "Inbound events dispatched to subscribers, by type.",
		}, []string{"type"}),
		Malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "events_malformed_total",
			Help:      "Inbound frames dropped because they could not be decoded.",
		}),
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "frames_sent_total",
			Help:      "Frames written to the socket.",
		}),
		WriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "write_errors_total",
			Help:      "Socket writes that failed and were re-queued.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.State, m.QueueDepth, m.Reconnects, m.Failures,
			m.Dispatched, m.Malformed, m.FramesSent, m.WriteErrors)
	}
	return m
}

func (m *Metrics) setState(s ConnState) {
	if m != nil {
		m.State.Set(float64(s))
	}
}

func (m *Metrics) setQueue(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}

func (m *Metrics) reconnect() {
	if m != nil {
		m.Reconnects.Inc()
	}
}

func (m *Metrics) failed() {
	if m != nil {
		m.Failures.Inc()
	}
}

func (m *Metrics) dispatched(t EventType) {
	if m != nil {
		m.Dispatched.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) malformed() {
	if m != nil {
		m.Malformed.Inc()
	}
}

func (m *Metrics) sent() {
	if m != nil {
		m.FramesSent.Inc()
	}
}

func (m *Metrics) writeError() {
	if m != nil {
		m.WriteErrors.Inc()
	}
}
