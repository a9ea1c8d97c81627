package stream

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes stream counters. A nil *Metrics records nothing.
type Metrics struct {
	connects *prometheus.CounterVec
	events   *prometheus.CounterVec
	state    *prometheus.GaugeVec
}

// NewMetrics registers the stream collectors on reg, reusing collectors that
// are already registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "faasdeck",
			Subsystem: "build_stream",
			Name:      "connect_attempts_total",
			Help:      "Build stream connection attempts by result",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "faasdeck",
			Subsystem: "build_stream",
			Name:      "events_total",
			Help:      "Build stream events by outcome",
		}, []string{"outcome"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "faasdeck",
			Subsystem: "build_stream",
			Name:      "state",
			Help:      "Current build stream state (1 for the active state)",
		}, []string{"state"}),
	}
	if reg == nil {
		return m
	}
	for _, collector := range []prometheus.Collector{m.connects, m.events, m.state} {
		if err := reg.Register(collector); err != nil {
			are, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				continue
			}
			switch v := are.ExistingCollector.(type) {
			case *prometheus.CounterVec:
				if collector == m.connects {
					m.connects = v
				} else if collector == m.events {
					m.events = v
				}
			case *prometheus.GaugeVec:
				m.state = v
			}
		}
	}
	return m
}

func (m *Metrics) connect(result string) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues(result).Inc()
}

func (m *Metrics) event(outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(outcome).Inc()
}

func (m *Metrics) transition(s State) {
	if m == nil {
		return
	}
	for _, candidate := range allStates {
		value := 0.0
		if candidate == s {
			value = 1
		}
		m.state.WithLabelValues(candidate.String()).Set(value)
	}
}
