package history

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes history store counters.
type Metrics struct {
	mutations *prometheus.CounterVec
	size      prometheus.Gauge
}

// NewMetrics registers the history collectors on reg. Collectors that are
// already registered are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "faasdeck",
			Subsystem: "history",
			Name:      "mutations_total",
			Help:      "Build history mutations by operation",
		}, []string{"op"}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "faasdeck",
			Subsystem: "history",
			Name:      "entries",
			Help:      "Number of entries held in the build history",
		}),
	}
	if reg == nil {
		return m
	}
	if err := reg.Register(m.mutations); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				m.mutations = existing
			}
		}
	}
	if err := reg.Register(m.size); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				m.size = existing
			}
		}
	}
	return m
}
