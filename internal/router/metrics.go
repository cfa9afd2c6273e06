package router

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the route table.
type Metrics struct {
	generation prometheus.Gauge
	routes     prometheus.Gauge
	resolves   *prometheus.CounterVec
}

// NewMetrics creates route table metrics and registers them with reg
// when reg is non-nil.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "routes",
			Name:      "table_generation",
			Help:      "Generation of the installed route table",
		}),
		routes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "routes",
			Name:      "configured",
			Help:      "Number of routes in the installed table",
		}),
		resolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routes",
			Name:      "resolve_total",
			Help:      "Route resolutions by result",
		}, []string{"result"}),
	}

	for _, r := range []string{"match", "no_match", "ambiguous"} {
		m.resolves.WithLabelValues(r)
	}

	if reg != nil {
		reg.MustRegister(m.generation, m.routes, m.resolves)
	}
	return m
}

func (m *Metrics) setTable(generation uint64, routes int) {
	if m == nil {
		return
	}
	m.generation.Set(float64(generation))
	m.routes.Set(float64(routes))
}

func (m *Metrics) recordResolve(err error) {
	if m == nil {
		return
	}
	result := "match"
	switch {
	case errors.Is(err, ErrNoMatch):
		result = "no_match"
	case err != nil:
		result = "ambiguous"
	}
	m.resolves.WithLabelValues(result).Inc()
}
