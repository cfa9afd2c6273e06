package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the rate limiter.
type Metrics struct {
	decisions *prometheus.CounterVec
	buckets   prometheus.Gauge
	evictions *prometheus.CounterVec
}

// NewMetrics creates limiter metrics and registers them with reg when
// reg is non-nil.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "decisions_total",
				Help:      "Rate limit decisions by outcome",
			},
			[]string{"outcome"},
		),
		buckets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "buckets",
				Help:      "Number of live token buckets",
			},
		),
		evictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "evictions_total",
				Help:      "Evicted token buckets by reason",
			},
			[]string{"reason"},
		),
	}

	for _, o := range []Outcome{Admitted, Limited, Impossible} {
		m.decisions.WithLabelValues(o.String())
	}
	for _, r := range []string{"idle", "capacity"} {
		m.evictions.WithLabelValues(r)
	}

	if reg != nil {
		reg.MustRegister(m.decisions, m.buckets, m.evictions)
	}

	return m
}

func (m *Metrics) recordDecision(o Outcome) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(o.String()).Inc()
}

func (m *Metrics) setBuckets(n int) {
	if m == nil {
		return
	}
	m.buckets.Set(float64(n))
}

func (m *Metrics) recordEvictions(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.evictions.WithLabelValues(reason).Add(float64(n))
}
