package proxy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for upstream calls.
type Metrics struct {
	requests           *prometheus.CounterVec
	duration           *prometheus.HistogramVec
	retries            *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
}

// NewMetrics creates forwarder metrics and registers them with reg when
// reg is non-nil.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "requests_total",
				Help:      "Upstream calls by backend and result",
			},
			[]string{"backend", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "duration_seconds",
				Help:      "Duration of upstream calls including retries",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"backend"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "retries_total",
				Help:      "Retried upstream attempts by backend",
			},
			[]string{"backend"},
		),
		breakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "circuit_breaker_transitions_total",
				Help:      "Circuit breaker state transitions",
			},
			[]string{"backend", "from", "to"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"backend"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.requests, m.duration, m.retries, m.breakerTransitions, m.breakerState)
	}

	return m
}

func (m *Metrics) recordRequest(backend, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(backend, result).Inc()
	m.duration.WithLabelValues(backend).Observe(d.Seconds())
}

func (m *Metrics) recordRetry(backend string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(backend).Inc()
}

func (m *Metrics) recordTransition(backend, from, to string, state int) {
	if m == nil {
		return
	}
	m.breakerTransitions.WithLabelValues(backend, from, to).Inc()
	m.breakerState.WithLabelValues(backend).Set(float64(state))
}
