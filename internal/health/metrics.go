package health

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds readiness check metrics.
type Metrics struct {
	status   *prometheus.GaugeVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates check metrics and registers them with reg when reg
// is non-nil.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{
		status: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "check_status",
				Help:      "Readiness check status (1=healthy, 0.5=degraded, 0=unhealthy)",
			},
			[]string{"check"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "check_duration_seconds",
				Help:      "Readiness check duration in seconds",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2},
			},
			[]string{"check"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.status, m.duration)
	}
	return m
}

func (m *Metrics) record(check string, status Status, d time.Duration) {
	if m == nil {
		return
	}
	v := 0.0
	switch status {
	case StatusHealthy:
		v = 1
	case StatusDegraded:
		v = 0.5
	}
	m.status.WithLabelValues(check).Set(v)
	m.duration.WithLabelValues(check).Observe(d.Seconds())
}

// forget drops the series of a check that no longer exists.
func (m *Metrics) forget(check string) {
	if m == nil {
		return
	}
	m.status.DeleteLabelValues(check)
	m.duration.DeleteLabelValues(check)
}
