package jwt

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for token verification.
type Metrics struct {
	validationTotal    *prometheus.CounterVec
	validationDuration *prometheus.HistogramVec
}

// NewMetrics creates verifier metrics and registers them with reg when
// reg is non-nil.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{
		validationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jwt",
				Name:      "validation_total",
				Help:      "Total number of token validations by result and reason",
			},
			[]string{"result", "reason"},
		),
		validationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "jwt",
				Name:      "validation_duration_seconds",
				Help:      "Token validation duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"result"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.validationTotal, m.validationDuration)
	}
	m.init()

	return m
}

// init pre-populates label combinations so series appear at startup.
func (m *Metrics) init() {
	m.validationTotal.WithLabelValues("success", "")
	for _, r := range []Reason{
		ReasonMalformed, ReasonExpired, ReasonBadSignature, ReasonRevoked,
		ReasonNotYetValid, ReasonInvalidClaims, ReasonRevocationUnavailable,
	} {
		m.validationTotal.WithLabelValues("error", string(r))
	}
}

// RecordValidation records one verification.
func (m *Metrics) RecordValidation(reason Reason, duration time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if reason != "" {
		result = "error"
	}
	m.validationTotal.WithLabelValues(result, string(reason)).Inc()
	m.validationDuration.WithLabelValues(result).Observe(duration.Seconds())
}
