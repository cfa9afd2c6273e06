package proxy

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/avagate/internal/observability"
)

// BreakerSettings configures the per-backend circuit breakers.
type BreakerSettings struct {
	// Enabled turns circuit breaking on.
	Enabled bool

	// Threshold is the minimum number of requests in an interval before
	// the failure ratio is considered. Also bounds half-open probes.
	Threshold int

	// FailureRatio trips the breaker when reached. Defaults to 0.5.
	FailureRatio float64

	// Interval is the cyclic period of the closed state for clearing
	// counts. Zero keeps counts until a state change.
	Interval time.Duration

	// Timeout is how long the breaker stays open.
	Timeout time.Duration
}

const (
	defaultBreakerThreshold = 5
	defaultBreakerRatio     = 0.5
	defaultBreakerTimeout   = 30 * time.Second
)

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.Threshold <= 0 {
		s.Threshold = defaultBreakerThreshold
	}
	if s.FailureRatio <= 0 || s.FailureRatio > 1 {
		s.FailureRatio = defaultBreakerRatio
	}
	if s.Timeout <= 0 {
		s.Timeout = defaultBreakerTimeout
	}
	return s
}

// breakers lazily creates one gobreaker per backend name.
type breakers struct {
	settings BreakerSettings
	logger   observability.Logger
	metrics  *Metrics

	mu  sync.RWMutex
	cbs map[string]*gobreaker.CircuitBreaker
}

func newBreakers(settings BreakerSettings, logger observability.Logger, metrics *Metrics) *breakers {
	return &breakers{
		settings: settings.withDefaults(),
		logger:   logger,
		metrics:  metrics,
		cbs:      make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (b *breakers) get(backend string) *gobreaker.CircuitBreaker {
	b.mu.RLock()
	cb, ok := b.cbs[backend]
	b.mu.RUnlock()
	if ok {
		return cb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok = b.cbs[backend]; ok {
		return cb
	}

	threshold := safeIntToUint32(b.settings.Threshold)
	ratio := b.settings.FailureRatio
	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        backend,
		MaxRequests: threshold,
		Interval:    b.settings.Interval,
		Timeout:     b.settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < threshold {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isCallerError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Info("circuit breaker state change",
				observability.String("backend", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			b.metrics.recordTransition(name, from.String(), to.String(), int(to))
		},
	})
	b.cbs[backend] = cb
	return cb
}

// state returns the breaker state for a backend, closed when unknown.
func (b *breakers) state(backend string) gobreaker.State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if cb, ok := b.cbs[backend]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}
