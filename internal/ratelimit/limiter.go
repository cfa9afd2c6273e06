package ratelimit

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/avagate/internal/observability"
)

// Outcome is the result kind of an admission.
type Outcome int

// Admission outcomes.
const (
	// Admitted means the cost was charged.
	Admitted Outcome = iota
	// Limited means the bucket lacks tokens now; retry after RetryAfter.
	Limited
	// Impossible means the cost exceeds the bucket capacity and can
	// never be admitted.
	Impossible
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case Limited:
		return "limited"
	case Impossible:
		return "impossible"
	default:
		return "unknown"
	}
}

// Decision is the result of one admission.
type Decision struct {
	Outcome Outcome

	// Limit is the bucket capacity.
	Limit int

	// Remaining is the number of whole tokens left after the decision.
	Remaining int

	// RetryAfter is how long until the cost could be admitted. Zero
	// unless Outcome is Limited.
	RetryAfter time.Duration

	// ResetAfter is how long until the bucket is full again.
	ResetAfter time.Duration
}

// Allowed reports whether the request was admitted.
func (d Decision) Allowed() bool {
	return d.Outcome == Admitted
}

// Defaults.
const (
	DefaultIdleHorizon   = 10 * time.Minute
	DefaultSweepInterval = time.Minute
	DefaultMaxBuckets    = 100_000

	// overflowEvictFraction is the share of buckets evicted at once when
	// MaxBuckets is reached.
	overflowEvictFraction = 0.1
)

// ErrInvalidConfig indicates an unusable limiter configuration.
var ErrInvalidConfig = errors.New("invalid rate limiter configuration")

// Config configures a Limiter.
type Config struct {
	// Capacity is the maximum number of tokens in a bucket.
	Capacity int

	// RefillRate is the number of tokens added per second.
	RefillRate float64

	// IdleHorizon is how long a bucket may stay untouched before Sweep
	// removes it.
	IdleHorizon time.Duration

	// SweepInterval is the period of the background sweep.
	SweepInterval time.Duration

	// MaxBuckets caps the number of live buckets.
	MaxBuckets int
}

// bucket is the token bucket state for one key.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	lastSeen   time.Time
	evicted    bool
}

// refill adds tokens for the time elapsed since the last refill, capped
// at capacity. A clock that moves backwards adds nothing.
func (b *bucket) refill(now time.Time, capacity, perSecond float64) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(capacity, b.tokens+elapsed.Seconds()*perSecond)
	b.lastRefill = now
}

// Limiter is a keyed token bucket store. It is safe for concurrent use.
type Limiter struct {
	capacity      float64
	refillRate    float64
	idleHorizon   time.Duration
	sweepInterval time.Duration
	maxBuckets    int

	now     func() time.Time
	logger  observability.Logger
	metrics *Metrics
	denyLog rate.Sometimes

	mu      sync.RWMutex
	buckets map[string]*bucket

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// Option is a functional option for the limiter.
type Option func(*Limiter)

// WithLogger sets the logger for the limiter.
func WithLogger(logger observability.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithMetrics sets the metrics for the limiter.
func WithMetrics(metrics *Metrics) Option {
	return func(l *Limiter) {
		l.metrics = metrics
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if cfg.Capacity <= 0 {
		return nil, errors.Join(ErrInvalidConfig, errors.New("capacity must be positive"))
	}
	if cfg.RefillRate <= 0 || math.IsInf(cfg.RefillRate, 0) || math.IsNaN(cfg.RefillRate) {
		return nil, errors.Join(ErrInvalidConfig, errors.New("refill rate must be a positive number"))
	}

	l := &Limiter{
		capacity:      float64(cfg.Capacity),
		refillRate:    cfg.RefillRate,
		idleHorizon:   cfg.IdleHorizon,
		sweepInterval: cfg.SweepInterval,
		maxBuckets:    cfg.MaxBuckets,
		now:           time.Now,
		logger:        observability.NopLogger(),
		denyLog:       rate.Sometimes{Interval: time.Second},
		buckets:       make(map[string]*bucket),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}

	if l.idleHorizon <= 0 {
		l.idleHorizon = DefaultIdleHorizon
	}
	if full := l.fullRefill(); l.idleHorizon < full {
		l.idleHorizon = full
	}
	if l.sweepInterval <= 0 {
		l.sweepInterval = DefaultSweepInterval
	}
	if l.maxBuckets <= 0 {
		l.maxBuckets = DefaultMaxBuckets
	}

	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// fullRefill is the time an empty bucket needs to become full.
func (l *Limiter) fullRefill() time.Duration {
	return seconds(l.capacity / l.refillRate)
}

// Capacity returns the bucket capacity.
func (l *Limiter) Capacity() int {
	return int(l.capacity)
}

// IdleHorizon returns the effective idle horizon.
func (l *Limiter) IdleHorizon() time.Duration {
	return l.idleHorizon
}

// Admit charges cost tokens to the bucket for key. A non-positive cost
// is treated as 1.
func (l *Limiter) Admit(key string, cost int) Decision {
	if cost <= 0 {
		cost = 1
	}
	need := float64(cost)

	if need > l.capacity {
		d := Decision{Outcome: Impossible, Limit: l.Capacity()}
		l.metrics.recordDecision(d.Outcome)
		l.logDenied(key, cost, d)
		return d
	}

	for {
		b := l.bucketFor(key)

		b.mu.Lock()
		if b.evicted {
			// Lost a race with Sweep; the next lookup creates a fresh bucket.
			b.mu.Unlock()
			continue
		}

		now := l.now()
		b.refill(now, l.capacity, l.refillRate)
		b.lastSeen = now

		d := Decision{Limit: l.Capacity()}
		if b.tokens >= need {
			b.tokens -= need
			d.Outcome = Admitted
		} else {
			d.Outcome = Limited
			d.RetryAfter = seconds((need - b.tokens) / l.refillRate)
		}
		d.Remaining = int(math.Floor(b.tokens))
		d.ResetAfter = seconds((l.capacity - b.tokens) / l.refillRate)
		b.mu.Unlock()

		l.metrics.recordDecision(d.Outcome)
		if d.Outcome != Admitted {
			l.logDenied(key, cost, d)
		}
		return d
	}
}

// seconds converts fractional seconds to a duration, rounding up to the
// next nanosecond so a positive wait never becomes zero.
func seconds(s float64) time.Duration {
	return time.Duration(math.Ceil(s * float64(time.Second)))
}

func (l *Limiter) logDenied(key string, cost int, d Decision) {
	l.denyLog.Do(func() {
		l.logger.Info("rate limit denied",
			observability.String("key", key),
			observability.Int("cost", cost),
			observability.String("outcome", d.Outcome.String()),
			observability.Duration("retry_after", d.RetryAfter),
		)
	})
}

// bucketFor returns the bucket for key, creating a full one if needed.
func (l *Limiter) bucketFor(key string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[key]; ok {
		return b
	}

	if len(l.buckets) >= l.maxBuckets {
		l.evictOldestLocked()
	}

	now := l.now()
	b = &bucket{
		tokens:     l.capacity,
		lastRefill: now,
		lastSeen:   now,
	}
	l.buckets[key] = b
	l.metrics.setBuckets(len(l.buckets))
	return b
}

// evictOldestLocked removes the least recently seen tenth of buckets.
// l.mu must be held for writing.
func (l *Limiter) evictOldestLocked() {
	type entry struct {
		key      string
		lastSeen time.Time
	}
	entries := make([]entry, 0, len(l.buckets))
	for k, b := range l.buckets {
		b.mu.Lock()
		entries = append(entries, entry{key: k, lastSeen: b.lastSeen})
		b.mu.Unlock()
	}
	slices.SortFunc(entries, func(a, b entry) int {
		return a.lastSeen.Compare(b.lastSeen)
	})

	n := max(1, int(float64(len(entries))*overflowEvictFraction))
	for _, e := range entries[:n] {
		b := l.buckets[e.key]
		b.mu.Lock()
		b.evicted = true
		b.mu.Unlock()
		delete(l.buckets, e.key)
	}

	l.metrics.recordEvictions("capacity", n)
	l.logger.Warn("rate limiter bucket cap reached, evicted oldest buckets",
		observability.Int("evicted", n),
		observability.Int("max_buckets", l.maxBuckets),
	)
}

// Sweep removes buckets untouched since before now minus the idle
// horizon and returns how many were removed.
func (l *Limiter) Sweep(now time.Time) int {
	cutoff := now.Add(-l.idleHorizon)

	l.mu.RLock()
	var candidates []string
	for k, b := range l.buckets {
		b.mu.Lock()
		if b.lastSeen.Before(cutoff) {
			candidates = append(candidates, k)
		}
		b.mu.Unlock()
	}
	l.mu.RUnlock()

	if len(candidates) == 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for _, k := range candidates {
		b, ok := l.buckets[k]
		if !ok {
			continue
		}
		b.mu.Lock()
		// Re-check: an Admit may have touched it since the scan.
		if b.lastSeen.Before(cutoff) {
			b.evicted = true
			delete(l.buckets, k)
			removed++
		}
		b.mu.Unlock()
	}

	l.metrics.setBuckets(len(l.buckets))
	l.metrics.recordEvictions("idle", removed)
	return removed
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

// Start runs the periodic sweep until ctx is done or Close is called.
// Calling Start more than once has no effect.
func (l *Limiter) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		go l.sweepLoop(ctx)
	})
}

func (l *Limiter) sweepLoop(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := l.Sweep(l.now()); n > 0 {
				l.logger.Debug("swept idle rate limit buckets", observability.Int("removed", n))
			}
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		}
	}
}

// Close stops the background sweep and waits for it to exit. Safe to
// call multiple times, and without a prior Start.
func (l *Limiter) Close() error {
	l.closeOnce.Do(func() {
		close(l.stop)
		started := true
		l.startOnce.Do(func() { started = false })
		if started {
			<-l.done
		}
	})
	return nil
}
