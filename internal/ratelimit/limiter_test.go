package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, cfg Config, clock *fakeClock, opts ...Option) *Limiter {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	l, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func (l *Limiter) tokensFor(key string) float64 {
	l.mu.RLock()
	b := l.buckets[key]
	l.mu.RUnlock()
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "zero capacity", cfg: Config{Capacity: 0, RefillRate: 1}},
		{name: "negative capacity", cfg: Config{Capacity: -1, RefillRate: 1}},
		{name: "zero rate", cfg: Config{Capacity: 1, RefillRate: 0}},
		{name: "negative rate", cfg: Config{Capacity: 1, RefillRate: -2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestNew_IdleHorizonCoversFullRefill(t *testing.T) {
	t.Parallel()

	l, err := New(Config{Capacity: 100, RefillRate: 0.1, IdleHorizon: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 1000*time.Second, l.IdleHorizon())

	l, err = New(Config{Capacity: 10, RefillRate: 1})
	require.NoError(t, err)
	assert.Equal(t, DefaultIdleHorizon, l.IdleHorizon())
}

func TestLimiter_Admit_CapacityPlusOneIsLimited(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newTestLimiter(t, Config{Capacity: 10, RefillRate: 1}, clock)

	for i := 0; i < 10; i++ {
		d := l.Admit("user:a", 1)
		require.True(t, d.Allowed(), "request %d", i+1)
		assert.Equal(t, 10, d.Limit)
		assert.Equal(t, 9-i, d.Remaining)
		clock.Advance(50 * time.Millisecond)
	}

	d := l.Admit("user:a", 1)
	assert.Equal(t, Limited, d.Outcome)
	assert.Positive(t, d.RetryAfter)
}

func TestLimiter_Admit_ElevenWithinOneSecond(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newTestLimiter(t, Config{Capacity: 10, RefillRate: 1}, clock)

	for i := 0; i < 10; i++ {
		require.True(t, l.Admit("user:a", 1).Allowed())
	}

	d := l.Admit("user:a", 1)
	assert.Equal(t, Limited, d.Outcome)
	assert.Equal(t, time.Second, d.RetryAfter)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 10*time.Second, d.ResetAfter)
}

func TestLimiter_Admit_RetryAfterForCost(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newTestLimiter(t, Config{Capacity: 4, RefillRate: 2}, clock)

	require.True(t, l.Admit("k", 3).Allowed())

	d := l.Admit("k", 3)
	assert.Equal(t, Limited, d.Outcome)
	assert.Equal(t, time.Second, d.RetryAfter)

	clock.Advance(time.Second)
	assert.True(t, l.Admit("k", 3).Allowed())
}

func TestLimiter_Admit_LimitedDoesNotCharge(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newTestLimiter(t, Config{Capacity: 2, RefillRate: 1}, clock)

	require.True(t, l.Admit("k", 2).Allowed())
	for i := 0; i < 5; i++ {
		assert.False(t, l.Admit("k", 1).Allowed())
	}

	clock.Advance(time.Second)
	assert.True(t, l.Admit("k", 1).Allowed())
}

func TestLimiter_Admit_RefillNeverExceedsCapacity(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newTestLimiter(t, Config{Capacity: 5, RefillRate: 100}, clock)

	require.True(t, l.Admit("k", 1).Allowed())
	clock.Advance(24 * time.Hour)

	d := l.Admit("k", 1)
	require.True(t, d.Allowed())
	assert.Equal(t, 4, d.Remaining)
	assert.LessOrEqual(t, l.tokensFor("k"), 5.0)
	assert.GreaterOrEqual(t, l.tokensFor("k"), 0.0)
}

func TestLimiter_Admit_ClockGoingBackwards(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newTestLimiter(t, Config{Capacity: 2, RefillRate: 1}, clock)

	require.True(t, l.Admit("k", 2).Allowed())
	clock.Advance(-time.Hour)

	assert.False(t, l.Admit("k", 1).Allowed())
	assert.Equal(t, 0.0, l.tokensFor("k"))
}

func TestLimiter_Admit_Impossible(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newTestLimiter(t, Config{Capacity: 10, RefillRate: 1}, clock)

	d := l.Admit("k", 11)
	assert.Equal(t, Impossible, d.Outcome)
	assert.Zero(t, d.RetryAfter)
	assert.Equal(t, 0, l.Len())

	d = l.Admit("k", 10)
	assert.True(t, d.Allowed())
}

func TestLimiter_Admit_NonPositiveCost(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newTestLimiter(t, Config{Capacity: 3, RefillRate: 1}, clock)

	assert.Equal(t, 2, l.Admit("k", 0).Remaining)
	assert.Equal(t, 1, l.Admit("k", -5).Remaining)
}

func TestLimiter_Admit_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newTestLimiter(t, Config{Capacity: 1, RefillRate: 1}, clock)

	assert.True(t, l.Admit(KeyForIdentity("a"), 1).Allowed())
	assert.False(t, l.Admit(KeyForIdentity("a"), 1).Allowed())
	assert.True(t, l.Admit(KeyForIdentity("b"), 1).Allowed())
	assert.True(t, l.Admit(KeyForClient("a"), 1).Allowed())
	assert.Equal(t, 3, l.Len())
}

func TestLimiter_Admit_ConcurrentSameKey(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newTestLimiter(t, Config{Capacity: 50, RefillRate: 1}, clock)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Admit("hot", 1).Allowed() {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), admitted.Load())
	assert.Equal(t, 1, l.Len())
}

func TestLimiter_Admit_ConcurrentManyKeys(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newTestLimiter(t, Config{Capacity: 3, RefillRate: 1}, clock)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for k := 0; k < 20; k++ {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(k int) {
				defer wg.Done()
				if l.Admit(fmt.Sprintf("user:%d", k), 1).Allowed() {
					admitted.Add(1)
				}
			}(k)
		}
	}
	wg.Wait()

	assert.Equal(t, int64(60), admitted.Load())
	assert.Equal(t, 20, l.Len())
}

func TestLimiter_Sweep(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newTestLimiter(t, Config{Capacity: 2, RefillRate: 1, IdleHorizon: time.Minute}, clock)

	l.Admit("old", 2)
	clock.Advance(45 * time.Second)
	l.Admit("recent", 1)
	clock.Advance(30 * time.Second)

	assert.Equal(t, 1, l.Sweep(clock.Now()))
	assert.Equal(t, 1, l.Len())

	// A swept key starts over with a full bucket.
	d := l.Admit("old", 1)
	assert.True(t, d.Allowed())
	assert.Equal(t, 1, d.Remaining)
}

func TestLimiter_Admit_RetriesEvictedBucket(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newTestLimiter(t, Config{Capacity: 2, RefillRate: 1}, clock)

	l.Admit("k", 2)

	// Simulate an Admit that looked the bucket up just before a sweep
	// evicted it.
	stale := l.bucketFor("k")
	l.mu.Lock()
	stale.mu.Lock()
	stale.evicted = true
	delete(l.buckets, "k")
	stale.mu.Unlock()
	l.mu.Unlock()

	d := l.Admit("k", 1)
	assert.True(t, d.Allowed())
	assert.Equal(t, 0.0, stale.tokens)
	assert.Equal(t, 1.0, l.tokensFor("k"))
}

func TestLimiter_MaxBuckets(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newTestLimiter(t, Config{Capacity: 1, RefillRate: 1, MaxBuckets: 10}, clock)

	for i := 0; i < 10; i++ {
		l.Admit(fmt.Sprintf("k%d", i), 1)
		clock.Advance(time.Millisecond)
	}
	assert.Equal(t, 10, l.Len())

	l.Admit("k10", 1)
	assert.Equal(t, 10, l.Len())

	l.mu.RLock()
	_, oldest := l.buckets["k0"]
	_, newest := l.buckets["k10"]
	l.mu.RUnlock()
	assert.False(t, oldest)
	assert.True(t, newest)
}

func TestLimiter_StartAndClose(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l, err := New(Config{Capacity: 1, RefillRate: 1, IdleHorizon: time.Second, SweepInterval: 5 * time.Millisecond},
		WithClock(clock.Now))
	require.NoError(t, err)

	l.Admit("k", 1)
	l.Start(context.Background())
	l.Start(context.Background())

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, 5*time.Millisecond)

	assert.NoError(t, l.Close())
	assert.NoError(t, l.Close())
}

func TestLimiter_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	l, err := New(Config{Capacity: 1, RefillRate: 1, SweepInterval: time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx)
	cancel()

	select {
	case <-l.done:
	case <-time.After(time.Second):
		t.Fatal("sweep loop did not stop")
	}
	assert.NoError(t, l.Close())
}

func TestLimiter_CloseWithoutStart(t *testing.T) {
	t.Parallel()

	l, err := New(Config{Capacity: 1, RefillRate: 1})
	require.NoError(t, err)
	assert.NoError(t, l.Close())
}

func TestLimiter_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics("test", reg)
	clock := newFakeClock()
	l := newTestLimiter(t, Config{Capacity: 1, RefillRate: 1, IdleHorizon: time.Second}, clock, WithMetrics(metrics))

	l.Admit("a", 1)
	l.Admit("a", 1)
	l.Admit("a", 5)
	l.Admit("b", 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.decisions.WithLabelValues("admitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.decisions.WithLabelValues("limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.decisions.WithLabelValues("impossible")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.buckets))

	clock.Advance(time.Hour)
	l.Sweep(clock.Now())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.buckets))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.evictions.WithLabelValues("idle")))
}

func TestOutcome_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "admitted", Admitted.String())
	assert.Equal(t, "limited", Limited.String())
	assert.Equal(t, "impossible", Impossible.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
