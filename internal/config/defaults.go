package config

import "time"

// Default values applied by SetDefaults.
const (
	DefaultAddress          = ":8080"
	DefaultReadTimeout      = 30 * time.Second
	DefaultWriteTimeout     = 60 * time.Second
	DefaultIdleTimeout      = 120 * time.Second
	DefaultShutdownTimeout  = 30 * time.Second
	DefaultMaxBodyBytes     = 10 << 20
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "gateway"
	DefaultServiceName      = "avagate"
	DefaultSamplingRate     = 1.0
	DefaultCapacity         = 100
	DefaultRefillRate       = 10.0
	DefaultIdleHorizon      = 10 * time.Minute
	DefaultSweepInterval    = time.Minute
	DefaultMaxBuckets       = 100000
	DefaultUpstreamTimeout  = 30 * time.Second
	DefaultRevocationSetKey = "gateway:revoked_tokens"
	DefaultRedisDialTimeout = 5 * time.Second
	DefaultRedisReadTimeout = 500 * time.Millisecond
	DefaultBreakerThreshold = 5
	DefaultBreakerRatio     = 0.5
	DefaultBreakerTimeout   = 30 * time.Second
	DefaultInitialBackoff   = 25 * time.Millisecond
	DefaultMaxBackoff       = time.Second
	DefaultBackoffFactor    = 2.0
	DefaultBackoffJitter    = 0.2
	DefaultHealthCheckPath  = "/health"
	DefaultHealthTimeout    = 5 * time.Second
	DefaultCORSMaxAge       = 86400
)

// DefaultConfig returns a configuration with every default applied and
// no routes or keys.
func DefaultConfig() *GatewayConfig {
	cfg := &GatewayConfig{
		APIVersion: APIVersion,
		Kind:       Kind,
		Metadata:   Metadata{Name: DefaultServiceName},
	}
	SetDefaults(cfg)
	return cfg
}

// SetDefaults fills zero-valued optional fields.
func SetDefaults(cfg *GatewayConfig) {
	if cfg == nil {
		return
	}
	s := &cfg.Spec

	setServerDefaults(&s.Server)
	setObservabilityDefaults(&s.Observability)
	setRateLimitDefaults(&s.RateLimit)
	setUpstreamDefaults(&s.Upstream)
	if s.CORS != nil {
		setCORSDefaults(s.CORS)
	}

	if r := s.Auth.Revocation.Redis; r != nil {
		setDuration(&r.DialTimeout, DefaultRedisDialTimeout)
		setDuration(&r.ReadTimeout, DefaultRedisReadTimeout)
		if r.SetKey == "" {
			r.SetKey = DefaultRevocationSetKey
		}
	}
}

func setServerDefaults(s *ServerConfig) {
	if s.Address == "" {
		s.Address = DefaultAddress
	}
	setDuration(&s.ReadTimeout, DefaultReadTimeout)
	setDuration(&s.WriteTimeout, DefaultWriteTimeout)
	setDuration(&s.IdleTimeout, DefaultIdleTimeout)
	setDuration(&s.ShutdownTimeout, DefaultShutdownTimeout)
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

func setObservabilityDefaults(o *ObservabilityConfig) {
	if o.Logging.Level == "" {
		o.Logging.Level = DefaultLogLevel
	}
	if o.Logging.Format == "" {
		o.Logging.Format = DefaultLogFormat
	}
	if o.Logging.Output == "" {
		o.Logging.Output = "stdout"
	}
	if o.Metrics.Path == "" {
		o.Metrics.Path = DefaultMetricsPath
	}
	if o.Metrics.Namespace == "" {
		o.Metrics.Namespace = DefaultMetricsNamespace
	}
	if o.Tracing.ServiceName == "" {
		o.Tracing.ServiceName = DefaultServiceName
	}
	if o.Tracing.SamplingRate == 0 {
		o.Tracing.SamplingRate = DefaultSamplingRate
	}
}

func setRateLimitDefaults(r *RateLimitConfig) {
	if r.Capacity == 0 {
		r.Capacity = DefaultCapacity
	}
	if r.RefillRate == 0 {
		r.RefillRate = DefaultRefillRate
	}
	setDuration(&r.IdleHorizon, DefaultIdleHorizon)
	setDuration(&r.SweepInterval, DefaultSweepInterval)
	if r.MaxBuckets == 0 {
		r.MaxBuckets = DefaultMaxBuckets
	}
}

func setUpstreamDefaults(u *UpstreamConfig) {
	setDuration(&u.Timeout, DefaultUpstreamTimeout)

	cb := &u.CircuitBreaker
	if cb.Threshold == 0 {
		cb.Threshold = DefaultBreakerThreshold
	}
	if cb.FailureRatio == 0 {
		cb.FailureRatio = DefaultBreakerRatio
	}
	setDuration(&cb.Timeout, DefaultBreakerTimeout)

	r := &u.Retry
	setDuration(&r.InitialBackoff, DefaultInitialBackoff)
	setDuration(&r.MaxBackoff, DefaultMaxBackoff)
	if r.Factor == 0 {
		r.Factor = DefaultBackoffFactor
	}
	if r.Jitter == 0 {
		r.Jitter = DefaultBackoffJitter
	}

	if u.HealthCheck.Path == "" {
		u.HealthCheck.Path = DefaultHealthCheckPath
	}
	setDuration(&u.HealthCheck.Timeout, DefaultHealthTimeout)
}

func setCORSDefaults(c *CORSConfig) {
	if len(c.AllowOrigins) == 0 {
		c.AllowOrigins = []string{"*"}
	}
	if len(c.AllowMethods) == 0 {
		c.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	}
	if len(c.AllowHeaders) == 0 {
		c.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"}
	}
	if c.MaxAge == 0 {
		c.MaxAge = DefaultCORSMaxAge
	}
}

func setDuration(d *Duration, def time.Duration) {
	if *d == 0 {
		*d = Duration(def)
	}
}
