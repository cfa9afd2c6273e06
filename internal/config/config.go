package config

// Resource identity accepted by the loader.
const (
	APIVersion = "gateway.avagate.io/v1"
	Kind       = "Gateway"
)

// GatewayConfig is the root configuration document.
type GatewayConfig struct {
	APIVersion string      `yaml:"apiVersion" json:"apiVersion"`
	Kind       string      `yaml:"kind" json:"kind"`
	Metadata   Metadata    `yaml:"metadata" json:"metadata"`
	Spec       GatewaySpec `yaml:"spec" json:"spec"`
}

// Metadata identifies the gateway instance.
type Metadata struct {
	Name   string            `yaml:"name" json:"name"`
	Labels map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// GatewaySpec holds the gateway settings.
type GatewaySpec struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
	Auth          AuthConfig          `yaml:"auth" json:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rateLimit" json:"rateLimit"`
	Upstream      UpstreamConfig      `yaml:"upstream" json:"upstream"`
	Routes        []RouteConfig       `yaml:"routes" json:"routes"`

	// CORS enables cross-origin handling when set.
	CORS *CORSConfig `yaml:"cors,omitempty" json:"cors,omitempty"`
}

// CORSConfig configures cross-origin resource sharing. Origins are exact
// values, "*" or a "*.example.com" subdomain pattern.
type CORSConfig struct {
	AllowOrigins     []string `yaml:"allowOrigins,omitempty" json:"allowOrigins,omitempty"`
	AllowMethods     []string `yaml:"allowMethods,omitempty" json:"allowMethods,omitempty"`
	AllowHeaders     []string `yaml:"allowHeaders,omitempty" json:"allowHeaders,omitempty"`
	ExposeHeaders    []string `yaml:"exposeHeaders,omitempty" json:"exposeHeaders,omitempty"`
	AllowCredentials bool     `yaml:"allowCredentials,omitempty" json:"allowCredentials,omitempty"`
	MaxAge           int      `yaml:"maxAge,omitempty" json:"maxAge,omitempty"`
}

// ServerConfig configures the inbound HTTP listener.
type ServerConfig struct {
	Address         string   `yaml:"address" json:"address"`
	ReadTimeout     Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout    Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	IdleTimeout     Duration `yaml:"idleTimeout,omitempty" json:"idleTimeout,omitempty"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout,omitempty" json:"shutdownTimeout,omitempty"`

	// MaxBodyBytes bounds buffered request bodies.
	MaxBodyBytes int64 `yaml:"maxBodyBytes,omitempty" json:"maxBodyBytes,omitempty"`

	// TrustForwardedHeaders makes X-Forwarded-For and X-Real-IP count
	// when deriving the client address.
	TrustForwardedHeaders bool `yaml:"trustForwardedHeaders,omitempty" json:"trustForwardedHeaders,omitempty"`
}

// ObservabilityConfig groups logging, metrics and tracing.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Path      string `yaml:"path,omitempty" json:"path,omitempty"`
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
}

// TracingConfig configures OpenTelemetry.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ServiceName  string  `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
	OTLPEndpoint string  `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty" json:"samplingRate,omitempty"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Issuer     string           `yaml:"issuer,omitempty" json:"issuer,omitempty"`
	Audience   string           `yaml:"audience,omitempty" json:"audience,omitempty"`
	Algorithms []string         `yaml:"algorithms,omitempty" json:"algorithms,omitempty"`
	Leeway     Duration         `yaml:"leeway,omitempty" json:"leeway,omitempty"`
	Keys       []KeyConfig      `yaml:"keys" json:"keys"`
	Revocation RevocationConfig `yaml:"revocation,omitempty" json:"revocation,omitempty"`
}

// KeyConfig is one source of verification keys. Exactly one of JWKS,
// JWKSFile, PublicKeyPEM, PublicKeyFile or Secret must be set.
type KeyConfig struct {
	ID            string `yaml:"id,omitempty" json:"id,omitempty"`
	Algorithm     string `yaml:"algorithm,omitempty" json:"algorithm,omitempty"`
	JWKS          string `yaml:"jwks,omitempty" json:"jwks,omitempty"`
	JWKSFile      string `yaml:"jwksFile,omitempty" json:"jwksFile,omitempty"`
	PublicKeyPEM  string `yaml:"publicKeyPEM,omitempty" json:"publicKeyPEM,omitempty"`
	PublicKeyFile string `yaml:"publicKeyFile,omitempty" json:"publicKeyFile,omitempty"`
	Secret        string `yaml:"secret,omitempty" json:"-"`
}

// RevocationConfig selects the revoked-token store.
type RevocationConfig struct {
	// Tokens is a static list of revoked jti values or "sha256:<hex>"
	// token hashes.
	Tokens []string `yaml:"tokens,omitempty" json:"tokens,omitempty"`

	// Redis, when set, replaces the static list with a Redis set.
	Redis *RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`

	// FailOpen accepts tokens when the store cannot be queried.
	FailOpen bool `yaml:"failOpen,omitempty" json:"failOpen,omitempty"`
}

// RedisConfig configures the Redis revocation store.
type RedisConfig struct {
	Address     string   `yaml:"address" json:"address"`
	Password    string   `yaml:"password,omitempty" json:"-"`
	DB          int      `yaml:"db,omitempty" json:"db,omitempty"`
	SetKey      string   `yaml:"setKey,omitempty" json:"setKey,omitempty"`
	DialTimeout Duration `yaml:"dialTimeout,omitempty" json:"dialTimeout,omitempty"`
	ReadTimeout Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
}

// RateLimitConfig configures the token buckets shared by all routes.
type RateLimitConfig struct {
	Capacity      int      `yaml:"capacity" json:"capacity"`
	RefillRate    float64  `yaml:"refillRate" json:"refillRate"`
	IdleHorizon   Duration `yaml:"idleHorizon,omitempty" json:"idleHorizon,omitempty"`
	SweepInterval Duration `yaml:"sweepInterval,omitempty" json:"sweepInterval,omitempty"`
	MaxBuckets    int      `yaml:"maxBuckets,omitempty" json:"maxBuckets,omitempty"`
}

// UpstreamConfig holds forwarder defaults.
type UpstreamConfig struct {
	Timeout          Duration             `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	MaxResponseBytes int64                `yaml:"maxResponseBytes,omitempty" json:"maxResponseBytes,omitempty"`
	CircuitBreaker   CircuitBreakerConfig `yaml:"circuitBreaker,omitempty" json:"circuitBreaker,omitempty"`
	Retry            RetryConfig          `yaml:"retry,omitempty" json:"retry,omitempty"`
	HealthCheck      HealthCheckConfig    `yaml:"healthCheck,omitempty" json:"healthCheck,omitempty"`
}

// HealthCheckConfig configures the backend health aggregation. Every
// distinct route backend is checked with GET <backend><path>.
type HealthCheckConfig struct {
	Path    string   `yaml:"path,omitempty" json:"path,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// CircuitBreakerConfig configures per-backend breakers.
type CircuitBreakerConfig struct {
	Enabled      bool     `yaml:"enabled" json:"enabled"`
	Threshold    int      `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	FailureRatio float64  `yaml:"failureRatio,omitempty" json:"failureRatio,omitempty"`
	Interval     Duration `yaml:"interval,omitempty" json:"interval,omitempty"`
	Timeout      Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// RetryConfig configures backoff between forwarder retries.
type RetryConfig struct {
	InitialBackoff Duration `yaml:"initialBackoff,omitempty" json:"initialBackoff,omitempty"`
	MaxBackoff     Duration `yaml:"maxBackoff,omitempty" json:"maxBackoff,omitempty"`
	Factor         float64  `yaml:"factor,omitempty" json:"factor,omitempty"`
	Jitter         float64  `yaml:"jitter,omitempty" json:"jitter,omitempty"`
}

// RouteConfig maps a versioned path prefix to a backend.
type RouteConfig struct {
	Name        string   `yaml:"name" json:"name"`
	Version     string   `yaml:"version" json:"version"`
	Prefix      string   `yaml:"prefix" json:"prefix"`
	Backend     string   `yaml:"backend" json:"backend"`
	Public      bool     `yaml:"public,omitempty" json:"public,omitempty"`
	Cost        *int     `yaml:"cost,omitempty" json:"cost,omitempty"`
	Timeout     Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Retries     int      `yaml:"retries,omitempty" json:"retries,omitempty"`
	StripPrefix bool     `yaml:"stripPrefix,omitempty" json:"stripPrefix,omitempty"`
	Scopes      []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`
}

// RouteCost returns the configured cost, 1 when omitted.
func (r RouteConfig) RouteCost() int {
	if r.Cost == nil {
		return 1
	}
	return *r.Cost
}
