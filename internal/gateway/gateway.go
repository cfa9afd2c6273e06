package gateway

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avagate/internal/auth/jwt"
	"github.com/vyrodovalexey/avagate/internal/config"
	"github.com/vyrodovalexey/avagate/internal/health"
	"github.com/vyrodovalexey/avagate/internal/middleware"
	"github.com/vyrodovalexey/avagate/internal/observability"
	"github.com/vyrodovalexey/avagate/internal/pipeline"
	"github.com/vyrodovalexey/avagate/internal/proxy"
	"github.com/vyrodovalexey/avagate/internal/ratelimit"
	"github.com/vyrodovalexey/avagate/internal/router"
)

// State represents the gateway state.
type State int32

const (
	// StateStopped indicates the gateway is stopped.
	StateStopped State = iota
	// StateStarting indicates the gateway is starting.
	StateStarting
	// StateRunning indicates the gateway is running.
	StateRunning
	// StateStopping indicates the gateway is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Gateway is the API gateway server.
type Gateway struct {
	logger         observability.Logger
	version        string
	metrics        *observability.Metrics
	tracerProvider trace.TracerProvider
	forwarder      pipeline.Forwarder

	mu     sync.RWMutex
	config *config.GatewayConfig

	table        *router.Table
	verifiers    *jwt.Holder
	jwtMetrics   *jwt.Metrics
	revocations  *revocationStore
	limiter      *ratelimit.Limiter
	orchestrator *pipeline.Orchestrator
	checker      *health.Checker

	// backends holds one check per distinct route backend.
	backends     *health.Checker
	healthClient *http.Client
	healthPath   string

	engine   *gin.Engine
	handler  http.Handler
	listener *Listener

	maxBodyBytes   int64
	trustForwarded bool

	state     atomic.Int32
	startTime time.Time
	cancel    context.CancelFunc
}

var ginModeOnce sync.Once

// Option is a functional option for configuring the gateway.
type Option func(*Gateway)

// WithLogger sets the logger for the gateway.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(version string) Option {
	return func(g *Gateway) {
		g.version = version
	}
}

// WithMetrics sets the metrics registry owner.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithTracerProvider sets the tracer provider for pipeline spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gateway) {
		g.tracerProvider = tp
	}
}

// WithForwarder replaces the HTTP forwarder.
func WithForwarder(f pipeline.Forwarder) Option {
	return func(g *Gateway) {
		g.forwarder = f
	}
}

// New validates cfg and builds every component. The gateway does not
// listen until Start.
func New(cfg *config.GatewayConfig, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	g := &Gateway{
		logger:         observability.NopLogger(),
		version:        "dev",
		config:         cfg,
		maxBodyBytes:   cfg.Spec.Server.MaxBodyBytes,
		trustForwarded: cfg.Spec.Server.TrustForwardedHeaders,
	}
	for _, opt := range opts {
		opt(g)
	}

	ns := cfg.Spec.Observability.Metrics.Namespace
	if g.metrics == nil {
		g.metrics = observability.NewMetrics(ns)
	}
	reg := g.metrics.Registry()

	g.table = router.NewTable(
		router.WithLogger(g.logger),
		router.WithMetrics(router.NewMetrics(ns, reg)),
	)

	limiter, err := ratelimit.New(limiterConfig(&cfg.Spec.RateLimit),
		ratelimit.WithLogger(g.logger),
		ratelimit.WithMetrics(ratelimit.NewMetrics(ns, reg)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}
	g.limiter = limiter

	g.revocations = buildRevocationStore(&cfg.Spec.Auth.Revocation)
	g.jwtMetrics = jwt.NewMetrics(ns, reg)
	g.verifiers = jwt.NewHolder(nil)

	if g.forwarder == nil {
		g.forwarder = proxy.NewHTTPForwarder(
			forwarderOptions(&cfg.Spec.Upstream, g.logger, proxy.NewMetrics(ns, reg))...,
		)
	}

	pipelineOpts := []pipeline.Option{
		pipeline.WithRecorder(g.metrics),
		pipeline.WithLogger(g.logger),
		pipeline.WithDefaultTimeout(cfg.Spec.Upstream.Timeout.Duration()),
	}
	if g.tracerProvider != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithTracerProvider(g.tracerProvider))
	}
	g.orchestrator, err = pipeline.New(g.table, g.verifiers, g.limiter, g.forwarder, pipelineOpts...)
	if err != nil {
		_ = g.revocations.close()
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	healthMetrics := health.NewMetrics(ns, reg)
	g.checker = health.NewChecker(g.version, health.WithMetrics(healthMetrics))
	g.checker.RegisterCheck("routes", health.RouteTableCheck(g.table))
	if g.revocations.redis != nil {
		g.checker.RegisterCheck("revocation", health.PingCheck(g.revocations.redis, !cfg.Spec.Auth.Revocation.FailOpen))
	}

	hc := cfg.Spec.Upstream.HealthCheck
	g.healthClient = &http.Client{
		Timeout: hc.Timeout.Duration(),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	g.healthPath = hc.Path
	g.backends = health.NewChecker(g.version,
		health.WithCheckTimeout(hc.Timeout.Duration()),
		health.WithMetrics(healthMetrics),
	)

	if err := g.apply(cfg); err != nil {
		_ = g.revocations.close()
		return nil, err
	}

	g.engine = g.newEngine(cfg)
	g.handler = middleware.Recovery(g.logger)(
		middleware.RequestID()(
			middleware.Logging(g.logger)(
				middleware.CORSFromConfig(cfg.Spec.CORS)(g.engine),
			),
		),
	)

	g.state.Store(int32(StateStopped))
	return g, nil
}

// apply installs the routes and verifier described by cfg. Nothing is
// swapped unless both build successfully.
func (g *Gateway) apply(cfg *config.GatewayConfig) error {
	verifier, err := buildVerifier(&cfg.Spec.Auth, g.revocations.set, g.jwtMetrics, g.logger)
	if err != nil {
		return err
	}

	routes := buildRoutes(cfg.Spec.Routes)
	if _, err := g.table.Replace(routes); err != nil {
		return fmt.Errorf("failed to install routes: %w", err)
	}

	g.syncBackendChecks()
	g.verifiers.Store(verifier)
	if g.revocations.memory != nil {
		g.revocations.memory.Replace(cfg.Spec.Auth.Revocation.Tokens)
	}
	return nil
}

func (g *Gateway) newEngine(cfg *config.GatewayConfig) *gin.Engine {
	ginModeOnce.Do(func() { gin.SetMode(gin.ReleaseMode) })
	engine := gin.New()
	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false
	engine.HandleMethodNotAllowed = false

	engine.GET("/health", gin.WrapF(g.checker.HealthHandler()))
	engine.GET("/ready", gin.WrapF(g.checker.ReadinessHandler()))
	engine.GET(PathBackendHealth, g.handleBackendHealth)
	engine.GET(PathServices, g.handleServices)
	if m := cfg.Spec.Observability.Metrics; m.Enabled {
		engine.GET(m.Path, gin.WrapH(g.metrics.Handler()))
	}

	engine.NoRoute(g.handlePipeline)
	return engine
}

// Start binds the listener and starts the background bucket sweeper.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrNotStopped
	}

	cfg := g.Config()
	g.logger.Info("starting gateway",
		observability.String("name", cfg.Metadata.Name),
		observability.String("version", g.version),
	)

	listener := NewListener(cfg.Spec.Server, g.handler, WithListenerLogger(g.logger))
	if err := listener.Start(ctx); err != nil {
		g.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to start listener: %w", err)
	}
	g.listener = listener

	sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g.cancel = cancel
	g.limiter.Start(sweepCtx)

	g.startTime = time.Now()
	g.checker.SetDraining(false)
	g.state.Store(int32(StateRunning))

	g.logger.Info("gateway started",
		observability.String("name", cfg.Metadata.Name),
		observability.String("address", listener.Address()),
		observability.Int("routes", g.table.Len()),
	)
	return nil
}

// Stop drains and stops the gateway. Readiness turns unhealthy first,
// then the listener shuts down gracefully within ctx or the configured
// shutdown timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrNotRunning
	}

	cfg := g.Config()
	g.logger.Info("stopping gateway", observability.String("name", cfg.Metadata.Name))
	g.checker.SetDraining(true)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Spec.Server.ShutdownTimeout.Duration())
		defer cancel()
	}

	var firstErr error
	if err := g.listener.Stop(ctx); err != nil {
		firstErr = err
	}

	if g.cancel != nil {
		g.cancel()
	}
	if err := g.limiter.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := g.revocations.close(); err != nil && firstErr == nil {
		firstErr = err
	}

	g.state.Store(int32(StateStopped))
	g.logger.Info("gateway stopped", observability.String("name", cfg.Metadata.Name))
	return firstErr
}

// Reload validates cfg and swaps in its routes and verification keys.
// On any error the running configuration stays in place.
func (g *Gateway) Reload(cfg *config.GatewayConfig) error {
	if cfg == nil {
		return ErrNilConfig
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("reloading gateway configuration",
		observability.String("name", cfg.Metadata.Name),
	)

	if err := config.ValidateConfig(cfg); err != nil {
		g.metrics.RecordConfigReload(false)
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := g.apply(cfg); err != nil {
		g.metrics.RecordConfigReload(false)
		return err
	}

	g.warnStaticChanges(g.config, cfg)
	g.config = cfg
	g.metrics.RecordConfigReload(true)

	g.logger.Info("gateway configuration reloaded",
		observability.Int("routes", g.table.Len()),
		observability.Uint64("generation", g.table.Generation()),
	)
	return nil
}

// warnStaticChanges logs settings that only take effect after restart.
func (g *Gateway) warnStaticChanges(prev, next *config.GatewayConfig) {
	ps, ns := &prev.Spec, &next.Spec
	var sections []string
	if ps.Server != ns.Server {
		sections = append(sections, "server")
	}
	if ps.RateLimit != ns.RateLimit {
		sections = append(sections, "rateLimit")
	}
	if ps.Upstream != ns.Upstream {
		sections = append(sections, "upstream")
	}
	if !reflect.DeepEqual(ps.CORS, ns.CORS) {
		sections = append(sections, "cors")
	}
	if (ps.Auth.Revocation.Redis == nil) != (ns.Auth.Revocation.Redis == nil) ||
		(ps.Auth.Revocation.Redis != nil && *ps.Auth.Revocation.Redis != *ns.Auth.Revocation.Redis) {
		sections = append(sections, "auth.revocation.redis")
	}
	if len(sections) > 0 {
		g.logger.Warn("configuration changes require a restart to take effect",
			observability.Strings("sections", sections),
		)
	}
}

// Handler returns the full HTTP handler including middleware.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Engine returns the gin engine.
func (g *Gateway) Engine() *gin.Engine {
	return g.engine
}

// Checker returns the health checker.
func (g *Gateway) Checker() *health.Checker {
	return g.checker
}

// Table returns the route table.
func (g *Gateway) Table() *router.Table {
	return g.table
}

// Config returns the current configuration.
func (g *Gateway) Config() *config.GatewayConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.config
}

// State returns the current gateway state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// IsRunning returns true if the gateway is running.
func (g *Gateway) IsRunning() bool {
	return g.State() == StateRunning
}

// Uptime returns the gateway uptime.
func (g *Gateway) Uptime() time.Duration {
	if g.startTime.IsZero() {
		return 0
	}
	return time.Since(g.startTime)
}

// Address returns the bound listener address, empty before Start.
func (g *Gateway) Address() string {
	if g.listener == nil {
		return ""
	}
	return g.listener.Address()
}
