package gateway

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/avagate/internal/auth/jwt"
	"github.com/vyrodovalexey/avagate/internal/config"
	"github.com/vyrodovalexey/avagate/internal/observability"
	"github.com/vyrodovalexey/avagate/internal/proxy"
	"github.com/vyrodovalexey/avagate/internal/ratelimit"
	"github.com/vyrodovalexey/avagate/internal/router"
)

// buildRoutes converts route configuration into router routes.
func buildRoutes(routes []config.RouteConfig) []router.Route {
	out := make([]router.Route, 0, len(routes))
	for i := range routes {
		rc := &routes[i]
		out = append(out, router.Route{
			Name:        rc.Name,
			Version:     rc.Version,
			Prefix:      rc.Prefix,
			Backend:     rc.Backend,
			Public:      rc.Public,
			Cost:        rc.RouteCost(),
			Timeout:     rc.Timeout.Duration(),
			Retries:     rc.Retries,
			StripPrefix: rc.StripPrefix,
			Scopes:      append([]string(nil), rc.Scopes...),
		})
	}
	return out
}

func keySources(keys []config.KeyConfig) []jwt.KeySource {
	out := make([]jwt.KeySource, 0, len(keys))
	for i := range keys {
		k := &keys[i]
		src := jwt.KeySource{
			ID:            k.ID,
			Algorithm:     k.Algorithm,
			JWKSFile:      k.JWKSFile,
			PublicKeyFile: k.PublicKeyFile,
			Secret:        k.Secret,
		}
		if k.JWKS != "" {
			src.JWKS = []byte(k.JWKS)
		}
		if k.PublicKeyPEM != "" {
			src.PublicKeyPEM = []byte(k.PublicKeyPEM)
		}
		out = append(out, src)
	}
	return out
}

// buildVerifier loads key material and returns a new verifier. It
// returns nil without error when no keys are configured, which leaves
// every protected request rejected.
func buildVerifier(
	cfg *config.AuthConfig,
	revocations jwt.RevocationSet,
	metrics *jwt.Metrics,
	logger observability.Logger,
) (*jwt.Verifier, error) {
	if len(cfg.Keys) == 0 {
		return nil, nil
	}

	keys, err := jwt.LoadKeySet(keySources(cfg.Keys)...)
	if err != nil {
		return nil, fmt.Errorf("failed to load verification keys: %w", err)
	}

	return jwt.NewVerifier(jwt.Config{
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
		Algorithms: cfg.Algorithms,
		Leeway:     cfg.Leeway.Duration(),
		FailOpen:   cfg.Revocation.FailOpen,
	}, keys,
		jwt.WithRevocationSet(revocations),
		jwt.WithMetrics(metrics),
		jwt.WithLogger(logger),
	)
}

// revocationStore is the revoked-token collaborator chosen by
// configuration.
type revocationStore struct {
	set    jwt.RevocationSet
	memory *jwt.MemoryRevocationSet
	redis  *jwt.RedisRevocationSet
	client *redis.Client
}

func buildRevocationStore(cfg *config.RevocationConfig) *revocationStore {
	if r := cfg.Redis; r != nil {
		client := redis.NewClient(&redis.Options{
			Addr:        r.Address,
			Password:    r.Password,
			DB:          r.DB,
			DialTimeout: r.DialTimeout.Duration(),
			ReadTimeout: r.ReadTimeout.Duration(),
		})
		set := jwt.NewRedisRevocationSet(client, r.SetKey)
		return &revocationStore{set: set, redis: set, client: client}
	}

	mem := jwt.NewMemoryRevocationSet(cfg.Tokens...)
	return &revocationStore{set: mem, memory: mem}
}

func (s *revocationStore) close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func limiterConfig(cfg *config.RateLimitConfig) ratelimit.Config {
	return ratelimit.Config{
		Capacity:      cfg.Capacity,
		RefillRate:    cfg.RefillRate,
		IdleHorizon:   cfg.IdleHorizon.Duration(),
		SweepInterval: cfg.SweepInterval.Duration(),
		MaxBuckets:    cfg.MaxBuckets,
	}
}

func forwarderOptions(cfg *config.UpstreamConfig, logger observability.Logger, metrics *proxy.Metrics) []proxy.Option {
	cb := cfg.CircuitBreaker
	r := cfg.Retry
	return []proxy.Option{
		proxy.WithLogger(logger),
		proxy.WithMetrics(metrics),
		proxy.WithMaxResponseBytes(cfg.MaxResponseBytes),
		proxy.WithBreakerSettings(proxy.BreakerSettings{
			Enabled:      cb.Enabled,
			Threshold:    cb.Threshold,
			FailureRatio: cb.FailureRatio,
			Interval:     cb.Interval.Duration(),
			Timeout:      cb.Timeout.Duration(),
		}),
		proxy.WithBackoff(proxy.NewExponentialBackoff(
			r.InitialBackoff.Duration(), r.MaxBackoff.Duration(), r.Factor, r.Jitter,
		)),
	}
}
