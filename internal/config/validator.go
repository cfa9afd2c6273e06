package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var versionPattern = regexp.MustCompile(`^v[0-9]+$`)

// ValidationError is one invalid field.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, e[i].Error())
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates gateway configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateConfig validates a gateway configuration.
func ValidateConfig(cfg *GatewayConfig) error {
	return NewValidator().Validate(cfg)
}

// Validate validates the configuration and returns ValidationErrors when
// anything is wrong.
func (v *Validator) Validate(cfg *GatewayConfig) error {
	v.errors = nil

	if cfg == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateRoot(cfg)
	v.validateServer(&cfg.Spec.Server)
	v.validateObservability(&cfg.Spec.Observability)
	v.validateAuth(&cfg.Spec.Auth)
	v.validateRateLimit(&cfg.Spec.RateLimit)
	v.validateUpstream(&cfg.Spec.Upstream)
	v.validateRoutes(cfg.Spec.Routes)
	if cfg.Spec.CORS != nil {
		v.validateCORS(cfg.Spec.CORS)
	}

	if len(cfg.Spec.Auth.Keys) == 0 {
		for i := range cfg.Spec.Routes {
			if !cfg.Spec.Routes[i].Public {
				v.addError("spec.auth.keys", "at least one key is required when non-public routes exist")
				break
			}
		}
	}

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateRoot(cfg *GatewayConfig) {
	if cfg.APIVersion != APIVersion {
		v.addError("apiVersion", fmt.Sprintf("apiVersion must be %q", APIVersion))
	}
	if cfg.Kind != Kind {
		v.addError("kind", fmt.Sprintf("kind must be %q", Kind))
	}
	if cfg.Metadata.Name == "" {
		v.addError("metadata.name", "name is required")
	}
}

func (v *Validator) validateServer(s *ServerConfig) {
	if s.Address == "" {
		v.addError("spec.server.address", "address is required")
	}
	if s.MaxBodyBytes < 0 {
		v.addError("spec.server.maxBodyBytes", "must not be negative")
	}
}

func (v *Validator) validateObservability(o *ObservabilityConfig) {
	switch strings.ToLower(o.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		v.addError("spec.observability.logging.level", "level must be one of debug, info, warn, error")
	}
	switch strings.ToLower(o.Logging.Format) {
	case "json", "console":
	default:
		v.addError("spec.observability.logging.format", "format must be json or console")
	}
	if o.Metrics.Enabled && !strings.HasPrefix(o.Metrics.Path, "/") {
		v.addError("spec.observability.metrics.path", "path must start with '/'")
	}
	if o.Tracing.SamplingRate < 0 || o.Tracing.SamplingRate > 1 {
		v.addError("spec.observability.tracing.samplingRate", "must be between 0 and 1")
	}
}

func (v *Validator) validateAuth(a *AuthConfig) {
	const path = "spec.auth"

	if a.Leeway < 0 {
		v.addError(path+".leeway", "must not be negative")
	}
	for i, alg := range a.Algorithms {
		if strings.EqualFold(alg, "none") {
			v.addError(fmt.Sprintf("%s.algorithms[%d]", path, i), "algorithm 'none' is not allowed")
		}
	}

	ids := make(map[string]bool)
	for i := range a.Keys {
		v.validateKey(&a.Keys[i], fmt.Sprintf("%s.keys[%d]", path, i), ids)
	}

	if r := a.Revocation.Redis; r != nil && r.Address == "" {
		v.addError(path+".revocation.redis.address", "address is required")
	}
}

func (v *Validator) validateKey(k *KeyConfig, path string, ids map[string]bool) {
	sources := 0
	for _, s := range []string{k.JWKS, k.JWKSFile, k.PublicKeyPEM, k.PublicKeyFile, k.Secret} {
		if s != "" {
			sources++
		}
	}
	if sources != 1 {
		v.addError(path, "exactly one of jwks, jwksFile, publicKeyPEM, publicKeyFile or secret is required")
	}

	if k.ID != "" {
		if ids[k.ID] {
			v.addError(path+".id", fmt.Sprintf("duplicate key id %q", k.ID))
		}
		ids[k.ID] = true
	}

	if k.Secret != "" {
		if k.Algorithm != "" && !strings.HasPrefix(k.Algorithm, "HS") {
			v.addError(path+".algorithm", "secret keys require an HS algorithm")
		}
		if len(k.Secret) < 32 {
			v.addError(path+".secret", "secret must be at least 32 bytes")
		}
	}
}

func (v *Validator) validateRateLimit(r *RateLimitConfig) {
	const path = "spec.rateLimit"

	if r.Capacity <= 0 {
		v.addError(path+".capacity", "capacity must be positive")
	}
	if r.RefillRate <= 0 {
		v.addError(path+".refillRate", "refillRate must be positive")
	}
	if r.IdleHorizon < 0 {
		v.addError(path+".idleHorizon", "must not be negative")
	}
	if r.SweepInterval < 0 {
		v.addError(path+".sweepInterval", "must not be negative")
	}
	if r.MaxBuckets < 0 {
		v.addError(path+".maxBuckets", "must not be negative")
	}
}

func (v *Validator) validateUpstream(u *UpstreamConfig) {
	const path = "spec.upstream"

	if u.Timeout <= 0 {
		v.addError(path+".timeout", "timeout must be positive")
	}
	if u.MaxResponseBytes < 0 {
		v.addError(path+".maxResponseBytes", "must not be negative")
	}

	cb := &u.CircuitBreaker
	if cb.Enabled {
		if cb.Threshold <= 0 {
			v.addError(path+".circuitBreaker.threshold", "threshold must be positive")
		}
		if cb.FailureRatio <= 0 || cb.FailureRatio > 1 {
			v.addError(path+".circuitBreaker.failureRatio", "must be in (0, 1]")
		}
	}

	r := &u.Retry
	if r.MaxBackoff < r.InitialBackoff {
		v.addError(path+".retry.maxBackoff", "maxBackoff must not be less than initialBackoff")
	}
	if r.Factor < 1 {
		v.addError(path+".retry.factor", "factor must be at least 1")
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		v.addError(path+".retry.jitter", "must be between 0 and 1")
	}

	if !strings.HasPrefix(u.HealthCheck.Path, "/") {
		v.addError(path+".healthCheck.path", "path must start with '/'")
	}
	if u.HealthCheck.Timeout <= 0 {
		v.addError(path+".healthCheck.timeout", "timeout must be positive")
	}
}

func (v *Validator) validateCORS(c *CORSConfig) {
	const path = "spec.cors"

	wildcard := false
	for i, origin := range c.AllowOrigins {
		field := fmt.Sprintf("%s.allowOrigins[%d]", path, i)
		switch {
		case origin == "*":
			wildcard = true
		case strings.HasPrefix(origin, "*."):
			if len(origin) == 2 || strings.ContainsAny(origin[2:], "*/:") {
				v.addError(field, "wildcard origin must look like *.example.com")
			}
		default:
			u, err := url.Parse(origin)
			if err != nil || u.Scheme == "" || u.Host == "" || (u.Path != "" && u.Path != "/") {
				v.addError(field, "origin must be scheme://host[:port]")
			}
		}
	}
	if wildcard && c.AllowCredentials {
		v.addError(path+".allowCredentials", `allowCredentials cannot be combined with origin "*"`)
	}
	for i, m := range c.AllowMethods {
		if m == "" || m != strings.ToUpper(m) || strings.ContainsAny(m, " ,") {
			v.addError(fmt.Sprintf("%s.allowMethods[%d]", path, i), "method must be an upper-case token")
		}
	}
	if c.MaxAge < 0 {
		v.addError(path+".maxAge", "must not be negative")
	}
}

func (v *Validator) validateRoutes(routes []RouteConfig) {
	names := make(map[string]bool)
	prefixes := make(map[string]string)

	for i := range routes {
		r := &routes[i]
		path := fmt.Sprintf("spec.routes[%d]", i)

		if r.Name == "" {
			v.addError(path+".name", "name is required")
		} else if names[r.Name] {
			v.addError(path+".name", fmt.Sprintf("duplicate route name %q", r.Name))
		}
		names[r.Name] = true

		if !versionPattern.MatchString(r.Version) {
			v.addError(path+".version", "version must look like v1, v2, ...")
		}

		if !strings.HasPrefix(r.Prefix, "/") {
			v.addError(path+".prefix", "prefix must start with '/'")
		} else {
			key := r.Version + " " + strings.TrimSuffix(r.Prefix, "/")
			if other, ok := prefixes[key]; ok {
				v.addError(path+".prefix", fmt.Sprintf("prefix already used by route %q", other))
			}
			prefixes[key] = r.Name
		}

		v.validateBackendURL(r.Backend, path+".backend")

		if r.Cost != nil && *r.Cost <= 0 {
			v.addError(path+".cost", "cost must be positive")
		}
		if r.Timeout < 0 {
			v.addError(path+".timeout", "must not be negative")
		}
		if r.Retries < 0 {
			v.addError(path+".retries", "must not be negative")
		}
	}
}

func (v *Validator) validateBackendURL(raw, path string) {
	if raw == "" {
		v.addError(path, "backend is required")
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		v.addError(path, fmt.Sprintf("invalid URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		v.addError(path, "scheme must be http or https")
	}
	if u.Host == "" {
		v.addError(path, "host is required")
	}
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}
