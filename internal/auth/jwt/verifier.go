package jwt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/vyrodovalexey/avagate/internal/auth"
	"github.com/vyrodovalexey/avagate/internal/observability"
)

// Config contains claim validation settings.
type Config struct {
	// Issuer, when set, must equal the "iss" claim.
	Issuer string

	// Audience, when set, must appear in the "aud" claim.
	Audience string

	// Algorithms lists accepted "alg" values. Defaults to whatever the
	// key set can verify.
	Algorithms []string

	// Leeway is the allowed clock skew for exp, nbf and iat.
	Leeway time.Duration

	// FailOpen lets tokens through when the revocation set errors.
	FailOpen bool
}

// Verifier validates bearer tokens. A Verifier is immutable and safe for
// unlimited concurrent use.
type Verifier struct {
	keys        *KeySet
	parser      *gojwt.Parser
	revocations RevocationSet
	failOpen    bool
	now         func() time.Time
	logger      observability.Logger
	metrics     *Metrics
}

// Option is a functional option for the verifier.
type Option func(*Verifier)

// WithLogger sets the logger for the verifier.
func WithLogger(logger observability.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// WithMetrics sets the metrics for the verifier.
func WithMetrics(metrics *Metrics) Option {
	return func(v *Verifier) {
		v.metrics = metrics
	}
}

// WithRevocationSet sets the revocation collaborator.
func WithRevocationSet(set RevocationSet) Option {
	return func(v *Verifier) {
		v.revocations = set
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		v.now = now
	}
}

// NewVerifier creates a verifier over the given key set.
func NewVerifier(cfg Config, keys *KeySet, opts ...Option) (*Verifier, error) {
	if keys == nil || keys.Len() == 0 {
		return nil, ErrNoKeys
	}

	v := &Verifier{
		keys:     keys,
		failOpen: cfg.FailOpen,
		now:      time.Now,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}

	algs := cfg.Algorithms
	if len(algs) == 0 {
		algs = keys.Algorithms()
	}
	for _, a := range algs {
		if strings.EqualFold(a, "none") {
			return nil, fmt.Errorf("algorithm %q is not allowed", a)
		}
	}

	parserOpts := []gojwt.ParserOption{
		gojwt.WithValidMethods(algs),
		gojwt.WithExpirationRequired(),
		gojwt.WithIssuedAt(),
		gojwt.WithLeeway(cfg.Leeway),
		gojwt.WithTimeFunc(func() time.Time { return v.now() }),
	}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, gojwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		parserOpts = append(parserOpts, gojwt.WithAudience(cfg.Audience))
	}
	v.parser = gojwt.NewParser(parserOpts...)

	return v, nil
}

// tokenClaims are the claims read from a token.
type tokenClaims struct {
	gojwt.RegisteredClaims
	Scope  string    `json:"scope,omitempty"`
	Scp    scopeList `json:"scp,omitempty"`
	Scopes scopeList `json:"scopes,omitempty"`
}

func (c *tokenClaims) scopes() []string {
	out := strings.Fields(c.Scope)
	out = append(out, c.Scp...)
	return append(out, c.Scopes...)
}

// scopeList accepts either a JSON array or a space separated string.
type scopeList []string

// UnmarshalJSON implements json.Unmarshaler.
func (s *scopeList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = strings.Fields(str)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = list
	return nil
}

// Verify validates raw and returns the identity it carries. Every failure
// is a *Rejection.
func (v *Verifier) Verify(ctx context.Context, raw string) (*auth.Identity, error) {
	start := time.Now()

	identity, rej := v.verify(ctx, raw)
	if rej != nil {
		v.metrics.RecordValidation(rej.Reason, time.Since(start))
		v.logger.Debug("token rejected",
			observability.String("reason", string(rej.Reason)),
			observability.Error(rej.Cause),
		)
		return nil, rej
	}

	v.metrics.RecordValidation("", time.Since(start))
	return identity, nil
}

func (v *Verifier) verify(ctx context.Context, raw string) (*auth.Identity, *Rejection) {
	if raw == "" {
		return nil, reject(ReasonMissing, ErrNoToken)
	}

	claims := &tokenClaims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, v.keys.keyfunc); err != nil {
		return nil, reject(classify(err), err)
	}

	if claims.Subject == "" {
		return nil, reject(ReasonInvalidClaims, errors.New("token has no subject"))
	}

	if v.revocations != nil {
		revoked, err := v.revocations.IsRevoked(ctx, RevocationKey(claims.ID, raw))
		switch {
		case err != nil && !v.failOpen:
			return nil, reject(ReasonRevocationUnavailable, err)
		case err != nil:
			v.logger.Warn("revocation lookup failed, admitting token",
				observability.String("subject", claims.Subject),
				observability.Error(err),
			)
		case revoked:
			return nil, reject(ReasonRevoked, nil)
		}
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	return auth.NewIdentity(claims.Subject, claims.scopes(), expiresAt, claims.Issuer, claims.ID), nil
}

// classify maps golang-jwt errors to rejection reasons. Signature
// problems are checked before claim problems because the parser stops at
// the first failing phase.
func classify(err error) Reason {
	switch {
	case errors.Is(err, gojwt.ErrTokenMalformed):
		return ReasonMalformed
	case errors.Is(err, gojwt.ErrTokenSignatureInvalid),
		errors.Is(err, gojwt.ErrTokenUnverifiable):
		return ReasonBadSignature
	case errors.Is(err, gojwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, gojwt.ErrTokenNotValidYet),
		errors.Is(err, gojwt.ErrTokenUsedBeforeIssued):
		return ReasonNotYetValid
	default:
		return ReasonInvalidClaims
	}
}
