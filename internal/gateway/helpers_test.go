package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avagate/internal/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func intPtr(v int) *int { return &v }

// testConfig returns a valid configuration with one protected and one
// public route, both pointing at backend.
func testConfig(backend string) *config.GatewayConfig {
	cfg := config.DefaultConfig()
	cfg.Metadata.Name = "test-gateway"
	cfg.Spec.Server.Address = "127.0.0.1:0"
	cfg.Spec.Observability.Metrics.Enabled = true
	cfg.Spec.Auth = config.AuthConfig{
		Issuer:   "https://issuer.test",
		Audience: "gateway",
		Keys: []config.KeyConfig{
			{ID: "k1", Algorithm: "HS256", Secret: testSecret},
		},
		Revocation: config.RevocationConfig{Tokens: []string{"revoked-jti"}},
	}
	cfg.Spec.RateLimit.Capacity = 3
	cfg.Spec.RateLimit.RefillRate = 1
	cfg.Spec.Routes = []config.RouteConfig{
		{
			Name:        "orders",
			Version:     "v1",
			Prefix:      "/orders",
			Backend:     backend,
			StripPrefix: true,
			Scopes:      []string{"orders:read"},
		},
		{
			Name:    "status",
			Version: "v1",
			Prefix:  "/status",
			Backend: backend,
			Public:  true,
		},
		{
			Name:    "reports",
			Version: "v1",
			Prefix:  "/reports",
			Backend: backend,
			Cost:    intPtr(10),
		},
	}
	return cfg
}

type tokenClaims struct {
	gojwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

func signToken(t *testing.T, subject, jti, scope string) string {
	t.Helper()
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "https://issuer.test",
			Audience:  gojwt.ClaimStrings{"gateway"},
			ID:        jti,
			IssuedAt:  gojwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: gojwt.NewNumericDate(now.Add(time.Hour)),
		},
		Scope: scope,
	}
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	token.Header["kid"] = "k1"
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

// upstreamRecorder is a backend that records the last request it saw.
type upstreamRecorder struct {
	*httptest.Server
	last chan *http.Request
}

func newUpstream(t *testing.T) *upstreamRecorder {
	t.Helper()
	u := &upstreamRecorder{last: make(chan *http.Request, 16)}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.last <- r.Clone(r.Context())
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello from " + r.URL.Path))
	}))
	t.Cleanup(u.Close)
	return u
}

func newTestGateway(t *testing.T, cfg *config.GatewayConfig, opts ...Option) *Gateway {
	t.Helper()
	gw, err := New(cfg, opts...)
	require.NoError(t, err)
	return gw
}

func do(t *testing.T, h http.Handler, method, target, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
