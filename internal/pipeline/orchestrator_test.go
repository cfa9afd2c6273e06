package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vyrodovalexey/avagate/internal/auth"
	"github.com/vyrodovalexey/avagate/internal/auth/jwt"
	"github.com/vyrodovalexey/avagate/internal/ratelimit"
	"github.com/vyrodovalexey/avagate/internal/router"
)

const testSecret = "pipeline-test-secret-0123456789ab"

var testNow = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	orchestrator *Orchestrator
	table        *router.Table
	limiter      *ratelimit.Limiter
	forwarder    *fakeForwarder
	recorder     *fakeRecorder
	spans        *tracetest.SpanRecorder
}

type fakeForwarder struct {
	mu      sync.Mutex
	calls   []Target
	handler func(ctx context.Context, target Target, req *Request) (*Response, error)
}

func (f *fakeForwarder) Forward(ctx context.Context, target Target, req *Request) (*Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, target)
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		return handler(ctx, target, req)
	}
	return &Response{Status: http.StatusOK, Header: http.Header{"Content-Type": {"application/json"}}, Body: []byte(`{"id":5}`)}, nil
}

func (f *fakeForwarder) Calls() []Target {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Target(nil), f.calls...)
}

type stageCall struct {
	stage, result string
}

type outcomeCall struct {
	route, code string
	status      int
}

type fakeRecorder struct {
	mu       sync.Mutex
	stages   []stageCall
	outcomes []outcomeCall
}

func (r *fakeRecorder) RecordStage(stage, result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stageCall{stage, result})
}

func (r *fakeRecorder) RecordOutcome(route, code string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcomeCall{route, code, status})
}

func testRoutes() []router.Route {
	return []router.Route{
		{Name: "orders", Version: "v1", Prefix: "/orders", Backend: "http://orders:8080", Timeout: time.Second},
		{Name: "admin", Version: "v1", Prefix: "/admin", Backend: "http://admin:8080", Scopes: []string{"admin"}},
		{Name: "status", Version: "v1", Prefix: "/status", Backend: "http://status:8080", Public: true},
		{Name: "reports", Version: "v1", Prefix: "/reports", Backend: "http://reports:8080", Cost: 20},
		{Name: "slow", Version: "v1", Prefix: "/slow", Backend: "http://slow:8080", Timeout: 20 * time.Millisecond},
		{Name: "users-v3", Version: "v3", Prefix: "/users", Backend: "http://users:9000/svc", StripPrefix: true},
	}
}

func newFixture(t *testing.T, verifier Verifier, opts ...Option) *fixture {
	t.Helper()

	table := router.NewTable()
	_, err := table.Replace(testRoutes())
	require.NoError(t, err)

	clock := func() time.Time { return testNow }
	limiter, err := ratelimit.New(ratelimit.Config{Capacity: 10, RefillRate: 1}, ratelimit.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = limiter.Close() })

	if verifier == nil {
		verifier = newTestVerifier(t, nil)
	}

	f := &fixture{
		table:     table,
		limiter:   limiter,
		forwarder: &fakeForwarder{},
		recorder:  &fakeRecorder{},
		spans:     tracetest.NewSpanRecorder(),
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(f.spans))
	opts = append([]Option{WithRecorder(f.recorder), WithTracerProvider(tp)}, opts...)

	f.orchestrator, err = New(table, verifier, limiter, f.forwarder, opts...)
	require.NoError(t, err)
	return f
}

func newTestVerifier(t *testing.T, revocations jwt.RevocationSet) *jwt.Verifier {
	t.Helper()
	keys, err := jwt.LoadKeySet(jwt.KeySource{Algorithm: "HS256", Secret: testSecret})
	require.NoError(t, err)
	opts := []jwt.Option{jwt.WithClock(func() time.Time { return testNow })}
	if revocations != nil {
		opts = append(opts, jwt.WithRevocationSet(revocations))
	}
	v, err := jwt.NewVerifier(jwt.Config{}, keys, opts...)
	require.NoError(t, err)
	return v
}

func token(t *testing.T, subject string, expiresIn time.Duration, scopes ...string) string {
	t.Helper()
	claims := gojwt.MapClaims{
		"sub":   subject,
		"exp":   testNow.Add(expiresIn).Unix(),
		"scope": strings.Join(scopes, " "),
	}
	signed, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func request(path, bearer string) *Request {
	h := http.Header{}
	if bearer != "" {
		h.Set("Authorization", "Bearer "+bearer)
	}
	return &Request{Method: http.MethodGet, Path: path, Header: h, ClientAddr: "203.0.113.9"}
}

func TestOrchestrator_ValidRequestIsForwarded(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	req := request("/api/v1/orders/5", token(t, "alice", time.Hour))
	req.RawQuery = "expand=items"
	req.Header.Set(HeaderRequestID, "req-123")

	out := f.orchestrator.Handle(context.Background(), req)

	require.Nil(t, out.Rejection)
	assert.Equal(t, CodeOK, out.Code)
	assert.Equal(t, http.StatusOK, out.Status)
	assert.Equal(t, []byte(`{"id":5}`), out.Response.Body)

	calls := f.forwarder.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "http://orders:8080/api/v1/orders/5?expand=items", calls[0].URL.String())
	assert.Equal(t, "orders", calls[0].Backend)
	assert.Equal(t, "alice", calls[0].Subject)
	assert.Equal(t, "req-123", calls[0].RequestID)
	assert.Equal(t, time.Second, calls[0].Timeout)

	ex := out.Exchange
	assert.Equal(t, "req-123", ex.RequestID())
	assert.Equal(t, "v1", ex.Version())
	assert.Equal(t, "/orders/5", ex.RelPath())
	assert.Equal(t, "orders", ex.RouteName())
	assert.Equal(t, "alice", ex.Identity().Subject)
	require.NotNil(t, ex.RateDecision())
	assert.Equal(t, 9, ex.RateDecision().Remaining)

	trail := ex.Trail()
	require.Len(t, trail, 4)
	for i, st := range []Stage{StageRouting, StageAuthenticating, StageRateChecking, StageForwarding} {
		assert.Equal(t, st, trail[i].Stage)
		assert.Equal(t, ResultContinue, trail[i].Result)
	}
}

func TestOrchestrator_MissingTokenDoesNotConsumeQuota(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	out := f.orchestrator.Handle(context.Background(), request("/api/v1/orders/5", ""))

	require.NotNil(t, out.Rejection)
	assert.Equal(t, CodeUnauthenticated, out.Code)
	assert.Equal(t, http.StatusUnauthorized, out.Status)
	assert.Equal(t, string(jwt.ReasonMissing), out.Rejection.Reason)
	assert.Equal(t, StageAuthenticating, out.Rejection.Stage)

	assert.Equal(t, 0, f.limiter.Len())
	assert.Nil(t, out.Exchange.RateDecision())
	assert.Empty(t, f.forwarder.Calls())
}

func TestOrchestrator_EleventhRequestIsRateLimited(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	raw := token(t, "bob", time.Hour)

	for i := 0; i < 10; i++ {
		out := f.orchestrator.Handle(context.Background(), request("/api/v1/orders/5", raw))
		require.Equal(t, CodeOK, out.Code, "request %d", i+1)
	}

	out := f.orchestrator.Handle(context.Background(), request("/api/v1/orders/5", raw))
	require.NotNil(t, out.Rejection)
	assert.Equal(t, CodeRateLimited, out.Code)
	assert.Equal(t, http.StatusTooManyRequests, out.Status)
	assert.Equal(t, time.Second, out.Rejection.RetryAfter)
	assert.Equal(t, 0, out.Exchange.RateDecision().Remaining)
	assert.Len(t, f.forwarder.Calls(), 10)

	// Another caller is unaffected.
	out = f.orchestrator.Handle(context.Background(), request("/api/v1/orders/5", token(t, "carol", time.Hour)))
	assert.Equal(t, CodeOK, out.Code)
}

func TestOrchestrator_UnknownVersionIsNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	out := f.orchestrator.Handle(context.Background(), request("/api/v2/unknown", ""))
	assert.Equal(t, CodeNotFound, out.Code)
	assert.Equal(t, http.StatusNotFound, out.Status)
	assert.Equal(t, ReasonNoRoute, out.Rejection.Reason)

	out = f.orchestrator.Handle(context.Background(), request("/orders/5", ""))
	assert.Equal(t, CodeNotFound, out.Code)
	assert.Equal(t, ReasonUnversionedPath, out.Rejection.Reason)

	assert.Len(t, out.Exchange.Trail(), 1)
	assert.Equal(t, 0, f.limiter.Len())
}

func TestOrchestrator_UpstreamTimeoutAfterCharge(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.forwarder.handler = func(ctx context.Context, _ Target, _ *Request) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	out := f.orchestrator.Handle(context.Background(), request("/api/v1/slow", token(t, "dave", time.Hour)))

	require.NotNil(t, out.Rejection)
	assert.Equal(t, CodeUpstreamTimeout, out.Code)
	assert.Equal(t, http.StatusGatewayTimeout, out.Status)
	assert.Equal(t, StageForwarding, out.Rejection.Stage)

	require.NotNil(t, out.Exchange.RateDecision())
	assert.True(t, out.Exchange.RateDecision().Allowed())
	assert.Equal(t, 9, out.Exchange.RateDecision().Remaining)
	assert.Equal(t, 1, f.limiter.Len())
}

func TestOrchestrator_ForwarderIgnoringDeadlineIsAbandoned(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	f.forwarder.handler = func(context.Context, Target, *Request) (*Response, error) {
		<-release
		return &Response{Status: http.StatusOK}, nil
	}

	start := time.Now()
	out := f.orchestrator.Handle(context.Background(), request("/api/v1/slow", token(t, "erin", time.Hour)))

	assert.Equal(t, CodeUpstreamTimeout, out.Code)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestOrchestrator_ForwarderErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		code   Code
		status int
	}{
		{name: "timeout", err: fmt.Errorf("dial: %w", ErrUpstreamTimeout), code: CodeUpstreamTimeout, status: http.StatusGatewayTimeout},
		{name: "breaker open", err: fmt.Errorf("orders: %w", ErrUpstreamUnavailable), code: CodeUpstreamError, status: http.StatusServiceUnavailable},
		{name: "connection refused", err: errors.New("connection refused"), code: CodeUpstreamError, status: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, nil)
			f.forwarder.handler = func(context.Context, Target, *Request) (*Response, error) {
				return nil, tt.err
			}

			out := f.orchestrator.Handle(context.Background(), request("/api/v1/orders", token(t, "u", time.Hour)))
			assert.Equal(t, tt.code, out.Code)
			assert.Equal(t, tt.status, out.Status)
			assert.ErrorIs(t, out.Rejection, tt.err)
		})
	}
}

func TestOrchestrator_UpstreamErrorStatusIsPassedThrough(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.forwarder.handler = func(context.Context, Target, *Request) (*Response, error) {
		return &Response{Status: http.StatusConflict, Body: []byte("conflict")}, nil
	}

	out := f.orchestrator.Handle(context.Background(), request("/api/v1/orders", token(t, "u", time.Hour)))
	assert.Equal(t, CodeOK, out.Code)
	assert.Equal(t, http.StatusConflict, out.Status)
	assert.Equal(t, []byte("conflict"), out.Response.Body)
}

func TestOrchestrator_AuthenticationFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	tests := []struct {
		name   string
		header string
		reason string
	}{
		{name: "expired", header: "Bearer " + token(t, "u", -time.Minute), reason: string(jwt.ReasonExpired)},
		{name: "malformed token", header: "Bearer abc", reason: string(jwt.ReasonMalformed)},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", reason: string(jwt.ReasonMalformed)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := request("/api/v1/orders", "")
			req.Header.Set("Authorization", tt.header)

			out := f.orchestrator.Handle(context.Background(), req)
			assert.Equal(t, CodeUnauthenticated, out.Code)
			assert.Equal(t, tt.reason, out.Rejection.Reason)
			assert.Nil(t, out.Exchange.Identity())
		})
	}
	assert.Equal(t, 0, f.limiter.Len())
}

func TestOrchestrator_MissingScopeIsForbidden(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	out := f.orchestrator.Handle(context.Background(), request("/api/v1/admin/users", token(t, "u", time.Hour, "orders")))
	assert.Equal(t, CodeForbidden, out.Code)
	assert.Equal(t, http.StatusForbidden, out.Status)
	assert.Equal(t, ReasonMissingScope, out.Rejection.Reason)

	out = f.orchestrator.Handle(context.Background(), request("/api/v1/admin/users", token(t, "root", time.Hour, "admin")))
	assert.Equal(t, CodeOK, out.Code)
}

func TestOrchestrator_RevocationUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newTestVerifier(t, brokenRevocations{}))

	out := f.orchestrator.Handle(context.Background(), request("/api/v1/orders", token(t, "u", time.Hour)))
	assert.Equal(t, CodeAuthUnavailable, out.Code)
	assert.Equal(t, http.StatusServiceUnavailable, out.Status)
	assert.Equal(t, string(jwt.ReasonRevocationUnavailable), out.Rejection.Reason)
}

type brokenRevocations struct{}

func (brokenRevocations) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestOrchestrator_PublicRouteSkipsAuthentication(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	out := f.orchestrator.Handle(context.Background(), request("/api/v1/status", ""))
	require.Equal(t, CodeOK, out.Code)
	assert.Nil(t, out.Exchange.Identity())
	assert.Equal(t, ResultSkip, out.Exchange.Trail()[1].Result)
	assert.Empty(t, f.forwarder.Calls()[0].Subject)

	// Anonymous traffic is limited per client address.
	for i := 0; i < 9; i++ {
		f.orchestrator.Handle(context.Background(), request("/api/v1/status", ""))
	}
	out = f.orchestrator.Handle(context.Background(), request("/api/v1/status", ""))
	assert.Equal(t, CodeRateLimited, out.Code)

	other := request("/api/v1/status", "")
	other.ClientAddr = "198.51.100.1"
	assert.Equal(t, CodeOK, f.orchestrator.Handle(context.Background(), other).Code)
}

func TestOrchestrator_ImpossibleQuota(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	out := f.orchestrator.Handle(context.Background(), request("/api/v1/reports", token(t, "u", time.Hour)))
	assert.Equal(t, CodeImpossibleQuota, out.Code)
	assert.Equal(t, http.StatusTooManyRequests, out.Status)
	assert.Zero(t, out.Rejection.RetryAfter)
	assert.Empty(t, f.forwarder.Calls())
}

func TestOrchestrator_StripPrefix(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	out := f.orchestrator.Handle(context.Background(), request("/api/v3/users/7/", token(t, "u", time.Hour)))
	require.Equal(t, CodeOK, out.Code)
	assert.Equal(t, "http://users:9000/svc/users/7/", f.forwarder.Calls()[0].URL.String())
}

func TestOrchestrator_PreservesEscapedPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	req := request("/api/v1/status/a/b", "")
	req.RawPath = "/api/v1/status/a%2Fb"
	out := f.orchestrator.Handle(context.Background(), req)
	require.Equal(t, CodeOK, out.Code)

	u := f.forwarder.Calls()[0].URL
	assert.Equal(t, "/api/v1/status/a/b", u.Path)
	assert.Equal(t, "/api/v1/status/a%2Fb", u.EscapedPath())
	assert.Equal(t, "/status/a/b", out.Exchange.RelPath())
	assert.Equal(t, "/status/a%2Fb", out.Exchange.RawRelPath())
}

func TestOrchestrator_DotSegmentsAreRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	for _, p := range []string{"/api/v1/status/../admin", "/api/v1/./status", "/api/v1/status/.."} {
		out := f.orchestrator.Handle(context.Background(), request(p, ""))
		assert.Equal(t, CodeNotFound, out.Code, p)
		assert.Equal(t, ReasonDotSegments, out.Rejection.Reason, p)
	}
	assert.Empty(t, f.forwarder.Calls())
	assert.Equal(t, 0, f.limiter.Len())
}

func TestOrchestrator_CanceledBeforeStart(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := f.orchestrator.Handle(ctx, request("/api/v1/orders", token(t, "u", time.Hour)))
	assert.Equal(t, CodeCanceled, out.Code)
	assert.Equal(t, StatusClientClosedRequest, out.Status)
	assert.Equal(t, StageRouting, out.Rejection.Stage)
	assert.Equal(t, 0, f.limiter.Len())
}

func TestOrchestrator_CanceledDuringForwardKeepsCharge(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	f.forwarder.handler = func(fctx context.Context, _ Target, _ *Request) (*Response, error) {
		cancel()
		<-fctx.Done()
		return nil, fctx.Err()
	}

	out := f.orchestrator.Handle(ctx, request("/api/v1/orders", token(t, "u", time.Hour)))
	assert.Equal(t, CodeCanceled, out.Code)
	assert.Equal(t, StageForwarding, out.Rejection.Stage)
	assert.Equal(t, 9, out.Exchange.RateDecision().Remaining)
}

type panickingVerifier struct{}

func (panickingVerifier) Verify(context.Context, string) (*auth.Identity, error) {
	panic("boom")
}

func TestOrchestrator_StagePanicIsInternal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, panickingVerifier{})

	out := f.orchestrator.Handle(context.Background(), request("/api/v1/orders", "abc.def.ghi"))
	assert.Equal(t, CodeInternal, out.Code)
	assert.Equal(t, http.StatusInternalServerError, out.Status)
	assert.Equal(t, StageAuthenticating, out.Rejection.Stage)

	// Public routes do not touch the verifier and keep working.
	assert.Equal(t, CodeOK, f.orchestrator.Handle(context.Background(), request("/api/v1/status", "")).Code)
}

func TestOrchestrator_ForwarderPanicIsInternal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.forwarder.handler = func(context.Context, Target, *Request) (*Response, error) {
		panic("upstream client bug")
	}

	out := f.orchestrator.Handle(context.Background(), request("/api/v1/orders", token(t, "u", time.Hour)))
	assert.Equal(t, CodeInternal, out.Code)
}

func TestOrchestrator_NilResponseIsInternal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.forwarder.handler = func(context.Context, Target, *Request) (*Response, error) {
		return nil, nil
	}

	out := f.orchestrator.Handle(context.Background(), request("/api/v1/orders", token(t, "u", time.Hour)))
	assert.Equal(t, CodeInternal, out.Code)
}

func TestOrchestrator_GeneratesRequestID(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, WithIDGenerator(func() string { return "generated" }))
	out := f.orchestrator.Handle(context.Background(), request("/api/v2/x", ""))
	assert.Equal(t, "generated", out.Exchange.RequestID())
}

func TestOrchestrator_RecordsMetricsAndSpans(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.orchestrator.Handle(context.Background(), request("/api/v1/orders", token(t, "u", time.Hour)))
	f.orchestrator.Handle(context.Background(), request("/api/v1/orders", ""))

	assert.Equal(t, []outcomeCall{
		{route: "orders", code: "OK", status: 200},
		{route: "orders", code: "UNAUTHENTICATED", status: 401},
	}, f.recorder.outcomes)
	assert.Contains(t, f.recorder.stages, stageCall{"authenticating", "reject"})
	assert.Len(t, f.recorder.stages, 6)

	names := make([]string, 0)
	for _, s := range f.spans.Ended() {
		names = append(names, s.Name())
	}
	assert.Contains(t, names, "gateway.pipeline")
	assert.Contains(t, names, "gateway.stage.routing")
	assert.Contains(t, names, "gateway.stage.forwarding")
	assert.Len(t, names, 8)
}

func TestOrchestrator_ConcurrentRequests(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	var wg sync.WaitGroup
	results := make([]Code, 100)
	tokens := make([]string, 10)
	for i := range tokens {
		tokens[i] = token(t, fmt.Sprintf("user-%d", i), time.Hour)
	}

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.orchestrator.Handle(context.Background(), request("/api/v1/orders", tokens[i%10])).Code
		}(i)
	}
	wg.Wait()

	for _, c := range results {
		assert.Equal(t, CodeOK, c)
	}
	assert.Equal(t, 10, f.limiter.Len())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	table := router.NewTable()
	limiter, err := ratelimit.New(ratelimit.Config{Capacity: 1, RefillRate: 1})
	require.NoError(t, err)
	fwd := &fakeForwarder{}
	v := newTestVerifier(t, nil)

	_, err = New(nil, v, limiter, fwd)
	assert.Error(t, err)
	_, err = New(table, nil, limiter, fwd)
	assert.Error(t, err)
	_, err = New(table, v, nil, fwd)
	assert.Error(t, err)
	_, err = New(table, v, limiter, nil)
	assert.Error(t, err)
}
