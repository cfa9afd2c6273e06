package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/avagate/internal/observability"
	"github.com/vyrodovalexey/avagate/internal/pipeline"
)

// Forwarding headers set on every upstream request.
const (
	HeaderForwardedFor          = "X-Forwarded-For"
	HeaderForwardedHost         = "X-Forwarded-Host"
	HeaderForwardedProto        = "X-Forwarded-Proto"
	HeaderRequestID             = "X-Request-ID"
	HeaderAuthenticatedSubject  = "X-Authenticated-Subject"
	DefaultMaxResponseBodyBytes = 10 << 20
)

// hopHeaders are headers that must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// errUpstreamStatus marks a 5xx answer so the breaker counts it as a
// failure while the response itself is still returned verbatim.
var errUpstreamStatus = errors.New("upstream answered with server error")

// HTTPForwarder forwards admitted requests over HTTP.
type HTTPForwarder struct {
	client          *http.Client
	logger          observability.Logger
	metrics         *Metrics
	breakerSettings BreakerSettings
	breakers        *breakers
	backoff         Backoff
	maxBodyBytes    int64
}

// Option configures an HTTPForwarder.
type Option func(*HTTPForwarder)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(f *HTTPForwarder) {
		f.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(f *HTTPForwarder) {
		f.metrics = m
	}
}

// WithTransport sets the round tripper used for upstream calls.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *HTTPForwarder) {
		f.client.Transport = rt
	}
}

// WithBreakerSettings enables per-backend circuit breaking.
func WithBreakerSettings(s BreakerSettings) Option {
	return func(f *HTTPForwarder) {
		f.breakerSettings = s
	}
}

// WithBackoff sets the delay strategy between retries.
func WithBackoff(b Backoff) Option {
	return func(f *HTTPForwarder) {
		f.backoff = b
	}
}

// WithMaxResponseBytes bounds buffered upstream bodies.
func WithMaxResponseBytes(n int64) Option {
	return func(f *HTTPForwarder) {
		if n > 0 {
			f.maxBodyBytes = n
		}
	}
}

// NewTransport returns the default pooled upstream transport.
func NewTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 512
	t.MaxIdleConnsPerHost = 64
	t.IdleConnTimeout = 90 * time.Second
	t.ResponseHeaderTimeout = 0
	return t
}

// NewHTTPForwarder creates a forwarder.
func NewHTTPForwarder(opts ...Option) *HTTPForwarder {
	f := &HTTPForwarder{
		client: &http.Client{
			Transport: NewTransport(),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:       observability.NopLogger(),
		backoff:      DefaultBackoff(),
		maxBodyBytes: DefaultMaxResponseBodyBytes,
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.breakerSettings.Enabled {
		f.breakers = newBreakers(f.breakerSettings, f.logger, f.metrics)
	}

	return f
}

// Forward implements pipeline.Forwarder.
func (f *HTTPForwarder) Forward(
	ctx context.Context,
	target pipeline.Target,
	req *pipeline.Request,
) (*pipeline.Response, error) {
	if target.URL == nil {
		return nil, ErrNoTarget
	}

	if target.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, target.Timeout)
		defer cancel()
	}

	start := time.Now()
	attempts := 1
	if target.Retries > 0 && isIdempotent(req.Method) {
		attempts += target.Retries
	}

	var (
		resp *pipeline.Response
		err  error
		made int
	)
	for made < attempts {
		if made > 0 {
			if werr := sleep(ctx, f.backoff.Next(made-1)); werr != nil {
				err = werr
				break
			}
			f.metrics.recordRetry(target.Backend)
			f.logger.Debug("retrying upstream call",
				observability.String("backend", target.Backend),
				observability.Int("attempt", made+1),
				observability.Error(err),
			)
		}
		made++

		resp, err = f.attempt(ctx, target, req)
		if err == nil || !retryable(ctx, err) {
			break
		}
	}

	result := "success"
	if err != nil {
		result = "error"
		err = f.classify(ctx, target, made, err)
	}
	f.metrics.recordRequest(target.Backend, result, time.Since(start))

	return resp, err
}

// attempt performs one upstream round trip, guarded by the backend's
// breaker when enabled.
func (f *HTTPForwarder) attempt(
	ctx context.Context,
	target pipeline.Target,
	req *pipeline.Request,
) (*pipeline.Response, error) {
	if f.breakers == nil {
		return f.roundTrip(ctx, target, req)
	}

	out, err := f.breakers.get(target.Backend).Execute(func() (interface{}, error) {
		resp, rerr := f.roundTrip(ctx, target, req)
		if rerr == nil && resp.Status >= http.StatusInternalServerError {
			return resp, errUpstreamStatus
		}
		return resp, rerr
	})

	resp, _ := out.(*pipeline.Response)
	if errors.Is(err, errUpstreamStatus) {
		return resp, nil
	}
	return resp, err
}

func (f *HTTPForwarder) roundTrip(
	ctx context.Context,
	target pipeline.Target,
	req *pipeline.Request,
) (*pipeline.Response, error) {
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	outReq, err := http.NewRequestWithContext(ctx, req.Method, target.URL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	outReq.Header = outboundHeader(target, req)
	outReq.Host = target.URL.Host

	httpResp, err := f.client.Do(outReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, f.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if int64(len(data)) > f.maxBodyBytes {
		return nil, ErrResponseTooLarge
	}

	header := httpResp.Header.Clone()
	removeHopHeaders(header)
	if req.Method == http.MethodHead && header.Get("Content-Length") == "" && httpResp.ContentLength >= 0 {
		header.Set("Content-Length", strconv.FormatInt(httpResp.ContentLength, 10))
	}

	return &pipeline.Response{
		Status: httpResp.StatusCode,
		Header: header,
		Body:   data,
	}, nil
}

// classify maps a final error onto the pipeline sentinels.
func (f *HTTPForwarder) classify(ctx context.Context, target pipeline.Target, attempts int, err error) error {
	fe := &ForwardError{
		Backend:  target.Backend,
		Target:   target.URL.Redacted(),
		Attempts: attempts,
		Cause:    err,
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %w", pipeline.ErrUpstreamUnavailable, fe)
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%w: %w", context.Canceled, fe)
	case isTimeout(ctx, err):
		return fmt.Errorf("%w: %w", pipeline.ErrUpstreamTimeout, fe)
	case isDialError(err):
		f.logger.Warn("upstream unreachable",
			observability.String("backend", target.Backend),
			observability.Int("attempts", attempts),
			observability.Error(err),
		)
		return fmt.Errorf("%w: %w", pipeline.ErrUpstreamUnavailable, fe)
	default:
		f.logger.Warn("upstream call failed",
			observability.String("backend", target.Backend),
			observability.Int("attempts", attempts),
			observability.Error(err),
		)
		return fe
	}
}

// outboundHeader copies the client headers without hop-by-hop fields
// and adds the forwarding headers.
func outboundHeader(target pipeline.Target, req *pipeline.Request) http.Header {
	h := req.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	removeHopHeaders(h)

	peer := req.PeerAddr
	if peer == "" {
		peer = req.ClientAddr
	}
	if peer != "" {
		if prior := h.Get(HeaderForwardedFor); prior != "" {
			h.Set(HeaderForwardedFor, prior+", "+peer)
		} else {
			h.Set(HeaderForwardedFor, peer)
		}
	}
	if req.Host != "" {
		h.Set(HeaderForwardedHost, req.Host)
	}
	if req.TLS {
		h.Set(HeaderForwardedProto, "https")
	} else {
		h.Set(HeaderForwardedProto, "http")
	}

	if target.RequestID != "" {
		h.Set(HeaderRequestID, target.RequestID)
	}

	// The gateway consumed the credentials; only it may assert the
	// subject.
	h.Del("Authorization")
	h.Del(HeaderAuthenticatedSubject)
	if target.Subject != "" {
		h.Set(HeaderAuthenticatedSubject, target.Subject)
	}

	return h
}

// removeHopHeaders strips RFC 7230 hop-by-hop headers, including any
// named by the Connection header.
func removeHopHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions,
		http.MethodPut, http.MethodDelete, http.MethodTrace:
		return true
	default:
		return false
	}
}

// retryable reports whether another attempt may help. Only transport
// errors qualify; the call's own deadline or a client abort ends it.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, ErrResponseTooLarge) {
		return false
	}
	return true
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isDialError reports a failure to connect to the backend at all.
func isDialError(err error) bool {
	var oe *net.OpError
	return errors.As(err, &oe) && oe.Op == "dial"
}

// isCallerError reports errors caused by the caller rather than the
// backend; these do not count against the breaker.
func isCallerError(err error) bool {
	return errors.Is(err, context.Canceled)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
