package pipeline

import (
	"net/http"
	"net/url"
	"time"
)

// Stage names a pipeline stage.
type Stage string

// Pipeline stages in execution order.
const (
	StageRouting        Stage = "routing"
	StageAuthenticating Stage = "authenticating"
	StageRateChecking   Stage = "rate_checking"
	StageForwarding     Stage = "forwarding"
)

// Code is the semantic outcome code of a request.
type Code string

// Outcome codes.
const (
	CodeOK              Code = "OK"
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeImpossibleQuota Code = "IMPOSSIBLE_QUOTA"
	CodeNotFound        Code = "NOT_FOUND"
	CodeUpstreamTimeout Code = "UPSTREAM_TIMEOUT"
	CodeUpstreamError   Code = "UPSTREAM_ERROR"
	CodeAuthUnavailable Code = "AUTH_UNAVAILABLE"
	CodeCanceled        Code = "CANCELED"
	CodeInternal        Code = "INTERNAL"
)

// StatusClientClosedRequest is the non-standard status used when the
// client went away before the pipeline finished.
const StatusClientClosedRequest = 499

// HTTPStatus returns the default HTTP status for a code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeOK:
		return http.StatusOK
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeRateLimited, CodeImpossibleQuota:
		return http.StatusTooManyRequests
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUpstreamTimeout:
		return http.StatusGatewayTimeout
	case CodeUpstreamError:
		return http.StatusBadGateway
	case CodeAuthUnavailable:
		return http.StatusServiceUnavailable
	case CodeCanceled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// Request is the normalized inbound request.
type Request struct {
	Method   string
	Path     string
	RawQuery string

	// RawPath is the escaped form of Path when it differs from the
	// default encoding, as in url.URL.
	RawPath string

	Header   http.Header
	Body     []byte

	// ClientAddr is the resolved client address (forwarding headers
	// already applied).
	ClientAddr string

	// PeerAddr is the address of the directly connected peer.
	PeerAddr string

	// Host is the Host header the client sent.
	Host string

	// TLS reports whether the client connection used TLS.
	TLS bool
}

// EscapedPath returns the request path as the client encoded it.
func (r *Request) EscapedPath() string {
	u := url.URL{Path: r.Path, RawPath: r.RawPath}
	return u.EscapedPath()
}

// Response is an upstream response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Target is a resolved upstream call.
type Target struct {
	// Backend identifies the upstream for connection reuse and circuit
	// breaking. It is the route name.
	Backend string

	// URL is the full upstream URL including path and query.
	URL *url.URL

	// Timeout bounds the whole upstream call including retries.
	Timeout time.Duration

	// Retries is the number of extra attempts allowed for idempotent
	// requests.
	Retries int

	// RequestID is propagated upstream.
	RequestID string

	// Subject is the authenticated caller, empty on public routes.
	Subject string
}
