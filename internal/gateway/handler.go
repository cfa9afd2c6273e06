package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avagate/internal/auth/jwt"
	"github.com/vyrodovalexey/avagate/internal/observability"
	"github.com/vyrodovalexey/avagate/internal/pipeline"
	"github.com/vyrodovalexey/avagate/internal/ratelimit"
)

// Response headers written by the gateway.
const (
	HeaderRequestID          = pipeline.HeaderRequestID
	HeaderRetryAfter         = "Retry-After"
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderWWWAuthenticate    = "WWW-Authenticate"
)

// Codes for failures detected before the pipeline runs.
const (
	codePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	codeBadRequest      = "BAD_REQUEST"
)

// errorBody is the JSON body of every rejection.
type errorBody struct {
	Error     string `json:"error"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// handlePipeline normalizes the inbound request and runs it through
// the orchestrator.
func (g *Gateway) handlePipeline(c *gin.Context) {
	r := c.Request
	requestID := observability.RequestIDFromContext(r.Context())

	g.metrics.IncActive()
	defer g.metrics.DecActive()

	body, err := g.readBody(c.Writer, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c.Writer, http.StatusRequestEntityTooLarge, codePayloadTooLarge, "body-too-large", requestID)
			return
		}
		writeError(c.Writer, http.StatusBadRequest, codeBadRequest, "unreadable-body", requestID)
		return
	}

	req := &pipeline.Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		RawPath:    r.URL.RawPath,
		RawQuery:   r.URL.RawQuery,
		Header:     r.Header.Clone(),
		Body:       body,
		ClientAddr: g.clientAddr(r),
		PeerAddr:   ratelimit.ClientIP(nil, r.RemoteAddr),
		Host:       r.Host,
		TLS:        r.TLS != nil,
	}

	out := g.orchestrator.Handle(r.Context(), req)
	writeOutcome(c.Writer, r.Method, out)
}

func (g *Gateway) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	if r.ContentLength > g.maxBodyBytes {
		return nil, &http.MaxBytesError{Limit: g.maxBodyBytes}
	}
	return io.ReadAll(http.MaxBytesReader(w, r.Body, g.maxBodyBytes))
}

// clientAddr is the address requests are rate limited under on public
// routes. Forwarding headers count only when trusted.
func (g *Gateway) clientAddr(r *http.Request) string {
	if g.trustForwarded {
		return ratelimit.ClientIP(r.Header, r.RemoteAddr)
	}
	return ratelimit.ClientIP(nil, r.RemoteAddr)
}

// writeOutcome writes the upstream response or the rejection.
func writeOutcome(w http.ResponseWriter, method string, out *pipeline.Outcome) {
	h := w.Header()
	requestID := ""
	if out.Exchange != nil {
		requestID = out.Exchange.RequestID()
		if d := out.Exchange.RateDecision(); d != nil {
			setRateLimitHeaders(h, d)
		}
	}

	if out.Rejection != nil {
		writeRejection(w, out.Rejection, requestID)
		return
	}

	resp := out.Response
	for k, vs := range resp.Header {
		if k == "Content-Length" {
			continue
		}
		h[k] = append([]string(nil), vs...)
	}
	if requestID != "" {
		h.Set(HeaderRequestID, requestID)
	}
	// A HEAD response has no body but reports the length a GET would.
	if cl := resp.Header.Get("Content-Length"); method == http.MethodHead && cl != "" {
		h.Set("Content-Length", cl)
	} else {
		h.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}
	w.WriteHeader(out.Status)
	_, _ = w.Write(resp.Body)
}

func writeRejection(w http.ResponseWriter, rej *pipeline.Rejection, requestID string) {
	h := w.Header()
	switch rej.Code {
	case pipeline.CodeUnauthenticated:
		if rej.Reason == string(jwt.ReasonMissing) {
			h.Set(HeaderWWWAuthenticate, `Bearer realm="gateway"`)
		} else {
			h.Set(HeaderWWWAuthenticate,
				`Bearer realm="gateway", error="invalid_token", error_description="`+rej.Reason+`"`)
		}
	case pipeline.CodeForbidden:
		h.Set(HeaderWWWAuthenticate, `Bearer realm="gateway", error="insufficient_scope"`)
	case pipeline.CodeRateLimited:
		h.Set(HeaderRetryAfter, strconv.FormatInt(ceilSeconds(rej.RetryAfter, 1), 10))
	}

	writeError(w, rej.Status, string(rej.Code), rej.Reason, requestID)
}

func writeError(w http.ResponseWriter, status int, code, reason, requestID string) {
	body, err := json.Marshal(errorBody{Error: code, Reason: reason, RequestID: requestID})
	if err != nil {
		body = []byte(`{"error":"INTERNAL"}`)
	}
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func setRateLimitHeaders(h http.Header, d *ratelimit.Decision) {
	h.Set(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	h.Set(HeaderRateLimitReset, strconv.FormatInt(ceilSeconds(d.ResetAfter, 0), 10))
}

// ceilSeconds rounds d up to whole seconds, never below minimum.
func ceilSeconds(d time.Duration, minimum int64) int64 {
	s := int64(math.Ceil(d.Seconds()))
	if s < minimum {
		return minimum
	}
	return s
}
