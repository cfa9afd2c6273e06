package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/vyrodovalexey/avagate/internal/auth/jwt"
	"github.com/vyrodovalexey/avagate/internal/ratelimit"
	"github.com/vyrodovalexey/avagate/internal/router"
)

// Rejection reasons produced by the stages themselves. Authentication
// reasons come from the jwt package.
const (
	ReasonUnversionedPath = "unversioned-path"
	ReasonDotSegments     = "dot-segments"
	ReasonNoRoute         = "no-route"
	ReasonAmbiguousRoute  = "ambiguous-route"
	ReasonMissingScope    = "missing-scope"
	ReasonQuotaExceeded   = "quota-exceeded"
	ReasonCostExceedsCap  = "cost-exceeds-capacity"
	ReasonUpstreamTimeout = "upstream-timeout"
	ReasonUpstreamDown    = "upstream-unavailable"
	ReasonUpstreamFailed  = "upstream-failed"
	ReasonClientCanceled  = "client-canceled"
	ReasonInvariant       = "invariant-violation"
)

// internal wraps an invariant violation, such as a stage trying to
// overwrite an earlier decision.
func internal(stage Stage, err error) *Rejection {
	return newRejection(stage, CodeInternal, ReasonInvariant, err)
}

func (o *Orchestrator) route(_ context.Context, ex *Exchange, req *Request) (StageResult, *Rejection) {
	if router.HasDotSegments(req.Path) {
		return ResultReject, newRejection(StageRouting, CodeNotFound, ReasonDotSegments, nil)
	}
	version, relPath, ok := router.SplitVersionedPath(req.Path)
	if !ok {
		return ResultReject, newRejection(StageRouting, CodeNotFound, ReasonUnversionedPath, nil)
	}
	rawRelPath := relPath
	if _, escaped, ok := router.SplitVersionedPath(req.EscapedPath()); ok {
		rawRelPath = escaped
	}
	if err := ex.setPath(version, relPath, rawRelPath); err != nil {
		return ResultReject, internal(StageRouting, err)
	}

	route, err := o.resolver.Resolve(version, relPath)
	switch {
	case errors.Is(err, router.ErrNoMatch):
		return ResultReject, newRejection(StageRouting, CodeNotFound, ReasonNoRoute, nil)
	case errors.Is(err, router.ErrAmbiguousRoute):
		return ResultReject, newRejection(StageRouting, CodeInternal, ReasonAmbiguousRoute, err)
	case err != nil:
		return ResultReject, internal(StageRouting, err)
	case route == nil:
		return ResultReject, internal(StageRouting, errors.New("resolver returned no route and no error"))
	}

	if err := ex.setRoute(route); err != nil {
		return ResultReject, internal(StageRouting, err)
	}
	return ResultContinue, nil
}

func (o *Orchestrator) authenticate(ctx context.Context, ex *Exchange, req *Request) (StageResult, *Rejection) {
	route := ex.Route()
	if route.Public {
		return ResultSkip, nil
	}

	raw, err := jwt.BearerToken(req.Header.Get("Authorization"))
	switch {
	case errors.Is(err, jwt.ErrNoToken):
		return ResultReject, newRejection(StageAuthenticating, CodeUnauthenticated, string(jwt.ReasonMissing), nil)
	case err != nil:
		return ResultReject, newRejection(StageAuthenticating, CodeUnauthenticated, string(jwt.ReasonMalformed), err)
	}

	identity, err := o.verifier.Verify(ctx, raw)
	if err != nil {
		var rej *jwt.Rejection
		switch {
		case errors.As(err, &rej) && rej.Unavailable():
			return ResultReject, newRejection(StageAuthenticating, CodeAuthUnavailable, string(rej.Reason), err)
		case errors.As(err, &rej):
			return ResultReject, newRejection(StageAuthenticating, CodeUnauthenticated, string(rej.Reason), err)
		default:
			return ResultReject, newRejection(StageAuthenticating, CodeAuthUnavailable, "verifier-error", err)
		}
	}

	if err := ex.setIdentity(identity); err != nil {
		return ResultReject, internal(StageAuthenticating, err)
	}

	if missing := identity.MissingScopes(route.Scopes); len(missing) > 0 {
		return ResultReject, newRejection(StageAuthenticating, CodeForbidden, ReasonMissingScope,
			fmt.Errorf("subject %s lacks scopes %v", identity.Subject, missing))
	}
	return ResultContinue, nil
}

func (o *Orchestrator) checkRate(_ context.Context, ex *Exchange, req *Request) (StageResult, *Rejection) {
	key := ratelimit.KeyForClient(req.ClientAddr)
	if id := ex.Identity(); id != nil {
		key = ratelimit.KeyForIdentity(id.Subject)
	}

	decision := o.limiter.Admit(key, ex.Route().Cost)
	if err := ex.setDecision(decision); err != nil {
		return ResultReject, internal(StageRateChecking, err)
	}

	switch decision.Outcome {
	case ratelimit.Admitted:
		return ResultContinue, nil
	case ratelimit.Limited:
		rej := newRejection(StageRateChecking, CodeRateLimited, ReasonQuotaExceeded, nil)
		rej.RetryAfter = decision.RetryAfter
		return ResultReject, rej
	default:
		return ResultReject, newRejection(StageRateChecking, CodeImpossibleQuota, ReasonCostExceedsCap, nil)
	}
}

var errForwarderPanic = errors.New("forwarder panic")

type forwardResult struct {
	resp *Response
	err  error
}

func (o *Orchestrator) forward(ctx context.Context, ex *Exchange, req *Request) (StageResult, *Rejection) {
	route := ex.Route()

	u := route.Target()
	u.Path = route.UpstreamPath(ex.RelPath())
	// url.URL ignores a RawPath that does not encode Path.
	u.RawPath = route.UpstreamPath(ex.RawRelPath())
	u.RawQuery = req.RawQuery

	timeout := route.Timeout
	if timeout <= 0 {
		timeout = o.defaultTimeout
	}

	target := Target{
		Backend:   route.Name,
		URL:       u,
		Timeout:   timeout,
		Retries:   route.Retries,
		RequestID: ex.RequestID(),
	}
	if id := ex.Identity(); id != nil {
		target.Subject = id.Subject
	}
	if err := ex.setTarget(target); err != nil {
		return ResultReject, internal(StageForwarding, err)
	}

	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The forwarder runs on its own goroutine so the stage returns as
	// soon as the deadline passes or the client goes away, even if the
	// forwarder is slow to notice.
	done := make(chan forwardResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- forwardResult{err: fmt.Errorf("%w: %v", errForwarderPanic, p)}
			}
		}()
		resp, err := o.forwarder.Forward(fctx, target, req)
		done <- forwardResult{resp: resp, err: err}
	}()

	var res forwardResult
	select {
	case res = <-done:
	case <-fctx.Done():
		res.err = fctx.Err()
	}

	if res.err != nil {
		return ResultReject, o.classifyForwardError(ctx, res.err)
	}
	if res.resp == nil {
		return ResultReject, internal(StageForwarding, errors.New("forwarder returned no response"))
	}
	if err := ex.setResponse(res.resp); err != nil {
		return ResultReject, internal(StageForwarding, err)
	}
	return ResultContinue, nil
}

func (o *Orchestrator) classifyForwardError(ctx context.Context, err error) *Rejection {
	switch {
	case errors.Is(err, errForwarderPanic):
		return internal(StageForwarding, err)
	case errors.Is(ctx.Err(), context.Canceled):
		return newRejection(StageForwarding, CodeCanceled, ReasonClientCanceled, err)
	case errors.Is(err, ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return newRejection(StageForwarding, CodeUpstreamTimeout, ReasonUpstreamTimeout, err)
	case errors.Is(err, ErrUpstreamUnavailable):
		rej := newRejection(StageForwarding, CodeUpstreamError, ReasonUpstreamDown, err)
		rej.Status = http.StatusServiceUnavailable
		return rej
	default:
		return newRejection(StageForwarding, CodeUpstreamError, ReasonUpstreamFailed, err)
	}
}
