package pipeline

import (
	"context"
	"errors"
)

// Forwarder errors. Implementations wrap one of these so the
// orchestrator can pick the right code.
var (
	// ErrUpstreamTimeout indicates that the upstream did not answer in time.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrUpstreamUnavailable indicates that the upstream is known to be
	// down, e.g. its circuit breaker is open.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// Forwarder performs the upstream call for an admitted request. It must
// honor ctx cancellation and deadline.
type Forwarder interface {
	Forward(ctx context.Context, target Target, req *Request) (*Response, error)
}

// ForwarderFunc adapts a function to the Forwarder interface.
type ForwarderFunc func(ctx context.Context, target Target, req *Request) (*Response, error)

// Forward implements Forwarder.
func (f ForwarderFunc) Forward(ctx context.Context, target Target, req *Request) (*Response, error) {
	return f(ctx, target, req)
}
