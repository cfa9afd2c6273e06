package health

import (
	"context"
	"fmt"
	"net/http"
)

// RouteSource reports the state of the route table.
type RouteSource interface {
	Generation() uint64
	Len() int
}

// Pinger is a dependency that can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouteTableCheck is unhealthy until the first route table is installed.
// An installed but empty table is degraded.
func RouteTableCheck(src RouteSource) CheckFunc {
	return func(context.Context) Check {
		if src.Generation() == 0 {
			return Check{Status: StatusUnhealthy, Message: "route table not loaded"}
		}
		n := src.Len()
		if n == 0 {
			return Check{Status: StatusDegraded, Message: "route table is empty"}
		}
		return Check{
			Status:  StatusHealthy,
			Message: fmt.Sprintf("%d routes, generation %d", n, src.Generation()),
		}
	}
}

// PingCheck probes a dependency. A failure is unhealthy when critical and
// degraded otherwise.
func PingCheck(p Pinger, critical bool) CheckFunc {
	return func(ctx context.Context) Check {
		if err := p.Ping(ctx); err != nil {
			status := StatusDegraded
			if critical {
				status = StatusUnhealthy
			}
			return Check{Status: status, Message: err.Error()}
		}
		return Check{Status: StatusHealthy}
	}
}

// HTTPCheck sends GET url and expects a 2xx answer. A reachable backend
// answering anything else is unhealthy; an unreachable one is
// unavailable.
func HTTPCheck(client *http.Client, url string) CheckFunc {
	return func(ctx context.Context) Check {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return Check{Status: StatusUnavailable, Message: fmt.Sprintf("build request: %v", err)}
		}
		resp, err := client.Do(req)
		if err != nil {
			return Check{Status: StatusUnavailable, Message: err.Error()}
		}
		_ = resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return Check{Status: StatusUnhealthy, Code: resp.StatusCode, Message: "unexpected status"}
		}
		return Check{Status: StatusHealthy, Code: resp.StatusCode}
	}
}
