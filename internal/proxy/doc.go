// Package proxy implements the gateway's upstream forwarder.
//
// HTTPForwarder satisfies pipeline.Forwarder. It sends an admitted request
// to the backend resolved by the route table and returns the buffered
// upstream response.
//
// # Features
//
//   - Hop-by-hop header removal per RFC 7230
//   - X-Forwarded-For, X-Forwarded-Host and X-Forwarded-Proto
//   - Request id and authenticated subject propagation
//   - Per-backend circuit breaking with sony/gobreaker
//   - Bounded retries for idempotent methods with exponential backoff
//   - Bounded response bodies
//
// # Usage
//
//	fwd := proxy.NewHTTPForwarder(
//	    proxy.WithLogger(logger),
//	    proxy.WithBreakerSettings(proxy.BreakerSettings{Threshold: 5}),
//	)
//	orch := pipeline.New(table, verifier, limiter, fwd)
package proxy
