// Package gateway assembles the HTTP server around the request pipeline.
//
// A Gateway owns the route table, the verifier holder, the rate limiter,
// the upstream forwarder and the orchestrator built from them. The gin
// engine serves /health, /ready and /metrics directly; every other
// request is normalized and handed to the orchestrator, and the outcome
// is written back as the upstream response or a JSON rejection.
//
// Reload swaps the route table and verifier atomically. Server, rate
// limit, upstream and revocation store settings are read once at
// construction and need a restart to change.
package gateway
