// Package pipeline implements the per-request decision chain of the API
// Gateway.
//
// Every inbound request runs through four stages in a fixed order:
//
//	routing -> authenticating -> rate_checking -> forwarding
//
// Routing comes first so the matched route decides whether credentials
// are required. Each stage either continues or terminates the request
// with a *Rejection carrying a wire code and HTTP status. Stages only
// add to the request's Exchange; fields recorded by an earlier stage are
// never rewritten, so the Exchange doubles as an audit trail.
//
// The orchestrator never retries. Retry and circuit breaking belong to
// the Forwarder.
package pipeline
