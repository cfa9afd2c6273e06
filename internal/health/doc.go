// Package health provides liveness and readiness endpoints.
//
// Liveness (/health) reports that the process is serving. Readiness
// (/ready) runs the registered checks: a failing critical check makes the
// gateway unready (503), a failing non-critical check reports it as
// degraded but still ready. SetDraining marks the gateway unready during
// shutdown so load balancers stop sending traffic before listeners close.
package health
