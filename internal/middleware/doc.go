// Package middleware provides net/http middleware that wraps the gateway
// engine.
//
//   - RequestID: assigns or sanitizes X-Request-ID
//   - Recovery: converts panics into a 500 JSON rejection
//   - Logging: structured access log per request
//
// Middleware functions follow the standard Go pattern:
//
//	handler := middleware.Recovery(logger)(
//	    middleware.RequestID()(
//	        middleware.Logging(logger)(engine),
//	    ),
//	)
package middleware
