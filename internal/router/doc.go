// Package router provides the versioned route table of the API Gateway.
//
// Routes are keyed by API version ("v1", "v2", ...) and a path prefix
// relative to the version segment. Resolution requires an exact version
// match and picks the longest segment-aligned prefix:
//
//	/api/v1/orders/5  ->  version "v1", path "/orders/5"
//	prefix "/orders" matches "/orders" and "/orders/5", not "/ordersx"
//
// The table is an immutable snapshot published through an atomic
// pointer. Replace validates a complete route list and swaps it in one
// step, so a Resolve call sees either the old or the new table, never a
// mix, and readers never block on writers.
package router
