// Package ratelimit provides per-key token bucket admission control for
// the API Gateway.
//
// A Limiter owns every bucket it creates. Buckets are refilled lazily on
// access and mutated only under their own mutex, so admissions for
// different keys never contend. The bucket map is write-locked only to
// create or evict buckets.
//
// Buckets idle for longer than the idle horizon are removed by Sweep,
// which Start runs periodically. The horizon is never shorter than the
// time an empty bucket needs to refill completely, so an idle eviction
// never hands out tokens the caller had not already earned back.
package ratelimit
