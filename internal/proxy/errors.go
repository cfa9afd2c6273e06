package proxy

import (
	"errors"
	"fmt"
)

// Sentinel errors for forwarding.
var (
	// ErrNoTarget indicates that the target carries no URL.
	ErrNoTarget = errors.New("no upstream target")

	// ErrResponseTooLarge indicates that the upstream body exceeded the
	// configured limit.
	ErrResponseTooLarge = errors.New("upstream response too large")
)

// ForwardError describes a failed upstream call.
type ForwardError struct {
	Backend  string
	Target   string
	Attempts int
	Cause    error
}

// Error implements the error interface.
func (e *ForwardError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("forward to %s (%s) failed after %d attempts: %v",
			e.Backend, e.Target, e.Attempts, e.Cause)
	}
	return fmt.Sprintf("forward to %s (%s) failed: %v", e.Backend, e.Target, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ForwardError) Unwrap() error {
	return e.Cause
}
