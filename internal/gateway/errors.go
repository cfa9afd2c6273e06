package gateway

import "errors"

// Sentinel errors for gateway lifecycle operations.
var (
	// ErrNilConfig indicates that no configuration was supplied.
	ErrNilConfig = errors.New("configuration is required")

	// ErrNotStopped indicates Start on a gateway that is not stopped.
	ErrNotStopped = errors.New("gateway is not in stopped state")

	// ErrNotRunning indicates Stop on a gateway that is not running.
	ErrNotRunning = errors.New("gateway is not running")
)
