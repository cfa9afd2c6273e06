package pipeline

import (
	"fmt"
	"time"
)

// Rejection is a terminal decision made by a stage.
type Rejection struct {
	Stage  Stage
	Code   Code
	Status int
	Reason string

	// RetryAfter is set for RATE_LIMITED.
	RetryAfter time.Duration

	// Cause is the underlying error, if any. It is not exposed to clients.
	Cause error
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	if r.Cause != nil {
		return fmt.Sprintf("%s rejected at %s (%s): %v", r.Code, r.Stage, r.Reason, r.Cause)
	}
	return fmt.Sprintf("%s rejected at %s (%s)", r.Code, r.Stage, r.Reason)
}

// Unwrap returns the underlying error.
func (r *Rejection) Unwrap() error {
	return r.Cause
}

func newRejection(stage Stage, code Code, reason string, cause error) *Rejection {
	return &Rejection{
		Stage:  stage,
		Code:   code,
		Status: code.HTTPStatus(),
		Reason: reason,
		Cause:  cause,
	}
}
