package jwt

import (
	"errors"
	"fmt"
)

// Reason classifies why a token was rejected.
type Reason string

// Rejection reasons.
const (
	ReasonMissing               Reason = "missing"
	ReasonMalformed             Reason = "malformed"
	ReasonExpired               Reason = "expired"
	ReasonBadSignature          Reason = "bad-signature"
	ReasonRevoked               Reason = "revoked"
	ReasonNotYetValid           Reason = "not-yet-valid"
	ReasonInvalidClaims         Reason = "invalid-claims"
	ReasonRevocationUnavailable Reason = "revocation-unavailable"
)

// Sentinel errors for key material and token extraction.
var (
	// ErrNoToken indicates that the request carried no credential at all.
	ErrNoToken = errors.New("no bearer token")

	// ErrMalformedHeader indicates an Authorization header that is not
	// of the form "Bearer <token>".
	ErrMalformedHeader = errors.New("authorization header is not a bearer token")

	// ErrKeyNotFound indicates that no key matches the token header.
	ErrKeyNotFound = errors.New("signing key not found")

	// ErrNoKeys indicates an empty key set.
	ErrNoKeys = errors.New("no verification keys configured")

	// ErrInvalidKey indicates unusable key material.
	ErrInvalidKey = errors.New("signing key is invalid")
)

// Rejection is the error returned by Verify for every refused token.
type Rejection struct {
	Reason Reason
	Cause  error
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	if r.Cause != nil {
		return fmt.Sprintf("token rejected (%s): %v", r.Reason, r.Cause)
	}
	return fmt.Sprintf("token rejected (%s)", r.Reason)
}

// Unwrap returns the underlying error.
func (r *Rejection) Unwrap() error {
	return r.Cause
}

// Is matches any *Rejection with the same reason.
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	if !ok {
		return false
	}
	return t.Reason == "" || t.Reason == r.Reason
}

// Unavailable reports whether the rejection is caused by a failing
// collaborator rather than by the token itself.
func (r *Rejection) Unavailable() bool {
	return r.Reason == ReasonRevocationUnavailable
}

func reject(reason Reason, cause error) *Rejection {
	return &Rejection{Reason: reason, Cause: cause}
}

// ReasonOf extracts the rejection reason from err. It returns an empty
// reason when err is not a *Rejection.
func ReasonOf(err error) Reason {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return ""
}

// KeyError represents a key-related error.
type KeyError struct {
	KeyID   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *KeyError) Error() string {
	msg := "jwt key error"
	if e.KeyID != "" {
		msg = fmt.Sprintf("jwt key error (kid=%s)", e.KeyID)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", msg, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", msg, e.Message)
}

// Unwrap returns the underlying error.
func (e *KeyError) Unwrap() error {
	return e.Cause
}

// NewKeyError creates a new KeyError.
func NewKeyError(keyID, message string, cause error) *KeyError {
	return &KeyError{
		KeyID:   keyID,
		Message: message,
		Cause:   cause,
	}
}
