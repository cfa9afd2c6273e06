package auth

import (
	"slices"
	"time"
)

// Identity represents a verified caller principal.
//
// An Identity is immutable once produced: fields must not be modified
// after NewIdentity returns, and Scopes is a private copy.
type Identity struct {
	// Subject is the unique identifier of the caller (the "sub" claim).
	Subject string

	// Scopes contains the scopes granted to the caller.
	Scopes []string

	// ExpiresAt is when the credential expires.
	ExpiresAt time.Time

	// Issuer is the token issuer, if present.
	Issuer string

	// TokenID is the token identifier ("jti"), if present.
	TokenID string
}

// NewIdentity creates an identity, copying and de-duplicating scopes.
func NewIdentity(subject string, scopes []string, expiresAt time.Time, issuer, tokenID string) *Identity {
	cp := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s == "" || slices.Contains(cp, s) {
			continue
		}
		cp = append(cp, s)
	}
	return &Identity{
		Subject:   subject,
		Scopes:    cp,
		ExpiresAt: expiresAt,
		Issuer:    issuer,
		TokenID:   tokenID,
	}
}

// HasScope checks if the identity was granted the scope.
func (i *Identity) HasScope(scope string) bool {
	if i == nil {
		return false
	}
	return slices.Contains(i.Scopes, scope)
}

// HasAllScopes checks if the identity was granted every listed scope.
// An empty list is always satisfied.
func (i *Identity) HasAllScopes(scopes []string) bool {
	for _, s := range scopes {
		if !i.HasScope(s) {
			return false
		}
	}
	return true
}

// MissingScopes returns the listed scopes the identity lacks, in order.
func (i *Identity) MissingScopes(scopes []string) []string {
	var missing []string
	for _, s := range scopes {
		if !i.HasScope(s) {
			missing = append(missing, s)
		}
	}
	return missing
}

// IsExpired checks if the identity is expired at the given instant.
// A zero ExpiresAt never expires.
func (i *Identity) IsExpired(now time.Time) bool {
	if i.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(i.ExpiresAt)
}
