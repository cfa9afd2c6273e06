package jwt

import (
	"context"
	"sync/atomic"

	"github.com/vyrodovalexey/avagate/internal/auth"
)

// Holder publishes the current Verifier. Key rotation installs a new
// Verifier; requests already verifying keep the one they loaded.
type Holder struct {
	current atomic.Pointer[Verifier]
}

// NewHolder creates a holder with an initial verifier.
func NewHolder(v *Verifier) *Holder {
	h := &Holder{}
	h.current.Store(v)
	return h
}

// Store installs a new verifier.
func (h *Holder) Store(v *Verifier) {
	h.current.Store(v)
}

// Load returns the current verifier.
func (h *Holder) Load() *Verifier {
	return h.current.Load()
}

// Verify verifies raw with the current verifier.
func (h *Holder) Verify(ctx context.Context, raw string) (*auth.Identity, error) {
	v := h.current.Load()
	if v == nil {
		return nil, reject(ReasonBadSignature, ErrNoKeys)
	}
	return v.Verify(ctx, raw)
}
