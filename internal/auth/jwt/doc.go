// Package jwt verifies bearer tokens and turns them into auth identities.
//
// Verification is a pure function of the raw token, the current time and
// immutable key material, plus a lookup in an external revocation set.
// Signature and claim validation are delegated to golang-jwt; key
// material (JWKS documents, PEM public keys, HMAC secrets) is handled
// with jwx.
//
// Every failure is returned as a *Rejection carrying one of the Reason
// constants, so callers can map failures to wire codes without string
// matching:
//
//	identity, err := verifier.Verify(ctx, raw)
//	var rej *jwt.Rejection
//	if errors.As(err, &rej) && rej.Reason == jwt.ReasonExpired {
//	    // ...
//	}
//
// Key rotation never mutates a Verifier in place. Build a new Verifier
// and install it with Holder.Store.
package jwt
