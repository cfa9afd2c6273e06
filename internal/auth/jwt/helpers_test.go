package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

type testClaims struct {
	gojwt.RegisteredClaims
	Scope string   `json:"scope,omitempty"`
	Scp   []string `json:"scp,omitempty"`
}

func validClaims() testClaims {
	return testClaims{
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   "user-42",
			Issuer:    "https://issuer.test",
			Audience:  gojwt.ClaimStrings{"gateway"},
			ID:        "jti-1",
			IssuedAt:  gojwt.NewNumericDate(testNow.Add(-time.Minute)),
			ExpiresAt: gojwt.NewNumericDate(testNow.Add(time.Hour)),
		},
		Scope: "orders:read orders:write",
	}
}

func signHS256(t *testing.T, claims gojwt.Claims, kid string) string {
	t.Helper()
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func signRS256(t *testing.T, key *rsa.PrivateKey, claims gojwt.Claims, kid string) string {
	t.Helper()
	token := gojwt.NewWithClaims(gojwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func newRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func publicPEM(t *testing.T, key *rsa.PrivateKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func newHMACVerifier(t *testing.T, cfg Config, opts ...Option) *Verifier {
	t.Helper()
	keys, err := LoadKeySet(KeySource{ID: "hmac", Algorithm: "HS256", Secret: testSecret})
	require.NoError(t, err)
	opts = append([]Option{WithClock(fixedClock)}, opts...)
	v, err := NewVerifier(cfg, keys, opts...)
	require.NoError(t, err)
	return v
}
