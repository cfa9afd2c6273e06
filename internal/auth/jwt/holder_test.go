package jwt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHolder_Swap(t *testing.T) {
	t.Parallel()

	hmacVerifier := newHMACVerifier(t, Config{})
	holder := NewHolder(hmacVerifier)
	raw := signHS256(t, validClaims(), "")

	_, err := holder.Verify(context.Background(), raw)
	require.NoError(t, err)

	priv := newRSAKey(t)
	keys, err := LoadKeySet(KeySource{Algorithm: "RS256", PublicKeyPEM: publicPEM(t, priv)})
	require.NoError(t, err)
	rsaVerifier, err := NewVerifier(Config{}, keys, WithClock(fixedClock))
	require.NoError(t, err)

	holder.Store(rsaVerifier)
	assert.Same(t, rsaVerifier, holder.Load())

	_, err = holder.Verify(context.Background(), raw)
	assert.Equal(t, ReasonBadSignature, ReasonOf(err))

	_, err = holder.Verify(context.Background(), signRS256(t, priv, validClaims(), ""))
	assert.NoError(t, err)
}

func TestHolder_Empty(t *testing.T) {
	t.Parallel()

	holder := NewHolder(nil)
	_, err := holder.Verify(context.Background(), "x")
	assert.Error(t, err)
}

func TestRejection_Error(t *testing.T) {
	t.Parallel()

	rej := reject(ReasonExpired, nil)
	assert.Equal(t, "token rejected (expired)", rej.Error())
	assert.ErrorIs(t, rej, &Rejection{})
	assert.NotErrorIs(t, rej, &Rejection{Reason: ReasonRevoked})
	assert.Empty(t, ReasonOf(assert.AnError))
}
