package identitysvc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nhbchain/crypto"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	r := New()
	r.RegisterSigner("node-a", key)

	payload := []byte("agreement-approval")
	sig, err := r.Sign(context.Background(), "node-a", payload)
	require.NoError(t, err)

	ok, err := r.Verify(context.Background(), "node-a", payload, sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	r := New()
	r.RegisterSigner("node-a", key)

	sig, err := r.Sign(context.Background(), "node-a", []byte("original"))
	require.NoError(t, err)

	ok, err := r.Verify(context.Background(), "node-a", []byte("tampered"), sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyUnknownNodeFails(t *testing.T) {
	r := New()
	_, err := r.Verify(context.Background(), "node-z", []byte("x"), make([]byte, 65))
	assert.Error(t, err)
}
