package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecureWipe(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	require.False(t, isZeroKey(kp.Private), "private key is all zeros before wiping")

	require.NoError(t, SecureWipe(kp.Private[:]))
	assert.Equal(t, [32]byte{}, kp.Private)
}

func TestSecureWipeNil(t *testing.T) {
	assert.Error(t, SecureWipe(nil))
	assert.NotPanics(t, func() { ZeroBytes(nil) })
}

func TestWipeKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	public := kp.Public

	require.NoError(t, WipeKeyPair(kp))
	assert.Equal(t, [32]byte{}, kp.Private)
	assert.Equal(t, public, kp.Public, "public half must survive")

	assert.Error(t, WipeKeyPair(nil))
}

func TestWipeSigningKeyPair(t *testing.T) {
	kp, err := GenerateSigningKeyPair()
	require.NoError(t, err)

	require.NoError(t, WipeSigningKeyPair(kp))
	for _, b := range kp.Private {
		require.Zero(t, b)
	}

	assert.Error(t, WipeSigningKeyPair(nil))
}
