package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPairProducesDistinctKeys(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.NotEqual(t, a.Private, b.Private)
	assert.NotEqual(t, [32]byte{}, a.Public)
}

func TestFromPrivateKeyDerivesConsistentPublicKey(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	again, err := FromPrivateKey(kp.Private)
	require.NoError(t, err)

	assert.Equal(t, kp.Public, again.Public)
}

func TestFromHexRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	loaded, err := FromHex(kp.PrivateHex())
	require.NoError(t, err)

	assert.Equal(t, kp.Public, loaded.Public)
	assert.Equal(t, kp.PublicHex(), loaded.PublicHex())
}

func TestFromHexRejectsWrongLength(t *testing.T) {
	_, err := FromHex("deadbeef")
	assert.Error(t, err)
}
