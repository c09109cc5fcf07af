package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.True(t, IsValidKey(kp.PrivateKey))
	assert.True(t, IsValidKey(kp.PublicKey))

	priv, err := base64.StdEncoding.DecodeString(kp.PrivateKey)
	require.NoError(t, err)
	require.Len(t, priv, 32)

	// clamping per the WireGuard spec
	assert.Zero(t, priv[0]&7)
	assert.Zero(t, priv[31]&128)
	assert.NotZero(t, priv[31]&64)

	derived, err := DerivePublicKey(kp.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, derived)
}

func TestGenerateKeyPairNeverReusesMaterial(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 16; i++ {
		kp, err := GenerateKeyPair()
		require.NoError(t, err)
		require.False(t, seen[kp.PrivateKey], "duplicate private key generated")
		seen[kp.PrivateKey] = true
	}
}

func TestDerivePublicKeyErrors(t *testing.T) {
	_, err := DerivePublicKey("not-base64!!")
	assert.Error(t, err)

	short := base64.StdEncoding.EncodeToString(make([]byte, 31))
	_, err = DerivePublicKey(short)
	assert.Error(t, err)
}

func TestIsValidKey(t *testing.T) {
	assert.False(t, IsValidKey("short"))
	assert.False(t, IsValidKey(strings.Repeat("!", 44)))

	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.True(t, IsValidKey(kp.PublicKey))
}
