package oidcflow

import (
	"crypto/rsa"
	"encoding/base64"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWK_PublicKey_RSA(t *testing.T) {
	n := base64.RawURLEncoding.EncodeToString(big.NewInt(123456789).Bytes())
	e := base64.RawURLEncoding.EncodeToString(big.NewInt(65537).Bytes())
	k := jwk{Kty: "RSA", N: n, E: e, Kid: "test-key"}

	pub, err := k.publicKey()
	require.NoError(t, err)
	rsaPub, ok := pub.(*rsa.PublicKey)
	require.True(t, ok)
	assert.Equal(t, 65537, rsaPub.E)
	assert.Equal(t, big.NewInt(123456789), rsaPub.N)
}

func TestJWK_PublicKey_UnsupportedType(t *testing.T) {
	_, err := jwk{Kty: "oct"}.publicKey()
	assert.Error(t, err)
}

func TestTokenCache_MissThenHit(t *testing.T) {
	c := NewTokenCache()
	defer c.Exit()

	_, _, found := c.Get("sig-1")
	assert.False(t, found)

	c.Set("sig-1", map[string]interface{}{"sub": "user-1"}, nil)

	claims, err, found := c.Get("sig-1")
	require.True(t, found)
	assert.NoError(t, err)
	assert.Equal(t, "user-1", claims["sub"])
}
