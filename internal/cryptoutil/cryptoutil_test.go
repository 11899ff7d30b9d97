package cryptoutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := GenerateDataKey()
	require.NoError(t, err)

	plaintext := []byte("intermediate private key material")
	ciphertext, err := Seal(key, plaintext, nil)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	got, err := Open(key, ciphertext, nil)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestOpen_WrongKeyFails(t *testing.T) {
	key1, _ := GenerateDataKey()
	key2, _ := GenerateDataKey()

	ciphertext, err := Seal(key1, []byte("secret"), nil)
	require.NoError(t, err)

	_, err = Open(key2, ciphertext, nil)
	assert.Error(t, err)
}

func TestKDFDangerStatic_Deterministic(t *testing.T) {
	shard := []byte("same-shard-value")
	assert.Equal(t, KDFDangerStatic(shard), KDFDangerStatic(shard))
}

func TestKDFDangerStatic_ShardOrderMatters(t *testing.T) {
	s1, s2 := []byte("shard-one"), []byte("shard-two")
	combined1 := append(append([]byte{}, s1...), s2...)
	combined2 := append(append([]byte{}, s2...), s1...)

	assert.NotEqual(t, KDFDangerStatic(combined1), KDFDangerStatic(combined2))
}

func TestHashVerifyPassword(t *testing.T) {
	pepper := []byte("shard1shard2")
	stored, err := HashPassword([]byte("correct horse"), pepper)
	require.NoError(t, err)

	assert.True(t, VerifyPassword([]byte("correct horse"), pepper, stored))
	assert.False(t, VerifyPassword([]byte("wrong"), pepper, stored))
	assert.False(t, VerifyPassword([]byte("correct horse"), []byte("different-pepper"), stored))
}

func TestGenerateShard_Length(t *testing.T) {
	s, err := GenerateShard()
	require.NoError(t, err)
	assert.Len(t, s, 48)
}

func TestGenerate_AllAlgorithms(t *testing.T) {
	for _, kt := range []KeyType{KeyTypeRSA2048, KeyTypeECDSAP256, KeyTypeECDSAP384, KeyTypeEd25519} {
		kp, err := Generate(kt)
		require.NoError(t, err)
		assert.Equal(t, kt, kp.Type())
		assert.NotNil(t, kp.Signer())
	}
}

func TestGenerate_InvalidType(t *testing.T) {
	_, err := Generate(KeyType("bogus"))
	assert.ErrorIs(t, err, ErrInvalidKeyType)
}
