package cryptoutil

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// dangerStaticSalt is the fixed salt used by KDFDangerStatic. It is
// deliberately public and constant: the digests it produces are compared
// against each other, never against a database of passwords, so a fixed
// salt costs nothing and keeps shard/master-key digests reproducible
// across nodes without having to persist a salt alongside them.
var dangerStaticSalt = []byte("12345678")

const (
	dangerStaticTime    = 2
	dangerStaticMemory  = 262144 // KiB
	dangerStaticThreads = 8
	dangerStaticTagLen  = 32
)

// KDFDangerStatic derives a 32-byte digest from input using Argon2id with
// a fixed salt. Used only for shard/master-key check digests and for
// decrypting the intermediate private key with the operator-supplied
// password during init; never for anything an attacker could brute-force
// offline with an advantage from the fixed salt, since shards and the
// master key are both high-entropy random values.
func KDFDangerStatic(input []byte) []byte {
	return argon2.IDKey(input, dangerStaticSalt, dangerStaticTime, dangerStaticMemory, dangerStaticThreads, dangerStaticTagLen)
}

// Interactive Argon2id parameters for the local admin password, tuned for
// an interactive login rather than a batch digest.
const (
	interactiveTime    = 4
	interactiveMemory  = 65536 // KiB
	interactiveThreads = 4
	interactiveTagLen  = 32
	interactiveSaltLen = 16
)

// HashPassword hashes password with a random salt and the given pepper
// (the concatenated master-key shards), returning salt||hash so the salt
// travels with the digest.
func HashPassword(password, pepper []byte) ([]byte, error) {
	salt := make([]byte, interactiveSaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	hash := hashWithSalt(password, pepper, salt)

	out := make([]byte, len(salt)+len(hash))
	copy(out, salt)
	copy(out[len(salt):], hash)
	return out, nil
}

// VerifyPassword reports whether password with the given pepper matches a
// digest produced by HashPassword, in constant time.
func VerifyPassword(password, pepper, stored []byte) bool {
	if len(stored) < interactiveSaltLen {
		return false
	}
	salt := stored[:interactiveSaltLen]
	want := stored[interactiveSaltLen:]

	got := hashWithSalt(password, pepper, salt)
	return subtle.ConstantTimeCompare(got, want) == 1
}

func hashWithSalt(password, pepper, salt []byte) []byte {
	combined := make([]byte, 0, len(password)+len(pepper))
	combined = append(combined, password...)
	combined = append(combined, pepper...)
	return argon2.IDKey(combined, salt, interactiveTime, interactiveMemory, interactiveThreads, interactiveTagLen)
}

const shardAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateShard returns a 48-character random shard string drawn from an
// alphanumeric alphabet, suitable for an operator to transcribe and store
// offline.
func GenerateShard() (string, error) {
	return RandomString(48)
}

// RandomString returns an n-character random alphanumeric string. Used for
// shards (48), XSRF tokens (48), init keys (up to 128), and client API
// keys (48).
func RandomString(n int) (string, error) {
	return randomString(n)
}

func randomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = shardAlphabet[int(b)%len(shardAlphabet)]
	}
	return string(out), nil
}
