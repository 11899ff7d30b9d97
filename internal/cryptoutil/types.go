// Package cryptoutil implements the certificate authority's primitive
// cryptographic operations: symmetric AEAD for data at rest, the two
// flavors of Argon2 key derivation the sealed-state machine relies on, and
// the KeyPair abstraction used by both the X.509 and SSH issuance engines.
package cryptoutil

import (
	"crypto"
	"errors"
)

// KeyType identifies the algorithm backing a KeyPair.
type KeyType string

const (
	KeyTypeRSA2048   KeyType = "rsa2048"
	KeyTypeECDSAP256 KeyType = "ecdsap256"
	KeyTypeECDSAP384 KeyType = "ecdsap384"
	KeyTypeEd25519   KeyType = "ed25519"
)

// KeyPair is the polymorphic key handle shared by CA material, client
// certificates, and SSH host/user keys. Every algorithm the issuance
// engines support implements this interface the same way regardless of
// its underlying crypto/* type.
type KeyPair interface {
	PublicKey() crypto.PublicKey
	PrivateKey() crypto.PrivateKey
	Type() KeyType
	// Signer returns a crypto.Signer over the private key, for use with
	// x509.CreateCertificate and golang.org/x/crypto/ssh signing.
	Signer() crypto.Signer
}

var (
	ErrInvalidKeyType   = errors.New("cryptoutil: invalid key type")
	ErrInvalidSignature = errors.New("cryptoutil: invalid signature")
)
