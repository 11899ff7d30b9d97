package cryptoutil

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
)

type rsaKeyPair struct {
	private *rsa.PrivateKey
}

// GenerateRSA2048 generates an RSA-2048 key pair for X.509 leaf and
// intermediate certificates (RSA-SHA256).
func GenerateRSA2048() (KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate rsa2048: %w", err)
	}
	return &rsaKeyPair{private: priv}, nil
}

func (k *rsaKeyPair) PublicKey() crypto.PublicKey   { return &k.private.PublicKey }
func (k *rsaKeyPair) PrivateKey() crypto.PrivateKey { return k.private }
func (k *rsaKeyPair) Type() KeyType                 { return KeyTypeRSA2048 }
func (k *rsaKeyPair) Signer() crypto.Signer         { return k.private }

type ecdsaKeyPair struct {
	private *ecdsa.PrivateKey
}

// GenerateECDSAP384 generates an ECDSA P-384 key pair (ECDSA-SHA384), the
// CA's recommended algorithm for intermediates and host keys.
func GenerateECDSAP384() (KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ecdsap384: %w", err)
	}
	return &ecdsaKeyPair{private: priv}, nil
}

func (k *ecdsaKeyPair) PublicKey() crypto.PublicKey   { return &k.private.PublicKey }
func (k *ecdsaKeyPair) PrivateKey() crypto.PrivateKey { return k.private }
func (k *ecdsaKeyPair) Type() KeyType                 { return KeyTypeECDSAP384 }
func (k *ecdsaKeyPair) Signer() crypto.Signer         { return k.private }

type ecdsaP256KeyPair struct {
	private *ecdsa.PrivateKey
}

// GenerateECDSAP256 generates an ECDSA P-256 key pair, offered for SSH
// host and user CA keys alongside P-384.
func GenerateECDSAP256() (KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ecdsap256: %w", err)
	}
	return &ecdsaP256KeyPair{private: priv}, nil
}

func (k *ecdsaP256KeyPair) PublicKey() crypto.PublicKey   { return &k.private.PublicKey }
func (k *ecdsaP256KeyPair) PrivateKey() crypto.PrivateKey { return k.private }
func (k *ecdsaP256KeyPair) Type() KeyType                 { return KeyTypeECDSAP256 }
func (k *ecdsaP256KeyPair) Signer() crypto.Signer         { return k.private }

type ed25519KeyPair struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// GenerateEd25519 generates an Ed25519 key pair, used for SSH user and
// short-lived client keys where key size matters more than FIPS alignment.
func GenerateEd25519() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519: %w", err)
	}
	return &ed25519KeyPair{public: pub, private: priv}, nil
}

func (k *ed25519KeyPair) PublicKey() crypto.PublicKey   { return k.public }
func (k *ed25519KeyPair) PrivateKey() crypto.PrivateKey { return k.private }
func (k *ed25519KeyPair) Type() KeyType                 { return KeyTypeEd25519 }
func (k *ed25519KeyPair) Signer() crypto.Signer         { return k.private }

// Generate dispatches to the constructor for the requested algorithm.
func Generate(t KeyType) (KeyPair, error) {
	switch t {
	case KeyTypeRSA2048:
		return GenerateRSA2048()
	case KeyTypeECDSAP256:
		return GenerateECDSAP256()
	case KeyTypeECDSAP384:
		return GenerateECDSAP384()
	case KeyTypeEd25519:
		return GenerateEd25519()
	default:
		return nil, ErrInvalidKeyType
	}
}
