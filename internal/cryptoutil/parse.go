package cryptoutil

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// ParsePrivateKeyPEM parses a PEM-encoded PKCS#8, PKCS#1, or SEC1 private
// key, returning a crypto.Signer usable with x509.CreateCertificate and
// golang.org/x/crypto/ssh signing, plus the detected KeyType.
func ParsePrivateKeyPEM(pemBytes []byte) (crypto.Signer, KeyType, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, "", fmt.Errorf("no PEM block found in private key")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return signerAndType(key)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, KeyTypeRSA2048, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, ecdsaKeyType(key), nil
	}
	return nil, "", fmt.Errorf("unrecognized private key encoding")
}

func signerAndType(key interface{}) (crypto.Signer, KeyType, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, KeyTypeRSA2048, nil
	case *ecdsa.PrivateKey:
		return k, ecdsaKeyType(k), nil
	case ed25519.PrivateKey:
		return k, KeyTypeEd25519, nil
	default:
		return nil, "", fmt.Errorf("unsupported private key type %T", key)
	}
}

// ecdsaKeyType maps a parsed key's curve back to the KeyType that would
// have generated it, so callers get an accurate label instead of an
// assumed P-384 regardless of curve.
func ecdsaKeyType(key *ecdsa.PrivateKey) KeyType {
	switch key.Curve {
	case elliptic.P256():
		return KeyTypeECDSAP256
	default:
		return KeyTypeECDSAP384
	}
}

// ParseCertificatePEM parses a single PEM-encoded certificate.
func ParseCertificatePEM(pemBytes []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no CERTIFICATE PEM block found")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return cert, nil
}

// EncodeCertificatePEM encodes a DER certificate as a PEM block.
func EncodeCertificatePEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// EncodePrivateKeyPEM encodes a private key as a PKCS#8 PEM block,
// regardless of its underlying algorithm.
func EncodePrivateKeyPEM(key crypto.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal pkcs8: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}
