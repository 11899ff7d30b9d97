// Package camaterial manages X.509 root/intermediate pairs and SSH CA
// keys: import/generate, group binding, and the validity-cap helper the
// issuance engines apply against issuer validity.
package camaterial

import (
	"crypto"
	"crypto/x509"
	"encoding/hex"
	"fmt"

	"github.com/nioca/ca/internal/apierror"
	"github.com/nioca/ca/internal/cryptoutil"
)

// ValidateX509Chain parses root and intermediate PEM bodies and checks
// that root is self-signed and intermediate chains to root.
func ValidateX509Chain(rootPEM, intermediatePEM []byte) (root, intermediate *x509.Certificate, err error) {
	root, err = cryptoutil.ParseCertificatePEM(rootPEM)
	if err != nil {
		return nil, nil, apierror.Wrap(apierror.KindBadRequest, "invalid root certificate", err)
	}
	if err := root.CheckSignatureFrom(root); err != nil {
		return nil, nil, apierror.BadRequest("root certificate is not self-signed")
	}
	if !root.IsCA {
		return nil, nil, apierror.BadRequest("root certificate is not a CA certificate")
	}

	intermediate, err = cryptoutil.ParseCertificatePEM(intermediatePEM)
	if err != nil {
		return nil, nil, apierror.Wrap(apierror.KindBadRequest, "invalid intermediate certificate", err)
	}
	if err := intermediate.CheckSignatureFrom(root); err != nil {
		return nil, nil, apierror.BadRequest("intermediate certificate does not chain to root")
	}

	return root, intermediate, nil
}

// DecryptIntermediateKey decrypts a hex-encoded AEAD ciphertext produced by
// the offline CLI bootstrap, using kdf_danger_static(password) as the
// symmetric key, parses the resulting PEM private key, and checks it
// matches the given certificate's public key.
func DecryptIntermediateKey(ciphertextHex, password string, cert *x509.Certificate) (crypto.Signer, cryptoutil.KeyType, error) {
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return nil, "", apierror.BadRequest("invalid intermediate key encoding")
	}

	kdfKey := cryptoutil.KDFDangerStatic([]byte(password))
	pemBytes, err := cryptoutil.Open(kdfKey, ciphertext, nil)
	if err != nil {
		return nil, "", apierror.New(apierror.KindBadRequest, "Cannot decrypt the Intermediate Private Key")
	}

	signer, keyType, err := cryptoutil.ParsePrivateKeyPEM(pemBytes)
	if err != nil {
		return nil, "", apierror.Wrap(apierror.KindBadRequest, "invalid intermediate private key", err)
	}

	if !publicKeysEqual(signer.Public(), cert.PublicKey) {
		return nil, "", apierror.BadRequest("intermediate private key does not match certificate public key")
	}

	return signer, keyType, nil
}

func publicKeysEqual(a, b crypto.PublicKey) bool {
	type equaler interface{ Equal(crypto.PublicKey) bool }
	if eq, ok := a.(equaler); ok {
		return eq.Equal(b)
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
