package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"fmt"
	"math/big"
	"time"

	"github.com/nioca/ca/config"
)

// loadListenerCert decodes the sealed-phase TLS material from config. In
// development, where UNSEAL_CERT_B64/UNSEAL_KEY_B64 are typically unset, it
// falls back to a throwaway self-signed certificate so the sealed listener
// still comes up over TLS; nothing issued by the CA itself depends on this
// certificate.
func loadListenerCert(u *config.UnsealConfig, devMode bool) (tls.Certificate, error) {
	if u == nil || u.CertB64 == "" || u.KeyB64 == "" {
		if devMode {
			return generateDevCert()
		}
		return tls.Certificate{}, fmt.Errorf("unseal.cert_b64/key_b64 are required outside development")
	}

	certPEM, err := base64.StdEncoding.DecodeString(u.CertB64)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decode unseal.cert_b64: %w", err)
	}
	keyPEM, err := base64.StdEncoding.DecodeString(u.KeyB64)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decode unseal.key_b64: %w", err)
	}
	return tls.X509KeyPair(certPEM, keyPEM)
}

// generateDevCert builds a one-hour, loopback-only self-signed certificate
// for local development boots that never configured UNSEAL_CERT_B64.
func generateDevCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "ca-server-dev"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}
