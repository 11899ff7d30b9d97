package oidcflow

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"
)

// jwk is the subset of RFC 7517 fields needed to reconstruct an RSA or EC
// public key, the same shape as crypto/formats.JWK but decoded directly to
// a stdlib crypto.PublicKey instead of through the KeyImporter abstraction.
type jwk struct {
	Kty string `json:"kty"`
	Crv string `json:"crv,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
	Kid string `json:"kid,omitempty"`
}

func (k jwk) publicKey() (interface{}, error) {
	switch k.Kty {
	case "RSA":
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, fmt.Errorf("decode RSA modulus: %w", err)
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, fmt.Errorf("decode RSA exponent: %w", err)
		}
		return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(new(big.Int).SetBytes(e).Int64())}, nil
	case "EC":
		var curve elliptic.Curve
		switch k.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		default:
			return nil, fmt.Errorf("unsupported EC curve %q", k.Crv)
		}
		x, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil {
			return nil, fmt.Errorf("decode EC x coordinate: %w", err)
		}
		y, err := base64.RawURLEncoding.DecodeString(k.Y)
		if err != nil {
			return nil, fmt.Errorf("decode EC y coordinate: %w", err)
		}
		return &ecdsa.PublicKey{Curve: curve, X: new(big.Int).SetBytes(x), Y: new(big.Int).SetBytes(y)}, nil
	default:
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
}

// jwksCache fetches and caches an issuer's JWKS document, the same
// fetch-then-cache shape as auth0.verifier.getJWKS, adapted to a plain
// issuer string instead of an Auth0 domain and to stdlib public keys
// instead of the sage KeyImporter chain.
type jwksCache struct {
	http *http.Client
	ttl  time.Duration

	mu        sync.RWMutex
	keys      map[string]jwk
	expiresAt time.Time
}

func newJWKSCache(ttl time.Duration) *jwksCache {
	return &jwksCache{http: &http.Client{Timeout: 10 * time.Second}, ttl: ttl, keys: map[string]jwk{}}
}

func (c *jwksCache) lookup(ctx context.Context, issuer, kid string) (interface{}, error) {
	c.mu.RLock()
	if k, ok := c.keys[kid]; ok && time.Now().Before(c.expiresAt) {
		c.mu.RUnlock()
		return k.publicKey()
	}
	c.mu.RUnlock()

	if err := c.refresh(ctx, issuer); err != nil {
		return nil, err
	}

	c.mu.RLock()
	k, ok := c.keys[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no matching JWK for kid %q", kid)
	}
	return k.publicKey()
}

func (c *jwksCache) refresh(ctx context.Context, issuer string) error {
	jwksURL := strings.TrimRight(issuer, "/") + "/.well-known/jwks.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return fmt.Errorf("build jwks request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}
	if len(doc.Keys) == 0 {
		return errors.New("jwks document has no keys")
	}

	byKid := make(map[string]jwk, len(doc.Keys))
	for _, k := range doc.Keys {
		byKid[k.Kid] = k
	}

	c.mu.Lock()
	c.keys = byKid
	c.expiresAt = time.Now().Add(c.ttl)
	c.mu.Unlock()
	return nil
}
