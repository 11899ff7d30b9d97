package oidcflow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nioca/ca/internal/apierror"
	"github.com/nioca/ca/internal/keystore"
)

// stateMaxAge bounds how long a client may sit on the identity provider's
// login page before the callback is rejected.
const stateMaxAge = 10 * time.Minute

// authState is the client-side PKCE/state bundle, round-tripped through an
// encrypted cookie between BeginAuth and Callback.
type authState struct {
	Nonce     string    `json:"nonce"`
	Verifier  string    `json:"verifier"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// encodeState seals an authState under the active data key and returns a
// cookie-safe string carrying the data key id alongside the ciphertext, the
// same envelope shape internal/keystore uses for every other encrypted
// field.
func encodeState(ctx context.Context, ks *keystore.KeyStore, st authState) (string, error) {
	plain, err := json.Marshal(st)
	if err != nil {
		return "", apierror.Internal(fmt.Errorf("marshal oidc state: %w", err))
	}
	ciphertext, dataKeyID, err := ks.Seal(ctx, plain)
	if err != nil {
		return "", err
	}
	return dataKeyID + "." + base64.RawURLEncoding.EncodeToString(ciphertext), nil
}

func decodeState(ctx context.Context, ks *keystore.KeyStore, cookie string) (*authState, error) {
	idx := strings.IndexByte(cookie, '.')
	if idx < 0 {
		return nil, apierror.Unauthorized("malformed oidc state cookie")
	}
	dataKeyID, encoded := cookie[:idx], cookie[idx+1:]
	ciphertext, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apierror.Unauthorized("malformed oidc state cookie")
	}

	res, err := ks.Open(ctx, ciphertext, dataKeyID)
	if err != nil {
		return nil, apierror.Unauthorized("oidc state cookie decryption failed")
	}

	var st authState
	if err := json.Unmarshal(res.Plaintext, &st); err != nil {
		return nil, apierror.Unauthorized("malformed oidc state payload")
	}
	if time.Since(st.Timestamp) > stateMaxAge {
		return nil, apierror.Unauthorized("oidc state expired")
	}
	return &st, nil
}
