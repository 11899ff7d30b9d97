// Package clientauth validates the bearer API key a client presents on
// POST /api/clients/{kind}/{id}/cert and rotates that key on demand.
package clientauth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/nioca/ca/internal/apierror"
	"github.com/nioca/ca/internal/cryptoutil"
	"github.com/nioca/ca/internal/keystore"
	"github.com/nioca/ca/internal/metrics"
	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/store"
)

// Kind distinguishes the two issuance target tables a bearer client may
// authenticate against.
type Kind string

const (
	KindX509 Kind = "x509"
	KindSSH  Kind = "ssh"
)

const apiKeyLen = 48

// Validator authenticates bearer-credentialed issuance requests.
type Validator struct {
	x509Clients store.ClientX509Store
	sshClients  store.ClientSshStore
	groups      store.GroupStore
	ks          *keystore.KeyStore
}

func New(x509Clients store.ClientX509Store, sshClients store.ClientSshStore, groups store.GroupStore, ks *keystore.KeyStore) *Validator {
	return &Validator{x509Clients: x509Clients, sshClients: sshClients, groups: groups, ks: ks}
}

// BearerToken strips the "Bearer " prefix from an Authorization header,
// rejecting anything else.
func BearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) || len(header) <= len(prefix) {
		return "", apierror.Unauthorized("missing bearer credential")
	}
	return header[len(prefix):], nil
}

// AuthenticateX509 locates the client and enforces enabled, non-expired,
// enabled-group, and a matching API key before returning the row to the
// caller for issuance.
func (v *Validator) AuthenticateX509(ctx context.Context, clientID, bearerToken string) (*model.ClientX509, error) {
	client, err := v.x509Clients.Get(ctx, clientID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, denyUnauthorized(string(KindX509))
		}
		return nil, apierror.Wrap(apierror.KindDatabase, "client lookup failed", err)
	}
	group, err := v.groups.Get(ctx, client.GroupID)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "group lookup failed", err)
	}

	if err := v.check(ctx, string(KindX509), client.Enabled, group.Enabled, client.NotAfter,
		client.EncryptedAPIKey, client.DataKeyID, bearerToken,
		func(ctx context.Context, ciphertext []byte, dataKeyID string) error {
			return v.x509Clients.SetAPIKey(ctx, client.ID, ciphertext, dataKeyID)
		}); err != nil {
		return nil, err
	}
	return client, nil
}

// AuthenticateSsh mirrors AuthenticateX509 for SSH issuance targets.
func (v *Validator) AuthenticateSsh(ctx context.Context, clientID, bearerToken string) (*model.ClientSsh, error) {
	client, err := v.sshClients.Get(ctx, clientID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, denyUnauthorized(string(KindSSH))
		}
		return nil, apierror.Wrap(apierror.KindDatabase, "client lookup failed", err)
	}
	group, err := v.groups.Get(ctx, client.GroupID)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "group lookup failed", err)
	}

	if err := v.check(ctx, string(KindSSH), client.Enabled, group.Enabled, client.NotAfter,
		client.EncryptedAPIKey, client.DataKeyID, bearerToken,
		func(ctx context.Context, ciphertext []byte, dataKeyID string) error {
			return v.sshClients.SetAPIKey(ctx, client.ID, ciphertext, dataKeyID)
		}); err != nil {
		return nil, err
	}
	return client, nil
}

// check decrypts and compares the stored API key against the header
// unconditionally, before inspecting any of the cheap boolean gates, so
// the expensive, timing-sensitive step runs identically on every request
// regardless of which gate eventually fails.
func (v *Validator) check(ctx context.Context, kind string, enabled, groupEnabled bool, notAfter *time.Time,
	encryptedKey []byte, dataKeyID, bearerToken string, persist func(context.Context, []byte, string) error) error {

	res, err := v.ks.Open(ctx, encryptedKey, dataKeyID)
	if err != nil {
		return apierror.Wrap(apierror.KindInternal, "decrypt client api key failed", err)
	}
	keyValid := subtle.ConstantTimeCompare([]byte(bearerToken), res.Plaintext) == 1
	expired := notAfter != nil && notAfter.Before(time.Now())

	if res.NeedsReEncrypt {
		_ = keystore.Rekey(ctx, res, "client_api_key", persist)
	}

	switch {
	case !enabled:
		return deny(kind, "client_disabled")
	case !groupEnabled:
		return deny(kind, "group_disabled")
	case expired:
		return deny(kind, "client_expired")
	case !keyValid:
		return denyUnauthorized(kind)
	}
	return nil
}

func deny(kind, reason string) error {
	metrics.CertificatesDenied.WithLabelValues(kind, reason).Inc()
	return apierror.Forbidden("client not authorized")
}

func denyUnauthorized(kind string) error {
	metrics.CertificatesDenied.WithLabelValues(kind, "invalid_key").Inc()
	return apierror.Unauthorized("invalid client api key")
}

// RotateX509Key generates a fresh API key, seals it under the active data
// key, and persists it, returning the one-time plaintext.
func (v *Validator) RotateX509Key(ctx context.Context, clientID string) (string, error) {
	client, err := v.x509Clients.Get(ctx, clientID)
	if err != nil {
		return "", apierror.Wrap(apierror.KindDatabase, "client lookup failed", err)
	}
	return v.rotate(ctx, func(ciphertext []byte, dataKeyID string) error {
		return v.x509Clients.SetAPIKey(ctx, client.ID, ciphertext, dataKeyID)
	})
}

// RotateSshKey mirrors RotateX509Key for SSH issuance targets.
func (v *Validator) RotateSshKey(ctx context.Context, clientID string) (string, error) {
	client, err := v.sshClients.Get(ctx, clientID)
	if err != nil {
		return "", apierror.Wrap(apierror.KindDatabase, "client lookup failed", err)
	}
	return v.rotate(ctx, func(ciphertext []byte, dataKeyID string) error {
		return v.sshClients.SetAPIKey(ctx, client.ID, ciphertext, dataKeyID)
	})
}

func (v *Validator) rotate(ctx context.Context, persist func(ciphertext []byte, dataKeyID string) error) (string, error) {
	key, err := cryptoutil.RandomString(apiKeyLen)
	if err != nil {
		return "", apierror.Internal(fmt.Errorf("generate client api key: %w", err))
	}
	ciphertext, dataKeyID, err := v.ks.Seal(ctx, []byte(key))
	if err != nil {
		return "", err
	}
	if err := persist(ciphertext, dataKeyID); err != nil {
		return "", apierror.Wrap(apierror.KindDatabase, "persist client api key failed", err)
	}
	return key, nil
}
