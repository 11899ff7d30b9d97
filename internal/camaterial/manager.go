package camaterial

import (
	"context"
	"crypto"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/nioca/ca/internal/apierror"
	"github.com/nioca/ca/internal/cryptoutil"
	"github.com/nioca/ca/internal/keystore"
	"github.com/nioca/ca/internal/logger"
	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/store"
)

// DefaultGroupName is the immutable, always-present group row name.
const DefaultGroupName = "default"

// Manager implements the CA material manager: import and generation of
// X.509 and SSH CA keys, group binding, and the issuance validity cap.
type Manager struct {
	log logger.Logger
}

func NewManager(log logger.Logger) *Manager {
	return &Manager{log: log}
}

// ImportX509CA validates a root/intermediate pair and the encrypted
// intermediate key, then persists all three rows under a fresh CA id, with
// the intermediate key re-encrypted under the key store's active data key.
// st and ks must share the same transaction when called from init.
func (m *Manager) ImportX509CA(ctx context.Context, st store.X509CAStore, ks *keystore.KeyStore,
	name string, rootPEM, intermediatePEM []byte, intermediateKeyCiphertextHex, password string) (caID string, err error) {

	root, intermediate, err := ValidateX509Chain(rootPEM, intermediatePEM)
	if err != nil {
		return "", err
	}
	signer, _, err := DecryptIntermediateKey(intermediateKeyCiphertextHex, password, intermediate)
	if err != nil {
		return "", err
	}

	caID = uuid.NewString()

	rootFP := cryptoutil.Fingerprint(rootPEM)
	rootFPEnc, dataKeyID, err := ks.Seal(ctx, []byte(rootFP))
	if err != nil {
		return "", err
	}
	if err := st.Create(ctx, &model.X509CaMaterial{
		ID: uuid.NewString(), CaID: caID, Type: model.X509MaterialRoot, Name: name,
		NotAfter: timePtr(root.NotAfter), Data: rootPEM, EncryptedFingerprint: rootFPEnc, DataKeyID: dataKeyID,
	}); err != nil {
		return "", apierror.Wrap(apierror.KindDatabase, "persist root certificate failed", err)
	}

	intFP := cryptoutil.Fingerprint(intermediatePEM)
	intFPEnc, dataKeyID2, err := ks.Seal(ctx, []byte(intFP))
	if err != nil {
		return "", err
	}
	if err := st.Create(ctx, &model.X509CaMaterial{
		ID: uuid.NewString(), CaID: caID, Type: model.X509MaterialCertificate, Name: name,
		NotAfter: timePtr(intermediate.NotAfter), Data: intermediatePEM, EncryptedFingerprint: intFPEnc, DataKeyID: dataKeyID2,
	}); err != nil {
		return "", apierror.Wrap(apierror.KindDatabase, "persist intermediate certificate failed", err)
	}

	keyPEM, err := cryptoutil.EncodePrivateKeyPEM(signer)
	if err != nil {
		return "", apierror.Internal(err)
	}
	keyEnc, dataKeyID3, err := ks.Seal(ctx, keyPEM)
	if err != nil {
		return "", err
	}
	if err := st.Create(ctx, &model.X509CaMaterial{
		ID: uuid.NewString(), CaID: caID, Type: model.X509MaterialKey, Name: name,
		Data: keyEnc, DataKeyID: dataKeyID3,
	}); err != nil {
		return "", apierror.Wrap(apierror.KindDatabase, "persist intermediate key failed", err)
	}

	m.log.Info("imported x509 CA", logger.String("ca_id", caID), logger.String("name", name))
	return caID, nil
}

// LoadIntermediateSigner decrypts the intermediate private key for caID,
// lazily re-keying the row if it was encrypted under a retired data key.
func (m *Manager) LoadIntermediateSigner(ctx context.Context, st store.X509CAStore, ks *keystore.KeyStore, caID string) (crypto.Signer, *model.X509CaMaterial, error) {
	row, err := st.Get(ctx, caID, model.X509MaterialKey)
	if err != nil {
		return nil, nil, apierror.Wrap(apierror.KindDatabase, "intermediate key lookup failed", err)
	}
	res, err := ks.Open(ctx, row.Data, row.DataKeyID)
	if err != nil {
		return nil, nil, err
	}
	if err := keystore.Rekey(ctx, res, "x509_ca_key", func(ctx context.Context, ciphertext []byte, dataKeyID string) error {
		return st.UpdateKey(ctx, caID, model.X509MaterialKey, ciphertext, dataKeyID)
	}); err != nil {
		m.log.Warn("failed to persist intermediate key re-encryption",
			logger.String("ca_id", caID), logger.Error(err))
	} else if res.NeedsReEncrypt {
		row.Data = res.NewCiphertext
		row.DataKeyID = res.NewDataKeyID
	}
	signer, _, err := cryptoutil.ParsePrivateKeyPEM(res.Plaintext)
	if err != nil {
		return nil, nil, apierror.Internal(err)
	}
	return signer, row, nil
}

// GenerateSSHCA generates a fresh SSH CA key pair of the requested
// algorithm and persists it with its private key encrypted under the
// active data key.
func (m *Manager) GenerateSSHCA(ctx context.Context, st store.SSHCAStore, ks *keystore.KeyStore, name string, algo cryptoutil.KeyType) (string, error) {
	kp, err := cryptoutil.Generate(algo)
	if err != nil {
		return "", apierror.Internal(err)
	}
	return m.persistSSHCA(ctx, st, ks, name, kp)
}

// ImportSSHCA imports an existing PEM-encoded PKCS#8, PKCS#1 or SEC1 private
// key, such as the one ca-bootstrap's ssh init writes.
func (m *Manager) ImportSSHCA(ctx context.Context, st store.SSHCAStore, ks *keystore.KeyStore, name string, pemBytes []byte) (string, error) {
	signer, _, err := cryptoutil.ParsePrivateKeyPEM(pemBytes)
	if err != nil {
		return "", apierror.Wrap(apierror.KindBadRequest, "invalid SSH CA private key", err)
	}
	return m.persistSSHCASigner(ctx, st, ks, name, signer)
}

func (m *Manager) persistSSHCA(ctx context.Context, st store.SSHCAStore, ks *keystore.KeyStore, name string, kp cryptoutil.KeyPair) (string, error) {
	return m.persistSSHCASigner(ctx, st, ks, name, kp.Signer())
}

func (m *Manager) persistSSHCASigner(ctx context.Context, st store.SSHCAStore, ks *keystore.KeyStore, name string, signer crypto.Signer) (string, error) {
	sshSigner, err := ssh.NewSignerFromSigner(signer)
	if err != nil {
		return "", apierror.Internal(fmt.Errorf("derive ssh signer: %w", err))
	}
	pubKey := string(ssh.MarshalAuthorizedKey(sshSigner.PublicKey()))

	keyPEM, err := cryptoutil.EncodePrivateKeyPEM(signer)
	if err != nil {
		return "", apierror.Internal(err)
	}
	ciphertext, dataKeyID, err := ks.Seal(ctx, keyPEM)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	row := &model.SshCaMaterial{ID: id, Name: name, PublicKey: pubKey, Ciphertext: ciphertext, DataKeyID: dataKeyID}
	if err := st.Create(ctx, row); err != nil {
		return "", apierror.Wrap(apierror.KindDatabase, "persist ssh ca failed", err)
	}

	m.log.Info("created ssh CA", logger.String("ca_id", id), logger.String("name", name),
		logger.String("fingerprint", ssh.FingerprintSHA256(sshSigner.PublicKey())))
	return id, nil
}

// LoadSSHSigner decrypts the SSH CA private key for id.
func (m *Manager) LoadSSHSigner(ctx context.Context, st store.SSHCAStore, ks *keystore.KeyStore, id string) (ssh.Signer, *model.SshCaMaterial, error) {
	row, err := st.Get(ctx, id)
	if err != nil {
		return nil, nil, apierror.Wrap(apierror.KindDatabase, "ssh ca lookup failed", err)
	}
	res, err := ks.Open(ctx, row.Ciphertext, row.DataKeyID)
	if err != nil {
		return nil, nil, err
	}
	if err := keystore.Rekey(ctx, res, "ssh_ca_key", func(ctx context.Context, ciphertext []byte, dataKeyID string) error {
		return st.UpdateKey(ctx, id, ciphertext, dataKeyID)
	}); err != nil {
		m.log.Warn("failed to persist ssh ca key re-encryption", logger.String("ca_id", id), logger.Error(err))
	} else if res.NeedsReEncrypt {
		row.Ciphertext = res.NewCiphertext
		row.DataKeyID = res.NewDataKeyID
	}
	signer, _, err := cryptoutil.ParsePrivateKeyPEM(res.Plaintext)
	if err != nil {
		return nil, nil, apierror.Internal(err)
	}
	sshSigner, err := ssh.NewSignerFromSigner(signer)
	if err != nil {
		return nil, nil, apierror.Internal(err)
	}
	return sshSigner, row, nil
}

// CapValidity clamps requested against issuerNotAfter minus a one-minute
// safety margin, returning whether it truncated.
func CapValidity(requested, issuerNotAfter time.Time) (capped time.Time, truncated bool) {
	limit := issuerNotAfter.Add(-1 * time.Minute)
	if requested.After(limit) {
		return limit, true
	}
	return requested, false
}

func timePtr(t time.Time) *time.Time { return &t }
