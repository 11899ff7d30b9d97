// Package keystore implements envelope encryption: a master key
// (reconstructed only at unseal time) encrypts a set of data encryption
// keys, and those data keys encrypt every secret column at rest. Every
// encrypted field stores the id of the data key that produced its
// ciphertext, so a rotation of the active key never forces a bulk
// rewrite — rows re-key lazily on read.
package keystore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nioca/ca/internal/apierror"
	"github.com/nioca/ca/internal/cryptoutil"
	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/store"
)

// KeyStore decrypts and encrypts secret payloads against the active data
// encryption key, re-keying rows opportunistically on read when they were
// encrypted under an older key.
type KeyStore struct {
	dataKeys store.DataKeyStore
	master   store.MasterKeyStore

	mu        sync.RWMutex
	masterKey []byte // 32 bytes, set once at construction from EncKeys
	active    string
	plain     map[string][]byte // data key id -> decrypted 32-byte key, cached
}

// New builds a KeyStore bound to the given master key bytes (held only in
// memory, never persisted) and the currently active data key id.
func New(dataKeys store.DataKeyStore, master store.MasterKeyStore, masterKey []byte, activeDataKeyID string) *KeyStore {
	return &KeyStore{
		dataKeys:  dataKeys,
		master:    master,
		masterKey: masterKey,
		active:    activeDataKeyID,
		plain:     make(map[string][]byte),
	}
}

// ActiveDataKeyID returns the id new ciphertexts should be stamped with.
func (k *KeyStore) ActiveDataKeyID() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active
}

// SetActiveDataKeyID advances the active key pointer, e.g. after a
// rotation; existing rows re-key lazily on their next read.
func (k *KeyStore) SetActiveDataKeyID(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.active = id
}

func (k *KeyStore) plainKey(ctx context.Context, dataKeyID string) ([]byte, error) {
	k.mu.RLock()
	if cached, ok := k.plain[dataKeyID]; ok {
		k.mu.RUnlock()
		return cached, nil
	}
	k.mu.RUnlock()

	row, err := k.dataKeys.Get(ctx, dataKeyID)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "data key lookup failed", err)
	}
	plain, err := cryptoutil.Open(k.masterKey, row.Ciphertext, nil)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindInternal, "data key decryption failed", err)
	}

	k.mu.Lock()
	k.plain[dataKeyID] = plain
	k.mu.Unlock()
	return plain, nil
}

// CreateDataKey generates a fresh data key, encrypts it under the master
// key, and persists it, returning its id.
func (k *KeyStore) CreateDataKey(ctx context.Context) (string, error) {
	plain, err := cryptoutil.GenerateDataKey()
	if err != nil {
		return "", apierror.Internal(err)
	}
	ciphertext, err := cryptoutil.Seal(k.masterKey, plain, nil)
	if err != nil {
		return "", apierror.Internal(err)
	}

	id := uuid.NewString()
	row := &model.DataEncryptionKey{ID: id, Algorithm: "chacha20poly1305", Ciphertext: ciphertext}
	if err := k.dataKeys.Create(ctx, row); err != nil {
		return "", apierror.Wrap(apierror.KindDatabase, "data key persist failed", err)
	}

	k.mu.Lock()
	k.plain[id] = plain
	k.mu.Unlock()
	return id, nil
}

// Seal encrypts plaintext under the currently active data key, returning
// the ciphertext and the key id it was stamped with.
func (k *KeyStore) Seal(ctx context.Context, plaintext []byte) (ciphertext []byte, dataKeyID string, err error) {
	dataKeyID = k.ActiveDataKeyID()
	plain, err := k.plainKey(ctx, dataKeyID)
	if err != nil {
		return nil, "", err
	}
	ciphertext, err = cryptoutil.Seal(plain, plaintext, nil)
	if err != nil {
		return nil, "", apierror.Internal(err)
	}
	return ciphertext, dataKeyID, nil
}

// OpenResult carries a decrypted secret plus whether the caller should
// persist a re-keyed ciphertext under the now-active data key.
type OpenResult struct {
	Plaintext       []byte
	NeedsReEncrypt  bool
	NewCiphertext   []byte
	NewDataKeyID    string
}

// Open decrypts ciphertext that was encrypted under dataKeyID. If
// dataKeyID is not the currently active key, it additionally re-encrypts
// the plaintext under the active key so the caller can persist the new
// pair in the same row, satisfying the lazy re-key invariant without a
// bulk rewrite.
func (k *KeyStore) Open(ctx context.Context, ciphertext []byte, dataKeyID string) (*OpenResult, error) {
	plain, err := k.plainKey(ctx, dataKeyID)
	if err != nil {
		return nil, err
	}
	plaintext, err := cryptoutil.Open(plain, ciphertext, nil)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindUnauthorized, "decryption failed", err)
	}

	active := k.ActiveDataKeyID()
	if dataKeyID == active {
		return &OpenResult{Plaintext: plaintext}, nil
	}

	newCiphertext, newDataKeyID, err := k.Seal(ctx, plaintext)
	if err != nil {
		// The read itself succeeded; a failure to re-key is not fatal to
		// the caller, just forgo the opportunistic rewrite this time.
		return &OpenResult{Plaintext: plaintext}, nil
	}
	return &OpenResult{
		Plaintext:      plaintext,
		NeedsReEncrypt: true,
		NewCiphertext:  newCiphertext,
		NewDataKeyID:   newDataKeyID,
	}, nil
}

// Rekey is a convenience wrapper that calls persist only when Open
// determined the row should move to the active key. fieldName is used only
// in the wrapped error for diagnostics.
func Rekey(ctx context.Context, res *OpenResult, fieldName string, persist func(ctx context.Context, ciphertext []byte, dataKeyID string) error) error {
	if !res.NeedsReEncrypt {
		return nil
	}
	if err := persist(ctx, res.NewCiphertext, res.NewDataKeyID); err != nil {
		return fmt.Errorf("lazy re-key of %s: %w", fieldName, err)
	}
	return nil
}
