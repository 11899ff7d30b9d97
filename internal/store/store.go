// Package store defines the persistence interfaces the rest of the CA
// server depends on. internal/store/postgres provides the pgx-backed
// implementation; every other package talks to these interfaces only, the
// same separation the teacher draws between pkg/storage (interfaces) and
// pkg/storage/postgres (implementation).
package store

import (
	"context"
	"time"

	"github.com/nioca/ca/internal/model"
)

// MasterKeyStore persists the singleton tagged rows written once at init
// and read on every unseal attempt.
type MasterKeyStore interface {
	Get(ctx context.Context, tag model.MasterKeyTag) ([]byte, error)
	Set(ctx context.Context, tag model.MasterKeyTag, value []byte) error
	// Exists reports whether the initialized row has been written, i.e.
	// whether the instance has ever been initialized.
	Exists(ctx context.Context) (bool, error)
}

// DataKeyStore persists data encryption keys, each encrypted under the
// master key and immutable after creation.
type DataKeyStore interface {
	Create(ctx context.Context, key *model.DataEncryptionKey) error
	Get(ctx context.Context, id string) (*model.DataEncryptionKey, error)
}

// X509CAStore persists root/intermediate certificate and key rows grouped
// by CA id.
type X509CAStore interface {
	Create(ctx context.Context, m *model.X509CaMaterial) error
	Get(ctx context.Context, caID string, typ model.X509MaterialType) (*model.X509CaMaterial, error)
	ListByID(ctx context.Context, id string) (*model.X509CaMaterial, error)
	ListCAs(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, caID string) error
	// UpdateKey persists a row's ciphertext and data-key id in place, used
	// to commit the lazy re-key of a CA private key onto the active data
	// encryption key after a read under a retired one.
	UpdateKey(ctx context.Context, caID string, typ model.X509MaterialType, data []byte, dataKeyID string) error
}

// SSHCAStore persists SSH CA key rows.
type SSHCAStore interface {
	Create(ctx context.Context, m *model.SshCaMaterial) error
	Get(ctx context.Context, id string) (*model.SshCaMaterial, error)
	List(ctx context.Context) ([]*model.SshCaMaterial, error)
	Delete(ctx context.Context, id string) error
	// UpdateKey persists a row's ciphertext and data-key id in place, used
	// to commit the lazy re-key of an SSH CA private key onto the active
	// data encryption key after a read under a retired one.
	UpdateKey(ctx context.Context, id string, data []byte, dataKeyID string) error
}

// GroupStore persists the group->CA binding. The row named "default"
// always exists and must never change name.
type GroupStore interface {
	Create(ctx context.Context, g *model.Group) error
	Get(ctx context.Context, id string) (*model.Group, error)
	GetByName(ctx context.Context, name string) (*model.Group, error)
	Update(ctx context.Context, g *model.Group) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*model.Group, error)
}

// ClientX509Store persists X.509 issuance targets.
type ClientX509Store interface {
	Create(ctx context.Context, c *model.ClientX509) error
	Get(ctx context.Context, id string) (*model.ClientX509, error)
	Update(ctx context.Context, c *model.ClientX509) error
	Delete(ctx context.Context, id string) error
	ListByGroup(ctx context.Context, groupID string) ([]*model.ClientX509, error)
	SetAPIKey(ctx context.Context, id string, encrypted []byte, dataKeyID string) error
	SetLatestSerial(ctx context.Context, id string, serial int64) error
}

// ClientSshStore persists SSH issuance targets.
type ClientSshStore interface {
	Create(ctx context.Context, c *model.ClientSsh) error
	Get(ctx context.Context, id string) (*model.ClientSsh, error)
	Update(ctx context.Context, c *model.ClientSsh) error
	Delete(ctx context.Context, id string) error
	ListByGroup(ctx context.Context, groupID string) ([]*model.ClientSsh, error)
	SetAPIKey(ctx context.Context, id string, encrypted []byte, dataKeyID string) error
	SetLatestSerial(ctx context.Context, id string, serial int64) error
}

// X509CertificateStore allocates serials and persists issued certificates
// via the insert-placeholder-then-fill pattern.
type X509CertificateStore interface {
	// InsertPlaceholder inserts a row with empty Data and returns the
	// store-assigned monotonic serial.
	InsertPlaceholder(ctx context.Context, rec *model.X509CertificateRecord) (int64, error)
	FillData(ctx context.Context, serial int64, der []byte) error
	GetBySerial(ctx context.Context, serial int64) (*model.X509CertificateRecord, error)
}

// SshCertificateStore mirrors X509CertificateStore for SSH certificates.
type SshCertificateStore interface {
	InsertPlaceholder(ctx context.Context, rec *model.SshCertificateRecord) (int64, error)
	FillData(ctx context.Context, serial int64, data []byte) error
	GetBySerial(ctx context.Context, serial int64) (*model.SshCertificateRecord, error)
}

// SessionStore persists local and federated-login sessions.
type SessionStore interface {
	Create(ctx context.Context, s *model.Session) error
	Get(ctx context.Context, id string) (*model.Session, error)
	Update(ctx context.Context, s *model.Session) error
	Delete(ctx context.Context, id string) error
	// DeleteExpiredBefore removes sessions whose Expires is more than grace
	// in the past, returning the number of rows removed.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UserStore persists federated-login principals.
type UserStore interface {
	Upsert(ctx context.Context, u *model.User) error
	Get(ctx context.Context, id string) (*model.User, error)
	GetByOidcID(ctx context.Context, oidcID string) (*model.User, error)
}

// OidcConfigStore persists the singleton federated-login configuration.
type OidcConfigStore interface {
	Get(ctx context.Context) (*model.OidcConfig, error)
	Set(ctx context.Context, cfg *model.OidcConfig) error
	Exists(ctx context.Context) (bool, error)
}

// SealedRegistrationStore tracks instances currently sealed, used by the
// cluster auto-unseal propagator.
type SealedRegistrationStore interface {
	Upsert(ctx context.Context, r *model.SealedRegistration) error
	Delete(ctx context.Context, instanceID string) error
	List(ctx context.Context) ([]*model.SealedRegistration, error)
}

// GroupAccessStore persists the supplemented users_group_access grants.
type GroupAccessStore interface {
	Grant(ctx context.Context, a *model.GroupAccess) error
	Revoke(ctx context.Context, userID, groupID string) error
	ListForUser(ctx context.Context, userID string) ([]*model.GroupAccess, error)
}

// Store aggregates every sub-store the server needs, mirroring the
// teacher's pkg/storage.Store combined-interface shape.
type Store interface {
	MasterKey() MasterKeyStore
	DataKeys() DataKeyStore
	X509CA() X509CAStore
	SSHCA() SSHCAStore
	Groups() GroupStore
	ClientsX509() ClientX509Store
	ClientsSsh() ClientSshStore
	CertsX509() X509CertificateStore
	CertsSsh() SshCertificateStore
	Sessions() SessionStore
	Users() UserStore
	OidcConfig() OidcConfigStore
	Sealed() SealedRegistrationStore
	GroupAccess() GroupAccessStore

	// WithTx runs fn inside a single transaction; init and CA import both
	// need every row they write to commit or abort together.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	Close()
	Ping(ctx context.Context) error
}

var (
	// ErrNotFound is returned by Get-style calls that find no row.
	ErrNotFound = notFoundError{}
)

type notFoundError struct{}

func (notFoundError) Error() string { return "store: not found" }
