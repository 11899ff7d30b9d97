// Package model holds the row types persisted by internal/store. Every
// encrypted field is stored alongside the id of the data encryption key
// that produced its ciphertext, so the key store can lazily re-key rows on
// read without a bulk rewrite.
package model

import "time"

// MasterKeyTag names a singleton row in the master_key table.
type MasterKeyTag string

const (
	TagCheckShard1   MasterKeyTag = "check_shard_1"
	TagCheckShard2   MasterKeyTag = "check_shard_2"
	TagCheckMaster   MasterKeyTag = "check_master"
	TagEncKeyActive  MasterKeyTag = "enc_key_active"
	TagInitialized   MasterKeyTag = "initialized"
	TagLocalPassword MasterKeyTag = "local_password"
	TagDefaultX509   MasterKeyTag = "default_x509"
)

// MasterKeyRow is a tagged singleton value written once at init.
type MasterKeyRow struct {
	Tag   MasterKeyTag
	Value []byte
}

// DataEncryptionKey is a data key's ciphertext under the master key. It is
// immutable after creation; every encrypted field elsewhere references
// ID so a re-key never needs a bulk rewrite.
type DataEncryptionKey struct {
	ID         string
	Algorithm  string
	Ciphertext []byte
	CreatedAt  time.Time
}

// X509MaterialType distinguishes the three rows a CA id groups together.
type X509MaterialType string

const (
	X509MaterialRoot         X509MaterialType = "root"
	X509MaterialCertificate  X509MaterialType = "certificate"
	X509MaterialKey          X509MaterialType = "key"
)

// X509CaMaterial is one row of a CA's root, intermediate certificate, or
// intermediate private key. Root and intermediate share a CA id; Key rows
// hold the key store's ciphertext of the PEM private key as raw bytes, not
// hex-encoded.
type X509CaMaterial struct {
	ID               string
	CaID             string
	Type             X509MaterialType
	Name             string
	NotAfter         *time.Time
	Data             []byte // PEM (cert) or raw ciphertext bytes (key)
	EncryptedFingerprint []byte
	DataKeyID        string
}

// SshCaMaterial is an SSH CA's key pair.
type SshCaMaterial struct {
	ID         string
	Name       string
	PublicKey  string // OpenSSH authorized-key format
	Ciphertext []byte // encrypted PKCS#8 PEM private key
	DataKeyID  string
}

// Group binds a name to at most one X.509 CA and one SSH CA. The row
// named "default" always exists and its Name is immutable.
type Group struct {
	ID        string
	Name      string
	Enabled   bool
	CaX509ID  *string
	CaX509Typ *X509MaterialType
	CaSshID   *string
}

// KeyUsageBits mirrors x509.KeyUsage / x509.ExtKeyUsage as a stored
// bitset so a client row can be round-tripped without re-deriving usage
// from a template.
type KeyUsageBits uint32

// ClientX509 is an X.509 issuance target.
type ClientX509 struct {
	ID                string
	Name              string
	Enabled           bool
	GroupID           string
	EncryptedAPIKey   []byte
	DataKeyID         string
	CommonName        string
	Country           string
	Locality          string
	OrganizationalUnit string
	Organization      string
	StateOrProvince   string
	DNSNames          string // delimited
	IPAddresses       string // delimited
	KeyUsage          KeyUsageBits
	ExtKeyUsage       KeyUsageBits
	Algorithm         string // rsa2048, ecdsap384, ed25519
	ValidHours        int
	LatestCertSerial  *int64
	NotAfter          *time.Time
}

// SshCertType distinguishes host and user SSH certificates.
type SshCertType string

const (
	SshCertTypeHost SshCertType = "host"
	SshCertTypeUser SshCertType = "user"
)

// ClientSsh is an SSH issuance target.
type ClientSsh struct {
	ID                string
	Name              string
	Enabled           bool
	GroupID           string
	EncryptedAPIKey   []byte
	DataKeyID         string
	CertType          SshCertType
	Principals        string // delimited
	Algorithm         string
	ValidSecs         int
	PermitX11Forwarding    bool
	PermitAgentForwarding  bool
	PermitPortForwarding   bool
	PermitPTY              bool
	PermitUserRC           bool
	ForceCommand      string // stored, dormant per spec
	SourceAddress     string // stored, dormant per spec
	LatestCertSerial  *int64
	NotAfter          *time.Time
}

// X509CertificateRecord is one issued X.509 certificate. Serial is
// allocated before signing via the insert-placeholder-then-update pattern.
type X509CertificateRecord struct {
	Serial    int64
	ID        string
	Created   time.Time
	Expires   time.Time
	ClientID  *string
	UserID    *string
	Data      []byte // DER, empty until signed
}

// SshCertificateRecord mirrors X509CertificateRecord for SSH certs.
type SshCertificateRecord struct {
	Serial    int64
	ID        string
	Created   time.Time
	Expires   time.Time
	ClientID  *string
	UserID    *string
	Data      []byte // signed OpenSSH certificate bytes
}

// Session is a local or federated login session. Xsrf holds SHA-256(token),
// never the token itself.
type Session struct {
	ID            string
	Local         bool
	Created       time.Time
	Expires       time.Time
	Xsrf          []byte
	Authenticated bool
	UserID        *string
	Email         *string
	Roles         []string
	Groups        []string
	IsAdmin       bool
	IsUser        bool
}

// User is a federated-login principal, upserted on each successful login.
type User struct {
	ID         string
	OidcID     string
	Email      string
	GivenName  *string
	FamilyName *string
}

// OidcConfig is the singleton federated-login configuration, encrypted
// under the active data key.
type OidcConfig struct {
	Issuer           string
	ClientID         string
	ClientSecretEnc  []byte
	DataKeyID        string
	Scope            string
	Audience         string
	EmailVerified    bool
	AdminClaim       string
	UserClaim        string
}

// SealedRegistration is a peer instance's self-announcement while sealed.
// Deleted from the table on that instance's unseal.
type SealedRegistration struct {
	InstanceID   string
	Timestamp    time.Time
	DirectAccess bool
	URL          string
}

// GroupAccess enumerates a non-admin user's grant onto a group,
// independent of the is_admin claim-derived flag.
type GroupAccess struct {
	UserID    string
	GroupID   string
	DataKeyID string
	Access    string // e.g. "read", "issue"
}
