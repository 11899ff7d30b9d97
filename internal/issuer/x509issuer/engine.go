// Package x509issuer issues end-entity X.509 certificates against an
// imported intermediate CA: key generation, serial allocation, template
// construction from a stored client row, signing, and output packaging
// in PEM, DER, or PKCS#12 form.
package x509issuer

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/nioca/ca/internal/apierror"
	"github.com/nioca/ca/internal/camaterial"
	"github.com/nioca/ca/internal/cryptoutil"
	"github.com/nioca/ca/internal/keystore"
	"github.com/nioca/ca/internal/logger"
	"github.com/nioca/ca/internal/metrics"
	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/store"
)

// OutputFormat selects how a freshly issued certificate is packaged.
type OutputFormat string

const (
	FormatPEM    OutputFormat = "pem"
	FormatDER    OutputFormat = "der"
	FormatPKCS12 OutputFormat = "pkcs12"
)

// clockSkew is subtracted from NotBefore so a client whose clock runs a
// little behind the server's doesn't see a not-yet-valid certificate.
const clockSkew = 10 * time.Minute

// IssueRequest is the input to Issue.
type IssueRequest struct {
	ClientID string
	Format   OutputFormat
	// Password, if set, seals the PKCS#12 bundle; otherwise the client's
	// own (decrypted) API key is used, matching client-credential issuance.
	Password string
}

// IssueResult carries every representation Issue can be asked to return;
// only the fields matching Format are populated.
type IssueResult struct {
	Serial      int64
	NotAfter    time.Time
	Truncated   bool
	Fingerprint string

	CertPEM  []byte
	ChainPEM []byte
	KeyPEM   []byte

	CertDER []byte
	KeyDER  []byte

	PKCS12 []byte
}

// Engine issues X.509 certificates for clients bound to a group's X.509 CA.
type Engine struct {
	clients store.ClientX509Store
	groups  store.GroupStore
	caStore store.X509CAStore
	certs   store.X509CertificateStore
	ks      *keystore.KeyStore
	ca      *camaterial.Manager
	log     logger.Logger
}

func New(clients store.ClientX509Store, groups store.GroupStore, caStore store.X509CAStore,
	certs store.X509CertificateStore, ks *keystore.KeyStore, log logger.Logger) *Engine {
	return &Engine{
		clients: clients, groups: groups, caStore: caStore, certs: certs,
		ks: ks, ca: camaterial.NewManager(log), log: log,
	}
}

// Issue signs a fresh certificate for the client identified by req.ClientID.
func (e *Engine) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	client, err := e.clients.Get(ctx, req.ClientID)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "client lookup failed", err)
	}
	if !client.Enabled {
		return nil, apierror.Forbidden("client is disabled")
	}

	group, err := e.groups.Get(ctx, client.GroupID)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "group lookup failed", err)
	}
	if !group.Enabled {
		return nil, apierror.Forbidden("group is disabled")
	}
	if group.CaX509ID == nil {
		return nil, apierror.BadRequest("group %q has no X.509 CA bound", group.Name)
	}

	rootRow, err := e.caStore.Get(ctx, *group.CaX509ID, model.X509MaterialRoot)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "root certificate lookup failed", err)
	}
	intRow, err := e.caStore.Get(ctx, *group.CaX509ID, model.X509MaterialCertificate)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "intermediate certificate lookup failed", err)
	}
	intermediate, err := cryptoutil.ParseCertificatePEM(intRow.Data)
	if err != nil {
		return nil, apierror.Internal(fmt.Errorf("parse intermediate certificate: %w", err))
	}

	signer, _, err := e.ca.LoadIntermediateSigner(ctx, e.caStore, e.ks, *group.CaX509ID)
	if err != nil {
		return nil, err
	}

	keyType := cryptoutil.KeyType(client.Algorithm)
	kp, err := cryptoutil.Generate(keyType)
	if err != nil {
		return nil, apierror.BadRequest("unsupported client algorithm %q", client.Algorithm)
	}

	now := time.Now().UTC()
	requestedNotAfter := now.Add(time.Duration(client.ValidHours) * time.Hour)
	notAfter, truncated := camaterial.CapValidity(requestedNotAfter, intermediate.NotAfter)
	if truncated {
		e.log.Warn("requested validity truncated to issuer expiry",
			logger.String("client_id", client.ID), logger.String("not_after", notAfter.String()))
	}

	placeholder := &model.X509CertificateRecord{
		ID:       uuid.NewString(),
		Created:  now,
		Expires:  notAfter,
		ClientID: &client.ID,
	}
	serial, err := e.certs.InsertPlaceholder(ctx, placeholder)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "serial allocation failed", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      subjectFromClient(client),
		NotBefore:    now.Add(-clockSkew),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsage(client.KeyUsage),
		ExtKeyUsage:  decodeExtKeyUsage(client.ExtKeyUsage),
		IsCA:         false,
		// SubjectKeyId is left to x509.CreateCertificate's default, which
		// derives it via SHA-1 of the public key (RFC 5280 method 1) rather
		// than a SHA-256 key identifier; crypto/x509 does not expose a hook
		// to select the hash, so this is a known, accepted deviation.
	}
	template.DNSNames, template.IPAddresses = splitSANs(client.DNSNames, client.IPAddresses, e.log)

	der, err := x509.CreateCertificate(rand.Reader, template, intermediate, kp.PublicKey(), signer)
	if err != nil {
		return nil, apierror.Internal(fmt.Errorf("sign certificate: %w", err))
	}

	if err := e.certs.FillData(ctx, serial, der); err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "persist issued certificate failed", err)
	}
	if err := e.clients.SetLatestSerial(ctx, client.ID, serial); err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "update client latest serial failed", err)
	}

	metrics.CertificatesIssued.WithLabelValues("x509", client.Algorithm).Inc()

	keyDER, err := x509.MarshalPKCS8PrivateKey(kp.PrivateKey())
	if err != nil {
		return nil, apierror.Internal(fmt.Errorf("marshal private key: %w", err))
	}
	certPEM := cryptoutil.EncodeCertificatePEM(der)

	result := &IssueResult{
		Serial:      serial,
		NotAfter:    notAfter,
		Truncated:   truncated,
		Fingerprint: cryptoutil.Fingerprint(certPEM),
	}

	switch req.Format {
	case FormatDER:
		result.CertDER = der
		result.KeyDER = keyDER
	case FormatPKCS12:
		password := req.Password
		if password == "" {
			decrypted, err := e.decryptAPIKey(ctx, client)
			if err != nil {
				return nil, err
			}
			password = decrypted
		}
		rootCert, err := cryptoutil.ParseCertificatePEM(rootRow.Data)
		if err != nil {
			return nil, apierror.Internal(fmt.Errorf("parse root certificate: %w", err))
		}
		leaf, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, apierror.Internal(fmt.Errorf("parse issued certificate: %w", err))
		}
		p12, err := pkcs12.Modern.Encode(kp.PrivateKey(), leaf, []*x509.Certificate{intermediate, rootCert}, password)
		if err != nil {
			return nil, apierror.Internal(fmt.Errorf("encode pkcs12: %w", err))
		}
		result.PKCS12 = p12
	default: // PEM
		result.CertPEM = certPEM
		result.ChainPEM = append(append([]byte{}, intRow.Data...), rootRow.Data...)
		keyPEM, err := cryptoutil.EncodePrivateKeyPEM(kp.PrivateKey())
		if err != nil {
			return nil, apierror.Internal(err)
		}
		result.KeyPEM = keyPEM
	}

	return result, nil
}

func (e *Engine) decryptAPIKey(ctx context.Context, client *model.ClientX509) (string, error) {
	res, err := e.ks.Open(ctx, client.EncryptedAPIKey, client.DataKeyID)
	if err != nil {
		return "", err
	}
	if res.NeedsReEncrypt {
		_ = keystore.Rekey(ctx, res, "client_api_key", func(ctx context.Context, ciphertext []byte, dataKeyID string) error {
			return e.clients.SetAPIKey(ctx, client.ID, ciphertext, dataKeyID)
		})
	}
	return string(res.Plaintext), nil
}

func subjectFromClient(c *model.ClientX509) pkix.Name {
	n := pkix.Name{CommonName: c.CommonName}
	if c.Country != "" {
		n.Country = []string{c.Country}
	}
	if c.Locality != "" {
		n.Locality = []string{c.Locality}
	}
	if c.OrganizationalUnit != "" {
		n.OrganizationalUnit = []string{c.OrganizationalUnit}
	}
	if c.Organization != "" {
		n.Organization = []string{c.Organization}
	}
	if c.StateOrProvince != "" {
		n.Province = []string{c.StateOrProvince}
	}
	return n
}

// splitSANs parses comma-delimited DNS and IP lists, dropping invalid IPs
// with a log line rather than failing the whole issuance.
func splitSANs(dnsList, ipList string, log logger.Logger) ([]string, []net.IP) {
	var dns []string
	for _, d := range strings.Split(dnsList, ",") {
		d = strings.TrimSpace(d)
		if d != "" {
			dns = append(dns, d)
		}
	}
	var ips []net.IP
	for _, raw := range strings.Split(ipList, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		ip := net.ParseIP(raw)
		if ip == nil {
			log.Warn("dropping invalid SAN IP address", logger.String("value", raw))
			continue
		}
		ips = append(ips, ip)
	}
	return dns, ips
}

// Extended key usage bit positions stored in ClientX509.ExtKeyUsage.
const (
	ExtKeyUsageBitServerAuth model.KeyUsageBits = 1 << iota
	ExtKeyUsageBitClientAuth
	ExtKeyUsageBitCodeSigning
	ExtKeyUsageBitEmailProtection
	ExtKeyUsageBitTimeStamping
	ExtKeyUsageBitOCSPSigning
)

func decodeExtKeyUsage(bits model.KeyUsageBits) []x509.ExtKeyUsage {
	var out []x509.ExtKeyUsage
	if bits&ExtKeyUsageBitServerAuth != 0 {
		out = append(out, x509.ExtKeyUsageServerAuth)
	}
	if bits&ExtKeyUsageBitClientAuth != 0 {
		out = append(out, x509.ExtKeyUsageClientAuth)
	}
	if bits&ExtKeyUsageBitCodeSigning != 0 {
		out = append(out, x509.ExtKeyUsageCodeSigning)
	}
	if bits&ExtKeyUsageBitEmailProtection != 0 {
		out = append(out, x509.ExtKeyUsageEmailProtection)
	}
	if bits&ExtKeyUsageBitTimeStamping != 0 {
		out = append(out, x509.ExtKeyUsageTimeStamping)
	}
	if bits&ExtKeyUsageBitOCSPSigning != 0 {
		out = append(out, x509.ExtKeyUsageOCSPSigning)
	}
	return out
}
