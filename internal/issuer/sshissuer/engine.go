// Package sshissuer issues OpenSSH host and user certificates against an
// SSH CA key: client key generation, serial allocation, certificate
// construction from a stored client row, and signing through the key
// store (so a lazily re-keyed CA private key persists transparently).
package sshissuer

import (
	"context"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/nioca/ca/internal/apierror"
	"github.com/nioca/ca/internal/camaterial"
	"github.com/nioca/ca/internal/cryptoutil"
	"github.com/nioca/ca/internal/keystore"
	"github.com/nioca/ca/internal/logger"
	"github.com/nioca/ca/internal/metrics"
	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/store"
)

// validAfterSkew tolerates a client clock running slightly behind the
// server's, mirroring the X.509 engine's clockSkew.
const validAfterSkew = 120 * time.Second

// IssueResult mirrors the x509issuer.IssueResult shape for SSH output.
type IssueResult struct {
	Serial         int64
	ValidBefore    time.Time
	PrivateKeyPEM  []byte
	CertAuthorized []byte // OpenSSH "ssh-ed25519-cert-v01@openssh.com ..." line
	Algorithm      string
	CertType       model.SshCertType
	CAPublicKey    []byte // OpenSSH authorized_keys line of the signing CA
}

// Engine issues SSH certificates for clients bound to a group's SSH CA.
type Engine struct {
	clients store.ClientSshStore
	groups  store.GroupStore
	caStore store.SSHCAStore
	certs   store.SshCertificateStore
	ks      *keystore.KeyStore
	ca      *camaterial.Manager
	log     logger.Logger
}

func New(clients store.ClientSshStore, groups store.GroupStore, caStore store.SSHCAStore,
	certs store.SshCertificateStore, ks *keystore.KeyStore, log logger.Logger) *Engine {
	return &Engine{
		clients: clients, groups: groups, caStore: caStore, certs: certs,
		ks: ks, ca: camaterial.NewManager(log), log: log,
	}
}

// Issue signs a fresh SSH certificate for the client identified by clientID.
func (e *Engine) Issue(ctx context.Context, clientID string) (*IssueResult, error) {
	client, err := e.clients.Get(ctx, clientID)
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
	if group.CaSshID == nil {
		return nil, apierror.BadRequest("group %q has no SSH CA bound", group.Name)
	}

	caSigner, caRow, err := e.ca.LoadSSHSigner(ctx, e.caStore, e.ks, *group.CaSshID)
	if err != nil {
		return nil, err
	}

	keyType := cryptoutil.KeyType(client.Algorithm)
	kp, err := cryptoutil.Generate(keyType)
	if err != nil {
		return nil, apierror.BadRequest("unsupported client algorithm %q", client.Algorithm)
	}
	sshPub, err := ssh.NewPublicKey(kp.PublicKey())
	if err != nil {
		return nil, apierror.Internal(fmt.Errorf("derive ssh public key: %w", err))
	}

	now := time.Now().UTC()
	validBefore := now.Add(time.Duration(client.ValidSecs) * time.Second)

	placeholder := &model.SshCertificateRecord{
		ID:       uuid.NewString(),
		Created:  now,
		Expires:  validBefore,
		ClientID: &client.ID,
	}
	serial, err := e.certs.InsertPlaceholder(ctx, placeholder)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "serial allocation failed", err)
	}

	sshType := uint32(ssh.UserCert)
	keyID := "nioca-" + group.Name
	if client.CertType == model.SshCertTypeHost {
		sshType = ssh.HostCert
	}

	cert := &ssh.Certificate{
		Key:             sshPub,
		Serial:          uint64(serial),
		CertType:        sshType,
		KeyId:           keyID,
		ValidPrincipals: splitPrincipals(client.Principals),
		ValidAfter:      uint64(now.Add(-validAfterSkew).Unix()),
		ValidBefore:     uint64(validBefore.Unix()),
	}
	if client.CertType == model.SshCertTypeUser {
		cert.Permissions.Extensions = permitExtensions(client)
	}

	if err := cert.SignCert(rand.Reader, caSigner); err != nil {
		return nil, apierror.Internal(fmt.Errorf("sign ssh certificate: %w", err))
	}

	authorized := ssh.MarshalAuthorizedKey(cert)

	if err := e.certs.FillData(ctx, serial, authorized); err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "persist issued certificate failed", err)
	}
	if err := e.clients.SetLatestSerial(ctx, client.ID, serial); err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "update client latest serial failed", err)
	}

	kind := "ssh-host"
	if client.CertType == model.SshCertTypeUser {
		kind = "ssh-user"
	}
	metrics.CertificatesIssued.WithLabelValues(kind, client.Algorithm).Inc()

	block, err := ssh.MarshalPrivateKey(kp.Signer(), "nioca-"+client.Name)
	if err != nil {
		return nil, apierror.Internal(fmt.Errorf("marshal ssh private key: %w", err))
	}

	return &IssueResult{
		Serial:         serial,
		ValidBefore:    validBefore,
		PrivateKeyPEM:  pem.EncodeToMemory(block),
		CertAuthorized: authorized,
		Algorithm:      client.Algorithm,
		CertType:       client.CertType,
		CAPublicKey:    []byte(caRow.PublicKey),
	}, nil
}

func splitPrincipals(delimited string) []string {
	var out []string
	for _, p := range strings.Split(delimited, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// permitExtensions emits the standard OpenSSH user-certificate permit
// extensions according to the client's stored flags. force-command and
// source-address are intentionally not applied here: golang.org/x/crypto/ssh
// has no certificate-side enforcement for them, so they are persisted on
// the client row but never reach a signed certificate.
func permitExtensions(c *model.ClientSsh) map[string]string {
	ext := map[string]string{}
	if c.PermitX11Forwarding {
		ext["permit-X11-forwarding"] = ""
	}
	if c.PermitAgentForwarding {
		ext["permit-agent-forwarding"] = ""
	}
	if c.PermitPortForwarding {
		ext["permit-port-forwarding"] = ""
	}
	if c.PermitPTY {
		ext["permit-pty"] = ""
	}
	if c.PermitUserRC {
		ext["permit-user-rc"] = ""
	}
	return ext
}
