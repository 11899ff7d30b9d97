package sshissuer

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/nioca/ca/internal/cryptoutil"
	"github.com/nioca/ca/internal/keystore"
	"github.com/nioca/ca/internal/logger"
	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/store"
)

type fakeDataKeys struct{ rows map[string]*model.DataEncryptionKey }

func (f *fakeDataKeys) Create(_ context.Context, k *model.DataEncryptionKey) error {
	f.rows[k.ID] = k
	return nil
}
func (f *fakeDataKeys) Get(_ context.Context, id string) (*model.DataEncryptionKey, error) {
	k, ok := f.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return k, nil
}

type fakeSSHCAStore struct{ rows map[string]*model.SshCaMaterial }

func (f *fakeSSHCAStore) Create(_ context.Context, m *model.SshCaMaterial) error {
	f.rows[m.ID] = m
	return nil
}
func (f *fakeSSHCAStore) Get(_ context.Context, id string) (*model.SshCaMaterial, error) {
	m, ok := f.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m, nil
}
func (f *fakeSSHCAStore) List(_ context.Context) ([]*model.SshCaMaterial, error) {
	var out []*model.SshCaMaterial
	for _, m := range f.rows {
		out = append(out, m)
	}
	return out, nil
}
func (f *fakeSSHCAStore) Delete(_ context.Context, id string) error { delete(f.rows, id); return nil }
func (f *fakeSSHCAStore) UpdateKey(_ context.Context, id string, data []byte, dataKeyID string) error {
	row, ok := f.rows[id]
	if !ok {
		return store.ErrNotFound
	}
	row.Ciphertext = data
	row.DataKeyID = dataKeyID
	return nil
}

type fakeGroups struct{ rows map[string]*model.Group }

func (f *fakeGroups) Create(_ context.Context, g *model.Group) error { f.rows[g.ID] = g; return nil }
func (f *fakeGroups) Get(_ context.Context, id string) (*model.Group, error) {
	g, ok := f.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return g, nil
}
func (f *fakeGroups) GetByName(_ context.Context, name string) (*model.Group, error) {
	for _, g := range f.rows {
		if g.Name == name {
			return g, nil
		}
	}
	return nil, store.ErrNotFound
}
func (f *fakeGroups) Update(_ context.Context, g *model.Group) error { f.rows[g.ID] = g; return nil }
func (f *fakeGroups) Delete(_ context.Context, id string) error     { delete(f.rows, id); return nil }
func (f *fakeGroups) List(_ context.Context) ([]*model.Group, error) {
	var out []*model.Group
	for _, g := range f.rows {
		out = append(out, g)
	}
	return out, nil
}

type fakeSshClients struct{ rows map[string]*model.ClientSsh }

func (f *fakeSshClients) Create(_ context.Context, c *model.ClientSsh) error {
	f.rows[c.ID] = c
	return nil
}
func (f *fakeSshClients) Get(_ context.Context, id string) (*model.ClientSsh, error) {
	c, ok := f.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}
func (f *fakeSshClients) Update(_ context.Context, c *model.ClientSsh) error {
	f.rows[c.ID] = c
	return nil
}
func (f *fakeSshClients) Delete(_ context.Context, id string) error { delete(f.rows, id); return nil }
func (f *fakeSshClients) ListByGroup(_ context.Context, groupID string) ([]*model.ClientSsh, error) {
	return nil, nil
}
func (f *fakeSshClients) SetAPIKey(_ context.Context, id string, encrypted []byte, dataKeyID string) error {
	f.rows[id].EncryptedAPIKey = encrypted
	f.rows[id].DataKeyID = dataKeyID
	return nil
}
func (f *fakeSshClients) SetLatestSerial(_ context.Context, id string, serial int64) error {
	f.rows[id].LatestCertSerial = &serial
	return nil
}

type fakeSshCerts struct {
	rows   map[int64]*model.SshCertificateRecord
	serial int64
}

func (f *fakeSshCerts) InsertPlaceholder(_ context.Context, rec *model.SshCertificateRecord) (int64, error) {
	f.serial++
	rec.Serial = f.serial
	f.rows[f.serial] = rec
	return f.serial, nil
}
func (f *fakeSshCerts) FillData(_ context.Context, serial int64, data []byte) error {
	f.rows[serial].Data = data
	return nil
}
func (f *fakeSshCerts) GetBySerial(_ context.Context, serial int64) (*model.SshCertificateRecord, error) {
	r, ok := f.rows[serial]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func testEngine(t *testing.T, certType model.SshCertType) (*Engine, *fakeSshClients, string, ssh.PublicKey) {
	t.Helper()

	masterKey := make([]byte, 32)
	dataKeys := &fakeDataKeys{rows: map[string]*model.DataEncryptionKey{}}
	ks := keystore.New(dataKeys, nil, masterKey, "")
	activeID, err := ks.CreateDataKey(context.Background())
	require.NoError(t, err)
	ks.SetActiveDataKeyID(activeID)

	caKP, err := cryptoutil.Generate(cryptoutil.KeyTypeEd25519)
	require.NoError(t, err)
	caSSHSigner, err := ssh.NewSignerFromSigner(caKP.Signer())
	require.NoError(t, err)
	caKeyPEM, err := cryptoutil.EncodePrivateKeyPEM(caKP.Signer())
	require.NoError(t, err)
	ciphertext, dataKeyID, err := ks.Seal(context.Background(), caKeyPEM)
	require.NoError(t, err)

	caID := uuid.NewString()
	caStore := &fakeSSHCAStore{rows: map[string]*model.SshCaMaterial{
		caID: {ID: caID, Name: "test-ssh-ca", PublicKey: string(ssh.MarshalAuthorizedKey(caSSHSigner.PublicKey())),
			Ciphertext: ciphertext, DataKeyID: dataKeyID},
	}}

	groupID := uuid.NewString()
	groups := &fakeGroups{rows: map[string]*model.Group{
		groupID: {ID: groupID, Name: "default", Enabled: true, CaSshID: &caID},
	}}

	clients := &fakeSshClients{rows: map[string]*model.ClientSsh{}}
	clientID := uuid.NewString()
	clients.rows[clientID] = &model.ClientSsh{
		ID: clientID, Name: "test-client", Enabled: true, GroupID: groupID,
		CertType: certType, Principals: "alice, bob",
		Algorithm: string(cryptoutil.KeyTypeEd25519), ValidSecs: 3600,
		PermitPTY: true, PermitAgentForwarding: true,
	}
	certs := &fakeSshCerts{rows: map[int64]*model.SshCertificateRecord{}}

	engine := New(clients, groups, caStore, certs, ks, logger.NewDefaultLogger())
	return engine, clients, clientID, caSSHSigner.PublicKey()
}

// TestIssue_ReKeysCAKeyOnRotatedDataKey proves the lazy re-key keystore.Open
// triggers on a retired data key is actually persisted back to the store,
// not just held in memory for the one signing operation.
func TestIssue_ReKeysCAKeyOnRotatedDataKey(t *testing.T) {
	engine, clients, clientID, _ := testEngine(t, model.SshCertTypeUser)
	caStore := engine.caStore.(*fakeSSHCAStore)
	group := engine.groups.(*fakeGroups).rows[clients.rows[clientID].GroupID]
	caID := *group.CaSshID
	oldDataKeyID := caStore.rows[caID].DataKeyID

	ks := engine.ks
	newDataKeyID, err := ks.CreateDataKey(context.Background())
	require.NoError(t, err)
	ks.SetActiveDataKeyID(newDataKeyID)
	require.NotEqual(t, oldDataKeyID, newDataKeyID)

	_, err = engine.Issue(context.Background(), clientID)
	require.NoError(t, err)

	assert.Equal(t, newDataKeyID, caStore.rows[caID].DataKeyID, "ssh ca key row must be re-encrypted under the new active data key")

	signer, _, err := engine.ca.LoadSSHSigner(context.Background(), caStore, ks, caID)
	require.NoError(t, err)
	assert.NotNil(t, signer, "re-encrypted row must still decrypt to a usable signer")
}

func TestIssue_UserCertificate_SignatureVerifies(t *testing.T) {
	engine, _, clientID, caPub := testEngine(t, model.SshCertTypeUser)

	result, err := engine.Issue(context.Background(), clientID)
	require.NoError(t, err)

	parsed, _, _, _, err := ssh.ParseAuthorizedKey(result.CertAuthorized)
	require.NoError(t, err)
	cert, ok := parsed.(*ssh.Certificate)
	require.True(t, ok)

	checker := &ssh.CertChecker{
		IsUserAuthority: func(auth ssh.PublicKey) bool {
			return string(auth.Marshal()) == string(caPub.Marshal())
		},
	}
	require.NoError(t, checker.CheckCert("alice", cert))

	assert.Equal(t, uint64(result.Serial), cert.Serial)
	assert.Equal(t, uint32(ssh.UserCert), cert.CertType)
	assert.Equal(t, "nioca-default", cert.KeyId)
	assert.Equal(t, cert.ValidBefore-cert.ValidAfter, uint64(120+3600))
	assert.Contains(t, cert.Permissions.Extensions, "permit-pty")
	assert.Contains(t, cert.Permissions.Extensions, "permit-agent-forwarding")
	assert.NotContains(t, cert.Permissions.Extensions, "permit-port-forwarding")
}

func TestIssue_HostCertificate_NoPermitExtensions(t *testing.T) {
	engine, _, clientID, _ := testEngine(t, model.SshCertTypeHost)

	result, err := engine.Issue(context.Background(), clientID)
	require.NoError(t, err)

	parsed, _, _, _, err := ssh.ParseAuthorizedKey(result.CertAuthorized)
	require.NoError(t, err)
	cert := parsed.(*ssh.Certificate)

	assert.Equal(t, uint32(ssh.HostCert), cert.CertType)
	assert.Empty(t, cert.Permissions.Extensions, "host certificates must never carry permit-* extensions")
}

func TestIssue_SerialMatchesCertificateRecord(t *testing.T) {
	engine, clients, clientID, _ := testEngine(t, model.SshCertTypeUser)

	r1, err := engine.Issue(context.Background(), clientID)
	require.NoError(t, err)
	r2, err := engine.Issue(context.Background(), clientID)
	require.NoError(t, err)

	assert.NotEqual(t, r1.Serial, r2.Serial)
	assert.Equal(t, r2.Serial, *clients.rows[clientID].LatestCertSerial)
}

func TestIssue_ValidityWindowMatchesSpec(t *testing.T) {
	engine, _, clientID, _ := testEngine(t, model.SshCertTypeUser)

	before := time.Now()
	result, err := engine.Issue(context.Background(), clientID)
	require.NoError(t, err)

	assert.WithinDuration(t, before.Add(3600*time.Second), result.ValidBefore, 5*time.Second)
}

func TestIssue_DisabledClientRejected(t *testing.T) {
	engine, clients, clientID, _ := testEngine(t, model.SshCertTypeUser)
	clients.rows[clientID].Enabled = false

	_, err := engine.Issue(context.Background(), clientID)
	assert.Error(t, err)
}

func TestIssue_NoSSHCABoundRejected(t *testing.T) {
	engine, clients, clientID, _ := testEngine(t, model.SshCertTypeUser)
	group := engine.groups.(*fakeGroups).rows[clients.rows[clientID].GroupID]
	group.CaSshID = nil

	_, err := engine.Issue(context.Background(), clientID)
	assert.Error(t, err)
}
