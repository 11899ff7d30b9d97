package clientauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nioca/ca/internal/keystore"
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

func newTestKeyStore(t *testing.T) (*keystore.KeyStore, string) {
	t.Helper()
	masterKey := make([]byte, 32)
	dataKeys := &fakeDataKeys{rows: map[string]*model.DataEncryptionKey{}}
	ks := keystore.New(dataKeys, nil, masterKey, "")
	id, err := ks.CreateDataKey(context.Background())
	require.NoError(t, err)
	ks.SetActiveDataKeyID(id)
	return ks, id
}

type fakeX509Clients struct{ rows map[string]*model.ClientX509 }

func (f *fakeX509Clients) Create(_ context.Context, c *model.ClientX509) error {
	f.rows[c.ID] = c
	return nil
}
func (f *fakeX509Clients) Get(_ context.Context, id string) (*model.ClientX509, error) {
	c, ok := f.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}
func (f *fakeX509Clients) Update(_ context.Context, c *model.ClientX509) error {
	f.rows[c.ID] = c
	return nil
}
func (f *fakeX509Clients) Delete(_ context.Context, id string) error { delete(f.rows, id); return nil }
func (f *fakeX509Clients) ListByGroup(_ context.Context, groupID string) ([]*model.ClientX509, error) {
	return nil, nil
}
func (f *fakeX509Clients) SetAPIKey(_ context.Context, id string, encrypted []byte, dataKeyID string) error {
	f.rows[id].EncryptedAPIKey = encrypted
	f.rows[id].DataKeyID = dataKeyID
	return nil
}
func (f *fakeX509Clients) SetLatestSerial(_ context.Context, id string, serial int64) error {
	f.rows[id].LatestCertSerial = &serial
	return nil
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
	cp := *c
	return &cp, nil
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

type fakeGroups struct{ rows map[string]*model.Group }

func (f *fakeGroups) Create(_ context.Context, g *model.Group) error { f.rows[g.ID] = g; return nil }
func (f *fakeGroups) Get(_ context.Context, id string) (*model.Group, error) {
	g, ok := f.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return g, nil
}
func (f *fakeGroups) GetByName(_ context.Context, name string) (*model.Group, error) { return nil, store.ErrNotFound }
func (f *fakeGroups) Update(_ context.Context, g *model.Group) error                  { f.rows[g.ID] = g; return nil }
func (f *fakeGroups) Delete(_ context.Context, id string) error                      { delete(f.rows, id); return nil }
func (f *fakeGroups) List(_ context.Context) ([]*model.Group, error)                 { return nil, nil }

func setupX509(t *testing.T, enabled, groupEnabled bool, notAfter *time.Time) (*Validator, string, string) {
	t.Helper()
	ks, _ := newTestKeyStore(t)
	ciphertext, dataKeyID, err := ks.Seal(context.Background(), []byte("the-real-key"))
	require.NoError(t, err)

	x509Clients := &fakeX509Clients{rows: map[string]*model.ClientX509{
		"client-1": {ID: "client-1", GroupID: "group-1", Enabled: enabled, EncryptedAPIKey: ciphertext, DataKeyID: dataKeyID, NotAfter: notAfter},
	}}
	groups := &fakeGroups{rows: map[string]*model.Group{
		"group-1": {ID: "group-1", Name: "group-1", Enabled: groupEnabled},
	}}
	v := New(x509Clients, &fakeSshClients{rows: map[string]*model.ClientSsh{}}, groups, ks)
	return v, "client-1", "the-real-key"
}

func TestAuthenticateX509_Success(t *testing.T) {
	v, id, key := setupX509(t, true, true, nil)
	client, err := v.AuthenticateX509(context.Background(), id, key)
	require.NoError(t, err)
	assert.Equal(t, id, client.ID)
}

func TestAuthenticateX509_WrongKeyRejected(t *testing.T) {
	v, id, _ := setupX509(t, true, true, nil)
	_, err := v.AuthenticateX509(context.Background(), id, "wrong-key")
	assert.Error(t, err)
}

func TestAuthenticateX509_DisabledClientRejected(t *testing.T) {
	v, id, key := setupX509(t, false, true, nil)
	_, err := v.AuthenticateX509(context.Background(), id, key)
	assert.Error(t, err)
}

func TestAuthenticateX509_DisabledGroupRejected(t *testing.T) {
	v, id, key := setupX509(t, true, false, nil)
	_, err := v.AuthenticateX509(context.Background(), id, key)
	assert.Error(t, err)
}

func TestAuthenticateX509_ExpiredRejected(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	v, id, key := setupX509(t, true, true, &past)
	_, err := v.AuthenticateX509(context.Background(), id, key)
	assert.Error(t, err)
}

func TestAuthenticateX509_UnknownClientRejected(t *testing.T) {
	v, _, key := setupX509(t, true, true, nil)
	_, err := v.AuthenticateX509(context.Background(), "does-not-exist", key)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	_, err := BearerToken("")
	assert.Error(t, err)
	_, err = BearerToken("Basic abc")
	assert.Error(t, err)
	tok, err := BearerToken("Bearer abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", tok)
}

func TestRotateX509Key_ProducesNewVerifiableKey(t *testing.T) {
	v, id, _ := setupX509(t, true, true, nil)
	newKey, err := v.RotateX509Key(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, newKey, apiKeyLen)

	client, err := v.AuthenticateX509(context.Background(), id, newKey)
	require.NoError(t, err)
	assert.Equal(t, id, client.ID)
}
