package camaterial

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nioca/ca/internal/logger"
	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/store"
)

type fakeGroupStore struct {
	rows   map[string]*model.Group
	byName map[string]string
}

func newFakeGroupStore() *fakeGroupStore {
	return &fakeGroupStore{rows: map[string]*model.Group{}, byName: map[string]string{}}
}

func (f *fakeGroupStore) Create(_ context.Context, g *model.Group) error {
	f.rows[g.ID] = g
	f.byName[g.Name] = g.ID
	return nil
}
func (f *fakeGroupStore) Get(_ context.Context, id string) (*model.Group, error) {
	g, ok := f.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return g, nil
}
func (f *fakeGroupStore) GetByName(_ context.Context, name string) (*model.Group, error) {
	id, ok := f.byName[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return f.rows[id], nil
}
func (f *fakeGroupStore) Update(_ context.Context, g *model.Group) error {
	delete(f.byName, f.rows[g.ID].Name)
	f.rows[g.ID] = g
	f.byName[g.Name] = g.ID
	return nil
}
func (f *fakeGroupStore) Delete(_ context.Context, id string) error {
	delete(f.byName, f.rows[id].Name)
	delete(f.rows, id)
	return nil
}
func (f *fakeGroupStore) List(_ context.Context) ([]*model.Group, error) {
	var out []*model.Group
	for _, g := range f.rows {
		out = append(out, g)
	}
	return out, nil
}

type fakeClientStoreEmpty struct{ ids []string }

func (f *fakeClientStoreEmpty) ListByGroup(_ context.Context, _ string) ([]*model.ClientX509, error) {
	var out []*model.ClientX509
	for _, id := range f.ids {
		out = append(out, &model.ClientX509{ID: id})
	}
	return out, nil
}
func (f *fakeClientStoreEmpty) Create(context.Context, *model.ClientX509) error { return nil }
func (f *fakeClientStoreEmpty) Get(context.Context, string) (*model.ClientX509, error) {
	return nil, store.ErrNotFound
}
func (f *fakeClientStoreEmpty) Update(context.Context, *model.ClientX509) error { return nil }
func (f *fakeClientStoreEmpty) Delete(context.Context, string) error           { return nil }
func (f *fakeClientStoreEmpty) SetAPIKey(context.Context, string, []byte, string) error {
	return nil
}
func (f *fakeClientStoreEmpty) SetLatestSerial(context.Context, string, int64) error { return nil }

type fakeSshClientStoreEmpty struct{ ids []string }

func (f *fakeSshClientStoreEmpty) ListByGroup(_ context.Context, _ string) ([]*model.ClientSsh, error) {
	var out []*model.ClientSsh
	for _, id := range f.ids {
		out = append(out, &model.ClientSsh{ID: id})
	}
	return out, nil
}
func (f *fakeSshClientStoreEmpty) Create(context.Context, *model.ClientSsh) error { return nil }
func (f *fakeSshClientStoreEmpty) Get(context.Context, string) (*model.ClientSsh, error) {
	return nil, store.ErrNotFound
}
func (f *fakeSshClientStoreEmpty) Update(context.Context, *model.ClientSsh) error { return nil }
func (f *fakeSshClientStoreEmpty) Delete(context.Context, string) error          { return nil }
func (f *fakeSshClientStoreEmpty) SetAPIKey(context.Context, string, []byte, string) error {
	return nil
}
func (f *fakeSshClientStoreEmpty) SetLatestSerial(context.Context, string, int64) error { return nil }

func TestEnsureDefaultGroup_CreatesOnce(t *testing.T) {
	m := NewManager(logger.NewDefaultLogger())
	gs := newFakeGroupStore()

	id1, err := m.EnsureDefaultGroup(context.Background(), gs, "ca-1", model.X509MaterialCertificate)
	require.NoError(t, err)

	id2, err := m.EnsureDefaultGroup(context.Background(), gs, "ca-2", model.X509MaterialCertificate)
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "a second call must return the existing default group, not create another")
	assert.Equal(t, "ca-1", *gs.rows[id1].CaX509ID)
}

func TestRenameGroup_DefaultNameImmutable(t *testing.T) {
	m := NewManager(logger.NewDefaultLogger())
	gs := newFakeGroupStore()
	id, err := m.EnsureDefaultGroup(context.Background(), gs, "ca-1", model.X509MaterialCertificate)
	require.NoError(t, err)

	err = m.RenameGroup(context.Background(), gs, id, "renamed")
	assert.Error(t, err)
	assert.Equal(t, DefaultGroupName, gs.rows[id].Name)
}

func TestRenameGroup_NonDefaultAllowed(t *testing.T) {
	m := NewManager(logger.NewDefaultLogger())
	gs := newFakeGroupStore()
	require.NoError(t, gs.Create(context.Background(), &model.Group{ID: "g1", Name: "staging", Enabled: true}))

	err := m.RenameGroup(context.Background(), gs, "g1", "production")
	require.NoError(t, err)
	assert.Equal(t, "production", gs.rows["g1"].Name)
}

func TestDeleteGroup_BlockedByReferencingClients(t *testing.T) {
	m := NewManager(logger.NewDefaultLogger())
	gs := newFakeGroupStore()
	require.NoError(t, gs.Create(context.Background(), &model.Group{ID: "g1", Name: "staging", Enabled: true}))

	err := m.DeleteGroup(context.Background(), gs,
		&fakeClientStoreEmpty{ids: []string{"client-a"}}, &fakeSshClientStoreEmpty{}, "g1")
	require.Error(t, err)
	_, stillThere := gs.rows["g1"]
	assert.True(t, stillThere)
}

func TestDeleteGroup_DefaultNeverDeletable(t *testing.T) {
	m := NewManager(logger.NewDefaultLogger())
	gs := newFakeGroupStore()
	id, err := m.EnsureDefaultGroup(context.Background(), gs, "ca-1", model.X509MaterialCertificate)
	require.NoError(t, err)

	err = m.DeleteGroup(context.Background(), gs, &fakeClientStoreEmpty{}, &fakeSshClientStoreEmpty{}, id)
	assert.Error(t, err)
}

func TestDeleteGroup_AllowedWhenUnreferenced(t *testing.T) {
	m := NewManager(logger.NewDefaultLogger())
	gs := newFakeGroupStore()
	require.NoError(t, gs.Create(context.Background(), &model.Group{ID: "g1", Name: "staging", Enabled: true}))

	err := m.DeleteGroup(context.Background(), gs, &fakeClientStoreEmpty{}, &fakeSshClientStoreEmpty{}, "g1")
	require.NoError(t, err)
	_, stillThere := gs.rows["g1"]
	assert.False(t, stillThere)
}

func TestDeleteX509CA_BlockedWhenReferenced(t *testing.T) {
	m := NewManager(logger.NewDefaultLogger())
	gs := newFakeGroupStore()
	caID := "ca-1"
	require.NoError(t, gs.Create(context.Background(), &model.Group{ID: "g1", Name: "staging", Enabled: true, CaX509ID: &caID}))

	// no X509CAStore.Delete call expected since the reference check fails first
	err := m.DeleteX509CA(context.Background(), nil, gs, caID)
	assert.Error(t, err)
}
