package httpapi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nioca/ca/internal/apierror"
	"github.com/nioca/ca/internal/logger"
	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/store"
)

type fakeGroupAccessStore struct{ rows []*model.GroupAccess }

func (f *fakeGroupAccessStore) Grant(_ context.Context, a *model.GroupAccess) error {
	f.rows = append(f.rows, a)
	return nil
}

func (f *fakeGroupAccessStore) Revoke(_ context.Context, userID, groupID string) error {
	out := f.rows[:0]
	for _, g := range f.rows {
		if g.UserID != userID || g.GroupID != groupID {
			out = append(out, g)
		}
	}
	f.rows = out
	return nil
}

func (f *fakeGroupAccessStore) ListForUser(_ context.Context, userID string) ([]*model.GroupAccess, error) {
	var out []*model.GroupAccess
	for _, g := range f.rows {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	return out, nil
}

// storeWithGroupAccess embeds a nil store.Store so only GroupAccess() is
// implemented; the authorization helpers under test never touch the rest.
type storeWithGroupAccess struct {
	store.Store
	ga *fakeGroupAccessStore
}

func (s *storeWithGroupAccess) GroupAccess() store.GroupAccessStore { return s.ga }

func serverWithGroupAccess(ga *fakeGroupAccessStore) *UnsealedServer {
	return &UnsealedServer{st: &storeWithGroupAccess{ga: ga}, log: logger.NewDefaultLogger()}
}

func TestAuthorizeGroupAction_LocalSessionBypasses(t *testing.T) {
	s := serverWithGroupAccess(&fakeGroupAccessStore{})
	sess := &model.Session{Local: true}
	assert.NoError(t, s.authorizeGroupAction(context.Background(), sess, "group-1"))
}

func TestAuthorizeGroupAction_AdminSessionBypasses(t *testing.T) {
	s := serverWithGroupAccess(&fakeGroupAccessStore{})
	sess := &model.Session{IsAdmin: true}
	assert.NoError(t, s.authorizeGroupAction(context.Background(), sess, "group-1"))
}

func TestAuthorizeGroupAction_NilSessionUnauthorized(t *testing.T) {
	s := serverWithGroupAccess(&fakeGroupAccessStore{})
	err := s.authorizeGroupAction(context.Background(), nil, "group-1")
	assert.True(t, apierror.Is(err, apierror.KindUnauthorized))
}

func TestAuthorizeGroupAction_GrantedUserAllowed(t *testing.T) {
	userID := "user-1"
	ga := &fakeGroupAccessStore{rows: []*model.GroupAccess{
		{UserID: userID, GroupID: "group-1", Access: "rw"},
	}}
	s := serverWithGroupAccess(ga)
	sess := &model.Session{UserID: &userID}

	assert.NoError(t, s.authorizeGroupAction(context.Background(), sess, "group-1"))
}

func TestAuthorizeGroupAction_UngrantedUserForbidden(t *testing.T) {
	userID := "user-1"
	ga := &fakeGroupAccessStore{rows: []*model.GroupAccess{
		{UserID: userID, GroupID: "group-other", Access: "rw"},
	}}
	s := serverWithGroupAccess(ga)
	sess := &model.Session{UserID: &userID}

	err := s.authorizeGroupAction(context.Background(), sess, "group-1")
	assert.True(t, apierror.Is(err, apierror.KindForbidden))
}

func TestAuthorizeGroupAction_UserWithoutIDForbidden(t *testing.T) {
	s := serverWithGroupAccess(&fakeGroupAccessStore{})
	sess := &model.Session{Authenticated: true}

	err := s.authorizeGroupAction(context.Background(), sess, "group-1")
	assert.True(t, apierror.Is(err, apierror.KindForbidden))
}

func TestListAccessibleGroups_ReturnsOnlyThatUsersGrants(t *testing.T) {
	userID := "user-1"
	ga := &fakeGroupAccessStore{rows: []*model.GroupAccess{
		{UserID: userID, GroupID: "g1"},
		{UserID: userID, GroupID: "g2"},
		{UserID: "other-user", GroupID: "g3"},
	}}
	s := serverWithGroupAccess(ga)

	ids, err := s.ListAccessibleGroups(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	_, hasG1 := ids["g1"]
	_, hasG2 := ids["g2"]
	_, hasG3 := ids["g3"]
	assert.True(t, hasG1)
	assert.True(t, hasG2)
	assert.False(t, hasG3)
}
