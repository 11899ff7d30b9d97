package authsession

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nioca/ca/config"
	"github.com/nioca/ca/internal/cryptoutil"
	"github.com/nioca/ca/internal/logger"
	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/store"
)

type fakeSessions struct {
	rows map[string]*model.Session
}

func newFakeSessions() *fakeSessions { return &fakeSessions{rows: map[string]*model.Session{}} }

func (f *fakeSessions) Create(_ context.Context, s *model.Session) error {
	cp := *s
	f.rows[s.ID] = &cp
	return nil
}

func (f *fakeSessions) Get(_ context.Context, id string) (*model.Session, error) {
	s, ok := f.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) Update(_ context.Context, s *model.Session) error {
	if _, ok := f.rows[s.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *s
	f.rows[s.ID] = &cp
	return nil
}

func (f *fakeSessions) Delete(_ context.Context, id string) error {
	delete(f.rows, id)
	return nil
}

func (f *fakeSessions) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for id, s := range f.rows {
		if s.Expires.Before(cutoff) {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

type fakeMasterKeys struct{ rows map[model.MasterKeyTag][]byte }

func (f *fakeMasterKeys) Get(_ context.Context, tag model.MasterKeyTag) ([]byte, error) {
	v, ok := f.rows[tag]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v, nil
}
func (f *fakeMasterKeys) Set(_ context.Context, tag model.MasterKeyTag, value []byte) error {
	f.rows[tag] = value
	return nil
}
func (f *fakeMasterKeys) Exists(_ context.Context) (bool, error) { return len(f.rows) > 0, nil }

func testConfig() *config.SessionConfig {
	return &config.SessionConfig{Timeout: time.Hour, TimeoutUnauthenticated: time.Minute}
}

func TestCreate_IssuesXsrfAndHashesIt(t *testing.T) {
	sessions := newFakeSessions()
	m := New(sessions, testConfig(), []byte("pepper"), logger.NewDefaultLogger())

	created, err := m.Create(context.Background())
	require.NoError(t, err)
	assert.Len(t, created.Xsrf, xsrfTokenLen)
	assert.NotEmpty(t, created.Session.Xsrf)
	assert.NotEqual(t, []byte(created.Xsrf), created.Session.Xsrf)
	assert.False(t, created.Session.Authenticated)
}

func TestLogin_WrongXsrfRejected(t *testing.T) {
	sessions := newFakeSessions()
	m := New(sessions, testConfig(), []byte("pepper"), logger.NewDefaultLogger())

	created, err := m.Create(context.Background())
	require.NoError(t, err)

	mk := &fakeMasterKeys{rows: map[model.MasterKeyTag][]byte{}}
	_, err = m.Login(context.Background(), created.Session.ID, "not-the-token", "irrelevant", mk)
	assert.Error(t, err)
}

func TestLogin_CorrectPasswordAuthenticatesAndExtends(t *testing.T) {
	sessions := newFakeSessions()
	pepper := []byte("shard1shard2")
	m := New(sessions, testConfig(), pepper, logger.NewDefaultLogger())

	created, err := m.Create(context.Background())
	require.NoError(t, err)

	digest, err := cryptoutil.HashPassword([]byte("correct horse battery staple"), pepper)
	require.NoError(t, err)
	mk := &fakeMasterKeys{rows: map[model.MasterKeyTag][]byte{model.TagLocalPassword: digest}}

	sess, err := m.Login(context.Background(), created.Session.ID, created.Xsrf, "correct horse battery staple", mk)
	require.NoError(t, err)
	assert.True(t, sess.Authenticated)
	assert.True(t, sess.Expires.After(time.Now().Add(59*time.Minute)))
}

func TestLogin_WrongPasswordRejected(t *testing.T) {
	sessions := newFakeSessions()
	pepper := []byte("shard1shard2")
	m := New(sessions, testConfig(), pepper, logger.NewDefaultLogger())

	created, err := m.Create(context.Background())
	require.NoError(t, err)

	digest, err := cryptoutil.HashPassword([]byte("correct horse battery staple"), pepper)
	require.NoError(t, err)
	mk := &fakeMasterKeys{rows: map[model.MasterKeyTag][]byte{model.TagLocalPassword: digest}}

	_, err = m.Login(context.Background(), created.Session.ID, created.Xsrf, "wrong password", mk)
	assert.Error(t, err)
}

func TestAuthenticate_RejectsUnauthenticatedAndExpired(t *testing.T) {
	sessions := newFakeSessions()
	m := New(sessions, testConfig(), []byte("pepper"), logger.NewDefaultLogger())

	created, err := m.Create(context.Background())
	require.NoError(t, err)

	_, err = m.Authenticate(context.Background(), created.Session.ID, created.Xsrf, true)
	assert.Error(t, err)

	expired := *created.Session
	expired.Authenticated = true
	expired.Expires = time.Now().Add(-time.Minute)
	require.NoError(t, sessions.Update(context.Background(), &expired))

	_, err = m.Authenticate(context.Background(), created.Session.ID, created.Xsrf, true)
	assert.Error(t, err)
}

func TestAuthenticate_EnforcesXsrfOnNonGet(t *testing.T) {
	sessions := newFakeSessions()
	m := New(sessions, testConfig(), []byte("pepper"), logger.NewDefaultLogger())

	created, err := m.Create(context.Background())
	require.NoError(t, err)

	authed := *created.Session
	authed.Authenticated = true
	authed.Expires = time.Now().Add(time.Hour)
	require.NoError(t, sessions.Update(context.Background(), &authed))

	_, err = m.Authenticate(context.Background(), created.Session.ID, "", false)
	assert.Error(t, err)

	sess, err := m.Authenticate(context.Background(), created.Session.ID, created.Xsrf, false)
	require.NoError(t, err)
	assert.True(t, sess.Expires.After(time.Now().Add(59*time.Minute)))
}
