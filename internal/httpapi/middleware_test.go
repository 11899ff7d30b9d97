package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nioca/ca/config"
	"github.com/nioca/ca/internal/authsession"
	"github.com/nioca/ca/internal/logger"
	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/store"
)

type fakeSessionStore struct {
	rows map[string]*model.Session
}

func newFakeSessionStore() *fakeSessionStore { return &fakeSessionStore{rows: map[string]*model.Session{}} }

func (f *fakeSessionStore) Create(_ context.Context, s *model.Session) error {
	cp := *s
	f.rows[s.ID] = &cp
	return nil
}

func (f *fakeSessionStore) Get(_ context.Context, id string) (*model.Session, error) {
	s, ok := f.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessionStore) Update(_ context.Context, s *model.Session) error {
	if _, ok := f.rows[s.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *s
	f.rows[s.ID] = &cp
	return nil
}

func (f *fakeSessionStore) Delete(_ context.Context, id string) error {
	delete(f.rows, id)
	return nil
}

func (f *fakeSessionStore) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for id, s := range f.rows {
		if s.Expires.Before(cutoff) {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

func newTestServer(sessions *fakeSessionStore) *UnsealedServer {
	cfg := &config.SessionConfig{Timeout: time.Hour, TimeoutUnauthenticated: time.Minute}
	mgr := authsession.New(sessions, cfg, []byte("pepper"), logger.NewDefaultLogger())
	return &UnsealedServer{sessions: mgr, log: logger.NewDefaultLogger()}
}

func TestRequireSessionRejectsMissingCookie(t *testing.T) {
	s := newTestServer(newFakeSessionStore())
	handler := s.requireSession(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without a session cookie")
	}, true)

	req := httptest.NewRequest(http.MethodGet, "/api/login/check", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireSessionPassesAuthenticatedSession(t *testing.T) {
	sessions := newFakeSessionStore()
	s := newTestServer(sessions)
	sess := &model.Session{
		ID: "sess-1", Authenticated: true, Expires: time.Now().Add(time.Hour),
		Xsrf: authsession.HashXsrf("xsrf-token"),
	}
	require.NoError(t, sessions.Create(context.Background(), sess))

	var gotSession *model.Session
	handler := s.requireSession(func(w http.ResponseWriter, r *http.Request) {
		gotSession = sessionFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}, true)

	req := httptest.NewRequest(http.MethodGet, "/api/login/check", nil)
	req.AddCookie(&http.Cookie{Name: authsession.CookieSession, Value: "sess-1"})
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotSession)
	assert.Equal(t, "sess-1", gotSession.ID)
}

func TestRequireAdminRejectsNonAdminSession(t *testing.T) {
	sessions := newFakeSessionStore()
	s := newTestServer(sessions)
	sess := &model.Session{
		ID: "sess-2", Authenticated: true, Expires: time.Now().Add(time.Hour),
		Xsrf: authsession.HashXsrf("xsrf-token"), Local: false, IsAdmin: false,
	}
	require.NoError(t, sessions.Create(context.Background(), sess))

	handler := s.requireAdmin(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run for a non-admin session")
	}, true)

	req := httptest.NewRequest(http.MethodGet, "/api/groups", nil)
	req.AddCookie(&http.Cookie{Name: authsession.CookieSession, Value: "sess-2"})
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
