// Package authsession implements the local session lifecycle: creation with
// a random XSRF token, local-password login against the unsealed master-key
// pepper, and the extract-validate-extend pipeline protected routes run on
// every request.
package authsession

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nioca/ca/config"
	"github.com/nioca/ca/internal/apierror"
	"github.com/nioca/ca/internal/cryptoutil"
	"github.com/nioca/ca/internal/logger"
	"github.com/nioca/ca/internal/metrics"
	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/store"
)

// CookieSession and CookieXsrf are the cookie names carrying the session ID
// and, once, the raw XSRF token.
const (
	CookieSession = "nioca_session"
	CookieXsrf    = "nioca_session_xsrf"

	// HeaderXsrf is the header non-GET requests must echo the XSRF token on.
	HeaderXsrf = "X-NIOCA-XSRF"

	xsrfTokenLen = 48
)

// Manager creates and validates sessions. Pepper is the concatenated
// master-key shards, supplied once at unseal and held only in memory.
type Manager struct {
	sessions store.SessionStore
	cfg      *config.SessionConfig
	pepper   []byte
	log      logger.Logger
}

func New(sessions store.SessionStore, cfg *config.SessionConfig, pepper []byte, log logger.Logger) *Manager {
	return &Manager{sessions: sessions, cfg: cfg, pepper: pepper, log: log}
}

// Created carries the one-time plaintext XSRF token alongside the row that
// was persisted; the token is never recoverable once this call returns.
type Created struct {
	Session *model.Session
	Xsrf    string
}

// Create starts a new, unauthenticated session with the short
// unauthenticated timeout. Called by POST /sessions.
func (m *Manager) Create(ctx context.Context) (*Created, error) {
	token, err := cryptoutil.RandomString(xsrfTokenLen)
	if err != nil {
		metrics.SessionsCreated.WithLabelValues("local", "failure").Inc()
		return nil, apierror.Internal(fmt.Errorf("generate xsrf token: %w", err))
	}

	now := time.Now().UTC()
	sess := &model.Session{
		ID:      uuid.NewString(),
		Local:   true,
		Created: now,
		Expires: now.Add(m.cfg.TimeoutUnauthenticated),
		Xsrf:    hashXsrf(token),
	}
	if err := m.sessions.Create(ctx, sess); err != nil {
		metrics.SessionsCreated.WithLabelValues("local", "failure").Inc()
		return nil, apierror.Wrap(apierror.KindDatabase, "create session failed", err)
	}

	metrics.SessionsCreated.WithLabelValues("local", "success").Inc()
	metrics.SessionsActive.Inc()
	return &Created{Session: sess, Xsrf: token}, nil
}

// Login verifies the session's XSRF token and the local admin password
// (hashed against the row persisted at init under TagLocalPassword), then
// marks the session authenticated and extends its expiry to the standard
// (post-login) timeout. Called by POST /login.
func (m *Manager) Login(ctx context.Context, sessionID, xsrfToken, password string, masterKeys store.MasterKeyStore) (*model.Session, error) {
	start := time.Now()
	defer func() {
		metrics.SessionDuration.WithLabelValues("login").Observe(time.Since(start).Seconds())
	}()

	sess, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apierror.Unauthorized("session not found")
		}
		return nil, apierror.Wrap(apierror.KindDatabase, "session lookup failed", err)
	}
	if sess.Expires.Before(time.Now()) {
		return nil, apierror.Unauthorized("session expired")
	}
	if !validXsrf(sess.Xsrf, xsrfToken) {
		return nil, apierror.Unauthorized("invalid xsrf token")
	}

	stored, err := masterKeys.Get(ctx, model.TagLocalPassword)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "local password lookup failed", err)
	}
	if !cryptoutil.VerifyPassword([]byte(password), m.pepper, stored) {
		return nil, apierror.Unauthorized("invalid password")
	}

	sess.Authenticated = true
	sess.Expires = time.Now().UTC().Add(m.cfg.Timeout)
	if err := m.sessions.Update(ctx, sess); err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "update session failed", err)
	}
	return sess, nil
}

// Authenticate loads the session named by cookie, rejects it if expired or
// unauthenticated, enforces the XSRF header on non-GET methods, and extends
// its expiry. Returns the validated session.
func (m *Manager) Authenticate(ctx context.Context, sessionID, xsrfHeader string, isGet bool) (*model.Session, error) {
	start := time.Now()
	defer func() {
		metrics.SessionDuration.WithLabelValues("validate").Observe(time.Since(start).Seconds())
	}()

	sess, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apierror.Unauthorized("session not found")
		}
		return nil, apierror.Wrap(apierror.KindDatabase, "session lookup failed", err)
	}
	if time.Now().After(sess.Expires) {
		return nil, apierror.Unauthorized("session expired")
	}
	if !sess.Authenticated {
		return nil, apierror.Unauthorized("session not authenticated")
	}
	if !isGet && !validXsrf(sess.Xsrf, xsrfHeader) {
		return nil, apierror.Unauthorized("invalid xsrf token")
	}

	timeout := m.cfg.Timeout
	sess.Expires = time.Now().UTC().Add(timeout)
	if err := m.sessions.Update(ctx, sess); err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "extend session failed", err)
	}
	return sess, nil
}

// Logout deletes a session outright.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	if err := m.sessions.Delete(ctx, sessionID); err != nil {
		return apierror.Wrap(apierror.KindDatabase, "delete session failed", err)
	}
	metrics.SessionsActive.Dec()
	return nil
}

// HashXsrf returns the digest stored in Session.Xsrf for a raw token.
// Exported so internal/oidcflow can stamp the same digest shape onto
// federated-login sessions it creates directly.
func HashXsrf(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}

func hashXsrf(token string) []byte { return HashXsrf(token) }

func validXsrf(stored []byte, presented string) bool {
	if presented == "" {
		return false
	}
	got := hashXsrf(presented)
	valid := subtle.ConstantTimeCompare(got, stored) == 1
	if valid {
		metrics.XSRFRotations.Inc()
	}
	return valid
}
