package httpapi

import (
	"net/http"
	"time"

	"github.com/nioca/ca/internal/apierror"
	"github.com/nioca/ca/internal/authsession"
	"github.com/nioca/ca/internal/model"
)

// handleCreateSession starts an unauthenticated session: the first step of
// local login, giving the client a cookie plus the one-time XSRF token it
// must echo on POST /api/login.
func (s *UnsealedServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	created, err := s.sessions.Create(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	setSessionCookie(w, s.devMode, created.Session.ID, 0)
	setXsrfCookie(w, s.devMode, created.Xsrf)
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": created.Session.ID})
}

type loginRequest struct {
	Password string `json:"password"`
}

func (s *UnsealedServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(authsession.CookieSession)
	if err != nil {
		writeError(w, s.log, apierror.Unauthorized("missing session cookie"))
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}

	sess, err := s.sessions.Login(r.Context(), cookie.Value, r.Header.Get(authsession.HeaderXsrf), req.Password, s.st.MasterKey())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	setSessionCookie(w, s.devMode, sess.ID, time.Until(sess.Expires))
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": true})
}

func (s *UnsealedServer) handleLoginCheck(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": sess.Authenticated,
		"isAdmin":       sess.Local || sess.IsAdmin,
	})
}

func (s *UnsealedServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if err := s.sessions.Logout(r.Context(), sess.ID); err != nil {
		writeError(w, s.log, err)
		return
	}
	clearSessionCookies(w, s.devMode)
	writeJSON(w, http.StatusOK, nil)
}

type passwordChangeRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// handlePasswordChange verifies the current local admin password and
// replaces it, routing both Argon2 calls through the dedicated worker so
// the request-handling goroutine never blocks other requests on
// memory-hard hashing.
func (s *UnsealedServer) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	var req passwordChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if len(req.NewPassword) < 16 || len(req.NewPassword) > 128 {
		writeError(w, s.log, apierror.BadRequest("password must be between 16 and 128 characters"))
		return
	}

	stored, err := s.st.MasterKey().Get(r.Context(), model.TagLocalPassword)
	if err != nil {
		writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "local password lookup failed", err))
		return
	}
	if !s.passwords.Verify(r.Context(), []byte(req.OldPassword), s.pepper, stored) {
		writeError(w, s.log, apierror.Unauthorized("invalid password"))
		return
	}

	newHash, err := s.passwords.Hash(r.Context(), []byte(req.NewPassword), s.pepper)
	if err != nil {
		writeError(w, s.log, apierror.Internal(err))
		return
	}
	if err := s.st.MasterKey().Set(r.Context(), model.TagLocalPassword, newHash); err != nil {
		writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "persist local password failed", err))
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
