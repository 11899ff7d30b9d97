package httpapi

import (
	"net/http"
	"time"

	"github.com/nioca/ca/internal/apierror"
	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/store"
)

func (s *UnsealedServer) handleOidcExists(w http.ResponseWriter, r *http.Request) {
	exists, err := s.st.OidcConfig().Exists(r.Context())
	if err != nil {
		writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "oidc config lookup failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

// handleOidcAuth returns the authorization URL and state cookie for a
// single-page client driving the redirect itself.
func (s *UnsealedServer) handleOidcAuth(w http.ResponseWriter, r *http.Request) {
	authURL, stateCookie, err := s.oidc.BeginAuth(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	setOidcStateCookie(w, s.devMode, stateCookie)
	writeJSON(w, http.StatusOK, map[string]string{"authUrl": authURL})
}

// handleOidcAuthRedirect is the browser-navigable counterpart: it sets the
// same state cookie and issues a 302 straight to the identity provider.
func (s *UnsealedServer) handleOidcAuthRedirect(w http.ResponseWriter, r *http.Request) {
	authURL, stateCookie, err := s.oidc.BeginAuth(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	setOidcStateCookie(w, s.devMode, stateCookie)
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *UnsealedServer) handleOidcCallback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(cookieStateOidc)
	if err != nil {
		writeError(w, s.log, apierror.Unauthorized("missing oidc state cookie"))
		return
	}
	q := r.URL.Query()
	created, err := s.oidc.Callback(r.Context(), q.Get("state"), q.Get("code"), cookie.Value)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	clearOidcStateCookie(w, s.devMode)
	setSessionCookie(w, s.devMode, created.Session.ID, time.Until(created.Session.Expires))
	setXsrfCookie(w, s.devMode, created.Xsrf)

	if s.pubURL != "" {
		http.Redirect(w, r, s.pubURL, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": created.Session.ID})
}

type oidcConfigRequest struct {
	Issuer        string `json:"issuer"`
	ClientID      string `json:"clientId"`
	ClientSecret  string `json:"clientSecret"`
	Scope         string `json:"scope"`
	Audience      string `json:"audience"`
	EmailVerified bool   `json:"emailVerified"`
	AdminClaim    string `json:"adminClaim"`
	UserClaim     string `json:"userClaim"`
}

func (s *UnsealedServer) handleOidcConfigGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.st.OidcConfig().Get(r.Context())
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, s.log, apierror.NotFound("oidc is not configured"))
			return
		}
		writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "oidc config lookup failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"issuer":        cfg.Issuer,
		"clientId":      cfg.ClientID,
		"scope":         cfg.Scope,
		"audience":      cfg.Audience,
		"emailVerified": cfg.EmailVerified,
		"adminClaim":    cfg.AdminClaim,
		"userClaim":     cfg.UserClaim,
	})
}

func (s *UnsealedServer) handleOidcConfigSet(w http.ResponseWriter, r *http.Request) {
	var req oidcConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if req.Issuer == "" || req.ClientID == "" || req.ClientSecret == "" {
		writeError(w, s.log, apierror.BadRequest("issuer, clientId and clientSecret are required"))
		return
	}
	secretEnc, dataKeyID, err := s.ks.Seal(r.Context(), []byte(req.ClientSecret))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	cfg := &model.OidcConfig{
		Issuer: req.Issuer, ClientID: req.ClientID, ClientSecretEnc: secretEnc, DataKeyID: dataKeyID,
		Scope: req.Scope, Audience: req.Audience, EmailVerified: req.EmailVerified,
		AdminClaim: req.AdminClaim, UserClaim: req.UserClaim,
	}
	if err := s.st.OidcConfig().Set(r.Context(), cfg); err != nil {
		writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "persist oidc config failed", err))
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
