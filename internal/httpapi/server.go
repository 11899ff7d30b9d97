package httpapi

import (
	"context"
	"net/http"

	"github.com/nioca/ca/internal/apierror"
	"github.com/nioca/ca/internal/authsession"
	"github.com/nioca/ca/internal/camaterial"
	"github.com/nioca/ca/internal/clientauth"
	"github.com/nioca/ca/internal/issuer/sshissuer"
	"github.com/nioca/ca/internal/issuer/x509issuer"
	"github.com/nioca/ca/internal/keystore"
	"github.com/nioca/ca/internal/logger"
	"github.com/nioca/ca/internal/maintenance"
	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/oidcflow"
	"github.com/nioca/ca/internal/store"
)

// UnsealedServer exposes every endpoint that requires a reconstructed
// master key: CA/client/group administration, local and federated login,
// and client-credentialed issuance.
type UnsealedServer struct {
	st         store.Store
	ks         *keystore.KeyStore
	ca         *camaterial.Manager
	x509Engine *x509issuer.Engine
	sshEngine  *sshissuer.Engine
	sessions   *authsession.Manager
	oidc       *oidcflow.Flow
	clientAuth *clientauth.Validator
	passwords  *maintenance.PasswordWorker
	pepper     []byte
	devMode    bool
	pubURL     string
	log        logger.Logger
}

// Deps bundles the already-constructed collaborators the unsealed server
// wires request handling onto; every field is built once at unseal time
// in cmd/ca-server and handed to NewUnsealedServer unchanged.
type Deps struct {
	Store      store.Store
	KeyStore   *keystore.KeyStore
	CA         *camaterial.Manager
	X509Engine *x509issuer.Engine
	SSHEngine  *sshissuer.Engine
	Sessions   *authsession.Manager
	OIDC       *oidcflow.Flow
	ClientAuth *clientauth.Validator
	Passwords  *maintenance.PasswordWorker
	Pepper     []byte
	DevMode    bool
	PubURL     string
	Log        logger.Logger
}

func NewUnsealedServer(d Deps) *UnsealedServer {
	return &UnsealedServer{
		st: d.Store, ks: d.KeyStore, ca: d.CA,
		x509Engine: d.X509Engine, sshEngine: d.SSHEngine,
		sessions: d.Sessions, oidc: d.OIDC, clientAuth: d.ClientAuth,
		passwords: d.Passwords, pepper: d.Pepper, devMode: d.DevMode,
		pubURL: d.PubURL, log: d.Log,
	}
}

// Handler builds the unsealed-phase mux: common read-only endpoints,
// session-gated admin CRUD, and bearer-gated client issuance.
func (s *UnsealedServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /root.pem", s.handleRootPEM)
	mux.HandleFunc("GET /root.fingerprint", s.handleRootFingerprint)

	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("GET /api/login/check", s.requireSession(s.handleLoginCheck, true))
	mux.HandleFunc("POST /api/logout", s.requireSession(s.handleLogout, false))
	mux.HandleFunc("POST /api/password_change", s.requireAdmin(s.handlePasswordChange, false))

	mux.HandleFunc("GET /api/oidc/exists", s.handleOidcExists)
	mux.HandleFunc("GET /api/oidc/auth", s.handleOidcAuth)
	mux.HandleFunc("GET /api/oidc/auth/redirect", s.handleOidcAuthRedirect)
	mux.HandleFunc("GET /api/oidc/callback", s.handleOidcCallback)
	mux.HandleFunc("GET /api/oidc/config", s.requireAdmin(s.handleOidcConfigGet, true))
	mux.HandleFunc("PUT /api/oidc/config", s.requireAdmin(s.handleOidcConfigSet, false))

	mux.HandleFunc("GET /api/ca/x509", s.requireAdmin(s.handleListX509CA, true))
	mux.HandleFunc("POST /api/ca/x509", s.requireAdmin(s.handleImportX509CA, false))
	mux.HandleFunc("DELETE /api/ca/x509/{id}", s.requireAdmin(s.handleDeleteX509CA, false))
	mux.HandleFunc("GET /api/ca/ssh", s.requireAdmin(s.handleListSSHCA, true))
	mux.HandleFunc("POST /api/ca/ssh", s.requireAdmin(s.handleCreateSSHCA, false))
	mux.HandleFunc("DELETE /api/ca/ssh/{id}", s.requireAdmin(s.handleDeleteSSHCA, false))

	mux.HandleFunc("GET /api/groups", s.requireAdmin(s.handleListGroups, true))
	mux.HandleFunc("POST /api/groups", s.requireAdmin(s.handleCreateGroup, false))
	mux.HandleFunc("PUT /api/groups/{id}", s.requireAdmin(s.handleUpdateGroup, false))
	mux.HandleFunc("DELETE /api/groups/{id}", s.requireAdmin(s.handleDeleteGroup, false))

	// Client routes accept any authenticated session, not just admins:
	// authorizeGroupAction (called from within each handler, see users.go)
	// lets an admin/local session through unconditionally and otherwise
	// requires the session's user to hold a users_group_access grant for
	// the client's group.
	mux.HandleFunc("GET /api/clients/x509", s.requireSession(s.handleListX509Clients, true))
	mux.HandleFunc("POST /api/clients/x509", s.requireSession(s.handleCreateX509Client, false))
	mux.HandleFunc("PUT /api/clients/x509/{id}", s.requireSession(s.handleUpdateX509Client, false))
	mux.HandleFunc("DELETE /api/clients/x509/{id}", s.requireSession(s.handleDeleteX509Client, false))
	mux.HandleFunc("POST /api/clients/x509/{id}/rotate", s.requireSession(s.handleRotateX509Client, false))

	mux.HandleFunc("GET /api/clients/ssh", s.requireSession(s.handleListSSHClients, true))
	mux.HandleFunc("POST /api/clients/ssh", s.requireSession(s.handleCreateSSHClient, false))
	mux.HandleFunc("PUT /api/clients/ssh/{id}", s.requireSession(s.handleUpdateSSHClient, false))
	mux.HandleFunc("DELETE /api/clients/ssh/{id}", s.requireSession(s.handleDeleteSSHClient, false))
	mux.HandleFunc("POST /api/clients/ssh/{id}/rotate", s.requireSession(s.handleRotateSSHClient, false))

	mux.HandleFunc("GET /api/users/{id}/access", s.requireAdmin(s.handleListGroupAccess, true))
	mux.HandleFunc("POST /api/users/{id}/access/{group_id}", s.requireAdmin(s.handleGrantGroupAccess, false))
	mux.HandleFunc("DELETE /api/users/{id}/access/{group_id}", s.requireAdmin(s.handleRevokeGroupAccess, false))

	// Client-credentialed issuance: authorization is a bearer API key, not
	// a session, so these routes are registered unwrapped.
	mux.HandleFunc("POST /api/clients/x509/{id}/cert", s.handleIssueX509Cert)
	mux.HandleFunc("POST /api/clients/x509/{id}/cert/p12", s.handleIssueX509CertP12)
	mux.HandleFunc("POST /api/clients/ssh/{id}/cert", s.handleIssueSSHCert)

	return mux
}

type sessionContextKey struct{}

func sessionFromContext(ctx context.Context) *model.Session {
	s, _ := ctx.Value(sessionContextKey{}).(*model.Session)
	return s
}

// requireSession extracts and extends the session cookie, rejecting the
// request with 401 on any failure, and enforces the XSRF header on every
// method other than GET (or when readOnly forces GET-only semantics).
func (s *UnsealedServer) requireSession(next http.HandlerFunc, readOnly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authsession.CookieSession)
		if err != nil {
			writeError(w, s.log, apierror.Unauthorized("missing session cookie"))
			return
		}
		isGet := readOnly || r.Method == http.MethodGet
		sess, err := s.sessions.Authenticate(r.Context(), cookie.Value, r.Header.Get(authsession.HeaderXsrf), isGet)
		if err != nil {
			writeError(w, s.log, err)
			return
		}
		ctx := context.WithValue(r.Context(), sessionContextKey{}, sess)
		next(w, r.WithContext(ctx))
	}
}

// requireAdmin wraps requireSession and additionally demands the session
// be the local admin or carry the OIDC admin claim.
func (s *UnsealedServer) requireAdmin(next http.HandlerFunc, readOnly bool) http.HandlerFunc {
	return s.requireSession(func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFromContext(r.Context())
		if sess == nil || !(sess.Local || sess.IsAdmin) {
			writeError(w, s.log, apierror.Forbidden("admin access required"))
			return
		}
		next(w, r)
	}, readOnly)
}
