package httpapi

import (
	"net/http"
	"time"

	"github.com/nioca/ca/internal/authsession"
)

// cookieStateOidc carries the AEAD-encrypted PKCE state between BeginAuth
// and Callback.
const cookieStateOidc = "OIDC_STATE"

func cookieSecure(devMode bool) bool { return !devMode }

// setSessionCookie stamps the long-lived (or short, pre-login) session
// cookie. Path is restricted to /api, matching the teacher's cookie
// scoping for every other session-bearing cookie in this server.
func setSessionCookie(w http.ResponseWriter, devMode bool, id string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     authsession.CookieSession,
		Value:    id,
		Path:     "/api",
		HttpOnly: true,
		Secure:   cookieSecure(devMode),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
	})
}

// setXsrfCookie delivers the one-time plaintext XSRF token transiently
// around session creation and login; it is never read back by the server,
// only echoed by the client in the X-NIOCA-XSRF header.
func setXsrfCookie(w http.ResponseWriter, devMode bool, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     authsession.CookieXsrf,
		Value:    token,
		Path:     "/api",
		HttpOnly: false,
		Secure:   cookieSecure(devMode),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   60,
	})
}

func clearSessionCookies(w http.ResponseWriter, devMode bool) {
	for _, name := range []string{authsession.CookieSession, authsession.CookieXsrf} {
		http.SetCookie(w, &http.Cookie{
			Name: name, Value: "", Path: "/api", HttpOnly: true,
			Secure: cookieSecure(devMode), SameSite: http.SameSiteLaxMode, MaxAge: -1,
		})
	}
}

func setOidcStateCookie(w http.ResponseWriter, devMode bool, value string) {
	http.SetCookie(w, &http.Cookie{
		Name: cookieStateOidc, Value: value, Path: "/api/oidc", HttpOnly: true,
		Secure: cookieSecure(devMode), SameSite: http.SameSiteLaxMode, MaxAge: 600,
	})
}

func clearOidcStateCookie(w http.ResponseWriter, devMode bool) {
	http.SetCookie(w, &http.Cookie{
		Name: cookieStateOidc, Value: "", Path: "/api/oidc", HttpOnly: true,
		Secure: cookieSecure(devMode), SameSite: http.SameSiteLaxMode, MaxAge: -1,
	})
}
