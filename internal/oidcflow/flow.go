// Package oidcflow implements the federated (PKCE authorization-code)
// login path: building the authorization URL, validating the callback's
// id and access tokens against the provider's JWKS and userinfo endpoint,
// evaluating the admin/user claim, and creating an authenticated session.
package oidcflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/nioca/ca/config"
	"github.com/nioca/ca/internal/apierror"
	"github.com/nioca/ca/internal/authsession"
	"github.com/nioca/ca/internal/cryptoutil"
	"github.com/nioca/ca/internal/keystore"
	"github.com/nioca/ca/internal/logger"
	"github.com/nioca/ca/internal/metrics"
	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/store"
)

const jwksTTL = 10 * time.Minute

// Flow drives the federated login state machine against a single,
// singleton OidcConfig row.
type Flow struct {
	cfgStore store.OidcConfigStore
	users    store.UserStore
	sessions store.SessionStore
	ks       *keystore.KeyStore
	client   *config.OidcClientConfig
	session  *config.SessionConfig

	jwks       *jwksCache
	tokenCache *TokenCache
	http       *http.Client
	log        logger.Logger
}

func New(cfgStore store.OidcConfigStore, users store.UserStore, sessions store.SessionStore,
	ks *keystore.KeyStore, client *config.OidcClientConfig, session *config.SessionConfig, log logger.Logger) *Flow {
	return &Flow{
		cfgStore: cfgStore, users: users, sessions: sessions, ks: ks,
		client: client, session: session,
		jwks:       newJWKSCache(jwksTTL),
		tokenCache: NewTokenCache(),
		http:       &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

// Close stops the token-validation cache's owning goroutine.
func (f *Flow) Close() { f.tokenCache.Exit() }

func oauth2Endpoint(issuer string) oauth2.Endpoint {
	issuer = strings.TrimRight(issuer, "/")
	return oauth2.Endpoint{
		AuthURL:  issuer + "/authorize",
		TokenURL: issuer + "/oauth/token",
	}
}

func (f *Flow) oauth2Config(ctx context.Context, cfg *model.OidcConfig) (*oauth2.Config, error) {
	res, err := f.ks.Open(ctx, cfg.ClientSecretEnc, cfg.DataKeyID)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindInternal, "decrypt oidc client secret failed", err)
	}
	scopes := strings.Fields(cfg.Scope)
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: string(res.Plaintext),
		RedirectURL:  f.client.RedirectURI,
		Scopes:       scopes,
		Endpoint:     oauth2Endpoint(cfg.Issuer),
	}, nil
}

// BeginAuth returns the identity provider's authorization URL and the
// encrypted state cookie value the caller must set alongside it.
func (f *Flow) BeginAuth(ctx context.Context) (authURL, stateCookie string, err error) {
	cfg, err := f.cfgStore.Get(ctx)
	if err != nil {
		return "", "", apierror.Wrap(apierror.KindDatabase, "oidc config lookup failed", err)
	}
	oauth2Cfg, err := f.oauth2Config(ctx, cfg)
	if err != nil {
		return "", "", err
	}

	nonce, err := cryptoutil.RandomString(32)
	if err != nil {
		return "", "", apierror.Internal(fmt.Errorf("generate nonce: %w", err))
	}
	state, err := cryptoutil.RandomString(32)
	if err != nil {
		return "", "", apierror.Internal(fmt.Errorf("generate state: %w", err))
	}
	verifier := oauth2.GenerateVerifier()

	opts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("nonce", nonce),
	}
	if cfg.Audience != "" {
		opts = append(opts, oauth2.SetAuthURLParam("audience", cfg.Audience))
	}
	authURL = oauth2Cfg.AuthCodeURL(state, opts...)

	cookie, err := encodeState(ctx, f.ks, authState{Nonce: nonce, Verifier: verifier, State: state, Timestamp: time.Now().UTC()})
	if err != nil {
		return "", "", err
	}
	return authURL, cookie, nil
}

// Callback validates the authorization response and exchanges the code,
// validates both returned tokens, derives the admin/user flags, upserts
// the user, and creates an authenticated session.
func (f *Flow) Callback(ctx context.Context, queryState, code, stateCookie string) (*authsession.Created, error) {
	st, err := decodeState(ctx, f.ks, stateCookie)
	if err != nil {
		return nil, err
	}
	if st.State != queryState {
		return nil, apierror.Unauthorized("oidc state mismatch")
	}

	cfg, err := f.cfgStore.Get(ctx)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "oidc config lookup failed", err)
	}
	oauth2Cfg, err := f.oauth2Config(ctx, cfg)
	if err != nil {
		return nil, err
	}

	token, err := oauth2Cfg.Exchange(ctx, code, oauth2.VerifierOption(st.Verifier))
	if err != nil {
		return nil, apierror.Wrap(apierror.KindUnauthorized, "code exchange failed", err)
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return nil, apierror.Unauthorized("token response missing id_token")
	}
	idClaims, err := f.validateIDToken(ctx, cfg, rawIDToken, st.Nonce)
	if err != nil {
		return nil, err
	}

	if _, err := f.validateAccessToken(ctx, cfg, token.AccessToken); err != nil {
		return nil, err
	}

	isAdmin, isUser, roles := evaluateClaimPath(idClaims, f.client.ClaimPath, cfg.AdminClaim, cfg.UserClaim)

	sub, _ := idClaims["sub"].(string)
	if sub == "" {
		return nil, apierror.Unauthorized("id token missing sub")
	}
	email, _ := idClaims["email"].(string)

	user, err := f.users.GetByOidcID(ctx, sub)
	if err != nil && err != store.ErrNotFound {
		return nil, apierror.Wrap(apierror.KindDatabase, "user lookup failed", err)
	}
	if user == nil {
		user = &model.User{ID: uuid.NewString(), OidcID: sub}
	}
	user.Email = email
	if gn, ok := idClaims["given_name"].(string); ok {
		user.GivenName = &gn
	}
	if fn, ok := idClaims["family_name"].(string); ok {
		user.FamilyName = &fn
	}
	if err := f.users.Upsert(ctx, user); err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "user upsert failed", err)
	}

	xsrfToken, err := cryptoutil.RandomString(48)
	if err != nil {
		return nil, apierror.Internal(fmt.Errorf("generate xsrf token: %w", err))
	}
	now := time.Now().UTC()
	sess := &model.Session{
		ID:            uuid.NewString(),
		Local:         false,
		Created:       now,
		Expires:       now.Add(f.session.Timeout),
		Xsrf:          authsession.HashXsrf(xsrfToken),
		Authenticated: true,
		UserID:        &user.ID,
		Email:         &user.Email,
		IsAdmin:       isAdmin,
		IsUser:        isUser,
	}
	if f.client.ClaimPath == "groups" {
		sess.Groups = roles
	} else {
		sess.Roles = roles
	}
	if err := f.sessions.Create(ctx, sess); err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "create session failed", err)
	}
	metrics.SessionsCreated.WithLabelValues("oidc", "success").Inc()
	metrics.SessionsActive.Inc()

	return &authsession.Created{Session: sess, Xsrf: xsrfToken}, nil
}

func (f *Flow) validateIDToken(ctx context.Context, cfg *model.OidcConfig, raw, expectedNonce string) (jwt.MapClaims, error) {
	parser := jwt.NewParser()
	unverified, _, err := parser.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, apierror.Unauthorized("malformed id token")
	}
	if typ, _ := unverified.Header["typ"].(string); typ != "" && !strings.EqualFold(typ, "JWT") {
		return nil, apierror.Unauthorized("unexpected id token typ")
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, apierror.Unauthorized("id token missing kid")
	}

	pub, err := f.jwks.lookup(ctx, cfg.Issuer, kid)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindUnauthorized, "jwks lookup failed", err)
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		switch t.Method.Alg() {
		case "RS256", "PS256", "ES256", "ES384":
			return pub, nil
		default:
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
	})
	if err != nil || !token.Valid {
		return nil, apierror.Unauthorized("id token signature invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apierror.Unauthorized("id token claims malformed")
	}

	if iss, _ := claims["iss"].(string); strings.TrimRight(iss, "/") != strings.TrimRight(cfg.Issuer, "/") {
		return nil, apierror.Unauthorized("id token issuer mismatch")
	}
	if !audienceContains(claims["aud"], cfg.ClientID) {
		return nil, apierror.Unauthorized("id token audience mismatch")
	}
	if cfg.EmailVerified {
		if v, _ := claims["email_verified"].(bool); !v {
			return nil, apierror.Unauthorized("id token email not verified")
		}
	}
	if nonce, _ := claims["nonce"].(string); nonce != expectedNonce {
		return nil, apierror.Unauthorized("id token nonce mismatch")
	}
	return claims, nil
}

// validateAccessToken checks the cache, and on a miss validates structurally
// (if the token is JWT-shaped) and confirms it against the provider's
// userinfo endpoint, caching the combined outcome for accessTokenCacheTTL.
func (f *Flow) validateAccessToken(ctx context.Context, cfg *model.OidcConfig, accessToken string) (map[string]interface{}, error) {
	sig := sigSegment(accessToken)
	if claims, err, ok := f.tokenCache.Get(sig); ok {
		return claims, err
	}

	if err := f.checkAccessTokenShape(cfg, accessToken); err != nil {
		f.tokenCache.Set(sig, nil, err)
		return nil, err
	}

	claims, err := f.callUserinfo(ctx, cfg, accessToken)
	f.tokenCache.Set(sig, claims, err)
	return claims, err
}

func (f *Flow) checkAccessTokenShape(cfg *model.OidcConfig, accessToken string) error {
	if strings.Count(accessToken, ".") != 2 {
		return nil // opaque access token: structural check not applicable
	}
	parser := jwt.NewParser()
	unverified, _, err := parser.ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		return apierror.Unauthorized("malformed access token")
	}
	if typ, _ := unverified.Header["typ"].(string); typ != "" && !strings.EqualFold(typ, "JWT") && !strings.EqualFold(typ, "at+jwt") {
		return apierror.Unauthorized("unexpected access token typ")
	}
	claims, _ := unverified.Claims.(jwt.MapClaims)
	if iss, _ := claims["iss"].(string); iss != "" && strings.TrimRight(iss, "/") != strings.TrimRight(cfg.Issuer, "/") {
		return apierror.Unauthorized("access token issuer mismatch")
	}
	if cfg.Audience != "" && !audienceContains(claims["aud"], cfg.Audience) {
		return apierror.Unauthorized("access token audience mismatch")
	}
	return nil
}

func (f *Flow) callUserinfo(ctx context.Context, cfg *model.OidcConfig, accessToken string) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(cfg.Issuer, "/")+"/userinfo", nil)
	if err != nil {
		return nil, apierror.Internal(fmt.Errorf("build userinfo request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindConnection, "userinfo request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apierror.Unauthorized(fmt.Sprintf("userinfo endpoint returned status %d", resp.StatusCode))
	}

	var claims map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, apierror.Internal(fmt.Errorf("decode userinfo response: %w", err))
	}
	return claims, nil
}

func audienceContains(aud interface{}, want string) bool {
	switch v := aud.(type) {
	case string:
		return v == want
	case []interface{}:
		for _, a := range v {
			if s, ok := a.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

// evaluateClaimPath reads the roles/groups array claim named by claimPath
// and reports whether adminValue/userValue appear in it.
func evaluateClaimPath(claims jwt.MapClaims, claimPath, adminValue, userValue string) (isAdmin, isUser bool, values []string) {
	raw, ok := claims[claimPath]
	if !ok {
		return false, false, nil
	}
	switch v := raw.(type) {
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				values = append(values, s)
			}
		}
	case string:
		values = strings.Fields(v)
	}
	for _, v := range values {
		if v == adminValue {
			isAdmin = true
		}
		if v == userValue {
			isUser = true
		}
	}
	return isAdmin, isUser, values
}
