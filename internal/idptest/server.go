// Package idptest runs an in-process OpenID Connect issuer for tests. It speaks enough of
// discovery, authorization code + PKCE, refresh, revocation and end session for a relying
// party to be exercised end to end without a real identity provider.
package idptest

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	RouteDiscovery  = "/.well-known/openid-configuration"
	RouteJWKS       = "/.well-known/jwks.json"
	RouteAuthorize  = "/oauth2/authorize"
	RouteToken      = "/oauth2/token"
	RouteRevoke     = "/oauth2/revoke"
	RouteEndSession = "/oauth2/logout"
)

const contentTypeJSON = "application/json; charset=utf-8"

// User is the identity the issuer signs in.
type User struct {
	Subject  string
	Name     string
	Username string
	Email    string
}

type authCode struct {
	user          User
	clientID      string
	redirectURI   string
	nonce         string
	challenge     string
	challengeMode string
	scopes        []string
}

type refreshGrant struct {
	user     User
	clientID string
	scopes   []string
}

// Server is a fake identity provider bound to one client ID.
type Server struct {
	*httptest.Server
	ClientID string

	keys *signer

	mu             sync.Mutex
	secretHash     []byte // bcrypt; nil for a public client
	user           User
	codes          map[string]authCode
	refreshTokens  map[string]refreshGrant
	revoked        []string
	authorizeError string
	tokenError     string
	refreshError   string
	omitIDToken    bool
	accessTTL      time.Duration

	tokenRequests   int
	refreshRequests int
	endSessions     int
}

// RequireClientSecret turns the client into a confidential one. The token endpoint then
// rejects requests that do not present secret.
func (s *Server) RequireClientSecret(secret string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secretHash = hash
	return nil
}

func (s *Server) checkSecret(secret string) bool {
	s.mu.Lock()
	hash := s.secretHash
	s.mu.Unlock()
	if hash == nil {
		return true
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(secret)) == nil
}

// NewServer starts an issuer that signs in user. It is closed when the test ends.
func NewServer(t testing.TB, clientID string, user User) *Server {
	t.Helper()

	keys, err := newSigner("idptest-" + uuid.NewString()[:8])
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}

	s := &Server{
		ClientID:      clientID,
		keys:          keys,
		user:          user,
		codes:         make(map[string]authCode),
		refreshTokens: make(map[string]refreshGrant),
		accessTTL:     time.Hour,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(RouteDiscovery, s.handleDiscovery)
	mux.HandleFunc(RouteJWKS, s.handleJWKS)
	mux.HandleFunc(RouteAuthorize, s.handleAuthorize)
	mux.HandleFunc(RouteToken, s.handleToken)
	mux.HandleFunc(RouteRevoke, s.handleRevoke)
	mux.HandleFunc(RouteEndSession, s.handleEndSession)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Issuer is the issuer URL, also the discovery base.
func (s *Server) Issuer() string {
	return s.URL
}

// SetUser changes who the next authorization signs in.
func (s *Server) SetUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = u
}

// FailAuthorize makes the authorize endpoint redirect back with the given error code.
// An empty code restores normal behaviour.
func (s *Server) FailAuthorize(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorizeError = code
}

// FailCodeExchange makes authorization_code grants fail with the given error code.
func (s *Server) FailCodeExchange(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenError = code
}

// FailRefresh makes refresh_token grants fail with the given error code.
func (s *Server) FailRefresh(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshError = code
}

// OmitIDToken stops the token endpoint from returning an ID token.
func (s *Server) OmitIDToken(omit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitIDToken = omit
}

// SetAccessTokenTTL sets the lifetime of access tokens issued from now on.
func (s *Server) SetAccessTokenTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTTL = ttl
}

// IssueRefreshToken mints a refresh token for u outside of any flow, for seeding caches.
func (s *Server) IssueRefreshToken(u User, scopes ...string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt := uuid.NewString()
	s.refreshTokens[rt] = refreshGrant{user: u, clientID: s.ClientID, scopes: scopes}
	return rt
}

// TokenRequests counts authorization_code grants served.
func (s *Server) TokenRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenRequests
}

// RefreshRequests counts refresh_token grants attempted.
func (s *Server) RefreshRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshRequests
}

// Revoked lists the tokens revoked so far, in order.
func (s *Server) Revoked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.revoked)
}

// EndSessions counts hits on the end session endpoint.
func (s *Server) EndSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endSessions
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	baseURL := s.URL
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                baseURL,
		"authorization_endpoint":                baseURL + RouteAuthorize,
		"token_endpoint":                        baseURL + RouteToken,
		"jwks_uri":                              baseURL + RouteJWKS,
		"revocation_endpoint":                   baseURL + RouteRevoke,
		"end_session_endpoint":                  baseURL + RouteEndSession,
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{signingAlg},
		"scopes_supported":                      []string{"openid", "profile", "email", "offline_access"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post", "none"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported":      []string{"S256"},
	})
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.keys.jwks())
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirectURI := q.Get("redirect_uri")
	target, err := url.Parse(redirectURI)
	if err != nil || redirectURI == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	params := url.Values{}
	params.Set("state", q.Get("state"))

	switch {
	case q.Get("client_id") != s.ClientID:
		params.Set("error", "unauthorized_client")
		params.Set("error_description", "unknown client")
	case q.Get("response_type") != "code":
		params.Set("error", "unsupported_response_type")
	case s.authorizeError != "":
		params.Set("error", s.authorizeError)
		params.Set("error_description", "authorization failed: "+s.authorizeError)
	default:
		code := uuid.NewString()
		s.codes[code] = authCode{
			user:          s.user,
			clientID:      s.ClientID,
			redirectURI:   redirectURI,
			nonce:         q.Get("nonce"),
			challenge:     q.Get("code_challenge"),
			challengeMode: q.Get("code_challenge_method"),
			scopes:        strings.Fields(q.Get("scope")),
		}
		params.Set("code", code)
	}

	target.RawQuery = params.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "POST required")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	clientID := r.PostForm.Get("client_id")
	secret := r.PostForm.Get("client_secret")
	if id, pw, ok := r.BasicAuth(); ok && clientID == "" {
		clientID, _ = url.QueryUnescape(id)
		secret, _ = url.QueryUnescape(pw)
	}
	if clientID != s.ClientID || !s.checkSecret(secret) {
		writeJSONError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.exchangeCode(w, r)
	case "refresh_token":
		s.refresh(w, r)
	default:
		writeJSONError(w, http.StatusBadRequest, "unsupported_grant_type", "")
	}
}

func (s *Server) exchangeCode(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenRequests++

	if s.tokenError != "" {
		writeJSONError(w, http.StatusBadRequest, s.tokenError, "code exchange failed")
		return
	}

	code := r.PostForm.Get("code")
	grant, ok := s.codes[code]
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "unknown or used authorization code")
		return
	}
	delete(s.codes, code)

	if grant.redirectURI != r.PostForm.Get("redirect_uri") {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
		return
	}
	if !verifyPKCE(grant.challenge, grant.challengeMode, r.PostForm.Get("code_verifier")) {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
		return
	}

	s.issueTokens(w, grant.user, grant.scopes, grant.nonce, true)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshRequests++

	if s.refreshError != "" {
		writeJSONError(w, http.StatusBadRequest, s.refreshError, "refresh failed: "+s.refreshError)
		return
	}

	rt := r.PostForm.Get("refresh_token")
	grant, ok := s.refreshTokens[rt]
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "refresh token is invalid or revoked")
		return
	}
	// Rotate
	delete(s.refreshTokens, rt)

	s.issueTokens(w, grant.user, grant.scopes, "", true)
}

// issueTokens writes a token response. Callers hold s.mu.
func (s *Server) issueTokens(w http.ResponseWriter, u User, scopes []string, nonce string, withRefresh bool) {
	now := time.Now()
	accessToken, err := s.keys.sign(jwt.MapClaims{
		"iss": s.URL,
		"sub": u.Subject,
		"aud": s.ClientID,
		"iat": now.Unix(),
		"exp": now.Add(s.accessTTL).Unix(),
		"jti": uuid.NewString(),
		"scp": strings.Join(scopes, " "),
	})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	resp := map[string]any{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   int(s.accessTTL.Seconds()),
		"scope":        strings.Join(scopes, " "),
	}

	if withRefresh && slices.Contains(scopes, "offline_access") {
		rt := uuid.NewString()
		s.refreshTokens[rt] = refreshGrant{user: u, clientID: s.ClientID, scopes: scopes}
		resp["refresh_token"] = rt
	}

	if !s.omitIDToken && slices.Contains(scopes, "openid") {
		claims := jwt.MapClaims{
			"iss":                s.URL,
			"sub":                u.Subject,
			"aud":                s.ClientID,
			"iat":                now.Unix(),
			"exp":                now.Add(time.Hour).Unix(),
			"jti":                uuid.NewString(),
			"name":               u.Name,
			"preferred_username": u.Username,
			"email":              u.Email,
		}
		if nonce != "" {
			claims["nonce"] = nonce
		}
		idToken, err := s.keys.sign(claims)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		resp["id_token"] = idToken
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	tok := r.PostForm.Get("token")
	if tok == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked = append(s.revoked, tok)
	delete(s.refreshTokens, tok)

	// RFC 7009: always 200 OK, even for unknown tokens
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.endSessions++
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("<html><body>Signed out</body></html>"))
}

func verifyPKCE(challenge, method, verifier string) bool {
	if challenge == "" {
		return true
	}
	if verifier == "" || method != "S256" {
		return false
	}
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:]) == challenge
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, errorCode, description string) {
	body := map[string]string{"error": errorCode}
	if description != "" {
		body["error_description"] = description
	}
	writeJSON(w, status, body)
}
