// Package idptest runs an OpenID Connect provider and a Graph style profile API
// on an httptest server for tests.
package idptest

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	ClientID     = "test-client"
	ClientSecret = "test-secret"
)

// User is the account the provider signs in.
type User struct {
	Subject      string
	Email        string
	Name         string
	ManagerEmail string
	ManagerName  string
}

// DefaultUser is used when no user is configured.
var DefaultUser = User{
	Subject:      "00000000-0000-0000-0000-00000000000a",
	Email:        "jane@example.com",
	Name:         "Jane Doe",
	ManagerEmail: "boss@example.com",
	ManagerName:  "The Boss",
}

type pendingCode struct {
	redirectURI string
	challenge   string
	nonce       string
	scope       string
}

// Server is a fake identity provider.
type Server struct {
	*httptest.Server

	Key *KeyPair
	// TokenLifetime is reported as expires_in. Values under ten seconds make
	// x/oauth2 treat the token as expired straight away.
	TokenLifetime time.Duration

	mu           sync.Mutex
	user         User
	codes        map[string]pendingCode
	access       map[string]bool
	refresh      map[string]bool
	graphFails   int
	graphCalls   int
	tokenCalls   int
	refreshCalls int
}

// New starts a provider that is closed when the test ends.
func New(tb testing.TB) *Server {
	tb.Helper()
	key, err := GenerateKeyPair("test-key-1")
	if err != nil {
		tb.Fatalf("idptest: %v", err)
	}
	s := &Server{
		Key:           key,
		TokenLifetime: time.Hour,
		user:          DefaultUser,
		codes:         map[string]pendingCode{},
		access:        map[string]bool{},
		refresh:       map[string]bool{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", s.discovery)
	mux.HandleFunc("GET /keys", s.keys)
	mux.HandleFunc("GET /authorize", s.authorize)
	mux.HandleFunc("POST /token", s.token)
	mux.HandleFunc("GET /logout", s.logout)
	mux.HandleFunc("GET /v1.0/me", s.graph(func(u User) any {
		return map[string]string{"mail": u.Email, "displayName": u.Name}
	}))
	mux.HandleFunc("GET /v1.0/me/manager", s.graph(func(u User) any {
		return map[string]string{"mail": u.ManagerEmail, "displayName": u.ManagerName}
	}))
	mux.HandleFunc("GET /v1.0/me/photo/$value", s.photo)

	s.Server = httptest.NewServer(mux)
	tb.Cleanup(s.Close)
	return s
}

// Issuer is the authority URL to configure clients with.
func (s *Server) Issuer() string {
	return s.URL
}

// GraphURL is the base URL of the profile API.
func (s *Server) GraphURL() string {
	return s.URL + "/v1.0/"
}

// SetUser replaces the signed-in account.
func (s *Server) SetUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = u
}

// FailGraph makes the next n profile API calls answer 503.
func (s *Server) FailGraph(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphFails = n
}

// GraphCalls counts profile API requests, failed ones included.
func (s *Server) GraphCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graphCalls
}

// TokenCalls counts authorization code exchanges.
func (s *Server) TokenCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenCalls
}

// RefreshCalls counts refresh token grants.
func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

// Authorize plays the user consenting to authURL and returns the callback form
// the provider would post back (code, state, session_state).
func (s *Server) Authorize(authURL string) (url.Values, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if q.Get("client_id") != ClientID {
		return nil, fmt.Errorf("unknown client %q", q.Get("client_id"))
	}
	if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
		return nil, errors.New("missing PKCE challenge")
	}
	code := uuid.NewString()
	s.mu.Lock()
	s.codes[code] = pendingCode{
		redirectURI: q.Get("redirect_uri"),
		challenge:   q.Get("code_challenge"),
		nonce:       q.Get("nonce"),
		scope:       q.Get("scope"),
	}
	s.mu.Unlock()

	return url.Values{
		"code":          {code},
		"state":         {q.Get("state")},
		"session_state": {uuid.NewString()},
	}, nil
}

// IssueAccessToken returns a bearer token accepted by the profile API.
func (s *Server) IssueAccessToken() string {
	tok := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access[tok] = true
	return tok
}

func (s *Server) discovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                s.URL,
		"authorization_endpoint":                s.URL + "/authorize",
		"token_endpoint":                        s.URL + "/token",
		"jwks_uri":                              s.URL + "/keys",
		"end_session_endpoint":                  s.URL + "/logout",
		"response_types_supported":              []string{"code"},
		"response_modes_supported":              []string{"query", "form_post"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{jwt.SigningMethodRS256.Alg()},
		"code_challenge_methods_supported":      []string{"S256"},
	})
}

func (s *Server) keys(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, JWKS{Keys: []JWK{s.Key.JWK()}})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) {
	form, err := s.Authorize(r.URL.String())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	target, err := url.Parse(r.URL.Query().Get("redirect_uri"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	target.RawQuery = form.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("post_logout_redirect_uri")
	if target == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		tokenError(w, "invalid_request", err.Error())
		return
	}
	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	if id != ClientID || secret != ClientSecret {
		tokenError(w, "invalid_client", "client authentication failed")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.mu.Lock()
		s.tokenCalls++
		pending, found := s.codes[r.PostForm.Get("code")]
		delete(s.codes, r.PostForm.Get("code"))
		s.mu.Unlock()
		if !found {
			tokenError(w, "invalid_grant", "AADSTS70008: the authorization code is unknown or was already redeemed")
			return
		}
		if pending.redirectURI != r.PostForm.Get("redirect_uri") {
			tokenError(w, "invalid_grant", "redirect_uri does not match")
			return
		}
		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		if base64.RawURLEncoding.EncodeToString(sum[:]) != pending.challenge {
			tokenError(w, "invalid_grant", "PKCE verification failed")
			return
		}
		s.issue(w, pending.nonce, pending.scope)

	case "refresh_token":
		s.mu.Lock()
		s.refreshCalls++
		found := s.refresh[r.PostForm.Get("refresh_token")]
		delete(s.refresh, r.PostForm.Get("refresh_token"))
		s.mu.Unlock()
		if !found {
			tokenError(w, "invalid_grant", "refresh token is unknown")
			return
		}
		s.issue(w, "", r.PostForm.Get("scope"))

	default:
		tokenError(w, "unsupported_grant_type", r.PostForm.Get("grant_type"))
	}
}

func (s *Server) issue(w http.ResponseWriter, nonce, scope string) {
	s.mu.Lock()
	user := s.user
	access, refresh := uuid.NewString(), uuid.NewString()
	s.access[access] = true
	s.refresh[refresh] = true
	s.mu.Unlock()

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":                s.URL,
		"sub":                user.Subject,
		"aud":                ClientID,
		"iat":                now.Unix(),
		"exp":                now.Add(time.Hour).Unix(),
		"preferred_username": user.Email,
		"email":              user.Email,
		"name":               user.Name,
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	idToken, err := s.Key.Sign(claims)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"token_type":    "Bearer",
		"expires_in":    int(s.TokenLifetime / time.Second),
		"refresh_token": refresh,
		"id_token":      idToken,
		"scope":         scope,
	})
}

// authorized records the call and checks the bearer token. It reports false
// after writing the failure response.
func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	tok, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	s.graphCalls++
	valid := s.access[tok]
	fail := s.graphFails > 0
	if fail {
		s.graphFails--
	}
	s.mu.Unlock()

	if fail {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": map[string]string{"code": "serviceNotAvailable", "message": "try again"},
		})
		return false
	}
	if !valid {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error": map[string]string{"code": "InvalidAuthenticationToken", "message": "Access token is empty or invalid."},
		})
		return false
	}
	return true
}

func (s *Server) graph(body func(User) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(w, r) {
			return
		}
		s.mu.Lock()
		user := s.user
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, body(user))
	}
}

// PhotoBytes is the body served by the photo endpoint.
var PhotoBytes = []byte{0xff, 0xd8, 0xff, 0xe0, 'J', 'F', 'I', 'F'}

func (s *Server) photo(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	h := w.Header()
	h.Set("Content-Type", "image/jpeg")
	h.Set("Etag", `"photo-1"`)
	h.Set("request-id", uuid.NewString())
	h.Set("client-request-id", uuid.NewString())
	h.Set("x-ms-ags-diagnostic", `{"ServerInfo":{}}`)
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Photo-Size", "48x48")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(PhotoBytes)
}

func tokenError(w http.ResponseWriter, code, description string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
