// Package identity defines the identity-provider client used to run the OAuth2
// authorization code flow and to refresh tokens silently from a serialisable cache.
package identity

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// Response modes accepted by BuildAuthorizationURL.
const (
	ResponseModeFormPost = "form_post"
	ResponseModeQuery    = "query"
)

// Prompt values accepted by BuildAuthorizationURL.
const (
	PromptLogin         = "login"
	PromptConsent       = "consent"
	PromptSelectAccount = "select_account"
	PromptNone          = "none"
)

// Provider creates per-request clients bound to a token cache.
type Provider interface {
	NewTokenCache() *TokenCache
	NewClient(cache *TokenCache) Client
}

// Client is the identity-provider client for one token cache.
// Methods may block on network calls.
type Client interface {
	// BuildAuthorizationURL returns the provider consent URL and the pending flow state
	BuildAuthorizationURL(ctx context.Context, req AuthRequest) (string, FlowState, error)

	// ExchangeCode completes the flow. Provider-side failures are reported in
	// ExchangeResult.Error, transport failures as an error.
	ExchangeCode(ctx context.Context, flow FlowState, resp AuthResponse, scopes []string) (ExchangeResult, error)

	// Accounts lists the accounts known to the token cache
	Accounts(ctx context.Context) []Account

	// AcquireTokenSilent returns a cached token, refreshing it when expired.
	// A nil token with a nil error means no token is available for the account,
	// including when the provider rejects the refresh grant.
	AcquireTokenSilent(ctx context.Context, scopes []string, account Account) (*Token, error)
}

// AuthRequest holds the parameters of the first leg of the flow.
type AuthRequest struct {
	Scopes       []string
	RedirectURI  string
	ResponseMode string
	Prompt       string
	Extra        map[string]string
}

// AuthResponse is the form (or query) the provider redirected back with.
type AuthResponse map[string]string

// FlowState correlates a login redirect with its callback.
type FlowState struct {
	State        string   `json:"state"`
	Nonce        string   `json:"nonce"`
	CodeVerifier string   `json:"code_verifier"`
	RedirectURI  string   `json:"redirect_uri"`
	Scopes       []string `json:"scopes"`
	AuthURI      string   `json:"auth_uri"`
}

// ExchangeResult is the outcome of ExchangeCode.
type ExchangeResult struct {
	Error            string
	ErrorDescription string
	IDTokenClaims    map[string]any
	AccessToken      string
	ExpiresAt        time.Time
}

// Account identifies the signed-in user within a token cache.
type Account struct {
	HomeAccountID string `json:"home_account_id"`
	Username      string `json:"username"`
	Name          string `json:"name,omitempty"`
}

// Token is a cached OAuth2 token set.
type Token struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitzero"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// OAuth2 converts the token for use with golang.org/x/oauth2.
func (t Token) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
}

// Valid reports whether the access token is set and not expired.
func (t Token) Valid() bool {
	return t.OAuth2().Valid()
}
