package identity

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

// StaticUser is the account a StaticProvider signs in.
type StaticUser struct {
	Subject  string
	Username string
	Name     string
}

// StaticProvider is an in-process Provider that accepts any authorization code.
// It never touches the network and is meant for tests and local demos.
type StaticProvider struct {
	Authority string
	ClientID  string
	User      StaticUser

	// ExchangeError makes ExchangeCode report a provider-side error
	ExchangeError string
	// OmitClaims makes ExchangeCode succeed without ID token claims
	OmitClaims bool
	// Block, when set, holds ExchangeCode until it is closed or the context ends
	Block <-chan struct{}
	// TokenLifetime defaults to one hour
	TokenLifetime time.Duration
	NowFunc       func() time.Time
	// Sealer, when set, encrypts serialised token caches
	Sealer *Sealer

	issued    atomic.Int64
	exchanges atomic.Int64
}

var _ Provider = (*StaticProvider)(nil)

// Issued is the number of access tokens handed out, refreshes included.
func (p *StaticProvider) Issued() int64 {
	return p.issued.Load()
}

// Exchanges is the number of ExchangeCode calls that reached the provider.
func (p *StaticProvider) Exchanges() int64 {
	return p.exchanges.Load()
}

func (p *StaticProvider) NewTokenCache() *TokenCache {
	return NewTokenCache(p.Sealer)
}

func (p *StaticProvider) NewClient(cache *TokenCache) Client {
	if cache == nil {
		cache = p.NewTokenCache()
	}
	return &staticClient{provider: p, cache: cache}
}

func (p *StaticProvider) now() time.Time {
	if p.NowFunc != nil {
		return p.NowFunc()
	}
	return time.Now()
}

func (p *StaticProvider) newToken(scopes []string) Token {
	n := p.issued.Add(1)
	lifetime := p.TokenLifetime
	if lifetime == 0 {
		lifetime = time.Hour
	}
	return Token{
		AccessToken:  fmt.Sprintf("static-access-%d", n),
		TokenType:    "Bearer",
		RefreshToken: fmt.Sprintf("static-refresh-%d", n),
		Expiry:       p.now().Add(lifetime),
		Scopes:       scopes,
	}
}

type staticClient struct {
	provider *StaticProvider
	cache    *TokenCache
}

func (c *staticClient) BuildAuthorizationURL(_ context.Context, req AuthRequest) (string, FlowState, error) {
	state, err := randomString(16)
	if err != nil {
		return "", FlowState{}, err
	}
	nonce, err := randomString(16)
	if err != nil {
		return "", FlowState{}, err
	}
	scopes := withReservedScopes(req.Scopes)

	q := url.Values{}
	q.Set("client_id", c.provider.ClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("scope", strings.Join(scopes, " "))
	q.Set("state", state)
	q.Set("nonce", nonce)
	if req.ResponseMode != "" {
		q.Set("response_mode", req.ResponseMode)
	}
	if req.Prompt != "" {
		q.Set("prompt", req.Prompt)
	}
	for k, v := range req.Extra {
		q.Set(k, v)
	}
	authURI := strings.TrimSuffix(c.provider.Authority, "/") + "/oauth2/v2.0/authorize?" + q.Encode()

	return authURI, FlowState{
		State:       state,
		Nonce:       nonce,
		RedirectURI: req.RedirectURI,
		Scopes:      scopes,
		AuthURI:     authURI,
	}, nil
}

func (c *staticClient) ExchangeCode(ctx context.Context, flow FlowState, resp AuthResponse, scopes []string) (ExchangeResult, error) {
	if c.provider.Block != nil {
		select {
		case <-c.provider.Block:
		case <-ctx.Done():
			return ExchangeResult{}, ctx.Err()
		}
	}
	c.provider.exchanges.Add(1)

	if code := resp["error"]; code != "" {
		return ExchangeResult{Error: code, ErrorDescription: resp["error_description"]}, nil
	}
	if resp["state"] != flow.State {
		return ExchangeResult{Error: ErrorStateMismatch, ErrorDescription: "state does not match the pending flow"}, nil
	}
	if c.provider.ExchangeError != "" {
		return ExchangeResult{Error: c.provider.ExchangeError, ErrorDescription: "configured failure"}, nil
	}
	if len(scopes) == 0 {
		scopes = flow.Scopes
	}

	token := c.provider.newToken(scopes)
	user := c.provider.User
	c.cache.Store(Account{HomeAccountID: user.Subject, Username: user.Username, Name: user.Name}, token)

	result := ExchangeResult{AccessToken: token.AccessToken, ExpiresAt: token.Expiry}
	if !c.provider.OmitClaims {
		result.IDTokenClaims = map[string]any{
			"sub":                user.Subject,
			"preferred_username": user.Username,
			"name":               user.Name,
			"nonce":              flow.Nonce,
		}
	}
	return result, nil
}

func (c *staticClient) Accounts(_ context.Context) []Account {
	if acct, ok := c.cache.Account(); ok {
		return []Account{acct}
	}
	return nil
}

func (c *staticClient) AcquireTokenSilent(_ context.Context, scopes []string, account Account) (*Token, error) {
	cached, ok := c.cache.Token()
	if !ok {
		return nil, nil
	}
	if acct, ok := c.cache.Account(); !ok || acct.HomeAccountID != account.HomeAccountID {
		return nil, nil
	}
	if cached.Expiry.After(c.provider.now()) {
		return &cached, nil
	}
	if len(scopes) == 0 {
		scopes = cached.Scopes
	}
	fresh := c.provider.newToken(scopes)
	c.cache.Store(account, fresh)
	return &fresh, nil
}
