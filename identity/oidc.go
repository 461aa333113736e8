package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Error codes reported in ExchangeResult.Error for locally detected failures.
const (
	ErrorStateMismatch  = "state_mismatch"
	ErrorInvalidIDToken = "invalid_id_token"
	ErrorInvalidNonce   = "invalid_nonce"
)

// OIDCConfig configures an OIDCProvider.
type OIDCConfig struct {
	ClientID     string
	ClientSecret string
	// Authority is the issuer URL used for discovery
	Authority string
	// SkipIssuerCheck accepts discovery documents and ID tokens whose issuer differs
	// from Authority (multi-tenant authorities such as .../common/v2.0)
	SkipIssuerCheck bool
	// SealTokenCache encrypts serialised token caches with a key derived from ClientSecret
	SealTokenCache bool
	HTTPClient     *http.Client
}

// OIDCProvider implements Provider with golang.org/x/oauth2 and go-oidc.
type OIDCProvider struct {
	config     oauth2.Config
	provider   *oidc.Provider
	verifier   *oidc.IDTokenVerifier
	httpClient *http.Client
	sealer     *Sealer
	endSession string
	nowFunc    func() time.Time
}

var _ Provider = (*OIDCProvider)(nil)

// NewOIDCProvider runs discovery against the authority.
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig) (*OIDCProvider, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if cfg.Authority == "" {
		return nil, errors.New("authority is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	issuer := strings.TrimSuffix(cfg.Authority, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")

	ctx = oidc.ClientContext(ctx, httpClient)
	if cfg.SkipIssuerCheck {
		ctx = oidc.InsecureIssuerURLContext(ctx, issuer)
	}
	op, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("[identity NewOIDCProvider] discovery: %w", err)
	}

	var discovery struct {
		EndSession string `json:"end_session_endpoint"`
	}
	if err := op.Claims(&discovery); err != nil {
		return nil, fmt.Errorf("[identity NewOIDCProvider] discovery claims: %w", err)
	}

	p := &OIDCProvider{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     op.Endpoint(),
		},
		provider:   op,
		verifier:   op.Verifier(&oidc.Config{ClientID: cfg.ClientID, SkipIssuerCheck: cfg.SkipIssuerCheck}),
		httpClient: httpClient,
		endSession: discovery.EndSession,
		nowFunc:    time.Now,
	}
	if cfg.SealTokenCache {
		if p.sealer, err = NewSealer(cfg.ClientSecret); err != nil {
			return nil, fmt.Errorf("[identity NewOIDCProvider] %w", err)
		}
	}
	return p, nil
}

// EndSessionEndpoint is the discovered logout endpoint, empty when not advertised.
func (p *OIDCProvider) EndSessionEndpoint() string {
	return p.endSession
}

func (p *OIDCProvider) NewTokenCache() *TokenCache {
	return NewTokenCache(p.sealer)
}

func (p *OIDCProvider) NewClient(cache *TokenCache) Client {
	if cache == nil {
		cache = p.NewTokenCache()
	}
	return &oidcClient{provider: p, cache: cache}
}

// oauthConfig returns a copy of the client configuration for one flow.
func (p *OIDCProvider) oauthConfig(redirectURI string, scopes []string) *oauth2.Config {
	conf := p.config
	conf.RedirectURL = redirectURI
	conf.Scopes = withReservedScopes(scopes)
	return &conf
}

func (p *OIDCProvider) clientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, p.httpClient)
}

type oidcClient struct {
	provider *OIDCProvider
	cache    *TokenCache
}

func (c *oidcClient) BuildAuthorizationURL(_ context.Context, req AuthRequest) (string, FlowState, error) {
	if req.RedirectURI == "" {
		return "", FlowState{}, errors.New("redirect URI is required")
	}
	state, err := randomString(32)
	if err != nil {
		return "", FlowState{}, fmt.Errorf("generate state: %w", err)
	}
	nonce, err := randomString(32)
	if err != nil {
		return "", FlowState{}, fmt.Errorf("generate nonce: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	conf := c.provider.oauthConfig(req.RedirectURI, req.Scopes)
	opts := []oauth2.AuthCodeOption{
		oidc.Nonce(nonce),
		oauth2.S256ChallengeOption(verifier),
	}
	if req.ResponseMode != "" {
		opts = append(opts, oauth2.SetAuthURLParam("response_mode", req.ResponseMode))
	}
	if req.Prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", req.Prompt))
	}
	for k, v := range req.Extra {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}

	authURI := conf.AuthCodeURL(state, opts...)
	return authURI, FlowState{
		State:        state,
		Nonce:        nonce,
		CodeVerifier: verifier,
		RedirectURI:  req.RedirectURI,
		Scopes:       conf.Scopes,
		AuthURI:      authURI,
	}, nil
}

func (c *oidcClient) ExchangeCode(ctx context.Context, flow FlowState, resp AuthResponse, scopes []string) (ExchangeResult, error) {
	if code := resp["error"]; code != "" {
		return ExchangeResult{Error: code, ErrorDescription: resp["error_description"]}, nil
	}
	if resp["state"] != flow.State {
		return ExchangeResult{Error: ErrorStateMismatch, ErrorDescription: "state does not match the pending flow"}, nil
	}
	if len(scopes) == 0 {
		scopes = flow.Scopes
	}

	ctx = c.provider.clientContext(ctx)
	conf := c.provider.oauthConfig(flow.RedirectURI, scopes)
	tok, err := conf.Exchange(ctx, resp["code"], oauth2.VerifierOption(flow.CodeVerifier))
	if err != nil {
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) && rErr.ErrorCode != "" {
			return ExchangeResult{Error: rErr.ErrorCode, ErrorDescription: rErr.ErrorDescription}, nil
		}
		return ExchangeResult{}, fmt.Errorf("exchange code for token: %w", err)
	}

	result := ExchangeResult{AccessToken: tok.AccessToken, ExpiresAt: tok.Expiry}
	rawID, ok := tok.Extra("id_token").(string)
	if !ok || rawID == "" {
		return result, nil
	}
	idTok, err := c.provider.verifier.Verify(ctx, rawID)
	if err != nil {
		return ExchangeResult{Error: ErrorInvalidIDToken, ErrorDescription: err.Error()}, nil
	}
	if idTok.Nonce != flow.Nonce {
		return ExchangeResult{Error: ErrorInvalidNonce, ErrorDescription: "nonce does not match the pending flow"}, nil
	}
	claims := map[string]any{}
	if err := idTok.Claims(&claims); err != nil {
		return ExchangeResult{}, fmt.Errorf("parse id_token claims: %w", err)
	}
	result.IDTokenClaims = claims

	c.cache.Store(accountFromClaims(idTok.Subject, claims), tokenFromOAuth2(tok, rawID, conf.Scopes))
	return result, nil
}

func (c *oidcClient) Accounts(_ context.Context) []Account {
	if acct, ok := c.cache.Account(); ok {
		return []Account{acct}
	}
	return nil
}

func (c *oidcClient) AcquireTokenSilent(ctx context.Context, scopes []string, account Account) (*Token, error) {
	cached, ok := c.cache.Token()
	if !ok {
		return nil, nil
	}
	if acct, ok := c.cache.Account(); !ok || acct.HomeAccountID != account.HomeAccountID {
		return nil, nil
	}
	if len(scopes) == 0 {
		scopes = cached.Scopes
	}

	conf := c.provider.oauthConfig("", scopes)
	ts := conf.TokenSource(c.provider.clientContext(ctx), cached.OAuth2())
	fresh, err := ts.Token()
	if err != nil {
		// a refresh grant the provider rejected leaves no token
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) && rErr.ErrorCode != "" {
			return nil, nil
		}
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if fresh.AccessToken == cached.AccessToken {
		return &cached, nil
	}

	rawID, _ := fresh.Extra("id_token").(string)
	if rawID == "" {
		rawID = cached.IDToken
	} else if claims, err := UnverifiedClaims(rawID); err == nil {
		if refreshed := accountFromClaims(account.HomeAccountID, claims); refreshed.Username != "" {
			account = refreshed
		}
	}
	token := tokenFromOAuth2(fresh, rawID, cached.Scopes)
	c.cache.Store(account, token)
	return &token, nil
}

func tokenFromOAuth2(tok *oauth2.Token, rawID string, scopes []string) Token {
	return Token{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		IDToken:      rawID,
		Expiry:       tok.Expiry,
		Scopes:       slices.Clone(scopes),
	}
}

func accountFromClaims(subject string, claims map[string]any) Account {
	username, _ := claims["preferred_username"].(string)
	if username == "" {
		username, _ = claims["email"].(string)
	}
	name, _ := claims["name"].(string)
	if oid, ok := claims["oid"].(string); ok && oid != "" {
		if tid, ok := claims["tid"].(string); ok && tid != "" {
			subject = oid + "." + tid
		}
	}
	return Account{HomeAccountID: subject, Username: username, Name: name}
}

// withReservedScopes adds the OIDC scopes the flow always needs.
func withReservedScopes(scopes []string) []string {
	res := slices.Clone(scopes)
	for _, s := range []string{oidc.ScopeOpenID, "profile", oidc.ScopeOfflineAccess} {
		if !slices.Contains(res, s) {
			res = append(res, s)
		}
	}
	return res
}

// randomString creates a random base64url string
func randomString(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
