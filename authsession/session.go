package authsession

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-oauth-session/identity"
	"github.com/jrsteele09/go-oauth-session/internal/errors"
	"github.com/jrsteele09/go-oauth-session/metrics"
	"github.com/jrsteele09/go-oauth-session/sessions"
)

// OAuthSession ties one session to a lazily created identity client. It is
// rebuilt on every request and never persisted itself.
type OAuthSession struct {
	factory *Factory
	session *sessions.Session
	save    SaveFunc

	once   sync.Once
	cache  *identity.TokenCache
	client identity.Client

	// serialises silent token acquisition so a refresh token is redeemed once
	tokenMu sync.Mutex
}

// LoginOptions tunes BeginLogin.
type LoginOptions struct {
	Scopes []string
	Prompt string
	// ResponseMode defaults to form_post
	ResponseMode string
	Extra        map[string]string
}

// Session is the wrapped mapping.
func (o *OAuthSession) Session() *sessions.Session {
	return o.session
}

func (o *OAuthSession) identityClient() identity.Client {
	o.once.Do(func() {
		o.cache = o.factory.Provider.NewTokenCache()
		if blob := o.session.GetString(sessions.KeyTokenCache); blob != "" {
			if err := o.cache.Deserialize(blob); err != nil {
				log.Warn().Err(err).Str("session", o.session.ID()).Msg("Discarding unreadable token cache")
			}
		}
		o.client = o.factory.Provider.NewClient(o.cache)
	})
	return o.client
}

// saveTokenCache writes the cache into the session when the client reports a change.
func (o *OAuthSession) saveTokenCache(ctx context.Context) error {
	if o.cache == nil || !o.cache.HasStateChanged() {
		return nil
	}
	blob, err := o.cache.Serialize()
	if err != nil {
		return fmt.Errorf("[OAuthSession saveTokenCache] %w", err)
	}
	o.session.Set(sessions.KeyTokenCache, blob)
	if o.save != nil {
		if err := o.save(ctx, o.session); err != nil {
			log.Err(err).Str("session", o.session.ID()).Msg("Failed to save token cache")
		}
	}
	return nil
}

// BeginLogin starts the flow. It clears the cached token and the identity
// attributes, stores the pending flow state and returns the provider URL.
func (o *OAuthSession) BeginLogin(ctx context.Context, redirectURI string, opts LoginOptions) (string, error) {
	o.session.Delete(sessions.KeyTokenCache)
	for _, k := range sessions.ProfileKeys {
		o.session.Delete(k)
	}

	client := o.identityClient()
	o.cache.Clear()

	mode := opts.ResponseMode
	if mode == "" {
		mode = identity.ResponseModeFormPost
	}
	type built struct {
		url  string
		flow identity.FlowState
	}
	res, err := offload(ctx, func(ctx context.Context) (built, error) {
		u, flow, err := client.BuildAuthorizationURL(ctx, identity.AuthRequest{
			Scopes:       o.factory.scopes(opts.Scopes),
			RedirectURI:  redirectURI,
			ResponseMode: mode,
			Prompt:       opts.Prompt,
			Extra:        opts.Extra,
		})
		return built{u, flow}, err
	})
	if err != nil {
		return "", fmt.Errorf("[OAuthSession BeginLogin] build authorization url: %w", err)
	}

	data, err := json.Marshal(res.flow)
	if err != nil {
		return "", fmt.Errorf("[OAuthSession BeginLogin] encode flow state: %w", err)
	}
	o.session.Set(sessions.KeyFlowCache, string(data))
	o.factory.Metrics.Login(metrics.LoginStarted)
	return res.url, nil
}

// CompleteLogin exchanges the provider callback for tokens. The pending flow
// state is consumed whether or not the exchange succeeds, so a replayed callback
// fails with errors.ErrMissingFlowState.
func (o *OAuthSession) CompleteLogin(ctx context.Context, resp identity.AuthResponse) error {
	err := o.completeLogin(ctx, resp)
	if err != nil {
		o.factory.Metrics.Login(metrics.LoginFailed)
		return err
	}
	o.factory.Metrics.Login(metrics.LoginSucceeded)
	return nil
}

// CompleteLoginAsync runs CompleteLogin on its own goroutine.
func (o *OAuthSession) CompleteLoginAsync(ctx context.Context, resp identity.AuthResponse) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- o.CompleteLogin(ctx, resp)
	}()
	return done
}

func (o *OAuthSession) completeLogin(ctx context.Context, resp identity.AuthResponse) error {
	raw, ok := o.session.Pop(sessions.KeyFlowCache)
	if !ok {
		return errors.ErrMissingFlowState
	}
	flow, err := decodeFlow(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrMissingFlowState, err)
	}

	client := o.identityClient()
	res, err := offload(ctx, func(ctx context.Context) (identity.ExchangeResult, error) {
		return client.ExchangeCode(ctx, flow, resp, nil)
	})
	if err != nil {
		o.session.Delete(sessions.KeyMail)
		return fmt.Errorf("%w: %w", errors.ErrIdentityProvider, err)
	}
	if res.Error != "" {
		o.session.Delete(sessions.KeyMail)
		if res.ErrorDescription != "" {
			return fmt.Errorf("%w: %s: %s", errors.ErrIdentityProvider, res.Error, res.ErrorDescription)
		}
		return fmt.Errorf("%w: %s", errors.ErrIdentityProvider, res.Error)
	}
	if res.IDTokenClaims == nil {
		o.session.Delete(sessions.KeyMail)
		return fmt.Errorf("%w: expected id_token_claims in the token response", errors.ErrMalformedResponse)
	}

	if err := o.saveTokenCache(ctx); err != nil {
		return err
	}
	username, _ := res.IDTokenClaims["preferred_username"].(string)
	o.SetMail(username)
	return nil
}

func decodeFlow(raw any) (identity.FlowState, error) {
	var flow identity.FlowState
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case map[string]any:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return flow, err
		}
	default:
		return flow, fmt.Errorf("unexpected flow state type %T", raw)
	}
	if err := json.Unmarshal(data, &flow); err != nil {
		return flow, fmt.Errorf("decode flow state: %w", err)
	}
	if flow.State == "" {
		return flow, fmt.Errorf("flow state has no state parameter")
	}
	return flow, nil
}

// Token returns a token for the first known account, refreshing it silently if
// it expired. It returns nil without an error when nobody logged in or the
// provider rejected the refresh.
func (o *OAuthSession) Token(ctx context.Context, scopes ...string) (*identity.Token, error) {
	o.tokenMu.Lock()
	defer o.tokenMu.Unlock()

	client := o.identityClient()
	accounts := client.Accounts(ctx)
	if len(accounts) == 0 {
		return nil, nil
	}
	tok, err := offload(ctx, func(ctx context.Context) (*identity.Token, error) {
		return client.AcquireTokenSilent(ctx, o.factory.scopes(scopes), accounts[0])
	})
	if err != nil {
		return nil, fmt.Errorf("[OAuthSession Token] acquire token: %w", err)
	}
	if err := o.saveTokenCache(ctx); err != nil {
		return nil, err
	}
	return tok, nil
}

// offload runs fn on its own goroutine and returns early when ctx ends.
func offload[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Mail is the signed-in user's email, "" when unset.
func (o *OAuthSession) Mail() string {
	return o.session.GetString(sessions.KeyMail)
}

func (o *OAuthSession) Name() string {
	return o.session.GetString(sessions.KeyName)
}

func (o *OAuthSession) ManagerMail() string {
	return o.session.GetString(sessions.KeyManagerMail)
}

func (o *OAuthSession) ManagerName() string {
	return o.session.GetString(sessions.KeyManagerName)
}

// Redirect is the post-login target.
func (o *OAuthSession) Redirect() string {
	return o.session.GetString(sessions.KeyRedirect)
}

// The setters remove the key when value is "".

func (o *OAuthSession) SetMail(value string)        { o.set(sessions.KeyMail, value) }
func (o *OAuthSession) SetName(value string)        { o.set(sessions.KeyName, value) }
func (o *OAuthSession) SetManagerMail(value string) { o.set(sessions.KeyManagerMail, value) }
func (o *OAuthSession) SetManagerName(value string) { o.set(sessions.KeyManagerName, value) }
func (o *OAuthSession) SetRedirect(value string)    { o.set(sessions.KeyRedirect, value) }

func (o *OAuthSession) set(key, value string) {
	if value == "" {
		o.session.Delete(key)
		return
	}
	o.session.Set(key, value)
}

// Authenticated reports whether an email is set.
func (o *OAuthSession) Authenticated() bool {
	return o.Mail() != ""
}
