// Package authsession binds a request session to an identity client. It drives
// the authorization code flow and makes outbound requests on behalf of the user.
package authsession

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/jrsteele09/go-oauth-session/identity"
	"github.com/jrsteele09/go-oauth-session/internal/errors"
	"github.com/jrsteele09/go-oauth-session/metrics"
	"github.com/jrsteele09/go-oauth-session/sessions"
)

// DefaultScopes are requested when the caller names none.
var DefaultScopes = []string{"User.Read", "User.Read.All"}

// SaveFunc persists the session after the token cache changed.
type SaveFunc func(ctx context.Context, s *sessions.Session) error

// Factory holds what every OAuthSession shares: the identity provider, the
// process wide HTTP client and the default scopes.
type Factory struct {
	Provider      identity.Provider
	HTTPClient    *http.Client
	DefaultScopes []string
	Metrics       *metrics.Metrics
}

// NewFactory creates a factory. A nil client gets a dedicated one with a 30s timeout.
func NewFactory(provider identity.Provider, client *http.Client) *Factory {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Factory{
		Provider:      provider,
		HTTPClient:    client,
		DefaultScopes: slices.Clone(DefaultScopes),
	}
}

// Option configures an OAuthSession.
type Option func(*OAuthSession)

// WithSave is called whenever the token cache was written back to the session.
// It is not needed when the session is persisted by sessions.Manager.
func WithSave(fn SaveFunc) Option {
	return func(o *OAuthSession) {
		o.save = fn
	}
}

// New wraps s. It fails with errors.ErrInvalidArgument when s is nil.
func (f *Factory) New(s *sessions.Session, opts ...Option) (*OAuthSession, error) {
	if s == nil {
		return nil, fmt.Errorf("[Factory New] %w: session is nil", errors.ErrInvalidArgument)
	}
	if f.Provider == nil {
		return nil, fmt.Errorf("[Factory New] %w: identity provider is nil", errors.ErrInvalidArgument)
	}
	o := &OAuthSession{factory: f, session: s}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Close releases idle connections of the shared HTTP client.
func (f *Factory) Close() {
	f.httpClient().CloseIdleConnections()
}

func (f *Factory) httpClient() *http.Client {
	if f.HTTPClient == nil {
		return http.DefaultClient
	}
	return f.HTTPClient
}

func (f *Factory) scopes(scopes []string) []string {
	if len(scopes) > 0 {
		return scopes
	}
	if len(f.DefaultScopes) > 0 {
		return f.DefaultScopes
	}
	return DefaultScopes
}
