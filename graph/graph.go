// Package graph loads the signed-in user's profile and manager from a
// Microsoft Graph style API into the session.
package graph

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jrsteele09/go-oauth-session/authsession"
	"github.com/jrsteele09/go-oauth-session/internal/errors"
	"github.com/jrsteele09/go-oauth-session/retry"
)

// DefaultBaseURL is the Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0/"

// Mode selects what Load fetches.
type Mode string

const (
	ModeNone    Mode = ""
	ModeUser    Mode = "user"
	ModeManager Mode = "manager"
)

// Profile is the part of a Graph user object the session keeps.
type Profile struct {
	Mail        string `json:"mail"`
	DisplayName string `json:"displayName"`
}

// Loader fetches profiles with the session's bearer token. Each call is
// retried with the retry package defaults unless Retry overrides them.
type Loader struct {
	BaseURL string
	Retry   []retry.Option
}

// NewLoader creates a loader for baseURL, DefaultBaseURL when empty.
func NewLoader(baseURL string) *Loader {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Loader{BaseURL: baseURL}
}

func (l *Loader) url(path string) string {
	base := l.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return strings.TrimSuffix(base, "/") + "/" + path
}

// fetch reads a profile and checks that both fields are present.
func (l *Loader) fetch(ctx context.Context, ses *authsession.OAuthSession, path string) (Profile, error) {
	return retry.DoValue(ctx, func(ctx context.Context) (Profile, error) {
		var body map[string]any
		if err := ses.GetJSON(ctx, l.url(path), &body); err != nil {
			return Profile{}, err
		}
		_, okMail := body["mail"]
		_, okName := body["displayName"]
		if !okMail || !okName {
			return Profile{}, fmt.Errorf("%w: unexpected return from graph endpoint %s: %v", errors.ErrMalformedResponse, path, body)
		}
		// null values (users without a mailbox) read as ""
		mail, _ := body["mail"].(string)
		name, _ := body["displayName"].(string)
		return Profile{Mail: mail, DisplayName: name}, nil
	}, l.Retry...)
}

// User fetches /me.
func (l *Loader) User(ctx context.Context, ses *authsession.OAuthSession) (Profile, error) {
	return l.fetch(ctx, ses, "me")
}

// Manager fetches /me/manager. It needs the User.Read.All scope.
func (l *Loader) Manager(ctx context.Context, ses *authsession.OAuthSession) (Profile, error) {
	return l.fetch(ctx, ses, "me/manager")
}

// UserInfo stores the user's mail and display name in the session.
func (l *Loader) UserInfo(ctx context.Context, ses *authsession.OAuthSession) error {
	p, err := l.User(ctx, ses)
	if err != nil {
		return fmt.Errorf("[Loader UserInfo] %w", err)
	}
	ses.SetMail(p.Mail)
	ses.SetName(p.DisplayName)
	return nil
}

// ManagerInfo stores the manager's mail and display name in the session.
func (l *Loader) ManagerInfo(ctx context.Context, ses *authsession.OAuthSession) error {
	p, err := l.Manager(ctx, ses)
	if err != nil {
		return fmt.Errorf("[Loader ManagerInfo] %w", err)
	}
	ses.SetManagerMail(p.Mail)
	ses.SetManagerName(p.DisplayName)
	return nil
}

// Load fetches what mode asks for. For ModeManager both profiles are fetched
// concurrently; the session is only written when both succeed.
func (l *Loader) Load(ctx context.Context, ses *authsession.OAuthSession, mode Mode) error {
	switch mode {
	case ModeNone:
		return nil
	case ModeUser:
		return l.UserInfo(ctx, ses)
	case ModeManager:
	default:
		return fmt.Errorf("%w: unknown profile mode %q", errors.ErrInvalidArgument, mode)
	}

	var user, manager Profile
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		user, err = l.User(gctx, ses)
		return err
	})
	g.Go(func() error {
		var err error
		manager, err = l.Manager(gctx, ses)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("[Loader Load] %w", err)
	}
	ses.SetMail(user.Mail)
	ses.SetName(user.DisplayName)
	ses.SetManagerMail(manager.Mail)
	ses.SetManagerName(manager.DisplayName)
	return nil
}
