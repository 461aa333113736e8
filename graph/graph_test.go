package graph_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oauth-session/authsession"
	"github.com/jrsteele09/go-oauth-session/graph"
	"github.com/jrsteele09/go-oauth-session/identity"
	"github.com/jrsteele09/go-oauth-session/identity/idptest"
	"github.com/jrsteele09/go-oauth-session/internal/errors"
	"github.com/jrsteele09/go-oauth-session/retry"
	"github.com/jrsteele09/go-oauth-session/sessions"
)

// loggedIn runs the code flow against idp and returns the resulting session
func loggedIn(t *testing.T, idp *idptest.Server) *authsession.OAuthSession {
	t.Helper()
	ctx := context.Background()
	provider, err := identity.NewOIDCProvider(ctx, identity.OIDCConfig{
		ClientID:     idptest.ClientID,
		ClientSecret: idptest.ClientSecret,
		Authority:    idp.Issuer(),
		HTTPClient:   idp.Client(),
	})
	require.NoError(t, err)
	ses, err := authsession.NewFactory(provider, idp.Client()).New(sessions.FromMap(nil))
	require.NoError(t, err)

	authURL, err := ses.BeginLogin(ctx, "http://localhost/user/authorized", authsession.LoginOptions{})
	require.NoError(t, err)
	form, err := idp.Authorize(authURL)
	require.NoError(t, err)
	require.NoError(t, ses.CompleteLogin(ctx, identity.AuthResponse{
		"code":          form.Get("code"),
		"state":         form.Get("state"),
		"session_state": form.Get("session_state"),
	}))
	return ses
}

func fastLoader(base string) *graph.Loader {
	l := graph.NewLoader(base)
	l.Retry = []retry.Option{retry.WithUnit(time.Millisecond)}
	return l
}

func TestLoader_UserInfo(t *testing.T) {
	idp := idptest.New(t)
	idp.SetUser(idptest.User{Subject: "s", Email: "j@k", Name: "j", ManagerEmail: "m@k", ManagerName: "m"})
	ses := loggedIn(t, idp)
	ses.SetMail("")

	require.NoError(t, fastLoader(idp.GraphURL()).UserInfo(context.Background(), ses))
	require.Equal(t, "j@k", ses.Mail())
	require.Equal(t, "j", ses.Name())
	require.Equal(t, "", ses.ManagerMail())
}

func TestLoader_LoadManager(t *testing.T) {
	idp := idptest.New(t)
	ses := loggedIn(t, idp)

	require.NoError(t, fastLoader(idp.GraphURL()).Load(context.Background(), ses, graph.ModeManager))
	require.Equal(t, idptest.DefaultUser.Email, ses.Mail())
	require.Equal(t, idptest.DefaultUser.Name, ses.Name())
	require.Equal(t, idptest.DefaultUser.ManagerEmail, ses.ManagerMail())
	require.Equal(t, idptest.DefaultUser.ManagerName, ses.ManagerName())
	require.Equal(t, 2, idp.GraphCalls())
}

func TestLoader_LoadModes(t *testing.T) {
	idp := idptest.New(t)
	ses := loggedIn(t, idp)
	l := fastLoader(idp.GraphURL())

	require.NoError(t, l.Load(context.Background(), ses, graph.ModeNone))
	require.Zero(t, idp.GraphCalls())

	require.NoError(t, l.Load(context.Background(), ses, graph.ModeUser))
	require.Equal(t, 1, idp.GraphCalls())
	require.Equal(t, "", ses.ManagerMail())

	err := l.Load(context.Background(), ses, graph.Mode("everything"))
	require.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestLoader_RetriesTransientFailures(t *testing.T) {
	idp := idptest.New(t)
	ses := loggedIn(t, idp)
	idp.FailGraph(2)

	require.NoError(t, fastLoader(idp.GraphURL()).UserInfo(context.Background(), ses))
	require.Equal(t, 3, idp.GraphCalls())
	require.Equal(t, idptest.DefaultUser.Name, ses.Name())
}

func TestLoader_GivesUpAfterRetryBudget(t *testing.T) {
	idp := idptest.New(t)
	ses := loggedIn(t, idp)
	idp.FailGraph(100)

	err := fastLoader(idp.GraphURL()).ManagerInfo(context.Background(), ses)
	require.ErrorContains(t, err, "503")
	require.Equal(t, 4, idp.GraphCalls(), "one call plus three retries")
	require.Equal(t, "", ses.ManagerMail())
}

func TestLoader_MalformedResponse(t *testing.T) {
	idp := idptest.New(t)
	ses := loggedIn(t, idp)

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"123"}`))
	}))
	t.Cleanup(bad.Close)

	l := graph.NewLoader(bad.URL)
	l.Retry = []retry.Option{retry.WithSequence()}
	err := l.UserInfo(context.Background(), ses)
	require.ErrorIs(t, err, errors.ErrMalformedResponse)
	require.ErrorContains(t, err, `map[id:123]`)
}

func TestLoader_NullFieldsReadEmpty(t *testing.T) {
	idp := idptest.New(t)
	ses := loggedIn(t, idp)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"mail":null,"displayName":"Service Account"}`))
	}))
	t.Cleanup(srv.Close)

	require.NoError(t, graph.NewLoader(srv.URL+"/").UserInfo(context.Background(), ses))
	require.Equal(t, "", ses.Mail())
	require.Equal(t, "Service Account", ses.Name())
}
