package authsession_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oauth-session/auth"
	"github.com/jrsteele09/go-oauth-session/authsession"
	"github.com/jrsteele09/go-oauth-session/identity"
	"github.com/jrsteele09/go-oauth-session/identity/idptest"
	"github.com/jrsteele09/go-oauth-session/internal/errors"
	"github.com/jrsteele09/go-oauth-session/internal/utils"
	"github.com/jrsteele09/go-oauth-session/sessions"
)

type captured struct {
	method      string
	auth        string
	contentType string
	custom      string
	body        string
}

func echoServer(t *testing.T) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	mux := http.NewServeMux()
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*got = captured{
			method:      r.Method,
			auth:        r.Header.Get("Authorization"),
			contentType: r.Header.Get("Content-Type"),
			custom:      r.Header.Get("X-Custom"),
			body:        string(body),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"mail":"j@k","displayName":"j"}`))
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/echo", http.StatusFound)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, got
}

func TestOAuthSession_DoRequiresToken(t *testing.T) {
	f := setupFixture(t)
	srv, _ := echoServer(t)
	ses := f.wrap(t, nil)

	_, err := ses.Get(context.Background(), srv.URL+"/echo")
	require.ErrorIs(t, err, errors.ErrNoToken)

	// the token is checked before the method
	_, err = ses.Do(context.Background(), "TRACE", srv.URL+"/echo", authsession.RequestOptions{})
	require.ErrorIs(t, err, errors.ErrNoToken)
}

func TestOAuthSession_DoAfterRejectedRefresh(t *testing.T) {
	idp := idptest.New(t)
	idp.TokenLifetime = 5 * time.Second
	ctx := context.Background()
	provider, err := identity.NewOIDCProvider(ctx, identity.OIDCConfig{
		ClientID:       idptest.ClientID,
		ClientSecret:   idptest.ClientSecret,
		Authority:      idp.Issuer(),
		SealTokenCache: true,
		HTTPClient:     idp.Client(),
	})
	require.NoError(t, err)
	factory := authsession.NewFactory(provider, idp.Client())

	ses, err := factory.New(sessions.FromMap(nil))
	require.NoError(t, err)
	authURL, err := ses.BeginLogin(ctx, "http://localhost:8080/user/authorized", authsession.LoginOptions{})
	require.NoError(t, err)
	form, err := idp.Authorize(authURL)
	require.NoError(t, err)
	resp := identity.AuthResponse{}
	for k := range form {
		resp[k] = form.Get(k)
	}
	require.NoError(t, ses.CompleteLogin(ctx, resp))
	stale := ses.Session().Values()

	// another request refreshes first and redeems the refresh token
	tok, err := ses.Token(ctx)
	require.NoError(t, err)
	require.NotNil(t, tok)

	again, err := factory.New(sessions.FromMap(stale))
	require.NoError(t, err)
	_, err = again.Get(ctx, idp.GraphURL()+"me")
	require.ErrorIs(t, err, errors.ErrNoToken)
	require.Equal(t, http.StatusBadRequest, auth.StatusCode(err))
	require.Equal(t, 2, idp.RefreshCalls())
}

func TestOAuthSession_DoRejectsUnsupportedMethod(t *testing.T) {
	f := setupFixture(t)
	srv, _ := echoServer(t)
	ses := f.wrap(t, nil)
	f.login(t, ses)

	for _, method := range []string{"TRACE", "OPTIONS", "HEAD"} {
		_, err := ses.Do(context.Background(), method, srv.URL+"/echo", authsession.RequestOptions{})
		require.ErrorIs(t, err, errors.ErrUnsupportedMethod, method)
	}
}

func TestOAuthSession_DoGet(t *testing.T) {
	f := setupFixture(t)
	srv, got := echoServer(t)
	ses := f.wrap(t, nil)
	f.login(t, ses)

	resp, err := ses.Do(context.Background(), "get", srv.URL+"/moved", authsession.RequestOptions{
		Header: http.Header{"X-Custom": {"yes"}},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "redirects are followed")
	require.Equal(t, http.MethodGet, got.method)
	require.Equal(t, "Bearer static-access-1", got.auth)
	require.Equal(t, "yes", got.custom)
	require.Empty(t, got.contentType)
}

func TestOAuthSession_DoWithoutRedirects(t *testing.T) {
	f := setupFixture(t)
	srv, _ := echoServer(t)
	ses := f.wrap(t, nil)
	f.login(t, ses)

	resp, err := ses.Do(context.Background(), http.MethodGet, srv.URL+"/moved", authsession.RequestOptions{FollowRedirects: utils.Ptr(false)})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestOAuthSession_DoWriteMethodsSendJSON(t *testing.T) {
	f := setupFixture(t)
	srv, got := echoServer(t)
	ses := f.wrap(t, nil)
	f.login(t, ses)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch} {
		resp, err := ses.Do(context.Background(), method, srv.URL+"/echo", authsession.RequestOptions{
			Header: http.Header{"Content-Type": {"text/plain"}},
			Data:   map[string]any{"a": 1},
		})
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, method, got.method)
		require.Equal(t, "application/json", got.contentType)
		require.JSONEq(t, `{"a":1}`, got.body)
	}

	resp, err := ses.Post(context.Background(), srv.URL+"/echo", []string{"x"})
	require.NoError(t, err)
	resp.Body.Close()
	require.JSONEq(t, `["x"]`, got.body)

	resp, err = ses.Do(context.Background(), http.MethodDelete, srv.URL+"/echo", authsession.RequestOptions{Data: "ignored"})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.MethodDelete, got.method)
	require.Empty(t, got.body)
	require.Empty(t, got.contentType)
}

func TestOAuthSession_GetJSON(t *testing.T) {
	f := setupFixture(t)
	srv, _ := echoServer(t)
	ses := f.wrap(t, nil)
	f.login(t, ses)

	var body map[string]string
	require.NoError(t, ses.GetJSON(context.Background(), srv.URL+"/echo", &body))
	require.Equal(t, "j", body["displayName"])

	err := ses.GetJSON(context.Background(), srv.URL+"/broken", &body)
	require.ErrorIs(t, err, errors.ErrMalformedResponse)

	err = ses.GetJSON(context.Background(), srv.URL+"/missing", &body)
	require.ErrorContains(t, err, "404")
}

func TestFactory_SharesHTTPClient(t *testing.T) {
	f := setupFixture(t)
	srv, _ := echoServer(t)
	f.factory.HTTPClient = srv.Client()

	a := f.wrap(t, nil)
	f.login(t, a)
	b := f.wrap(t, a.Session().Values())

	for _, ses := range []*authsession.OAuthSession{a, b} {
		resp, err := ses.Get(context.Background(), srv.URL+"/echo")
		require.NoError(t, err)
		var v map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
		resp.Body.Close()
	}
}
