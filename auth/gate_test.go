package auth_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oauth-session/auth"
	"github.com/jrsteele09/go-oauth-session/authsession"
	"github.com/jrsteele09/go-oauth-session/identity"
	"github.com/jrsteele09/go-oauth-session/internal/errors"
	"github.com/jrsteele09/go-oauth-session/metrics"
	"github.com/jrsteele09/go-oauth-session/sessions"
	"github.com/jrsteele09/go-oauth-session/sessions/memstore"
)

const (
	testCookie    = "AUTH_SESSION"
	testSessionID = "session-1"
)

type gateFixture struct {
	gate    *auth.Gate
	manager *sessions.Manager
	store   *memstore.Store
}

func setupGate(t *testing.T, values map[string]any) *gateFixture {
	t.Helper()
	store := memstore.New()
	if values != nil {
		require.NoError(t, store.Save(context.Background(), testSessionID, sessions.Record{
			Created: time.Now().Unix(),
			Values:  values,
		}, 0))
	}
	manager := sessions.NewManager(store, sessions.DefaultCookieOptions(testCookie, "", time.Hour))
	factory := authsession.NewFactory(&identity.StaticProvider{Authority: "https://login.example.com"}, nil)
	return &gateFixture{
		gate:    &auth.Gate{Sessions: manager, Factory: factory, Metrics: metrics.New(prometheus.NewRegistry())},
		manager: manager,
		store:   store,
	}
}

func (f *gateFixture) serve(h http.HandlerFunc) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: testCookie, Value: testSessionID})
	rec := httptest.NewRecorder()
	f.manager.Middleware(h).ServeHTTP(rec, req)
	return rec
}

// counting returns a predicate with a fixed result and the number of times it ran
func counting(result bool) (auth.Predicate, *int) {
	n := new(int)
	return auth.Check(func(*authsession.OAuthSession) bool {
		*n++
		return result
	}), n
}

func okHandler(called *bool) auth.Handler {
	return func(w http.ResponseWriter, _ *http.Request, ses *authsession.OAuthSession) {
		*called = true
		_, _ = fmt.Fprint(w, ses.Mail())
	}
}

func TestGate_RequireAllPass(t *testing.T) {
	f := setupGate(t, map[string]any{"mail": "j@k"})
	p1, n1 := counting(true)
	p2, n2 := counting(true)
	called := false

	rec := f.serve(f.gate.Require(okHandler(&called), p1, auth.AuthOK, p2))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "j@k", rec.Body.String())
	require.True(t, called)
	require.Equal(t, 1, *n1)
	require.Equal(t, 1, *n2)
	require.InDelta(t, 1, testutil.ToFloat64(f.gate.Metrics.GateDecisions.WithLabelValues("all", metrics.DecisionAllowed)), 0)
}

func TestGate_RequireShortCircuits(t *testing.T) {
	f := setupGate(t, map[string]any{"mail": "j@k"})
	p1, n1 := counting(false)
	p2, n2 := counting(true)
	called := false

	rec := f.serve(f.gate.Require(okHandler(&called), p1, p2))
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.False(t, called)
	require.Equal(t, 1, *n1)
	require.Zero(t, *n2, "predicates after the first failure are not evaluated")
	require.InDelta(t, 1, testutil.ToFloat64(f.gate.Metrics.GateDecisions.WithLabelValues("all", metrics.DecisionForbidden)), 0)
}

func TestGate_RequireWithoutPredicates(t *testing.T) {
	f := setupGate(t, nil)
	called := false
	rec := f.serve(f.gate.Require(okHandler(&called)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, called)
}

func TestGate_RequireAnyWithoutPredicates(t *testing.T) {
	f := setupGate(t, map[string]any{"mail": "j@k"})
	called := false
	rec := f.serve(f.gate.RequireAny(okHandler(&called)))
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.False(t, called)
}

func TestGate_RequireAny(t *testing.T) {
	tests := []struct {
		name       string
		results    []bool
		wantStatus int
		wantCalls  []int
	}{
		{name: "first true", results: []bool{true, true}, wantStatus: http.StatusOK, wantCalls: []int{1, 0}},
		{name: "later true", results: []bool{false, true, true}, wantStatus: http.StatusOK, wantCalls: []int{1, 1, 0}},
		{name: "none true", results: []bool{false, false}, wantStatus: http.StatusForbidden, wantCalls: []int{1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupGate(t, nil)
			var preds []auth.Predicate
			var counts []*int
			for _, r := range tt.results {
				p, n := counting(r)
				preds = append(preds, p)
				counts = append(counts, n)
			}
			called := false
			rec := f.serve(f.gate.RequireAny(okHandler(&called), preds...))
			require.Equal(t, tt.wantStatus, rec.Code)
			require.Equal(t, tt.wantStatus == http.StatusOK, called)
			for i, n := range counts {
				require.Equal(t, tt.wantCalls[i], *n, "predicate %d", i)
			}
		})
	}
}

func TestGate_AuthOK(t *testing.T) {
	called := false
	f := setupGate(t, map[string]any{"name": "j"})
	require.Equal(t, http.StatusForbidden, f.serve(f.gate.Require(okHandler(&called), auth.AuthOK)).Code)

	f = setupGate(t, map[string]any{"mail": ""})
	require.Equal(t, http.StatusForbidden, f.serve(f.gate.Require(okHandler(&called), auth.AuthOK)).Code)
	require.False(t, called)

	f = setupGate(t, map[string]any{"mail": "j@k"})
	require.Equal(t, http.StatusOK, f.serve(f.gate.Require(okHandler(&called), auth.AuthOK)).Code)
	require.True(t, called)
}

func TestOr(t *testing.T) {
	yes, _ := counting(true)
	no, _ := counting(false)
	ses, err := authsession.NewFactory(&identity.StaticProvider{}, nil).New(sessions.FromMap(nil))
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := auth.Or(no, yes).Check(ctx, ses)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = auth.Or(no, no).Check(ctx, ses)
	require.ErrorIs(t, err, errors.ErrForbidden)

	_, err = auth.Or().Check(ctx, ses)
	require.ErrorIs(t, err, errors.ErrForbidden)
}

func TestGate_OrInsideRequire(t *testing.T) {
	f := setupGate(t, map[string]any{"mail": "j@k"})
	yes, _ := counting(true)
	no, _ := counting(false)
	after, n := counting(true)
	called := false

	rec := f.serve(f.gate.Require(okHandler(&called), auth.AuthOK, auth.Or(no, yes), after))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, *n)

	called = false
	rec = f.serve(f.gate.Require(okHandler(&called), auth.Or(no, no), after))
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.False(t, called)
}

func TestGate_PredicateErrors(t *testing.T) {
	f := setupGate(t, nil)
	called := false

	boom := auth.CheckContext(func(context.Context, *authsession.OAuthSession) (bool, error) {
		return false, fmt.Errorf("lookup failed")
	})
	rec := f.serve(f.gate.RequireAny(okHandler(&called), boom))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	noToken := auth.CheckContext(func(context.Context, *authsession.OAuthSession) (bool, error) {
		return false, errors.ErrNoToken
	})
	rec = f.serve(f.gate.Require(okHandler(&called), noToken))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, called)
}

func TestGate_ContextPredicate(t *testing.T) {
	f := setupGate(t, map[string]any{"mail": "j@k"})
	called := false
	hasToken := auth.CheckContext(func(ctx context.Context, ses *authsession.OAuthSession) (bool, error) {
		tok, err := ses.Token(ctx)
		return tok != nil, err
	})
	rec := f.serve(f.gate.RequireAny(okHandler(&called), hasToken, auth.AuthOK))
	require.Equal(t, http.StatusOK, rec.Code, "falls through to AuthOK when no token is cached")
	require.True(t, called)
}

func TestGate_RequiresSessionMiddleware(t *testing.T) {
	f := setupGate(t, nil)
	called := false
	rec := httptest.NewRecorder()
	f.gate.Require(okHandler(&called))(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.False(t, called)
}

func TestGate_DecorationPanics(t *testing.T) {
	f := setupGate(t, nil)
	called := false

	require.PanicsWithError(t, "invalid argument: gate handler is nil", func() {
		f.gate.Require(nil)
	})
	require.PanicsWithError(t, "invalid argument: predicate 1 is nil", func() {
		f.gate.RequireAny(okHandler(&called), auth.AuthOK, nil)
	})
	require.PanicsWithError(t, "invalid argument: gate has no session factory", func() {
		(&auth.Gate{Sessions: f.manager}).Require(okHandler(&called))
	})
}

func TestGate_CustomErrorHandler(t *testing.T) {
	f := setupGate(t, nil)
	f.gate.ErrorHandler = func(w http.ResponseWriter, _ *http.Request, err error) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = fmt.Fprint(w, err.Error())
	}
	called := false
	rec := f.serve(f.gate.Require(okHandler(&called), auth.AuthOK))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "forbidden", rec.Body.String())
}

func TestStatusCode(t *testing.T) {
	require.Equal(t, http.StatusForbidden, auth.StatusCode(fmt.Errorf("wrapped: %w", errors.ErrForbidden)))
	require.Equal(t, http.StatusBadRequest, auth.StatusCode(errors.ErrUnsupportedMethod))
	require.Equal(t, http.StatusBadRequest, auth.StatusCode(errors.ErrNoToken))
	require.Equal(t, http.StatusInternalServerError, auth.StatusCode(fmt.Errorf("other")))
}
