// Package auth gates HTTP handlers behind predicates evaluated against the
// caller's OAuth session.
package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-oauth-session/authsession"
	"github.com/jrsteele09/go-oauth-session/internal/errors"
	"github.com/jrsteele09/go-oauth-session/metrics"
	"github.com/jrsteele09/go-oauth-session/sessions"
)

const (
	policyAll = "all"
	policyAny = "any"
)

// Handler is a request handler that needs the caller's OAuth session.
type Handler func(w http.ResponseWriter, r *http.Request, ses *authsession.OAuthSession)

// Gate builds the OAuth session for each request and runs predicates before
// the handler.
type Gate struct {
	Sessions sessions.Accessor
	Factory  *authsession.Factory
	Metrics  *metrics.Metrics
	// ErrorHandler writes gate failures, WriteError when nil
	ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)
}

// Require runs h only when every predicate passes. With no predicates h always runs.
// It panics when the gate or h cannot serve requests.
func (g *Gate) Require(h Handler, preds ...Predicate) http.HandlerFunc {
	g.validate(h, preds)
	return g.wrap(h, policyAll, func(ctx context.Context, ses *authsession.OAuthSession) error {
		for _, p := range preds {
			ok, err := p.Check(ctx, ses)
			if err != nil {
				return err
			}
			if !ok {
				return errors.ErrForbidden
			}
		}
		return nil
	})
}

// RequireAny runs h as soon as one predicate passes, in order. With no
// predicates every request is forbidden.
func (g *Gate) RequireAny(h Handler, preds ...Predicate) http.HandlerFunc {
	g.validate(h, preds)
	return g.wrap(h, policyAny, func(ctx context.Context, ses *authsession.OAuthSession) error {
		for _, p := range preds {
			ok, err := p.Check(ctx, ses)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
		return errors.ErrForbidden
	})
}

func (g *Gate) validate(h Handler, preds []Predicate) {
	switch {
	case h == nil:
		panic(fmt.Errorf("%w: gate handler is nil", errors.ErrInvalidArgument))
	case g.Sessions == nil:
		panic(fmt.Errorf("%w: gate has no session accessor", errors.ErrInvalidArgument))
	case g.Factory == nil:
		panic(fmt.Errorf("%w: gate has no session factory", errors.ErrInvalidArgument))
	}
	for i, p := range preds {
		if p == nil {
			panic(fmt.Errorf("%w: predicate %d is nil", errors.ErrInvalidArgument, i))
		}
	}
}

func (g *Gate) wrap(h Handler, policy string, check func(context.Context, *authsession.OAuthSession) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ses, err := g.session(r)
		if err == nil {
			err = check(r.Context(), ses)
		}
		if err != nil {
			if errors.Is(err, errors.ErrForbidden) {
				g.Metrics.Gate(policy, metrics.DecisionForbidden)
				log.Debug().Str("path", r.URL.Path).Str("policy", policy).Msg("Gate denied request")
			} else {
				g.Metrics.Gate(policy, metrics.DecisionError)
			}
			g.writeError(w, r, err)
			return
		}
		g.Metrics.Gate(policy, metrics.DecisionAllowed)
		h(w, r, ses)
	}
}

// Session returns the OAuth session of the request without running predicates.
func (g *Gate) Session(r *http.Request) (*authsession.OAuthSession, error) {
	return g.session(r)
}

func (g *Gate) session(r *http.Request) (*authsession.OAuthSession, error) {
	s, err := g.Sessions.GetOrCreate(r)
	if err != nil {
		return nil, fmt.Errorf("[Gate session] %w", err)
	}
	return g.Factory.New(s)
}

func (g *Gate) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if g.ErrorHandler != nil {
		g.ErrorHandler(w, r, err)
		return
	}
	WriteError(w, r, err)
}

// StatusCode maps an error to the HTTP status the gate answers with.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, errors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, errors.ErrNoToken), errors.Is(err, errors.ErrUnsupportedMethod):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes a plain text response with the status of err. Server
// errors are logged, client errors are not.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		log.Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	http.Error(w, http.StatusText(status), status)
}
