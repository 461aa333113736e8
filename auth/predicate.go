package auth

import (
	"context"

	"github.com/jrsteele09/go-oauth-session/authsession"
	"github.com/jrsteele09/go-oauth-session/internal/errors"
)

// Predicate decides whether a session may proceed. It may block, for example
// to fetch a token. Returning an error ends the evaluation.
type Predicate interface {
	Check(ctx context.Context, ses *authsession.OAuthSession) (bool, error)
}

type predicateFunc func(ctx context.Context, ses *authsession.OAuthSession) (bool, error)

func (f predicateFunc) Check(ctx context.Context, ses *authsession.OAuthSession) (bool, error) {
	return f(ctx, ses)
}

// Check adapts a plain boolean test.
func Check(fn func(ses *authsession.OAuthSession) bool) Predicate {
	return predicateFunc(func(_ context.Context, ses *authsession.OAuthSession) (bool, error) {
		return fn(ses), nil
	})
}

// CheckContext adapts a test that needs the request context or can fail.
func CheckContext(fn func(ctx context.Context, ses *authsession.OAuthSession) (bool, error)) Predicate {
	return predicateFunc(fn)
}

// AuthOK passes when the session has an email, i.e. the user logged in.
var AuthOK = Check(func(ses *authsession.OAuthSession) bool {
	return ses.Authenticated()
})

// Or passes when any of preds passes, tried in order. When none does it fails
// with errors.ErrForbidden itself, so it can be mixed into a Require list.
func Or(preds ...Predicate) Predicate {
	return predicateFunc(func(ctx context.Context, ses *authsession.OAuthSession) (bool, error) {
		for _, p := range preds {
			ok, err := p.Check(ctx, ses)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, errors.ErrForbidden
	})
}
