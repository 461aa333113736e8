package server

import (
	"maps"
	"net/http"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-oauth-session/authsession"
	"github.com/jrsteele09/go-oauth-session/identity"
	"github.com/jrsteele09/go-oauth-session/sessions"
)

// Parameters the provider must post back to the callback
var requiredAuthResponse = []string{"code", "session_state", "state"}

// LoginHandler starts the code flow on a fresh session and redirects to the provider.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.New(r)
		if err != nil {
			logError(r.Method, r.URL.Path, err.Error())
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		ses, err := s.factory.New(sess)
		if err != nil {
			logError(r.Method, r.URL.Path, err.Error())
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		ses.SetRedirect(loginTarget(r))
		authURL, err := ses.BeginLogin(r.Context(), s.absoluteURL(r, RouteUserAuthorized), authsession.LoginOptions{})
		if err != nil {
			logError(r.Method, r.URL.Path, err.Error())
			http.Error(w, "Login is currently unavailable", http.StatusBadGateway)
			return
		}
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// AuthorizedHandler completes the code flow posted back by the provider
// (response_mode=form_post). Failures render a diagnostics page.
func (s *Server) AuthorizedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ses, msgs := s.checkAuthResponse(r)

		if ses != nil && len(msgs) == 0 {
			target := ses.Redirect()
			ses.SetRedirect("")
			redirectSuccess(w, r, target)
			return
		}

		if ses == nil {
			s.sessions.ExpireCookie(w)
		}
		s.writeLoginFailed(w, r, msgs)
	}
}

// checkAuthResponse validates the callback and completes the login. A nil
// session means the request was unusable and the caller's cookie should go.
func (s *Server) checkAuthResponse(r *http.Request) (*authsession.OAuthSession, diagnostics) {
	var msgs diagnostics

	if err := r.ParseForm(); err != nil {
		msgs.add("Could not parse auth_response: " + err.Error())
		return nil, msgs
	}
	resp := identity.AuthResponse{}
	for k := range r.PostForm {
		resp[k] = r.PostForm.Get(k)
	}

	for _, k := range requiredAuthResponse {
		if resp[k] == "" {
			msgs.add("Expected 'code', 'session_state', 'state' in auth_response")
			msgs.addf("Received auth_response: %s", slices.Sorted(maps.Keys(resp)))
			return nil, msgs
		}
	}

	if c, err := r.Cookie(s.sessions.CookieName()); err != nil || c.Value == "" {
		msgs.addf("<b>Expected '%s' in cookies</b>", s.sessions.CookieName())
		cookies := map[string]any{}
		for _, c := range r.Cookies() {
			cookies[c.Name] = c.Value
		}
		msgs.addTable(cookies)
		msgs.add("Cookie should be set with Samesite:None")
	}

	sess, err := s.sessions.GetOrCreate(r)
	if err != nil {
		msgs.add(err.Error())
		return nil, msgs
	}
	if sess.IsNew() {
		msgs.add("Warning: This is a new session and may not have all expected values.")
	}
	if _, ok := sess.Get(sessions.KeyFlowCache); !ok {
		msgs.addf("<b>Expected '%s' in session</b>", sessions.KeyFlowCache)
		msgs.addTable(sess.Values())
	}

	ses, err := s.factory.New(sess)
	if err != nil {
		msgs.add(err.Error())
		return nil, msgs
	}
	ses.SetRedirect(normaliseRedirect(ses.Redirect()))

	if len(msgs) > 0 {
		return ses, msgs
	}

	if err := ses.CompleteLogin(r.Context(), resp); err != nil {
		msgs.addf("<b>Could not get token</b> - %s", "CompleteLogin")
		msgs.add(err.Error())
		return ses, msgs
	}

	if err := s.graph.Load(r.Context(), ses, s.mode); err != nil {
		log.Warn().Err(err).Msg("Could not load profile after login")
		msgs.add("Could not get org info from MS graph")
		msgs.add(err.Error())
		ses.SetMail("")
		ses.SetName("")
	}

	if ses.Mail() != "" {
		for _, cb := range s.loginCallbacks {
			if err := cb(r, ses); err != nil {
				msgs.add("Login callback failed")
				msgs.add(err.Error())
				break
			}
		}
	}
	return ses, msgs
}
