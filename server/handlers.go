package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jrsteele09/go-oauth-session/auth"
	"github.com/jrsteele09/go-oauth-session/authsession"
	"github.com/jrsteele09/go-oauth-session/graph"
)

// InfoHandler reports the profile of the caller. ?debug=1 reloads it first.
func (s *Server) InfoHandler() auth.Handler {
	return func(w http.ResponseWriter, r *http.Request, ses *authsession.OAuthSession) {
		if !ses.Authenticated() {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}

		res := map[string]any{}
		if r.URL.Query().Get("debug") != "" {
			res["debug"] = true
			if err := s.graph.Load(r.Context(), ses, graph.ModeManager); err != nil {
				res["profile_error"] = err.Error()
			}
		}
		res["mail"] = ses.Mail()
		res["name"] = ses.Name()
		res["manager_mail"] = ses.ManagerMail()
		res["manager_name"] = ses.ManagerName()

		for _, f := range s.infoFields {
			ok, err := f.pred.Check(r.Context(), ses)
			if err != nil {
				auth.WriteError(w, r, err)
				return
			}
			res[f.name] = ok
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// LogoutHandler clears the session and hands over to the provider logout page.
func (s *Server) LogoutHandler() auth.Handler {
	return func(w http.ResponseWriter, r *http.Request, ses *authsession.OAuthSession) {
		ses.Session().Clear()

		target := s.config.GetLogoutURI() + "logout?post_logout_redirect_uri=" + url.QueryEscape(s.logoutTarget(r))
		http.Redirect(w, r, target, http.StatusFound)
	}
}

// PhotoHandler streams the caller's profile photo from the graph API.
func (s *Server) PhotoHandler() auth.Handler {
	return func(w http.ResponseWriter, r *http.Request, ses *authsession.OAuthSession) {
		res, err := ses.Get(r.Context(), s.config.GetGraphURI()+graphPhotoPath)
		if err != nil {
			auth.WriteError(w, r, err)
			return
		}
		defer res.Body.Close()

		h := w.Header()
		for k, v := range res.Header {
			h[k] = v
		}
		for _, k := range droppedPhotoHeaders {
			h.Del(k)
		}
		h.Set("Cache-Control", photoCacheControl)
		w.WriteHeader(res.StatusCode)

		if _, err := io.Copy(w, res.Body); err != nil {
			logError(r.Method, r.URL.Path, err.Error())
		}
	}
}

// DebugHandler dumps the cookie and session as the server sees them.
func (s *Server) DebugHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.GetOrCreate(r)
		if err != nil {
			auth.WriteError(w, r, err)
			return
		}
		sess.Set("debug", true)

		var cookieValue any
		if c, err := r.Cookie(s.sessions.CookieName()); err == nil {
			cookieValue = c.Value
		}
		cookieNames := []string{}
		for _, c := range r.Cookies() {
			cookieNames = append(cookieNames, c.Name)
		}

		debug := map[string]any{
			"cookies.keys()": cookieNames,
			"session":        sess.Values(),
			"session.keys()": sess.Keys(),
			"ip": map[string]string{
				"host":          r.Host,
				"ip":            r.RemoteAddr,
				"X-Forw-For IP": r.Header.Get("X-Forwarded-For"),
			},
		}
		debug["cookies["+s.sessions.CookieName()+"]"] = cookieValue
		sess.Set("debug_previous", time.Now().Unix())
		writeJSON(w, http.StatusOK, debug)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logError("", "", err.Error())
	}
}
