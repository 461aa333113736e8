package server

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// isLocalHost reports whether host (optionally with a port) is the loopback.
func isLocalHost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// absoluteURL is path on the host the request arrived at. Behind a TLS
// terminating proxy the scheme is forced to https unless the host is local.
func (s *Server) absoluteURL(r *http.Request, path string) string {
	scheme := getScheme(r)
	if s.config.GetRequireHTTPS() && !isLocalHost(r.Host) {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: r.Host, Path: "/" + strings.TrimPrefix(path, "/")}
	return u.String()
}

// joinURL resolves ref against base the way a browser resolves a link.
func joinURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return base
	}
	rel, err := url.Parse(ref)
	if err != nil {
		return base
	}
	return b.ResolveReference(rel).String()
}

// loginTarget is where the browser returns after login: the referring local dev
// server when there is one, otherwise this site, plus the {to...} path.
func loginTarget(r *http.Request) string {
	base := r.Referer()
	if !strings.Contains(base, "localhost") {
		base = "/"
	}
	return joinURL(base, r.PathValue("to"))
}

// logoutTarget is the post logout landing page. The referer wins over the host.
func (s *Server) logoutTarget(r *http.Request) string {
	to := r.PathValue("to")
	if ref := r.Referer(); ref != "" {
		return joinURL(ref, to)
	}
	return s.absoluteURL(r, to)
}

// normaliseRedirect makes a relative stored redirect absolute to the site root.
func normaliseRedirect(target string) string {
	if u, err := url.Parse(target); err == nil && u.IsAbs() {
		return target
	}
	return "/" + strings.TrimLeft(target, "/")
}

// redirectSuccess sends the browser on after a completed flow
func redirectSuccess(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, path, http.StatusFound)
}
