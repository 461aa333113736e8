package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-oauth-session/auth"
	"github.com/jrsteele09/go-oauth-session/authsession"
	"github.com/jrsteele09/go-oauth-session/graph"
	"github.com/jrsteele09/go-oauth-session/internal/config"
	"github.com/jrsteele09/go-oauth-session/internal/errors"
	"github.com/jrsteele09/go-oauth-session/metrics"
	"github.com/jrsteele09/go-oauth-session/sessions"
)

// LoginCallback runs after a successful login that produced a mail address.
type LoginCallback func(r *http.Request, ses *authsession.OAuthSession) error

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Sessions *sessions.Manager
	Factory  *authsession.Factory
	// Graph defaults to a loader on the configured GRAPH_URI
	Graph *graph.Loader
	// ProfileMode is what the callback loads after the token exchange, graph.ModeManager when empty
	ProfileMode graph.Mode
	Metrics     *metrics.Metrics
}

type Server struct {
	env      string // Environment (e.g., "DEV", "PROD")
	mux      *http.ServeMux
	handler  http.Handler
	routes   []string
	config   config.Config
	sessions *sessions.Manager
	factory  *authsession.Factory
	gate     *auth.Gate
	graph    *graph.Loader
	mode     graph.Mode

	infoFields     []infoField
	loginCallbacks []LoginCallback
}

type infoField struct {
	name string
	pred auth.Predicate
}

func New(config config.Config, deps Deps) (*Server, error) {
	if deps.Sessions == nil || deps.Factory == nil {
		return nil, fmt.Errorf("[Server New] %w: sessions and factory are required", errors.ErrInvalidArgument)
	}

	s := &Server{
		env:      config.GetEnv(),
		mux:      http.NewServeMux(),
		config:   config,
		sessions: deps.Sessions,
		factory:  deps.Factory,
		graph:    deps.Graph,
		mode:     deps.ProfileMode,
		gate: &auth.Gate{
			Sessions: deps.Sessions,
			Factory:  deps.Factory,
			Metrics:  deps.Metrics,
		},
	}
	if s.graph == nil {
		s.graph = graph.NewLoader(config.GetGraphURI())
	}
	if s.mode == graph.ModeNone {
		s.mode = graph.ModeManager
	}
	s.AddInfoField("authenticated", auth.AuthOK)
	s.handler = deps.Sessions.Middleware(s.mux)

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Gate returns the authorization gate bound to the server sessions, for
// registering application routes.
func (s *Server) Gate() *auth.Gate {
	return s.gate
}

// AddInfoField adds a boolean field to the /user/info response, evaluated
// against the caller's session.
func (s *Server) AddInfoField(name string, pred auth.Predicate) {
	for i, f := range s.infoFields {
		if f.name == name {
			s.infoFields[i].pred = pred
			return
		}
	}
	s.infoFields = append(s.infoFields, infoField{name: name, pred: pred})
}

// OnLogin registers a callback run after each successful login.
func (s *Server) OnLogin(cb LoginCallback) {
	s.loginCallbacks = append(s.loginCallbacks, cb)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func displayMethod(method string) string {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		return color + paddedMethod + ResetColor
	}
	return Gray + paddedMethod + ResetColor
}

func logRoute(method, path string) {
	log.Info().Msgf("[%-19s] %s", displayMethod(method), path)
}

func logError(method, path, error string) {
	log.Error().Msgf("[%-19s] %s %s", displayMethod(method), path, Red+error+ResetColor)
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
