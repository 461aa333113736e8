package server

import (
	"net/http"

	"github.com/jrsteele09/go-oauth-session/auth"
)

func (s *Server) initRoutes() {
	// LOGIN
	s.RegisterRouteHandler("GET "+RouteUserLogin, ChainMiddleware(s.LoginHandler(), s.UserMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteUserLogin+routeRedirectSuffix, ChainMiddleware(s.LoginHandler(), s.UserMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteUserAuthorized, ChainMiddleware(s.AuthorizedHandler(), s.UserMiddleware()...)) // form_post response mode

	// LOGOUT
	logout := s.gate.Require(s.LogoutHandler(), auth.AuthOK)
	s.RegisterRouteHandler("GET "+RouteUserLogout, ChainMiddleware(logout, s.UserMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteUserLogout+routeRedirectSuffix, ChainMiddleware(logout, s.UserMiddleware()...))

	// API routes
	s.RegisterRouteHandler("GET "+RouteUserInfo, ChainMiddleware(s.gate.Require(s.InfoHandler()), s.APIMiddleware()...))
	s.RegisterRouteHandler("OPTIONS "+RouteUserInfo, ChainMiddleware(http.NotFound, s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteUserPhoto, ChainMiddleware(s.gate.Require(s.PhotoHandler(), auth.AuthOK), s.UserMiddleware()...))

	if s.env == "DEV" {
		s.RegisterRouteHandler("GET "+RouteUserDebug, ChainMiddleware(s.DebugHandler(), s.UserMiddleware()...))
	}
}
