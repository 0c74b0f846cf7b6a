package server

import (
	"net/http"

	"github.com/jrsteele09/go-auth-session/authmodel"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+authmodel.RouteHealth, s.HealthHandler())
	if s.gatherer != nil {
		s.RegisterRouteHandler("GET "+authmodel.RouteMetrics, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// CORS preflight for every API route
	s.RegisterRouteHandler("OPTIONS /api/", ChainMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, s.APIMiddleware()...))

	// Credential endpoints
	s.RegisterRouteHandler("POST "+authmodel.RouteLogin, ChainMiddleware(s.LoginHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+authmodel.RouteRegister, ChainMiddleware(s.RegisterHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+authmodel.RouteRefresh, ChainMiddleware(s.RefreshHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+authmodel.RouteLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+authmodel.RouteVerify, ChainMiddleware(s.VerifyHandler(), s.APIMiddleware(s.RequireAuth())...))

	// User scoped resources
	s.RegisterRouteHandler("GET "+authmodel.RouteProfile, ChainMiddleware(s.ProfileHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("GET "+authmodel.RouteSettings, ChainMiddleware(s.SettingsHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("GET "+authmodel.RouteEntitlements, ChainMiddleware(s.EntitlementsHandler(), s.APIMiddleware(s.RequireAuth())...))
}
