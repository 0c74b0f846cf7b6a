// Package server is the reference backend for the session endpoints: login,
// registration, refresh, identity verification, logout and the user scoped
// resources. It is used by cmd/devserver and by the end to end tests.
package server

import (
	"crypto"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/token/jwt"
	"github.com/jrsteele09/go-auth-session/token/keys"
	"github.com/jrsteele09/go-auth-session/token/refresh"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Repos holds the storage dependencies of the Server
type Repos struct {
	Users         users.UserRepo
	RefreshTokens refresh.Repo
}

type Server struct {
	env      string
	mux      *http.ServeMux
	routes   []string
	config   config.Config
	repos    Repos
	signer   *keys.KeyPairSigner
	creator  *jwt.Creator
	refresh  *refresh.Manager
	verifier *oidc.IDTokenVerifier
	gatherer prometheus.Gatherer
}

type Option func(*Server)

// WithGatherer exposes gatherer on RouteMetrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

func New(config config.Config, repos Repos, signer *keys.KeyPairSigner, options ...Option) (*Server, error) {
	if repos.Users == nil {
		return nil, fmt.Errorf("[Server New] Users repo is required")
	}
	if repos.RefreshTokens == nil {
		return nil, fmt.Errorf("[Server New] RefreshTokens repo is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("[Server New] signer is required")
	}

	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{signer.PublicKey()}}
	verifier := oidc.NewVerifier(config.GetIssuer(), keySet, &oidc.Config{
		SkipClientIDCheck:    true,
		SupportedSigningAlgs: []string{signer.GetSigningMethod().Alg()},
	})

	s := &Server{
		env:      config.GetEnv(),
		mux:      http.NewServeMux(),
		config:   config,
		repos:    repos,
		signer:   signer,
		creator:  jwt.NewCreator(config.GetIssuer(), config.GetAccessTokenExpiry()),
		refresh:  refresh.NewManager(repos.RefreshTokens, config.GetRefreshTokenLength(), config.GetRefreshTokenExpiry()),
		verifier: verifier,
	}
	for _, opt := range options {
		opt(s)
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
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
		return
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

func logRoute(method, path string) {
	log.Info().Msgf("[%-19s] %s", colouredMethod(method), path)
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
