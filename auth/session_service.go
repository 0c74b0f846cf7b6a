// Package auth is the session facade consumed by view code: login,
// registration, logout, the access token, the initialization flag and the
// user scoped resource loaders.
package auth

import (
	"context"
	"net/http"
	"sync"

	"github.com/jrsteele09/go-auth-session/apiclient"
	"github.com/jrsteele09/go-auth-session/authmodel"
	"github.com/jrsteele09/go-auth-session/dedup"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/internal/logging"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/renewal"
	"github.com/jrsteele09/go-auth-session/resources"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/sessions/redisflag"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/transport"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// AuthResult is the outcome of Login and Register. Failures are reported
// here rather than as an error so forms can render them inline.
type AuthResult struct {
	Success bool
	User    *authmodel.User

	// Next is the server's post-registration navigation hint, if any.
	Next string

	// Error is the form message; Err the underlying cause.
	Error string
	Err   error
}

// SessionService owns one session: the memory-only access token, the logout
// flag, the renewal coordinator and the resource caches.
type SessionService struct {
	cfg      config.Config
	api      *apiclient.Client
	tokens   *token.Store
	flag     sessions.LogoutFlagStore
	coord    *renewal.Coordinator
	cache    *dedup.Cache
	res      *resources.UserResources
	verifier *verifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	onExpired        func(error)
	baseTransport    http.RoundTripper
	registerer       prometheus.Registerer
	browserSessionID string
	redisClient      redis.UniversalClient
	ownsRedis        bool
	loggerSet        bool

	mu            sync.RWMutex
	authenticated bool
	user          *authmodel.User
	generation    uint64
}

// Option configures a SessionService.
type Option func(*SessionService)

func WithLogger(l zerolog.Logger) Option {
	return func(s *SessionService) {
		s.logger = l
		s.loggerSet = true
	}
}

// WithLogoutFlagStore overrides the flag store chosen from configuration.
func WithLogoutFlagStore(fs sessions.LogoutFlagStore) Option {
	return func(s *SessionService) {
		s.flag = fs
	}
}

// WithRedisClient persists the logout flag in Redis through client.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(s *SessionService) {
		s.redisClient = client
	}
}

// WithBrowserSessionID scopes the persisted logout flag. Reuse the ID across
// reloads within one browsing session.
func WithBrowserSessionID(id string) Option {
	return func(s *SessionService) {
		s.browserSessionID = id
	}
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *SessionService) {
		s.registerer = reg
	}
}

// WithBaseTransport sets the round tripper under every outbound call.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(s *SessionService) {
		s.baseTransport = rt
	}
}

// WithSessionExpiredHandler is called after the session was torn down
// because renewal following an authorization failure failed. View code
// typically redirects to the login page.
func WithSessionExpiredHandler(fn func(error)) Option {
	return func(s *SessionService) {
		s.onExpired = fn
	}
}

func NewSessionService(cfg config.Config, options ...Option) (*SessionService, error) {
	if cfg == nil {
		return nil, errors.New("[NewSessionService] config is required")
	}

	s := &SessionService{
		cfg:      cfg,
		tokens:   token.NewStore(),
		verifier: newVerifier(),
	}
	for _, opt := range options {
		opt(s)
	}
	if !s.loggerSet {
		s.logger = logging.New(cfg.GetEnv(), cfg.GetLogLevel())
	}
	s.metrics = metrics.New(s.registerer)

	s.initFlagStore()

	apiOpts := []apiclient.Option{apiclient.WithTimeout(cfg.GetRequestTimeout())}
	if s.baseTransport != nil {
		apiOpts = append(apiOpts, apiclient.WithTransport(s.baseTransport))
	}
	api, err := apiclient.New(cfg.GetBaseURL(), apiOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "[NewSessionService] apiclient.New")
	}
	s.api = api

	coord, err := renewal.NewCoordinator(api, s.tokens, s.flag,
		cfg.GetRefreshCooldown(), cfg.GetMaxRefreshAttempts(),
		renewal.WithMetrics(s.metrics),
		renewal.WithAttemptTimeout(2*cfg.GetRequestTimeout()),
		renewal.WithLogger(s.logger.With().Str("component", "renewal").Logger()),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[NewSessionService] renewal.NewCoordinator")
	}
	s.coord = coord

	api.Authenticate(transport.New(s.tokens, coord,
		transport.WithBase(api.Transport()),
		transport.WithSessionExpired(s.sessionExpired),
		transport.WithMetrics(s.metrics),
		transport.WithLogger(s.logger.With().Str("component", "transport").Logger()),
	))

	s.cache = dedup.New(s.metrics, dedup.WithFetchTimeout(cfg.GetRequestTimeout()))
	resLogger := s.logger.With().Str("component", "resources").Logger()
	s.res = resources.NewUserResources(api, resources.Deps{
		Cache:         s.cache,
		Authenticated: s.IsAuthenticated,
		Metrics:       s.metrics,
		Logger:        &resLogger,
	})
	return s, nil
}

func (s *SessionService) initFlagStore() {
	if s.flag != nil {
		return
	}
	if s.redisClient == nil && s.cfg.GetRedisAddr() != "" {
		s.redisClient = redis.NewClient(&redis.Options{Addr: s.cfg.GetRedisAddr()})
		s.ownsRedis = true
	}
	if s.redisClient == nil {
		s.flag = sessions.NewMemoryFlagStore()
		return
	}
	if s.browserSessionID == "" {
		s.browserSessionID = sessions.NewBrowserSessionID()
	}
	s.flag = redisflag.New(s.redisClient, s.browserSessionID, s.cfg.GetBrowserSessionTTL())
}

// Close releases a Redis client the service created itself.
func (s *SessionService) Close() error {
	if s.ownsRedis && s.redisClient != nil {
		return s.redisClient.Close()
	}
	return nil
}

// Initialize runs the start-up verification once per service: a silent
// renewal from the refresh cookie. Later calls return immediately.
// IsInitialized is true once it has settled, whatever the outcome.
func (s *SessionService) Initialize(ctx context.Context) {
	if !s.verifier.begin() {
		return
	}
	defer s.verifier.finish()

	gen := s.currentGeneration()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("session verification panicked")
			s.clearIfGeneration(gen)
		}
	}()

	user, err := s.coord.Renew(ctx)
	if err != nil {
		s.logger.Info().Err(err).Msg("no session restored")
		s.clearIfGeneration(gen)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return
	}
	s.authenticated = true
	s.user = user
	s.logger.Info().Str("user", user.Username).Msg("session restored")
}

// Wait blocks until Initialize has settled.
func (s *SessionService) Wait(ctx context.Context) error {
	return s.verifier.wait(ctx)
}

func (s *SessionService) IsInitialized() bool {
	return s.verifier.current() == stateReady
}

func (s *SessionService) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// User returns a copy of the authenticated user, or nil.
func (s *SessionService) User() *authmodel.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	u.Roles = append([]string(nil), s.user.Roles...)
	return &u
}

// AccessToken returns the current access token. Do not keep it beyond one call.
func (s *SessionService) AccessToken() (string, bool) {
	return s.tokens.Get()
}

// HTTPClient returns the client that attaches the access token and renews on 401.
func (s *SessionService) HTTPClient() *http.Client {
	return s.api.HTTPClient()
}

func (s *SessionService) Login(ctx context.Context, username, password string, remember bool) AuthResult {
	resp, err := s.api.Login(ctx, authmodel.LoginRequest{
		Username: username,
		Password: password,
		Remember: remember,
	})
	if err != nil {
		s.logger.Info().Err(err).Str("username", username).Msg("login failed")
		return AuthResult{Error: formMessage(err), Err: err}
	}
	s.startSession(ctx, resp)
	return AuthResult{Success: true, User: resp.User}
}

func (s *SessionService) Register(ctx context.Context, req authmodel.RegisterRequest) AuthResult {
	resp, err := s.api.Register(ctx, req)
	if err != nil {
		s.logger.Info().Err(err).Str("username", req.Username).Msg("registration failed")
		return AuthResult{Error: formMessage(err), Err: err}
	}
	s.startSession(ctx, resp)
	return AuthResult{Success: true, User: resp.User, Next: utils.Value(resp.Next)}
}

func (s *SessionService) startSession(ctx context.Context, resp *authmodel.TokenResponse) {
	s.coord.Reset()
	s.res.Clear()
	s.cache.Clear()
	s.tokens.Set(resp.Access)
	if err := s.flag.Write(ctx, false); err != nil {
		s.logger.Warn().Err(err).Msg("could not clear logout flag")
	}

	s.mu.Lock()
	s.authenticated = true
	s.user = resp.User
	s.generation++
	s.mu.Unlock()
}

// Logout sets the logout flag, tells the server to revoke the refresh
// credential and clears all local state even if that call failed.
func (s *SessionService) Logout(ctx context.Context) {
	if err := s.coord.MarkLoggedOut(ctx); err != nil {
		s.logger.Err(err).Msg("could not persist logout flag")
	}
	if err := s.api.Logout(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("server logout failed")
	}
	s.clearSession()
	s.logger.Info().Msg("logged out")
}

func (s *SessionService) sessionExpired(err error) {
	s.clearSession()
	if s.onExpired != nil {
		s.onExpired(errors.Wrap(err, "session expired"))
	}
}

func (s *SessionService) clearSession() {
	s.mu.Lock()
	s.authenticated = false
	s.user = nil
	s.generation++
	s.mu.Unlock()

	s.tokens.Clear()
	s.res.Clear()
	s.cache.Clear()
}

func (s *SessionService) clearIfGeneration(gen uint64) {
	if s.currentGeneration() != gen {
		return
	}
	s.clearSession()
}

func (s *SessionService) currentGeneration() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

func (s *SessionService) Profile(ctx context.Context) (authmodel.Document, bool) {
	return s.res.Profile.Load(ctx, false)
}

func (s *SessionService) RefreshProfile(ctx context.Context) (authmodel.Document, bool) {
	return s.res.Profile.Load(ctx, true)
}

func (s *SessionService) Settings(ctx context.Context) (authmodel.Document, bool) {
	return s.res.Settings.Load(ctx, false)
}

func (s *SessionService) RefreshSettings(ctx context.Context) (authmodel.Document, bool) {
	return s.res.Settings.Load(ctx, true)
}

// Entitlements returns the cached plan, or the free tier fallback with
// EntitlementsError set when it could not be confirmed.
func (s *SessionService) Entitlements(ctx context.Context) (authmodel.Entitlements, bool) {
	return s.res.Entitlements.Load(ctx, false)
}

func (s *SessionService) RefreshEntitlements(ctx context.Context) (authmodel.Entitlements, bool) {
	return s.res.Entitlements.Load(ctx, true)
}

func (s *SessionService) EntitlementsError() string {
	return s.res.Entitlements.ErrorMessage()
}

// Metrics exposes the session counters.
func (s *SessionService) Metrics() *metrics.Metrics {
	return s.metrics
}
