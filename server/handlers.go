package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jrsteele09/go-auth-session/authmodel"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/rs/zerolog/log"
)

// registrationNext is where a newly registered user is sent.
const registrationNext = "/onboarding"

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body")
		return false
	}
	return true
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "app": s.config.GetAppName()})
	}
}

// issueTokens mints an access token and a refresh cookie for user.
func (s *Server) issueTokens(w http.ResponseWriter, r *http.Request, user *users.User, remember bool) (string, bool) {
	access, err := s.creator.CreateAccessToken(user, s.signer)
	if err != nil {
		log.Err(err).Str("user", user.ID).Msg("failed to create access token")
		writeError(w, http.StatusInternalServerError, "server_error", "Could not issue token")
		return "", false
	}
	rt, err := s.refresh.Create(user.ID, remember)
	if err != nil {
		log.Err(err).Str("user", user.ID).Msg("failed to create refresh token")
		writeError(w, http.StatusInternalServerError, "server_error", "Could not issue token")
		return "", false
	}
	s.setRefreshCookie(w, r, rt)
	return *access, true
}

// LoginHandler checks the credentials and returns {access, user}. The refresh
// credential is set as an httpOnly cookie.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authmodel.LoginRequest
		if !decodeBody(w, r, &req) {
			return
		}

		user, err := s.repos.Users.GetByUsername(req.Username)
		if err != nil || !users.CheckPasswordHash(req.Password, user.PasswordHash) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password")
			return
		}
		if user.Blocked {
			writeError(w, http.StatusForbidden, "account_blocked", "This account has been blocked")
			return
		}

		updated := *user
		updated.LastLogin = time.Now()
		if err := s.repos.Users.Upsert(&updated); err != nil {
			log.Err(err).Str("user", user.ID).Msg("failed to record last login")
		}

		access, ok := s.issueTokens(w, r, user, req.Remember)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, authmodel.TokenResponse{Access: access, User: user.Public()})
	}
}

func (s *Server) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authmodel.RegisterRequest
		if !decodeBody(w, r, &req) {
			return
		}

		user, err := s.CreateUser(req, users.PlanFree)
		switch {
		case autherrors.Is(err, autherrors.ErrUserExists):
			writeError(w, http.StatusConflict, "user_exists", "An account with that username or email already exists")
			return
		case autherrors.Is(err, autherrors.ErrWeakPassword), autherrors.Is(err, autherrors.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		case err != nil:
			log.Err(err).Msg("registration failed")
			writeError(w, http.StatusInternalServerError, "server_error", "Registration failed")
			return
		}

		access, ok := s.issueTokens(w, r, user, false)
		if !ok {
			return
		}
		writeJSON(w, http.StatusCreated, authmodel.TokenResponse{
			Access: access,
			User:   user.Public(),
			Next:   utils.Ptr(registrationNext),
		})
	}
}

// RefreshHandler rotates the refresh cookie and returns a new access token.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := s.refreshCookie(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid_refresh_token", "No refresh credential")
			return
		}

		rt, err := s.refresh.Rotate(raw)
		if err != nil {
			s.clearRefreshCookie(w, r)
			writeError(w, http.StatusUnauthorized, "invalid_refresh_token", err.Error())
			return
		}

		user, err := s.repos.Users.GetByID(rt.UserID)
		if err != nil || user.Blocked {
			_ = s.refresh.Revoke(rt.Token)
			s.clearRefreshCookie(w, r)
			writeError(w, http.StatusUnauthorized, "invalid_refresh_token", "Account unavailable")
			return
		}

		access, err := s.creator.CreateAccessToken(user, s.signer)
		if err != nil {
			log.Err(err).Str("user", user.ID).Msg("failed to create access token")
			writeError(w, http.StatusInternalServerError, "server_error", "Could not issue token")
			return
		}
		s.setRefreshCookie(w, r, rt)
		writeJSON(w, http.StatusOK, authmodel.RefreshResponse{Access: *access})
	}
}

func (s *Server) VerifyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.currentUser(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, authmodel.VerifyResponse{IsAuthenticated: true, User: user.Public()})
	}
}

// LogoutHandler revokes the refresh credential named by the cookie. It
// succeeds without one so a client can always complete its local logout.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if raw, ok := s.refreshCookie(r); ok {
			if err := s.refresh.Revoke(raw); err != nil {
				log.Err(err).Msg("failed to revoke refresh token")
			}
		}
		s.clearRefreshCookie(w, r)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) ProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.currentUser(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, user.Profile())
	}
}

func (s *Server) SettingsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.currentUser(w, r)
		if !ok {
			return
		}
		settings := user.Settings
		if settings == nil {
			settings = authmodel.Document{}
		}
		writeJSON(w, http.StatusOK, settings)
	}
}

func (s *Server) EntitlementsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.currentUser(w, r)
		if !ok {
			return
		}
		plan := user.Plan
		if plan == "" {
			plan = users.PlanFree
		}
		writeJSON(w, http.StatusOK, authmodel.Entitlements{
			Plan:      string(plan),
			Entitled:  plan != users.PlanFree,
			CheckedAt: utils.Ptr(time.Now().UTC()),
		})
	}
}

// currentUser loads the user named by the verified access token.
func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) (*users.User, bool) {
	user, err := s.repos.Users.GetByID(userIDFromContext(r.Context()))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "Unknown user")
		return nil, false
	}
	if user.Blocked {
		writeError(w, http.StatusForbidden, "account_blocked", "This account has been blocked")
		return nil, false
	}
	return user, true
}
