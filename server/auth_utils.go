package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jrsteele09/go-auth-session/authmodel"
	"github.com/jrsteele09/go-auth-session/token/refresh"
	"github.com/rs/zerolog/log"
)

// refreshCookiePath limits the refresh cookie to the auth endpoints.
const refreshCookiePath = "/api/auth"

// setRefreshCookie stores rt as an httpOnly cookie. Without Remember the
// cookie ends with the browser session.
func (s *Server) setRefreshCookie(w http.ResponseWriter, r *http.Request, rt *refresh.StoredRefreshToken) {
	cookie := &http.Cookie{
		Name:     s.config.GetRefreshCookieName(),
		Value:    rt.Token,
		Path:     refreshCookiePath,
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteStrictMode,
	}
	if rt.Remember {
		cookie.Expires = rt.ExpiresAt
		cookie.MaxAge = int(time.Until(rt.ExpiresAt).Seconds())
	}
	http.SetCookie(w, cookie)
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.GetRefreshCookieName(),
		Value:    "",
		Path:     refreshCookiePath,
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}

func (s *Server) refreshCookie(r *http.Request) (string, bool) {
	c, err := r.Cookie(s.config.GetRefreshCookieName())
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, authmodel.ErrorResponse{Error: code, Description: description})
}
