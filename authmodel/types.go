package authmodel

import (
	"maps"
	"time"
)

// LoginRequest is the body of POST RouteLogin.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`

	// Remember asks the server for a long-lived refresh cookie instead of a browser-session one.
	Remember bool `json:"remember,omitempty"`
}

// RegisterRequest is the body of POST RouteRegister.
type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// User is the authenticated-user record hydrated after login, registration or verification.
type User struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// TokenResponse is returned by login and register.
// The refresh credential never appears here: the server sets it as an httpOnly cookie.
type TokenResponse struct {
	// Access is the short-lived access credential. It is held in memory only.
	Access string `json:"access"`

	User *User `json:"user,omitempty"`

	// Next is an optional navigation hint, only sent on registration.
	Next *string `json:"next,omitempty"`
}

// RefreshResponse is returned by POST RouteRefresh.
type RefreshResponse struct {
	Access string `json:"access"`
}

// VerifyResponse is returned by GET RouteVerify.
type VerifyResponse struct {
	IsAuthenticated bool  `json:"isAuthenticated"`
	User            *User `json:"user,omitempty"`
}

// Document is an opaque user scoped JSON document (profile, settings).
type Document map[string]any

// Clone returns a shallow copy; nested values are shared.
func (d Document) Clone() Document {
	return maps.Clone(d)
}

// Entitlements is the plan payload of GET RouteEntitlements.
// Values are opaque to the client; they are cached, never evaluated.
type Entitlements struct {
	Plan      string     `json:"plan"`
	Entitled  bool       `json:"entitled"`
	CheckedAt *time.Time `json:"checked_at,omitempty"`

	// Fallback is set client-side when the authoritative fetch failed and the
	// free tier is assumed. The server never sends it.
	Fallback bool `json:"fallback,omitempty"`
}

// FreeTierFallback is substituted when entitlements could not be confirmed.
func FreeTierFallback() Entitlements {
	return Entitlements{Plan: "free", Entitled: false, Fallback: true}
}

// ErrorResponse is the JSON error body returned by the backend.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}
