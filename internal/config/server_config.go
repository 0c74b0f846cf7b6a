package config

import "time"

// ServerConfig configures the reference backend in package server.
type ServerConfig interface {
	GetIssuer() string
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	GetRefreshTokenLength() int
	GetRefreshCookieName() string
}

type Server struct{}

var _ ServerConfig = Server{}

func (Server) GetIssuer() string {
	return GetEnv("ISSUER", EnvVars{}.GetBaseURL())
}

func (Server) GetAccessTokenExpiry() time.Duration {
	return GetDurationEnv("ACCESS_TOKEN_EXPIRY", 15*time.Minute)
}

func (Server) GetRefreshTokenExpiry() time.Duration {
	return GetDurationEnv("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour) // 7 days
}

func (Server) GetRefreshTokenLength() int {
	return 32 // 32 bytes = 256 bits
}

func (Server) GetRefreshCookieName() string {
	return GetEnv("REFRESH_COOKIE_NAME", "refresh_token")
}
