package config

import "time"

// SessionConfig tunes the client-side session manager.
type SessionConfig interface {
	GetRefreshCooldown() time.Duration
	GetMaxRefreshAttempts() int
	GetRequestTimeout() time.Duration
	GetBrowserSessionTTL() time.Duration
}

type Session struct{}

var _ SessionConfig = Session{}

// GetRefreshCooldown is the minimum gap between two renewal attempts.
func (Session) GetRefreshCooldown() time.Duration {
	return GetDurationEnv("SESSION_REFRESH_COOLDOWN", 5*time.Second)
}

// GetMaxRefreshAttempts is the ceiling on renewal attempts before a fresh login is required.
func (Session) GetMaxRefreshAttempts() int {
	return GetIntEnv("SESSION_MAX_REFRESH_ATTEMPTS", 3)
}

func (Session) GetRequestTimeout() time.Duration {
	return GetDurationEnv("SESSION_REQUEST_TIMEOUT", 10*time.Second)
}

// GetBrowserSessionTTL bounds how long a persisted logout flag survives.
func (Session) GetBrowserSessionTTL() time.Duration {
	return GetDurationEnv("SESSION_BROWSER_TTL", 12*time.Hour)
}
