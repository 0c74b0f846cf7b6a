package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session client and the reference backend
var (
	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrWeakPassword       = errors.New("password does not meet requirements")

	// Token errors
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// Session errors
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrSessionExpired      = errors.New("session expired")
	ErrLoggedOut           = errors.New("user explicitly logged out")
	ErrIdentityUnavailable = errors.New("identity could not be verified")

	// Renewal throttling. Cooldown and ceiling both wrap ErrRenewalThrottled.
	ErrRenewalThrottled = errors.New("renewal throttled")
	ErrRenewalCooldown  = fmt.Errorf("%w: cooldown window active", ErrRenewalThrottled)
	ErrRenewalCeiling   = fmt.Errorf("%w: attempt ceiling reached", ErrRenewalThrottled)

	// General errors
	ErrNotFound       = errors.New("not found")
	ErrInternal       = errors.New("internal error")
	ErrInvalidRequest = errors.New("invalid request")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
