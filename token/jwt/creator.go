package jwt

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/token/keys"
	"github.com/jrsteele09/go-auth-session/users"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Creator handles access token creation for the reference backend
type Creator struct {
	issuer string
	expiry time.Duration
}

// NewCreator creates a new JWT creator
func NewCreator(issuer string, expiry time.Duration) *Creator {
	return &Creator{
		issuer: issuer,
		expiry: expiry,
	}
}

// CreateAccessToken creates a short-lived bearer access token for user
func (c *Creator) CreateAccessToken(user *users.User, signer keys.Signer) (*string, error) {
	now := NowTimeFunc()
	claims := jwtlib.MapClaims{
		"iss":      c.issuer,
		"sub":      user.ID,
		"username": user.Username,
		"roles":    user.RoleNames(),
		"iat":      now.Unix(),
		"exp":      now.Add(c.expiry).Unix(),
		"jti":      uuid.New().String(),
	}

	signedToken, err := signer.Sign(claims)
	if err != nil {
		return nil, fmt.Errorf("failed to sign JWT token: %w", err)
	}
	return &signedToken, nil
}
