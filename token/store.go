package token

import (
	"errors"
	"sync"
	"time"

	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/token/jwt"
	"golang.org/x/oauth2"
)

// ErrNotSerializable is returned when something tries to marshal a Store.
var ErrNotSerializable = errors.New("access token store is memory only")

// Store holds the current access credential in process memory. It has no
// persistence hook and refuses to be marshalled.
type Store struct {
	mu        sync.RWMutex
	raw       string
	expiresAt time.Time
}

var _ oauth2.TokenSource = (*Store)(nil)

func NewStore() *Store {
	return &Store{}
}

// Set replaces the access token. The expiry is peeked from the token when it is a JWT.
func (s *Store) Set(raw string) {
	var expiresAt time.Time
	if claims, err := jwt.Peek(raw); err == nil {
		expiresAt = claims.ExpiresAt
	}

	s.mu.Lock()
	s.raw = raw
	s.expiresAt = expiresAt
	s.mu.Unlock()
}

func (s *Store) Get() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.raw, s.raw != ""
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.raw = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}

// ExpiresAt reports the token expiry when it could be read from the token.
func (s *Store) ExpiresAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt, !s.expiresAt.IsZero()
}

// Token implements oauth2.TokenSource. Expiry is left zero so oauth2 never
// treats the token as stale; renewal is driven by authorization failures.
func (s *Store) Token() (*oauth2.Token, error) {
	raw, ok := s.Get()
	if !ok {
		return nil, autherrors.ErrNotAuthenticated
	}
	return &oauth2.Token{AccessToken: raw, TokenType: "Bearer"}, nil
}

func (s *Store) MarshalJSON() ([]byte, error) {
	return nil, ErrNotSerializable
}

func (s *Store) MarshalText() ([]byte, error) {
	return nil, ErrNotSerializable
}

func (s *Store) String() string {
	return "token.Store{redacted}"
}

func (s *Store) GoString() string {
	return s.String()
}
