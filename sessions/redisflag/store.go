// Package redisflag persists the logout flag in Redis, keyed by browser
// session and expiring with it, so a reload within the session still sees it.
package redisflag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "session:logout:"

type Store struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

var _ sessions.LogoutFlagStore = (*Store)(nil)

// New scopes the flag to browserSessionID. ttl bounds the browsing session lifetime.
func New(client redis.UniversalClient, browserSessionID string, ttl time.Duration) *Store {
	return &Store{
		client: client,
		key:    keyPrefix + browserSessionID,
		ttl:    ttl,
	}
}

func (s *Store) Read(ctx context.Context) (bool, error) {
	v, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redisflag read: %w", err)
	}
	return v == "1", nil
}

// Write stores true with the session TTL and deletes the key for false.
func (s *Store) Write(ctx context.Context, loggedOut bool) error {
	if !loggedOut {
		if err := s.client.Del(ctx, s.key).Err(); err != nil {
			return fmt.Errorf("redisflag clear: %w", err)
		}
		return nil
	}
	if err := s.client.Set(ctx, s.key, "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("redisflag write: %w", err)
	}
	return nil
}
