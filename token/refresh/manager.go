package refresh

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Manager handles refresh token creation, validation, and rotation
type Manager struct {
	repo        Repo
	tokenLength int
	expiry      time.Duration
}

// NewManager creates a new refresh token manager
func NewManager(repo Repo, tokenLength int, expiry time.Duration) *Manager {
	return &Manager{
		repo:        repo,
		tokenLength: tokenLength,
		expiry:      expiry,
	}
}

// Create generates a new refresh token for userID and stores it
func (m *Manager) Create(userID string, remember bool) (*StoredRefreshToken, error) {
	tokenBytes := make([]byte, m.tokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}

	now := NowTimeFunc()
	rt := &StoredRefreshToken{
		Token:     hex.EncodeToString(tokenBytes),
		UserID:    userID,
		Remember:  remember,
		Iat:       now,
		ExpiresAt: now.Add(m.expiry),
	}
	if err := m.repo.Upsert(rt); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}
	return rt, nil
}

// Rotate validates token, revokes it and issues its replacement for the same user
func (m *Manager) Rotate(token string) (*StoredRefreshToken, error) {
	rt, err := m.repo.Get(token)
	if err != nil {
		return nil, autherrors.ErrInvalidRefreshToken
	}
	if err := m.repo.Delete(token); err != nil {
		return nil, fmt.Errorf("failed to delete refresh token: %w", err)
	}
	if m.IsExpired(rt) {
		return nil, autherrors.ErrRefreshTokenExpired
	}
	return m.Create(rt.UserID, rt.Remember)
}

// Revoke removes a refresh token. Unknown tokens are ignored.
func (m *Manager) Revoke(token string) error {
	if _, err := m.repo.Get(token); err != nil {
		return nil
	}
	return m.repo.Delete(token)
}

// RevokeUser removes every refresh token issued to userID
func (m *Manager) RevokeUser(userID string) error {
	return m.repo.DeleteByUserID(userID)
}

// Get retrieves a refresh token from storage
func (m *Manager) Get(token string) (*StoredRefreshToken, error) {
	return m.repo.Get(token)
}

// IsExpired checks if a refresh token has expired
func (m *Manager) IsExpired(rt *StoredRefreshToken) bool {
	return NowTimeFunc().After(rt.ExpiresAt)
}
