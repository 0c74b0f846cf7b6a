package sessions

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// LogoutFlagStore persists "the user explicitly logged out, do not silently
// re-authenticate" for the lifetime of one browsing session. It is a guard
// only, never the source of authentication truth.
type LogoutFlagStore interface {
	Read(ctx context.Context) (bool, error)
	Write(ctx context.Context, loggedOut bool) error
}

// NewBrowserSessionID returns a fresh identifier scoping a persisted logout flag.
func NewBrowserSessionID() string {
	return uuid.New().String()
}

// MemoryFlagStore keeps the flag for the life of the process.
type MemoryFlagStore struct {
	mu        sync.RWMutex
	loggedOut bool
}

var _ LogoutFlagStore = (*MemoryFlagStore)(nil)

func NewMemoryFlagStore() *MemoryFlagStore {
	return &MemoryFlagStore{}
}

func (m *MemoryFlagStore) Read(_ context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loggedOut, nil
}

func (m *MemoryFlagStore) Write(_ context.Context, loggedOut bool) error {
	m.mu.Lock()
	m.loggedOut = loggedOut
	m.mu.Unlock()
	return nil
}
