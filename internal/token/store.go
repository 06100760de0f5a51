package token

import (
	"context"
	"sync"
	"time"
)

// RefreshEntry is what a refresh token is bound to.
type RefreshEntry struct {
	Username  string
	ExpiresAt time.Time
}

// RefreshStore holds issued refresh tokens. Implementations must be safe for
// concurrent use.
type RefreshStore interface {
	Put(ctx context.Context, token string, e RefreshEntry) error
	Get(ctx context.Context, token string) (RefreshEntry, bool, error)
	// Delete is a no-op for unknown tokens.
	Delete(ctx context.Context, token string) error
	DeleteUser(ctx context.Context, username string) error
	// DeleteExpired removes entries that expired at or before now and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// MemoryStore keeps refresh tokens in process memory. Tokens do not survive
// a restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]RefreshEntry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]RefreshEntry)}
}

func (m *MemoryStore) Put(_ context.Context, token string, e RefreshEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[token] = e
	return nil
}

func (m *MemoryStore) Get(_ context.Context, token string) (RefreshEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[token]
	return e, ok, nil
}

func (m *MemoryStore) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, token)
	return nil
}

func (m *MemoryStore) DeleteUser(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for tok, e := range m.entries {
		if e.Username == username {
			delete(m.entries, tok)
		}
	}
	return nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for tok, e := range m.entries {
		if !now.Before(e.ExpiresAt) {
			delete(m.entries, tok)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored tokens.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
