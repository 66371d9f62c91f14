package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a single-node Store. It backs tests and deployments that
// run without Redis; expiry is enforced on access.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	session   Session
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Save stores the session under its state for ttl.
func (m *MemoryStore) Save(_ context.Context, s Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[s.State] = memoryEntry{session: s, expiresAt: m.now().Add(ttl)}
	m.pruneLocked()
	return nil
}

// Consume removes and returns the session for state, or nil when the state
// is unknown, expired, or already consumed.
func (m *MemoryStore) Consume(_ context.Context, state string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[state]
	if !ok {
		return nil, nil
	}
	delete(m.entries, state)
	if m.now().After(entry.expiresAt) {
		return nil, nil
	}
	copied := entry.session
	return &copied, nil
}

// Delete drops the session for state if present.
func (m *MemoryStore) Delete(_ context.Context, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, state)
	return nil
}

func (m *MemoryStore) pruneLocked() {
	now := m.now()
	for state, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, state)
		}
	}
}
