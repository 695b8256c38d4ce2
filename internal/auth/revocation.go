package auth

import (
	"context"
	"sync"
	"time"
)

// RevocationList records refresh token ids (jti) that must no longer be accepted.
type RevocationList interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	// Claim revokes tokenID only if it is not revoked yet and reports whether this call did it.
	// Of any number of concurrent claims on one id, exactly one returns true.
	Claim(ctx context.Context, tokenID string, until time.Time) (bool, error)
}

// MemoryRevocations is a per-process RevocationList. Entries are dropped once their token would have expired anyway.
type MemoryRevocations struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevocations returns an empty in-memory list.
func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{entries: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryRevocations) Revoke(_ context.Context, tokenID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	m.entries[tokenID] = until
	return nil
}

func (m *MemoryRevocations) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.entries[tokenID]
	if !ok {
		return false, nil
	}
	if m.now().After(until) {
		delete(m.entries, tokenID)
		return false, nil
	}
	return true, nil
}

func (m *MemoryRevocations) Claim(_ context.Context, tokenID string, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	if _, ok := m.entries[tokenID]; ok || !until.After(m.now()) {
		return false, nil
	}
	m.entries[tokenID] = until
	return true, nil
}

func (m *MemoryRevocations) sweepLocked() {
	now := m.now()
	for id, until := range m.entries {
		if now.After(until) {
			delete(m.entries, id)
		}
	}
}
