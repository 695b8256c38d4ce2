package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used for local development and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]*User
	byEmail    map[string]string
	identities map[string]*LinkedIdentity
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]*User),
		byEmail:    make(map[string]string),
		identities: make(map[string]*LinkedIdentity),
	}
}

func (m *MemoryStore) Users(context.Context) UserStore          { return m }
func (m *MemoryStore) Identities(context.Context) IdentityStore { return m }

func (m *MemoryStore) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := strings.ToLower(u.Email)
	if _, ok := m.byEmail[email]; ok {
		return ErrConflict
	}
	if _, ok := m.users[u.ID]; ok {
		return ErrConflict
	}
	cp := cloneUser(u)
	m.users[u.ID] = cp
	m.byEmail[email] = u.ID
	return nil
}

func (m *MemoryStore) Find(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *MemoryStore) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(m.users[id]), nil
}

func (m *MemoryStore) ListByApproval(_ context.Context, status ApprovalStatus) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*User
	for _, u := range m.users {
		if u.ApprovalStatus == status {
			out = append(out, cloneUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpdateApproval(_ context.Context, id string, update ApprovalUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	at := update.ReviewedAt
	u.ApprovalStatus = update.Status
	u.ApprovedBy = update.ReviewedBy
	u.ApprovedAt = &at
	u.RejectionReason = update.RejectionReason
	u.UpdatedAt = at
	return nil
}

func (m *MemoryStore) SetActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.IsActive = active
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

func identityKey(provider, providerUserID string) string {
	return provider + "\x00" + providerUserID
}

func (m *MemoryStore) Link(_ context.Context, li *LinkedIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[li.UserID]; !ok {
		return ErrNotFound
	}
	key := identityKey(li.Provider, li.ProviderUserID)
	if _, ok := m.identities[key]; ok {
		return ErrConflict
	}
	cp := *li
	m.identities[key] = &cp
	return nil
}

func (m *MemoryStore) FindByProvider(_ context.Context, provider, providerUserID string) (*LinkedIdentity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	li, ok := m.identities[identityKey(provider, providerUserID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *li
	return &cp, nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string) ([]*LinkedIdentity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*LinkedIdentity
	for _, li := range m.identities {
		if li.UserID == userID {
			cp := *li
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func cloneUser(u *User) *User {
	cp := *u
	cp.Roles = append([]Role(nil), u.Roles...)
	if u.Metadata != nil {
		cp.Metadata = make(map[string]any, len(u.Metadata))
		for k, v := range u.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
