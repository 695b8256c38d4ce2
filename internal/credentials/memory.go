package credentials

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store and Catalog used for local development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	llm      map[string]*LLMCredential
	mcp      map[string]*MCPCredential
	bindings map[string]*ProjectBinding
	usage    []UsageEntry

	models  map[string]*Model
	servers map[string]*MCPServer
	methods map[string][]AuthMethod
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ Catalog = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		llm:      make(map[string]*LLMCredential),
		mcp:      make(map[string]*MCPCredential),
		bindings: make(map[string]*ProjectBinding),
		models:   make(map[string]*Model),
		servers:  make(map[string]*MCPServer),
		methods:  make(map[string][]AuthMethod),
	}
}

func (m *MemoryStore) LLM(context.Context) LLMStore          { return memLLM{m} }
func (m *MemoryStore) MCP(context.Context) MCPStore          { return memMCP{m} }
func (m *MemoryStore) Bindings(context.Context) BindingStore { return memBindings{m} }
func (m *MemoryStore) Usage(context.Context) UsageLog        { return memUsage{m} }

// AddModel seeds the catalog.
func (m *MemoryStore) AddModel(model Model) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := model
	m.models[model.ID] = &cp
}

// AddServer seeds the catalog with an MCP server and its auth methods, newest first.
func (m *MemoryStore) AddServer(server MCPServer, methods ...AuthMethod) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := server
	m.servers[server.ID] = &cp
	m.methods[server.ID] = append([]AuthMethod(nil), methods...)
}

// UsageEntries returns a copy of the usage log in insertion order.
func (m *MemoryStore) UsageEntries() []UsageEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]UsageEntry(nil), m.usage...)
}

func (m *MemoryStore) FindModel(_ context.Context, id string) (*Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	model, ok := m.models[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *model
	return &cp, nil
}

func (m *MemoryStore) FindServer(_ context.Context, id string) (*MCPServer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	server, ok := m.servers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *server
	return &cp, nil
}

func (m *MemoryStore) ListAuthMethods(_ context.Context, serverID string) ([]AuthMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuthMethod(nil), m.methods[serverID]...), nil
}

type memLLM struct{ m *MemoryStore }

func (s memLLM) Create(_ context.Context, c *LLMCredential) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.llm[c.ID]; ok {
		return ErrConflict
	}
	cp := *c
	s.m.llm[c.ID] = &cp
	return nil
}

func (s memLLM) Find(_ context.Context, id, ownerID string) (*LLMCredential, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.llm[id]
	if !ok || c.UserID != ownerID {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s memLLM) FindAny(_ context.Context, id string) (*LLMCredential, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.llm[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s memLLM) ListByOwner(_ context.Context, ownerID string) ([]*LLMCredential, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*LLMCredential
	for _, c := range s.m.llm {
		if c.UserID == ownerID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s memLLM) Update(_ context.Context, c *LLMCredential) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cur, ok := s.m.llm[c.ID]
	if !ok || cur.UserID != c.UserID {
		return ErrNotFound
	}
	cp := *c
	// counters belong to IncrementUsage
	cp.UsageCount, cp.LastUsedAt = cur.UsageCount, cur.LastUsedAt
	s.m.llm[c.ID] = &cp
	return nil
}

func (s memLLM) Delete(_ context.Context, id, ownerID string) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.llm[id]
	if !ok || c.UserID != ownerID {
		return false, nil
	}
	delete(s.m.llm, id)
	return true, nil
}

func (s memLLM) IncrementUsage(_ context.Context, id string, at time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.llm[id]
	if !ok {
		return 0, ErrNotFound
	}
	c.UsageCount++
	t := at
	c.LastUsedAt = &t
	return c.UsageCount, nil
}

type memMCP struct{ m *MemoryStore }

func (s memMCP) Create(_ context.Context, c *MCPCredential) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.mcp[c.ID]; ok {
		return ErrConflict
	}
	s.m.mcp[c.ID] = cloneMCP(c)
	return nil
}

func (s memMCP) Find(_ context.Context, id, ownerID string) (*MCPCredential, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.mcp[id]
	if !ok || c.UserID != ownerID {
		return nil, ErrNotFound
	}
	return cloneMCP(c), nil
}

func (s memMCP) FindAny(_ context.Context, id string) (*MCPCredential, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.mcp[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMCP(c), nil
}

func (s memMCP) ListByOwner(_ context.Context, ownerID string) ([]*MCPCredential, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*MCPCredential
	for _, c := range s.m.mcp {
		if c.UserID == ownerID {
			out = append(out, cloneMCP(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s memMCP) Update(_ context.Context, c *MCPCredential) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cur, ok := s.m.mcp[c.ID]
	if !ok || cur.UserID != c.UserID {
		return ErrNotFound
	}
	cp := cloneMCP(c)
	cp.UsageCount, cp.LastUsedAt = cur.UsageCount, cur.LastUsedAt
	s.m.mcp[c.ID] = cp
	return nil
}

func (s memMCP) Delete(_ context.Context, id, ownerID string) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.mcp[id]
	if !ok || c.UserID != ownerID {
		return false, nil
	}
	delete(s.m.mcp, id)
	return true, nil
}

func (s memMCP) IncrementUsage(_ context.Context, id string, at time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.mcp[id]
	if !ok {
		return 0, ErrNotFound
	}
	c.UsageCount++
	t := at
	c.LastUsedAt = &t
	return c.UsageCount, nil
}

type memBindings struct{ m *MemoryStore }

func (s memBindings) Upsert(_ context.Context, b *ProjectBinding) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cp := *b
	cp.MCPCredentialIDs = append([]string(nil), b.MCPCredentialIDs...)
	s.m.bindings[b.ProjectID] = &cp
	return nil
}

func (s memBindings) Find(_ context.Context, projectID string) (*ProjectBinding, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	b, ok := s.m.bindings[projectID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	cp.MCPCredentialIDs = append([]string(nil), b.MCPCredentialIDs...)
	return &cp, nil
}

type memUsage struct{ m *MemoryStore }

func (s memUsage) Append(_ context.Context, e *UsageEntry) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.usage = append(s.m.usage, *e)
	return nil
}

func cloneMCP(c *MCPCredential) *MCPCredential {
	cp := *c
	cp.Scopes = append([]string(nil), c.Scopes...)
	return &cp
}
