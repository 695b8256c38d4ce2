package credentials

import (
	"context"
	"time"
)

// Store describes the persistence the credential service relies on.
type Store interface {
	LLM(ctx context.Context) LLMStore
	MCP(ctx context.Context) MCPStore
	Bindings(ctx context.Context) BindingStore
	Usage(ctx context.Context) UsageLog
}

// LLMStore persists LLM credentials. Lookups and writes are scoped to the owner;
// a row owned by someone else behaves exactly like a missing row.
type LLMStore interface {
	Create(ctx context.Context, c *LLMCredential) error
	Find(ctx context.Context, id, ownerID string) (*LLMCredential, error)
	// FindAny skips the owner filter. Used only when resolving through a project binding.
	FindAny(ctx context.Context, id string) (*LLMCredential, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*LLMCredential, error)
	Update(ctx context.Context, c *LLMCredential) error
	Delete(ctx context.Context, id, ownerID string) (bool, error)
	// IncrementUsage atomically bumps usage_count and last_used_at and returns the new count.
	IncrementUsage(ctx context.Context, id string, at time.Time) (int64, error)
}

// MCPStore persists MCP credentials with the same ownership rules as LLMStore.
type MCPStore interface {
	Create(ctx context.Context, c *MCPCredential) error
	Find(ctx context.Context, id, ownerID string) (*MCPCredential, error)
	FindAny(ctx context.Context, id string) (*MCPCredential, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*MCPCredential, error)
	Update(ctx context.Context, c *MCPCredential) error
	Delete(ctx context.Context, id, ownerID string) (bool, error)
	IncrementUsage(ctx context.Context, id string, at time.Time) (int64, error)
}

// BindingStore persists project credential bindings, one per project.
type BindingStore interface {
	Upsert(ctx context.Context, b *ProjectBinding) error
	Find(ctx context.Context, projectID string) (*ProjectBinding, error)
}

// UsageLog is append-only.
type UsageLog interface {
	Append(ctx context.Context, e *UsageEntry) error
}

// Catalog answers lookups against the marketplace model and server catalog.
type Catalog interface {
	FindModel(ctx context.Context, id string) (*Model, error)
	FindServer(ctx context.Context, id string) (*MCPServer, error)
	// ListAuthMethods returns the server's methods, newest first.
	ListAuthMethods(ctx context.Context, serverID string) ([]AuthMethod, error)
}
