package credentials

import (
	"context"
	"errors"
	"fmt"

	"agenthub.io/internal/auth"
	"agenthub.io/internal/obs"
)

// Usage describes who is dereferencing a credential and why.
type Usage struct {
	UserID    string
	ProjectID string
	Operation string
	RequestID string
	UserAgent string
	IPAddress string
	// RequireOwner restricts resolution to credentials owned by UserID.
	RequireOwner bool
}

const (
	OpExecute        = "execute"
	OpConnectionTest = "connection_test"
	OpOAuthAuthorize = "oauth_authorize"
)

// ResolveLLMForUse decrypts an LLM credential for immediate use. Each call records one
// usage row and one counter increment, whether or not decryption succeeds.
func (s *Service) ResolveLLMForUse(ctx context.Context, id string, u Usage) (*LLMSecrets, error) {
	var (
		cred *LLMCredential
		err  error
	)
	if u.RequireOwner {
		cred, err = s.store.LLM(ctx).Find(ctx, id, u.UserID)
	} else {
		cred, err = s.store.LLM(ctx).FindAny(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if !cred.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrInactive, id)
	}

	out := &LLMSecrets{CredentialID: cred.ID, ModelID: cred.ModelID}
	decErr := s.openInto(
		openField{cred.EncryptedAPIKey, &out.APIKey},
		openField{cred.EncryptedSecretKey, &out.SecretKey},
		openField{cred.EncryptedOrganizationID, &out.OrganizationID},
		openField{cred.EncryptedProjectID, &out.ProjectID},
	)

	now := s.now().UTC()
	if _, err := s.store.LLM(ctx).IncrementUsage(ctx, cred.ID, now); err != nil {
		return nil, err
	}
	entry := s.usageEntry(u, cred.UserID, decErr)
	entry.LLMCredentialID = cred.ID
	if err := s.store.Usage(ctx).Append(ctx, entry); err != nil {
		return nil, err
	}
	obs.ObserveCredentialResolution("llm", decErr == nil)
	if decErr != nil {
		return nil, decErr
	}
	return out, nil
}

// ResolveMCPForUse decrypts an MCP credential for immediate use with the same bookkeeping
// as ResolveLLMForUse.
func (s *Service) ResolveMCPForUse(ctx context.Context, id string, u Usage) (*MCPSecrets, error) {
	var (
		cred *MCPCredential
		err  error
	)
	if u.RequireOwner {
		cred, err = s.store.MCP(ctx).Find(ctx, id, u.UserID)
	} else {
		cred, err = s.store.MCP(ctx).FindAny(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if !cred.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrInactive, id)
	}

	out := &MCPSecrets{
		CredentialID: cred.ID,
		ServerID:     cred.ServerID,
		Scopes:       append([]string(nil), cred.Scopes...),
	}
	decErr := s.openInto(
		openField{cred.EncryptedClientID, &out.ClientID},
		openField{cred.EncryptedClientSecret, &out.ClientSecret},
		openField{cred.EncryptedAccessToken, &out.AccessToken},
		openField{cred.EncryptedRefreshToken, &out.RefreshToken},
		openField{cred.EncryptedAPIKey, &out.APIKey},
	)

	now := s.now().UTC()
	if _, err := s.store.MCP(ctx).IncrementUsage(ctx, cred.ID, now); err != nil {
		return nil, err
	}
	entry := s.usageEntry(u, cred.UserID, decErr)
	entry.MCPCredentialID = cred.ID
	if err := s.store.Usage(ctx).Append(ctx, entry); err != nil {
		return nil, err
	}
	obs.ObserveCredentialResolution("mcp", decErr == nil)
	if decErr != nil {
		return nil, decErr
	}
	return out, nil
}

// Outcome reports how the downstream call that used a credential went.
type Outcome struct {
	Usage
	LLMCredentialID string
	MCPCredentialID string
	Success         bool
	ErrorMessage    string
	TokensUsed      *int64
	CostInCents     *int64
}

// RecordOutcome appends a usage row for a downstream result. Counters are not touched;
// they were bumped when the credential was resolved.
func (s *Service) RecordOutcome(ctx context.Context, o Outcome) error {
	if o.LLMCredentialID == "" && o.MCPCredentialID == "" {
		return &auth.ValidationError{Violations: []string{"a credential id is required"}}
	}
	entry := s.usageEntry(o.Usage, o.UserID, nil)
	entry.LLMCredentialID = o.LLMCredentialID
	entry.MCPCredentialID = o.MCPCredentialID
	entry.Success = o.Success
	entry.ErrorMessage = o.ErrorMessage
	entry.TokensUsed = o.TokensUsed
	entry.CostInCents = o.CostInCents
	return s.store.Usage(ctx).Append(ctx, entry)
}

func (s *Service) usageEntry(u Usage, ownerID string, decErr error) *UsageEntry {
	userID := u.UserID
	if userID == "" {
		userID = ownerID
	}
	op := u.Operation
	if op == "" {
		op = OpExecute
	}
	entry := &UsageEntry{
		ID:        s.newLogID(),
		UserID:    userID,
		ProjectID: u.ProjectID,
		Operation: op,
		Success:   decErr == nil,
		RequestID: u.RequestID,
		UserAgent: u.UserAgent,
		IPAddress: u.IPAddress,
		CreatedAt: s.now().UTC(),
	}
	if decErr != nil {
		entry.ErrorMessage = "decryption failed"
	}
	return entry
}

type openField struct {
	envelope string
	dst      *string
}

func (s *Service) openInto(fields ...openField) error {
	for _, f := range fields {
		if f.envelope == "" {
			continue
		}
		pt, err := s.sealer.Decrypt(f.envelope)
		if err != nil {
			return err
		}
		*f.dst = pt
	}
	return nil
}

// BindingInput is the desired credential set for a project.
type BindingInput struct {
	ProjectID        string         `json:"project_id" validate:"required"`
	LLMCredentialID  string         `json:"llm_credential_id"`
	MCPCredentialIDs []string       `json:"mcp_credential_ids"`
	LLMConfiguration map[string]any `json:"llm_configuration"`
	MCPConfiguration map[string]any `json:"mcp_configuration"`
}

// BindProject creates or replaces a project's binding. The actor must own every referenced
// credential, and an existing binding may only be replaced by its owner, unless the actor
// is a super admin.
func (s *Service) BindProject(ctx context.Context, actor auth.Principal, in BindingInput) (*ProjectBinding, error) {
	if err := auth.ValidationErrorFrom(s.validate.Struct(in)); err != nil {
		return nil, err
	}
	existing, err := s.store.Bindings(ctx).Find(ctx, in.ProjectID)
	switch {
	case errors.Is(err, ErrNotFound):
		existing = nil
	case err != nil:
		return nil, err
	case existing.OwnerID != actor.ID && !actor.IsSuperAdmin():
		return nil, fmt.Errorf("%w: project %s", ErrNotFound, in.ProjectID)
	}

	if in.LLMCredentialID != "" {
		if err := s.checkLLMOwnership(ctx, actor, in.LLMCredentialID); err != nil {
			return nil, err
		}
	}
	mcpIDs := dedupeNonEmpty(in.MCPCredentialIDs)
	for _, id := range mcpIDs {
		if err := s.checkMCPOwnership(ctx, actor, id); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	b := &ProjectBinding{
		ProjectID:        in.ProjectID,
		OwnerID:          actor.ID,
		LLMCredentialID:  in.LLMCredentialID,
		MCPCredentialIDs: mcpIDs,
		LLMConfiguration: orEmpty(in.LLMConfiguration),
		MCPConfiguration: orEmpty(in.MCPConfiguration),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if existing != nil {
		b.OwnerID = existing.OwnerID
		b.CreatedAt = existing.CreatedAt
	}
	if err := s.store.Bindings(ctx).Upsert(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// GetProjectBinding returns the binding if the actor owns it or is a super admin.
func (s *Service) GetProjectBinding(ctx context.Context, actor auth.Principal, projectID string) (*ProjectBinding, error) {
	b, err := s.store.Bindings(ctx).Find(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccessResource(b.OwnerID) {
		return nil, fmt.Errorf("%w: project %s", ErrNotFound, projectID)
	}
	return b, nil
}

// ResolveProject dereferences every credential bound to a project. The binding is the
// authorization: the bound credentials need not belong to u.UserID.
func (s *Service) ResolveProject(ctx context.Context, projectID string, u Usage) (*ProjectSecrets, error) {
	b, err := s.store.Bindings(ctx).Find(ctx, projectID)
	if err != nil {
		return nil, err
	}
	u.ProjectID = projectID
	u.RequireOwner = false
	out := &ProjectSecrets{}
	if b.LLMCredentialID != "" {
		llm, err := s.ResolveLLMForUse(ctx, b.LLMCredentialID, u)
		if err != nil {
			return nil, err
		}
		out.LLM = llm
	}
	for _, id := range b.MCPCredentialIDs {
		mcp, err := s.ResolveMCPForUse(ctx, id, u)
		if err != nil {
			return nil, err
		}
		out.MCP = append(out.MCP, *mcp)
	}
	return out, nil
}

func (s *Service) checkLLMOwnership(ctx context.Context, actor auth.Principal, id string) error {
	if actor.IsSuperAdmin() {
		_, err := s.store.LLM(ctx).FindAny(ctx, id)
		return err
	}
	_, err := s.store.LLM(ctx).Find(ctx, id, actor.ID)
	return err
}

func (s *Service) checkMCPOwnership(ctx context.Context, actor auth.Principal, id string) error {
	if actor.IsSuperAdmin() {
		_, err := s.store.MCP(ctx).FindAny(ctx, id)
		return err
	}
	_, err := s.store.MCP(ctx).Find(ctx, id, actor.ID)
	return err
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
