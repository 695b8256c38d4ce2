package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"agenthub.io/internal/auth"
	"agenthub.io/internal/ids"
)

// Sealer is the envelope cipher seen by the credential service.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(envelope string) (string, error)
}

// Service manages LLM and MCP credentials and project bindings. Every secret-bearing
// field passes through the Sealer on write; plaintext only leaves through the Resolve* calls.
type Service struct {
	store    Store
	catalog  Catalog
	sealer   Sealer
	validate *validator.Validate
	now      func() time.Time
	newID    func() string
	newLogID func() string
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithIDGenerator overrides how credential ids are produced.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewService wires the credential service.
func NewService(store Store, catalog Catalog, sealer Sealer, opts ...Option) (*Service, error) {
	if store == nil || catalog == nil || sealer == nil {
		return nil, errors.New("credentials: store, catalog and sealer are required")
	}
	svc := &Service{
		store:    store,
		catalog:  catalog,
		sealer:   sealer,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
		newID:    ids.NewUUID,
		newLogID: ids.New,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateLLMInput carries the plaintext fields of a new LLM credential.
type CreateLLMInput struct {
	ModelID        string `json:"model_id" validate:"required"`
	Name           string `json:"name" validate:"max=255"`
	APIKey         string `json:"api_key" validate:"required"`
	SecretKey      string `json:"secret_key"`
	OrganizationID string `json:"organization_id"`
	ProjectID      string `json:"project_id"`
}

// CreateLLM stores a credential for ownerID against an approved model.
func (s *Service) CreateLLM(ctx context.Context, ownerID string, in CreateLLMInput) (LLMCredentialView, error) {
	in.ModelID = strings.TrimSpace(in.ModelID)
	in.Name = strings.TrimSpace(in.Name)
	if err := auth.ValidationErrorFrom(s.validate.Struct(in)); err != nil {
		return LLMCredentialView{}, err
	}
	model, err := s.catalog.FindModel(ctx, in.ModelID)
	if err != nil {
		return LLMCredentialView{}, err
	}
	if !model.Approved() {
		return LLMCredentialView{}, fmt.Errorf("%w: model %s", ErrNotFound, in.ModelID)
	}
	if in.Name == "" {
		in.Name = "LLM Credential for " + model.Name
	}

	now := s.now().UTC()
	cred := &LLMCredential{
		ID:        s.newID(),
		UserID:    ownerID,
		ModelID:   model.ID,
		Name:      in.Name,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sealInto(
		sealField{in.APIKey, &cred.EncryptedAPIKey},
		sealField{in.SecretKey, &cred.EncryptedSecretKey},
		sealField{in.OrganizationID, &cred.EncryptedOrganizationID},
		sealField{in.ProjectID, &cred.EncryptedProjectID},
	); err != nil {
		return LLMCredentialView{}, err
	}
	if err := s.store.LLM(ctx).Create(ctx, cred); err != nil {
		return LLMCredentialView{}, err
	}
	return cred.view(), nil
}

// ListLLM returns the owner's credentials, newest first, without decrypting anything.
func (s *Service) ListLLM(ctx context.Context, ownerID string) ([]LLMCredentialView, error) {
	creds, err := s.store.LLM(ctx).ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]LLMCredentialView, 0, len(creds))
	for _, c := range creds {
		out = append(out, c.view())
	}
	return out, nil
}

// LLMUpdate lists the fields to change. Nil leaves a field untouched and an empty
// string clears an optional secret.
type LLMUpdate struct {
	Name           *string `json:"name"`
	APIKey         *string `json:"api_key"`
	SecretKey      *string `json:"secret_key"`
	OrganizationID *string `json:"organization_id"`
	ProjectID      *string `json:"project_id"`
	IsActive       *bool   `json:"is_active"`
}

// UpdateLLM re-encrypts any supplied secret. A credential owned by someone else is ErrNotFound.
func (s *Service) UpdateLLM(ctx context.Context, id, ownerID string, upd LLMUpdate) (LLMCredentialView, error) {
	cred, err := s.store.LLM(ctx).Find(ctx, id, ownerID)
	if err != nil {
		return LLMCredentialView{}, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return LLMCredentialView{}, &auth.ValidationError{Violations: []string{"name must not be empty"}}
		}
		cred.Name = name
	}
	if upd.APIKey != nil && *upd.APIKey == "" {
		return LLMCredentialView{}, &auth.ValidationError{Violations: []string{"api_key must not be empty"}}
	}
	if err := s.patchInto(
		patchField{upd.APIKey, &cred.EncryptedAPIKey},
		patchField{upd.SecretKey, &cred.EncryptedSecretKey},
		patchField{upd.OrganizationID, &cred.EncryptedOrganizationID},
		patchField{upd.ProjectID, &cred.EncryptedProjectID},
	); err != nil {
		return LLMCredentialView{}, err
	}
	if upd.IsActive != nil {
		cred.IsActive = *upd.IsActive
	}
	cred.UpdatedAt = s.now().UTC()
	if err := s.store.LLM(ctx).Update(ctx, cred); err != nil {
		return LLMCredentialView{}, err
	}
	return cred.view(), nil
}

// DeleteLLM reports false for both missing and foreign credentials.
func (s *Service) DeleteLLM(ctx context.Context, id, ownerID string) (bool, error) {
	return s.store.LLM(ctx).Delete(ctx, id, ownerID)
}

// CreateMCPInput carries the plaintext fields of a new MCP credential.
type CreateMCPInput struct {
	ServerID       string     `json:"server_id" validate:"required"`
	Name           string     `json:"name" validate:"max=255"`
	ClientID       string     `json:"client_id"`
	ClientSecret   string     `json:"client_secret"`
	AccessToken    string     `json:"access_token"`
	RefreshToken   string     `json:"refresh_token"`
	APIKey         string     `json:"api_key"`
	TokenExpiresAt *time.Time `json:"token_expires_at"`
	Scopes         []string   `json:"scopes"`
}

// CreateMCP stores a credential for ownerID against an approved MCP server. The fields
// required depend on the server's default auth method: api_key servers need an api key,
// everything else needs a client id and secret.
func (s *Service) CreateMCP(ctx context.Context, ownerID string, in CreateMCPInput) (MCPCredentialView, error) {
	in.ServerID = strings.TrimSpace(in.ServerID)
	in.Name = strings.TrimSpace(in.Name)
	if err := auth.ValidationErrorFrom(s.validate.Struct(in)); err != nil {
		return MCPCredentialView{}, err
	}
	server, err := s.approvedServer(ctx, in.ServerID)
	if err != nil {
		return MCPCredentialView{}, err
	}
	method, hasMethod, err := s.defaultAuthMethod(ctx, server.ID)
	if err != nil {
		return MCPCredentialView{}, err
	}
	var violations []string
	if hasMethod && method.Type == AuthAPIKey {
		if in.APIKey == "" {
			violations = append(violations, "api_key is required")
		}
	} else {
		if in.ClientID == "" {
			violations = append(violations, "client_id is required")
		}
		if in.ClientSecret == "" {
			violations = append(violations, "client_secret is required")
		}
	}
	if len(violations) > 0 {
		return MCPCredentialView{}, &auth.ValidationError{Violations: violations}
	}
	if in.Name == "" {
		in.Name = "MCP Credential for " + server.Name
	}

	now := s.now().UTC()
	cred := &MCPCredential{
		ID:             s.newID(),
		UserID:         ownerID,
		ServerID:       server.ID,
		Name:           in.Name,
		TokenExpiresAt: in.TokenExpiresAt,
		Scopes:         dedupeNonEmpty(in.Scopes),
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.sealInto(
		sealField{in.ClientID, &cred.EncryptedClientID},
		sealField{in.ClientSecret, &cred.EncryptedClientSecret},
		sealField{in.AccessToken, &cred.EncryptedAccessToken},
		sealField{in.RefreshToken, &cred.EncryptedRefreshToken},
		sealField{in.APIKey, &cred.EncryptedAPIKey},
	); err != nil {
		return MCPCredentialView{}, err
	}
	if err := s.store.MCP(ctx).Create(ctx, cred); err != nil {
		return MCPCredentialView{}, err
	}
	return cred.view(), nil
}

// ListMCP returns the owner's MCP credentials, newest first.
func (s *Service) ListMCP(ctx context.Context, ownerID string) ([]MCPCredentialView, error) {
	creds, err := s.store.MCP(ctx).ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]MCPCredentialView, 0, len(creds))
	for _, c := range creds {
		out = append(out, c.view())
	}
	return out, nil
}

// MCPUpdate lists the fields to change. Nil leaves a field untouched. An empty string
// clears a stored token but is rejected for the client and key fields.
type MCPUpdate struct {
	Name           *string    `json:"name"`
	ClientID       *string    `json:"client_id"`
	ClientSecret   *string    `json:"client_secret"`
	AccessToken    *string    `json:"access_token"`
	RefreshToken   *string    `json:"refresh_token"`
	APIKey         *string    `json:"api_key"`
	TokenExpiresAt *time.Time `json:"token_expires_at"`
	Scopes         []string   `json:"scopes"`
	IsActive       *bool      `json:"is_active"`
}

// UpdateMCP re-encrypts any supplied secret. A credential owned by someone else is ErrNotFound.
func (s *Service) UpdateMCP(ctx context.Context, id, ownerID string, upd MCPUpdate) (MCPCredentialView, error) {
	cred, err := s.store.MCP(ctx).Find(ctx, id, ownerID)
	if err != nil {
		return MCPCredentialView{}, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return MCPCredentialView{}, &auth.ValidationError{Violations: []string{"name must not be empty"}}
		}
		cred.Name = name
	}
	var violations []string
	for _, f := range []struct {
		name  string
		value *string
	}{{"client_id", upd.ClientID}, {"client_secret", upd.ClientSecret}, {"api_key", upd.APIKey}} {
		if f.value != nil && *f.value == "" {
			violations = append(violations, f.name+" must not be empty")
		}
	}
	if len(violations) > 0 {
		return MCPCredentialView{}, &auth.ValidationError{Violations: violations}
	}
	if err := s.patchInto(
		patchField{upd.ClientID, &cred.EncryptedClientID},
		patchField{upd.ClientSecret, &cred.EncryptedClientSecret},
		patchField{upd.AccessToken, &cred.EncryptedAccessToken},
		patchField{upd.RefreshToken, &cred.EncryptedRefreshToken},
		patchField{upd.APIKey, &cred.EncryptedAPIKey},
	); err != nil {
		return MCPCredentialView{}, err
	}
	if upd.TokenExpiresAt != nil {
		cred.TokenExpiresAt = upd.TokenExpiresAt
	}
	if upd.Scopes != nil {
		cred.Scopes = dedupeNonEmpty(upd.Scopes)
	}
	if upd.IsActive != nil {
		cred.IsActive = *upd.IsActive
	}
	cred.UpdatedAt = s.now().UTC()
	if err := s.store.MCP(ctx).Update(ctx, cred); err != nil {
		return MCPCredentialView{}, err
	}
	return cred.view(), nil
}

// DeleteMCP reports false for both missing and foreign credentials.
func (s *Service) DeleteMCP(ctx context.Context, id, ownerID string) (bool, error) {
	return s.store.MCP(ctx).Delete(ctx, id, ownerID)
}

// OAuthTokens is the result of an authorization-code exchange for an MCP credential.
type OAuthTokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scopes       []string
}

// StoreMCPTokens seals tokens obtained from the server's OAuth2 flow onto an owned credential.
// An empty refresh token keeps the stored one.
func (s *Service) StoreMCPTokens(ctx context.Context, id, ownerID string, tok OAuthTokens) (MCPCredentialView, error) {
	if tok.AccessToken == "" {
		return MCPCredentialView{}, &auth.ValidationError{Violations: []string{"access_token is required"}}
	}
	upd := MCPUpdate{AccessToken: &tok.AccessToken}
	if tok.RefreshToken != "" {
		upd.RefreshToken = &tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		upd.TokenExpiresAt = &exp
	}
	if len(tok.Scopes) > 0 {
		upd.Scopes = tok.Scopes
	}
	return s.UpdateMCP(ctx, id, ownerID, upd)
}

// GetDefaultMcpServerAuthMethod returns the first active auth method of the server.
// The bool is false when the server has none configured.
func (s *Service) GetDefaultMcpServerAuthMethod(ctx context.Context, serverID string) (AuthMethod, bool, error) {
	if _, err := s.catalog.FindServer(ctx, serverID); err != nil {
		return AuthMethod{}, false, err
	}
	return s.defaultAuthMethod(ctx, serverID)
}

// ListMcpServerAuthMethods returns every auth method of the server, newest first.
func (s *Service) ListMcpServerAuthMethods(ctx context.Context, serverID string) ([]AuthMethod, error) {
	if _, err := s.catalog.FindServer(ctx, serverID); err != nil {
		return nil, err
	}
	return s.catalog.ListAuthMethods(ctx, serverID)
}

func (s *Service) defaultAuthMethod(ctx context.Context, serverID string) (AuthMethod, bool, error) {
	methods, err := s.catalog.ListAuthMethods(ctx, serverID)
	if err != nil {
		return AuthMethod{}, false, err
	}
	for _, m := range methods {
		if m.IsActive {
			return m, true, nil
		}
	}
	return AuthMethod{}, false, nil
}

func (s *Service) approvedServer(ctx context.Context, id string) (*MCPServer, error) {
	server, err := s.catalog.FindServer(ctx, id)
	if err != nil {
		return nil, err
	}
	if !server.Approved {
		return nil, fmt.Errorf("%w: mcp server %s", ErrNotFound, id)
	}
	return server, nil
}

type sealField struct {
	plaintext string
	dst       *string
}

// sealInto encrypts every non-empty plaintext into its destination. Nothing is written
// unless all fields seal successfully.
func (s *Service) sealInto(fields ...sealField) error {
	sealed := make([]string, len(fields))
	for i, f := range fields {
		if f.plaintext == "" {
			continue
		}
		ct, err := s.sealer.Encrypt(f.plaintext)
		if err != nil {
			return fmt.Errorf("credentials: seal: %w", err)
		}
		sealed[i] = ct
	}
	for i, f := range fields {
		if sealed[i] != "" {
			*f.dst = sealed[i]
		}
	}
	return nil
}

type patchField struct {
	value *string
	dst   *string
}

// patchInto applies a partial update: nil keeps the stored envelope, an empty value
// clears it and anything else is sealed. Nothing is written unless all fields seal.
func (s *Service) patchInto(fields ...patchField) error {
	next := make([]string, len(fields))
	for i, f := range fields {
		if f.value == nil || *f.value == "" {
			continue
		}
		ct, err := s.sealer.Encrypt(*f.value)
		if err != nil {
			return fmt.Errorf("credentials: seal: %w", err)
		}
		next[i] = ct
	}
	for i, f := range fields {
		if f.value != nil {
			*f.dst = next[i]
		}
	}
	return nil
}

func dedupeNonEmpty(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	seen := make(map[string]struct{}, len(scopes))
	for _, sc := range scopes {
		sc = strings.TrimSpace(sc)
		if sc == "" {
			continue
		}
		if _, ok := seen[sc]; ok {
			continue
		}
		seen[sc] = struct{}{}
		out = append(out, sc)
	}
	return out
}
