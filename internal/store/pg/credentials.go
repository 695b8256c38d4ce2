package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"agenthub.io/internal/credentials"
)

const llmColumns = `id, user_id, llm_model_id, credential_name, encrypted_api_key,
	coalesce(encrypted_secret_key, ''), coalesce(encrypted_organization_id, ''), coalesce(encrypted_project_id, ''),
	is_active, usage_count, last_used_at, created_at, updated_at`

type llmStore struct {
	db *sql.DB
}

func (s *llmStore) Create(ctx context.Context, c *credentials.LLMCredential) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_llm_credentials (id, user_id, llm_model_id, credential_name, encrypted_api_key,
			encrypted_secret_key, encrypted_organization_id, encrypted_project_id, is_active,
			created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, c.ID, c.UserID, c.ModelID, c.Name, c.EncryptedAPIKey,
		nullIfEmpty(c.EncryptedSecretKey), nullIfEmpty(c.EncryptedOrganizationID), nullIfEmpty(c.EncryptedProjectID),
		c.IsActive, c.CreatedAt, c.UpdatedAt)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return credentials.ErrConflict
	case isForeignKeyViolation(err):
		return credentials.ErrNotFound
	default:
		return err
	}
}

func (s *llmStore) Find(ctx context.Context, id, ownerID string) (*credentials.LLMCredential, error) {
	row := s.db.QueryRowContext(ctx, `select `+llmColumns+` from user_llm_credentials where id = $1 and user_id = $2`, id, ownerID)
	return scanLLM(row)
}

func (s *llmStore) FindAny(ctx context.Context, id string) (*credentials.LLMCredential, error) {
	row := s.db.QueryRowContext(ctx, `select `+llmColumns+` from user_llm_credentials where id = $1`, id)
	return scanLLM(row)
}

func (s *llmStore) ListByOwner(ctx context.Context, ownerID string) ([]*credentials.LLMCredential, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+llmColumns+`
		from user_llm_credentials
		where user_id = $1
		order by created_at desc
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*credentials.LLMCredential
	for rows.Next() {
		c, err := scanLLM(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *llmStore) Update(ctx context.Context, c *credentials.LLMCredential) error {
	res, err := s.db.ExecContext(ctx, `
		update user_llm_credentials
		set credential_name = $3, encrypted_api_key = $4, encrypted_secret_key = $5,
			encrypted_organization_id = $6, encrypted_project_id = $7, is_active = $8, updated_at = $9
		where id = $1 and user_id = $2
	`, c.ID, c.UserID, c.Name, c.EncryptedAPIKey, nullIfEmpty(c.EncryptedSecretKey),
		nullIfEmpty(c.EncryptedOrganizationID), nullIfEmpty(c.EncryptedProjectID), c.IsActive, c.UpdatedAt)
	return expectOne(res, err, credentials.ErrNotFound)
}

func (s *llmStore) Delete(ctx context.Context, id, ownerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from user_llm_credentials where id = $1 and user_id = $2`, id, ownerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IncrementUsage is a single statement so concurrent uses never lose an update.
func (s *llmStore) IncrementUsage(ctx context.Context, id string, at time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		update user_llm_credentials
		set usage_count = usage_count + 1, last_used_at = $2
		where id = $1
		returning usage_count
	`, id, at).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, credentials.ErrNotFound
	}
	return count, err
}

func scanLLM(row rowScanner) (*credentials.LLMCredential, error) {
	var (
		c        credentials.LLMCredential
		lastUsed sql.NullTime
	)
	err := row.Scan(&c.ID, &c.UserID, &c.ModelID, &c.Name, &c.EncryptedAPIKey,
		&c.EncryptedSecretKey, &c.EncryptedOrganizationID, &c.EncryptedProjectID,
		&c.IsActive, &c.UsageCount, &lastUsed, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credentials.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.LastUsedAt = timePtr(lastUsed)
	return &c, nil
}

const mcpColumns = `id, user_id, mcp_server_id, credential_name, coalesce(encrypted_client_id, ''),
	coalesce(encrypted_client_secret, ''), coalesce(encrypted_access_token, ''), coalesce(encrypted_refresh_token, ''),
	coalesce(encrypted_api_key, ''), token_expires_at, scopes, is_active, usage_count, last_used_at, created_at, updated_at`

type mcpStore struct {
	db *sql.DB
}

func (s *mcpStore) Create(ctx context.Context, c *credentials.MCPCredential) error {
	scopes, err := encodeJSON(c.Scopes, "[]")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into user_mcp_credentials (id, user_id, mcp_server_id, credential_name, encrypted_client_id,
			encrypted_client_secret, encrypted_access_token, encrypted_refresh_token, encrypted_api_key,
			token_expires_at, scopes, is_active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, c.ID, c.UserID, c.ServerID, c.Name, nullIfEmpty(c.EncryptedClientID),
		nullIfEmpty(c.EncryptedClientSecret), nullIfEmpty(c.EncryptedAccessToken), nullIfEmpty(c.EncryptedRefreshToken),
		nullIfEmpty(c.EncryptedAPIKey), nullTime(c.TokenExpiresAt), scopes, c.IsActive, c.CreatedAt, c.UpdatedAt)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return credentials.ErrConflict
	case isForeignKeyViolation(err):
		return credentials.ErrNotFound
	default:
		return err
	}
}

func (s *mcpStore) Find(ctx context.Context, id, ownerID string) (*credentials.MCPCredential, error) {
	row := s.db.QueryRowContext(ctx, `select `+mcpColumns+` from user_mcp_credentials where id = $1 and user_id = $2`, id, ownerID)
	return scanMCP(row)
}

func (s *mcpStore) FindAny(ctx context.Context, id string) (*credentials.MCPCredential, error) {
	row := s.db.QueryRowContext(ctx, `select `+mcpColumns+` from user_mcp_credentials where id = $1`, id)
	return scanMCP(row)
}

func (s *mcpStore) ListByOwner(ctx context.Context, ownerID string) ([]*credentials.MCPCredential, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+mcpColumns+`
		from user_mcp_credentials
		where user_id = $1
		order by created_at desc
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*credentials.MCPCredential
	for rows.Next() {
		c, err := scanMCP(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *mcpStore) Update(ctx context.Context, c *credentials.MCPCredential) error {
	scopes, err := encodeJSON(c.Scopes, "[]")
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update user_mcp_credentials
		set credential_name = $3, encrypted_client_id = $4, encrypted_client_secret = $5,
			encrypted_access_token = $6, encrypted_refresh_token = $7, encrypted_api_key = $8,
			token_expires_at = $9, scopes = $10, is_active = $11, updated_at = $12
		where id = $1 and user_id = $2
	`, c.ID, c.UserID, c.Name, nullIfEmpty(c.EncryptedClientID), nullIfEmpty(c.EncryptedClientSecret),
		nullIfEmpty(c.EncryptedAccessToken), nullIfEmpty(c.EncryptedRefreshToken), nullIfEmpty(c.EncryptedAPIKey),
		nullTime(c.TokenExpiresAt), scopes, c.IsActive, c.UpdatedAt)
	return expectOne(res, err, credentials.ErrNotFound)
}

func (s *mcpStore) Delete(ctx context.Context, id, ownerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from user_mcp_credentials where id = $1 and user_id = $2`, id, ownerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *mcpStore) IncrementUsage(ctx context.Context, id string, at time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		update user_mcp_credentials
		set usage_count = usage_count + 1, last_used_at = $2
		where id = $1
		returning usage_count
	`, id, at).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, credentials.ErrNotFound
	}
	return count, err
}

func scanMCP(row rowScanner) (*credentials.MCPCredential, error) {
	var (
		c                 credentials.MCPCredential
		expires, lastUsed sql.NullTime
		rawScopes         []byte
	)
	err := row.Scan(&c.ID, &c.UserID, &c.ServerID, &c.Name, &c.EncryptedClientID,
		&c.EncryptedClientSecret, &c.EncryptedAccessToken, &c.EncryptedRefreshToken,
		&c.EncryptedAPIKey, &expires, &rawScopes, &c.IsActive, &c.UsageCount, &lastUsed, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credentials.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.TokenExpiresAt = timePtr(expires)
	c.LastUsedAt = timePtr(lastUsed)
	if c.Scopes, err = decodeStrings(rawScopes); err != nil {
		return nil, err
	}
	return &c, nil
}

type bindingStore struct {
	db *sql.DB
}

func (s *bindingStore) Upsert(ctx context.Context, b *credentials.ProjectBinding) error {
	mcpIDs, err := encodeJSON(b.MCPCredentialIDs, "[]")
	if err != nil {
		return err
	}
	llmCfg, err := encodeJSON(b.LLMConfiguration, "{}")
	if err != nil {
		return err
	}
	mcpCfg, err := encodeJSON(b.MCPConfiguration, "{}")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into project_credentials (project_id, owner_id, llm_credential_id, mcp_credential_ids,
			llm_configuration, mcp_configuration, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		on conflict (project_id) do update
		set llm_credential_id = excluded.llm_credential_id,
			mcp_credential_ids = excluded.mcp_credential_ids,
			llm_configuration = excluded.llm_configuration,
			mcp_configuration = excluded.mcp_configuration,
			updated_at = excluded.updated_at
	`, b.ProjectID, b.OwnerID, nullIfEmpty(b.LLMCredentialID), mcpIDs, llmCfg, mcpCfg, b.CreatedAt, b.UpdatedAt)
	if isForeignKeyViolation(err) {
		return credentials.ErrNotFound
	}
	return err
}

func (s *bindingStore) Find(ctx context.Context, projectID string) (*credentials.ProjectBinding, error) {
	var (
		b                      credentials.ProjectBinding
		llmID                  sql.NullString
		rawIDs, rawLLM, rawMCP []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select project_id, owner_id, llm_credential_id, mcp_credential_ids, llm_configuration, mcp_configuration,
			created_at, updated_at
		from project_credentials
		where project_id = $1
	`, projectID).Scan(&b.ProjectID, &b.OwnerID, &llmID, &rawIDs, &rawLLM, &rawMCP, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credentials.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.LLMCredentialID = llmID.String
	if b.MCPCredentialIDs, err = decodeStrings(rawIDs); err != nil {
		return nil, err
	}
	if b.LLMConfiguration, err = decodeObject(rawLLM); err != nil {
		return nil, err
	}
	if b.MCPConfiguration, err = decodeObject(rawMCP); err != nil {
		return nil, err
	}
	return &b, nil
}

type usageStore struct {
	db *sql.DB
}

func (s *usageStore) Append(ctx context.Context, e *credentials.UsageEntry) error {
	_, err := s.db.ExecContext(ctx, `
		insert into credential_usage_log (id, user_id, project_id, llm_credential_id, mcp_credential_id, operation,
			tokens_used, cost_in_cents, success, error_message, request_id, user_agent, ip_address, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, e.ID, e.UserID, nullIfEmpty(e.ProjectID), nullIfEmpty(e.LLMCredentialID), nullIfEmpty(e.MCPCredentialID),
		e.Operation, nullInt(e.TokensUsed), nullInt(e.CostInCents), e.Success, nullIfEmpty(e.ErrorMessage),
		nullIfEmpty(e.RequestID), nullIfEmpty(e.UserAgent), nullIfEmpty(e.IPAddress), e.CreatedAt)
	return err
}
