package pg

import (
	"context"
	"database/sql"
	"errors"

	"agenthub.io/internal/credentials"
)

func (s *Store) FindModel(ctx context.Context, id string) (*credentials.Model, error) {
	var m credentials.Model
	err := s.db.QueryRowContext(ctx, `
		select id, provider_id, name, status from llm_models where id = $1
	`, id).Scan(&m.ID, &m.ProviderID, &m.Name, &m.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credentials.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) FindServer(ctx context.Context, id string) (*credentials.MCPServer, error) {
	var m credentials.MCPServer
	err := s.db.QueryRowContext(ctx, `
		select id, name, type, url, is_approved from mcp_servers where id = $1
	`, id).Scan(&m.ID, &m.Name, &m.Type, &m.URL, &m.Approved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credentials.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListAuthMethods(ctx context.Context, serverID string) ([]credentials.AuthMethod, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, mcp_server_id, auth_type, authorization_url, token_url, scopes, is_active, created_at
		from mcp_server_auth_methods
		where mcp_server_id = $1
		order by created_at desc
	`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []credentials.AuthMethod
	for rows.Next() {
		var (
			m   credentials.AuthMethod
			raw []byte
		)
		if err := rows.Scan(&m.ID, &m.ServerID, &m.Type, &m.AuthorizationURL, &m.TokenURL, &raw, &m.IsActive, &m.CreatedAt); err != nil {
			return nil, err
		}
		if m.Scopes, err = decodeStrings(raw); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
