package pg

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"agenthub.io/internal/auth"
	"agenthub.io/internal/credentials"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestCreateUserMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	user := &auth.User{
		ID:             "u1",
		Email:          "A@x.com",
		PasswordHash:   "hash",
		Persona:        auth.PersonaBuilder,
		Roles:          []auth.Role{auth.RoleBuilder},
		Permissions:    auth.PermissionsForRoles([]auth.Role{auth.RoleBuilder}),
		IsActive:       true,
		ApprovalStatus: auth.ApprovalPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	mock.ExpectExec(regexp.QuoteMeta("insert into users")).
		WithArgs("u1", "a@x.com", "hash", "builder", []byte(`["builder"]`), sqlmock.AnyArg(), []byte("{}"),
			true, "pending", now, now).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.Users(context.Background()).Create(context.Background(), user)
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func userRow(id, persona string, perms string, status string) *sqlmock.Rows {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return sqlmock.NewRows([]string{
		"id", "email", "password_hash", "persona", "roles", "permissions", "metadata",
		"is_active", "approval_status", "approved_by", "approved_at", "rejection_reason",
		"last_login_at", "created_at", "updated_at",
	}).AddRow(id, "root@x.com", "hash", persona, []byte(`["super_admin","admin"]`), []byte(perms), []byte(`{"team":"core"}`),
		true, status, "", nil, "", nil, created, created)
}

func TestFindByEmailDecodesWildcard(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("from users where email = $1")).
		WithArgs("root@x.com").
		WillReturnRows(userRow("u1", "super_admin", `["*"]`, "approved"))

	u, err := store.Users(context.Background()).FindByEmail(context.Background(), " Root@X.com ")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if !u.Permissions.IsAll() || len(u.Roles) != 2 || u.Metadata["team"] != "core" {
		t.Fatalf("unexpected user %+v", u)
	}
	if u.ApprovedAt != nil || u.LastLoginAt != nil {
		t.Fatalf("null timestamps should decode to nil")
	}
}

func TestFindUserNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("from users where id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := store.Users(context.Background()).Find(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateApprovalRequiresRow(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("update users set approval_status = $2")).
		WithArgs("u9", "approved", "admin", at, nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Users(context.Background()).UpdateApproval(context.Background(), "u9", auth.ApprovalUpdate{
		Status: auth.ApprovalApproved, ReviewedBy: "admin", ReviewedAt: at,
	})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLinkIdentityConflict(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("insert into social_accounts")).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.Identities(context.Background()).Link(context.Background(), &auth.LinkedIdentity{
		ID: "li1", UserID: "u1", Provider: "github", ProviderUserID: "42", CreatedAt: time.Now(),
	})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestFindLLMIsOwnerScoped(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("from user_llm_credentials where id = $1 and user_id = $2")).
		WithArgs("c1", "bob").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := store.LLM(context.Background()).Find(context.Background(), "c1", "bob"); !errors.Is(err, credentials.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFindLLMScansRow(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)
	used := created.Add(time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("from user_llm_credentials where id = $1 and user_id = $2")).
		WithArgs("c1", "alice").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "llm_model_id", "credential_name", "encrypted_api_key",
			"encrypted_secret_key", "encrypted_organization_id", "encrypted_project_id",
			"is_active", "usage_count", "last_used_at", "created_at", "updated_at",
		}).AddRow("c1", "alice", "gpt-4o", "main", "aa:bb:cc", "", "", "", true, int64(3), used, created, created))

	c, err := store.LLM(context.Background()).Find(context.Background(), "c1", "alice")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if c.UsageCount != 3 || c.LastUsedAt == nil || !c.LastUsedAt.Equal(used) || c.EncryptedAPIKey != "aa:bb:cc" {
		t.Fatalf("unexpected credential %+v", c)
	}
}

func TestIncrementUsageIsSingleStatement(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("set usage_count = usage_count + 1, last_used_at = $2 where id = $1 returning usage_count")).
		WithArgs("c1", at).
		WillReturnRows(sqlmock.NewRows([]string{"usage_count"}).AddRow(int64(8)))

	n, err := store.LLM(context.Background()).IncrementUsage(context.Background(), "c1", at)
	if err != nil || n != 8 {
		t.Fatalf("IncrementUsage = %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteMCPReportsOwnership(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("delete from user_mcp_credentials where id = $1 and user_id = $2")).
		WithArgs("m1", "bob").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.MCP(context.Background()).Delete(context.Background(), "m1", "bob")
	if err != nil || ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
}

func TestBindingRoundTripColumns(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 4, 4, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("on conflict (project_id) do update")).
		WithArgs("p1", "alice", "c1", []byte(`["m1"]`), []byte(`{"temperature":0.2}`), []byte("{}"), now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	err := store.Bindings(context.Background()).Upsert(context.Background(), &credentials.ProjectBinding{
		ProjectID: "p1", OwnerID: "alice", LLMCredentialID: "c1", MCPCredentialIDs: []string{"m1"},
		LLMConfiguration: map[string]any{"temperature": 0.2}, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta("from project_credentials where project_id = $1")).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{
			"project_id", "owner_id", "llm_credential_id", "mcp_credential_ids", "llm_configuration", "mcp_configuration",
			"created_at", "updated_at",
		}).AddRow("p1", "alice", nil, []byte(`["m1","m2"]`), []byte(`{}`), []byte(`{}`), now, now))
	b, err := store.Bindings(context.Background()).Find(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if b.LLMCredentialID != "" || len(b.MCPCredentialIDs) != 2 {
		t.Fatalf("unexpected binding %+v", b)
	}
}

func TestAppendUsage(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	tokens := int64(120)
	mock.ExpectExec(regexp.QuoteMeta("insert into credential_usage_log")).
		WithArgs("log1", "alice", "p1", "c1", nil, "execute", tokens, nil, true, nil, "req-1", nil, nil, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Usage(context.Background()).Append(context.Background(), &credentials.UsageEntry{
		ID: "log1", UserID: "alice", ProjectID: "p1", LLMCredentialID: "c1", Operation: "execute",
		TokensUsed: &tokens, Success: true, RequestID: "req-1", CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListAuthMethodsDecodesScopes(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("from mcp_server_auth_methods where mcp_server_id = $1")).
		WithArgs("github").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "mcp_server_id", "auth_type", "authorization_url", "token_url", "scopes", "is_active", "created_at",
		}).AddRow("m1", "github", "oauth2", "https://a", "https://t", []byte(`["repo"]`), true, now))

	methods, err := store.ListAuthMethods(context.Background(), "github")
	if err != nil {
		t.Fatalf("ListAuthMethods: %v", err)
	}
	if len(methods) != 1 || methods[0].Scopes[0] != "repo" || methods[0].Type != credentials.AuthOAuth2 {
		t.Fatalf("unexpected methods %+v", methods)
	}
}
