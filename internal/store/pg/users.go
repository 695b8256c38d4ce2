package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"agenthub.io/internal/auth"
)

const userColumns = `id, email, coalesce(password_hash, ''), persona, roles, permissions, metadata,
	is_active, approval_status, coalesce(approved_by, ''), approved_at, coalesce(rejection_reason, ''),
	last_login_at, created_at, updated_at`

type userStore struct {
	db *sql.DB
}

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	roles := make([]string, len(u.Roles))
	for i, r := range u.Roles {
		roles[i] = string(r)
	}
	rolesJSON, err := encodeJSON(roles, "[]")
	if err != nil {
		return err
	}
	permsJSON, err := encodeJSON(u.Permissions, "[]")
	if err != nil {
		return err
	}
	metaJSON, err := encodeJSON(u.Metadata, "{}")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into users (id, email, password_hash, persona, roles, permissions, metadata,
			is_active, approval_status, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, u.ID, strings.ToLower(u.Email), nullIfEmpty(u.PasswordHash), string(u.Persona), rolesJSON, permsJSON, metaJSON,
		u.IsActive, string(u.ApprovalStatus), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrConflict
		}
		return err
	}
	return nil
}

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	return scanUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`,
		strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row)
}

func (s *userStore) ListByApproval(ctx context.Context, status auth.ApprovalStatus) ([]*auth.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+userColumns+`
		from users
		where approval_status = $1
		order by created_at asc
	`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *userStore) UpdateApproval(ctx context.Context, id string, upd auth.ApprovalUpdate) error {
	res, err := s.db.ExecContext(ctx, `
		update users
		set approval_status = $2, approved_by = $3, approved_at = $4, rejection_reason = $5, updated_at = $4
		where id = $1
	`, id, string(upd.Status), nullIfEmpty(upd.ReviewedBy), upd.ReviewedAt, nullIfEmpty(upd.RejectionReason))
	return expectOne(res, err, auth.ErrNotFound)
}

func (s *userStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		update users set is_active = $2, updated_at = now() where id = $1
	`, id, active)
	return expectOne(res, err, auth.ErrNotFound)
}

func (s *userStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update users set last_login_at = $2 where id = $1`, id, at)
	return expectOne(res, err, auth.ErrNotFound)
}

func scanUser(row rowScanner) (*auth.User, error) {
	var (
		u                           auth.User
		persona, status             string
		rawRoles, rawPerms, rawMeta []byte
		approvedAt, lastLogin       sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &persona, &rawRoles, &rawPerms, &rawMeta,
		&u.IsActive, &status, &u.ApprovedBy, &approvedAt, &u.RejectionReason,
		&lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Persona = auth.Persona(persona)
	u.ApprovalStatus = auth.ApprovalStatus(status)
	u.ApprovedAt = timePtr(approvedAt)
	u.LastLoginAt = timePtr(lastLogin)

	roles, err := decodeStrings(rawRoles)
	if err != nil {
		return nil, err
	}
	u.Roles = make([]auth.Role, len(roles))
	for i, r := range roles {
		u.Roles[i] = auth.Role(r)
	}
	perms, err := decodeStrings(rawPerms)
	if err != nil {
		return nil, err
	}
	u.Permissions = auth.ParsePermissionSet(perms)
	if u.Metadata, err = decodeObject(rawMeta); err != nil {
		return nil, err
	}
	return &u, nil
}

type identityStore struct {
	db *sql.DB
}

func (s *identityStore) Link(ctx context.Context, li *auth.LinkedIdentity) error {
	profile, err := encodeJSON(li.ProfileData, "{}")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into social_accounts (id, user_id, provider, provider_user_id, access_token, refresh_token,
			expires_at, profile_data, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, li.ID, li.UserID, li.Provider, li.ProviderUserID, nullIfEmpty(li.AccessToken), nullIfEmpty(li.RefreshToken),
		nullTime(li.ExpiresAt), profile, li.CreatedAt)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return auth.ErrConflict
	case isForeignKeyViolation(err):
		return auth.ErrNotFound
	default:
		return err
	}
}

const identityColumns = `id, user_id, provider, provider_user_id, coalesce(access_token, ''),
	coalesce(refresh_token, ''), expires_at, profile_data, created_at`

func (s *identityStore) FindByProvider(ctx context.Context, provider, providerUserID string) (*auth.LinkedIdentity, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+identityColumns+`
		from social_accounts
		where provider = $1 and provider_user_id = $2
	`, provider, providerUserID)
	return scanIdentity(row)
}

func (s *identityStore) ListByUser(ctx context.Context, userID string) ([]*auth.LinkedIdentity, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+identityColumns+`
		from social_accounts
		where user_id = $1
		order by created_at asc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.LinkedIdentity
	for rows.Next() {
		li, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, li)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanIdentity(row rowScanner) (*auth.LinkedIdentity, error) {
	var (
		li      auth.LinkedIdentity
		expires sql.NullTime
		raw     []byte
	)
	err := row.Scan(&li.ID, &li.UserID, &li.Provider, &li.ProviderUserID, &li.AccessToken, &li.RefreshToken,
		&expires, &raw, &li.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	li.ExpiresAt = timePtr(expires)
	if li.ProfileData, err = decodeObject(raw); err != nil {
		return nil, err
	}
	return &li, nil
}

// expectOne maps "no row affected" to notFound.
func expectOne(res sql.Result, err error, notFound error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
