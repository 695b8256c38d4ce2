package auth

import (
	"errors"
	"testing"
	"time"
)

func newTestTokens(t *testing.T, opts ...TokenOption) *TokenService {
	t.Helper()
	svc, err := NewTokenService("access-secret-for-tests", "refresh-secret-for-tests", opts...)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return svc
}

func builderPrincipal() Principal {
	roles := DefaultRoles(PersonaBuilder)
	return Principal{
		ID:          "user-1",
		Email:       "a@x.com",
		Persona:     PersonaBuilder,
		Roles:       roles,
		Permissions: PermissionsForRoles(roles),
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	svc := newTestTokens(t)
	token, exp, err := svc.IssueAccessToken(builderPrincipal())
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if time.Until(exp) > defaultAccessTTL || time.Until(exp) < defaultAccessTTL-time.Minute {
		t.Fatalf("unexpected expiry %v", exp)
	}
	claims, err := svc.VerifyAccessToken(token)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	p := claims.Principal()
	if p.ID != "user-1" || p.Email != "a@x.com" || p.Persona != PersonaBuilder {
		t.Fatalf("unexpected principal %+v", p)
	}
	if !p.Permissions.Has(PermManageCredentials) || p.Permissions.Has(PermManageUsers) {
		t.Fatalf("unexpected permissions %v", p.Permissions.Strings())
	}
}

func TestWildcardSurvivesToken(t *testing.T) {
	svc := newTestTokens(t)
	roles := DefaultRoles(PersonaSuperAdmin)
	token, _, err := svc.IssueAccessToken(Principal{ID: "root", Persona: PersonaSuperAdmin, Roles: roles, Permissions: PermissionsForRoles(roles)})
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	claims, err := svc.VerifyAccessToken(token)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	if !claims.Permissions.IsAll() {
		t.Fatalf("wildcard lost: %v", claims.Permissions.Strings())
	}
}

func TestZeroTTLTokenIsRejected(t *testing.T) {
	svc := newTestTokens(t, WithAccessTTL(0))
	token, _, err := svc.IssueAccessToken(builderPrincipal())
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if _, err := svc.VerifyAccessToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestExpiredAfterClockAdvance(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc := newTestTokens(t, WithTokenClock(clock))
	pair, err := svc.IssueTokenPair(builderPrincipal())
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}
	now = now.Add(16 * time.Minute)
	if _, err := svc.VerifyAccessToken(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected access token expired, got %v", err)
	}
	if _, err := svc.VerifyRefreshToken(pair.RefreshToken); err != nil {
		t.Fatalf("refresh token should still be valid: %v", err)
	}
	now = now.Add(7 * 24 * time.Hour)
	if _, err := svc.VerifyRefreshToken(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected refresh token expired, got %v", err)
	}
}

func TestTokenTypeConfusion(t *testing.T) {
	svc := newTestTokens(t)
	pair, err := svc.IssueTokenPair(builderPrincipal())
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}
	if _, err := svc.VerifyAccessToken(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token accepted as access token: %v", err)
	}
	if _, err := svc.VerifyRefreshToken(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token accepted as refresh token: %v", err)
	}
}

func TestTypeTagCheckedWhenSecretsMatch(t *testing.T) {
	svc, err := NewTokenService("same-secret", "same-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	pair, err := svc.IssueTokenPair(builderPrincipal())
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}
	if _, err := svc.VerifyRefreshToken(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token accepted as refresh token: %v", err)
	}
	if _, err := svc.VerifyAccessToken(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token accepted as access token: %v", err)
	}
}

func TestTamperedSignatureRejected(t *testing.T) {
	svc := newTestTokens(t)
	other, err := NewTokenService("another-access-secret", "another-refresh-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	token, _, err := other.IssueAccessToken(builderPrincipal())
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if _, err := svc.VerifyAccessToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign token accepted: %v", err)
	}
	if _, err := svc.VerifyAccessToken(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token accepted: %v", err)
	}
}

func TestRefreshClaims(t *testing.T) {
	svc := newTestTokens(t)
	token, _, err := svc.IssueRefreshToken(builderPrincipal())
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}
	claims, err := svc.VerifyRefreshToken(token)
	if err != nil {
		t.Fatalf("VerifyRefreshToken: %v", err)
	}
	if claims.Subject != "user-1" || claims.Email != "a@x.com" || claims.ID == "" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestNewTokenServiceRequiresSecrets(t *testing.T) {
	if _, err := NewTokenService("", "x"); err == nil {
		t.Fatal("expected error for empty access secret")
	}
	if _, err := NewTokenService("x", "x", WithAccessTTL(-time.Second)); err == nil {
		t.Fatal("expected error for negative ttl")
	}
}
