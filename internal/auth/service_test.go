package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSealer struct{}

func (fakeSealer) Encrypt(plaintext string) (string, error) {
	return "sealed(" + plaintext + ")", nil
}

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc, err := NewService(store, newTestTokens(t), WithSealer(fakeSealer{}))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

const strongPassword = "Str0ng!pass"

func TestRegisterApproveLoginScenario(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	user, err := svc.Register(ctx, RegisterInput{Email: "A@x.com", Password: strongPassword, Persona: "builder"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.ApprovalStatus != ApprovalPending || user.Email != "a@x.com" {
		t.Fatalf("unexpected user %+v", user)
	}

	_, _, err = svc.Login(ctx, "a@x.com", strongPassword)
	var stateErr *AccountStateError
	if !errors.As(err, &stateErr) || stateErr.State != AccountPendingApproval {
		t.Fatalf("expected pending approval error, got %v", err)
	}

	if _, err := svc.Approve(ctx, "admin-1", user.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	pair, principal, err := svc.Login(ctx, "a@x.com", strongPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := svc.Tokens().VerifyAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	want := PermissionsForRoles([]Role{RoleBuilder}).Strings()
	got := claims.Permissions.Strings()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("permissions mismatch: got %v want %v", got, want)
	}
	if principal.ID != user.ID {
		t.Fatalf("principal id mismatch")
	}
	stored, _ := svc.Me(ctx, user.ID)
	if stored.LastLoginAt == nil {
		t.Fatal("expected last login to be recorded")
	}
}

func TestLoginInvalidCredentialsIndistinguishable(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	user, err := svc.Register(ctx, RegisterInput{Email: "b@x.com", Password: strongPassword, Persona: "end_user"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Approve(ctx, "admin", user.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	_, _, errUnknown := svc.Login(ctx, "nobody@x.com", strongPassword)
	_, _, errWrong := svc.Login(ctx, "b@x.com", "Wr0ng!pass")
	if !errors.Is(errUnknown, ErrInvalidCredentials) || !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v / %v", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatalf("messages differ: %q vs %q", errUnknown, errWrong)
	}
}

func TestDeactivatedAndRejectedNeverGetTokens(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	user, err := svc.Register(ctx, RegisterInput{Email: "c@x.com", Password: strongPassword, Persona: "builder"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Approve(ctx, "admin", user.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, err := svc.SetActive(ctx, user.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	_, _, err = svc.Login(ctx, "c@x.com", strongPassword)
	var stateErr *AccountStateError
	if !errors.As(err, &stateErr) || stateErr.State != AccountDeactivated {
		t.Fatalf("expected deactivated, got %v", err)
	}

	if _, err := svc.SetActive(ctx, user.ID, true); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if _, err := svc.Reject(ctx, "admin", user.ID, "incomplete profile"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	_, _, err = svc.Login(ctx, "c@x.com", strongPassword)
	if !errors.As(err, &stateErr) || stateErr.State != AccountRejected || stateErr.RejectionReason != "incomplete profile" {
		t.Fatalf("expected rejected with reason, got %v", err)
	}
	if _, err := svc.Reject(ctx, "admin", user.ID, " "); err == nil {
		t.Fatal("expected reason to be required")
	}
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Register(ctx, RegisterInput{Email: "not-an-email", Password: strongPassword, Persona: "wizard"})
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Violations) != 2 {
		t.Fatalf("expected two violations, got %v", err)
	}
	_, err = svc.Register(ctx, RegisterInput{Email: "d@x.com", Password: "weak", Persona: "builder"})
	if !errors.As(err, &verr) {
		t.Fatalf("expected weak password error, got %v", err)
	}
	if _, err := svc.Register(ctx, RegisterInput{Email: "d@x.com", Password: strongPassword, Persona: "builder"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Register(ctx, RegisterInput{Email: "D@x.com", Password: strongPassword, Persona: "builder"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRefreshRotatesAndLogoutRevokes(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	user, err := svc.Register(ctx, RegisterInput{Email: "e@x.com", Password: strongPassword, Persona: "builder"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Approve(ctx, "admin", user.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	pair, _, err := svc.Login(ctx, "e@x.com", strongPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	rotated, _, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("reused refresh token accepted: %v", err)
	}
	if _, _, err := svc.Refresh(ctx, rotated.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token accepted for refresh: %v", err)
	}

	if err := svc.Logout(ctx, rotated.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, _, err := svc.Refresh(ctx, rotated.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("logged out token accepted: %v", err)
	}
}

func TestConcurrentRefreshRotatesOnce(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	user, err := svc.Register(ctx, RegisterInput{Email: "race@x.com", Password: strongPassword, Persona: "builder"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Approve(ctx, "admin", user.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	pair, _, err := svc.Login(ctx, "race@x.com", strongPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	const workers = 50
	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		wins     atomic.Int32
		rejected atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, err := svc.Refresh(ctx, pair.RefreshToken)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrInvalidToken):
				rejected.Add(1)
			default:
				t.Errorf("unexpected refresh error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 || rejected.Load() != workers-1 {
		t.Fatalf("expected one rotation, got %d wins and %d rejections", wins.Load(), rejected.Load())
	}
}

func TestRefreshRechecksAccountState(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	user, _ := svc.Register(ctx, RegisterInput{Email: "f@x.com", Password: strongPassword, Persona: "end_user"})
	if _, err := svc.Approve(ctx, "admin", user.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	pair, _, err := svc.Login(ctx, "f@x.com", strongPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := svc.SetActive(ctx, user.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if _, _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrAccountState) {
		t.Fatalf("expected account state error, got %v", err)
	}
}

func TestExternalIdentityLinkAndLogin(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	now := time.Now().UTC()
	user := &User{
		ID: "oauth-user", Email: "g@x.com", Persona: PersonaEndUser,
		Roles: DefaultRoles(PersonaEndUser), IsActive: true,
		ApprovalStatus: ApprovalApproved, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.Create(ctx, user); err != nil {
		t.Fatalf("Create: %v", err)
	}

	li, err := svc.LinkExternalIdentity(ctx, LinkInput{
		UserID: user.ID, Provider: "Google", ProviderUserID: "g-123", AccessToken: "ya29.token",
	})
	if err != nil {
		t.Fatalf("LinkExternalIdentity: %v", err)
	}
	if li.AccessToken != "sealed(ya29.token)" || li.Provider != "google" {
		t.Fatalf("provider token not sealed: %+v", li)
	}

	other := &User{ID: "other", Email: "h@x.com", Persona: PersonaEndUser, IsActive: true, ApprovalStatus: ApprovalApproved}
	if err := store.Create(ctx, other); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.LinkExternalIdentity(ctx, LinkInput{UserID: other.ID, Provider: "google", ProviderUserID: "g-123"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for duplicate external identity, got %v", err)
	}

	_, principal, err := svc.LoginWithExternalIdentity(ctx, "google", "g-123")
	if err != nil {
		t.Fatalf("LoginWithExternalIdentity: %v", err)
	}
	if principal.ID != user.ID {
		t.Fatalf("unexpected principal %+v", principal)
	}
	if _, _, err := svc.Login(ctx, "g@x.com", "Anything1!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("oauth-only account must not accept passwords: %v", err)
	}
	if _, _, err := svc.LoginWithExternalIdentity(ctx, "google", "unknown"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestListPending(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	for _, email := range []string{"p1@x.com", "p2@x.com"} {
		if _, err := svc.Register(ctx, RegisterInput{Email: email, Password: strongPassword, Persona: "builder"}); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	pending, err := svc.ListPending(ctx)
	if err != nil || len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d %v", len(pending), err)
	}
}
