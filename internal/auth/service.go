package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"agenthub.io/internal/ids"
)

// Sealer encrypts secret material before it is stored.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
}

// Service implements the account flows: registration, login, refresh, logout and admin review.
type Service struct {
	store       Store
	tokens      *TokenService
	revocations RevocationList
	sealer      Sealer
	validate    *validator.Validate
	now         func() time.Time
	newID       func() string

	dummyOnce sync.Once
	dummyHash string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithRevocationList overrides the default in-memory revocation list.
func WithRevocationList(list RevocationList) ServiceOption {
	return func(s *Service) error {
		if list == nil {
			return errors.New("auth: revocation list is nil")
		}
		s.revocations = list
		return nil
	}
}

// WithSealer enables storing provider tokens for linked identities.
func WithSealer(sealer Sealer) ServiceOption {
	return func(s *Service) error {
		s.sealer = sealer
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithIDGenerator overrides how new user ids are produced.
func WithIDGenerator(fn func() string) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.newID = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, tokens *TokenService, opts ...ServiceOption) (*Service, error) {
	if store == nil || tokens == nil {
		return nil, errors.New("auth: store and token service are required")
	}
	svc := &Service{
		store:       store,
		tokens:      tokens,
		revocations: NewMemoryRevocations(),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		now:         time.Now,
		newID:       ids.NewUUID,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Tokens exposes the token service used by the account flows.
func (s *Service) Tokens() *TokenService { return s.tokens }

// RegisterInput is the payload of a self-service registration.
type RegisterInput struct {
	Email    string         `json:"email" validate:"required,email"`
	Password string         `json:"password" validate:"required"`
	Persona  string         `json:"persona" validate:"required,oneof=super_admin builder end_user"`
	Metadata map[string]any `json:"metadata"`
}

// Register creates a pending principal. No tokens are issued until an admin approves it.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	in.Email = normalizeEmail(in.Email)
	in.Persona = strings.TrimSpace(strings.ToLower(in.Persona))
	if err := s.validateStruct(in); err != nil {
		return nil, err
	}
	if err := ValidatePasswordStrength(in.Password); err != nil {
		return nil, err
	}
	if _, err := s.store.Users(ctx).FindByEmail(ctx, in.Email); err == nil {
		return nil, fmt.Errorf("%w: email already registered", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	persona := Persona(in.Persona)
	roles := DefaultRoles(persona)
	now := s.now().UTC()
	user := &User{
		ID:             s.newID(),
		Email:          in.Email,
		PasswordHash:   hash,
		Persona:        persona,
		Roles:          roles,
		Permissions:    PermissionsForRoles(roles),
		Metadata:       in.Metadata,
		IsActive:       true,
		ApprovalStatus: ApprovalPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if user.Metadata == nil {
		user.Metadata = map[string]any{}
	}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login authenticates email/password and issues a token pair.
// The password is checked before the account state so that state is only revealed to the owner.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, Principal, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return TokenPair{}, Principal{}, &ValidationError{Violations: []string{"email and password are required"}}
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.burnPasswordCheck(password)
			return TokenPair{}, Principal{}, ErrInvalidCredentials
		}
		return TokenPair{}, Principal{}, err
	}
	if user.PasswordHash == "" {
		s.burnPasswordCheck(password)
		return TokenPair{}, Principal{}, ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return TokenPair{}, Principal{}, ErrInvalidCredentials
	}
	if err := CheckAccountUsable(user); err != nil {
		return TokenPair{}, Principal{}, err
	}
	return s.issueFor(ctx, user)
}

// Refresh rotates a refresh token: the presented token is revoked and a new pair is issued.
// A token can be rotated once; concurrent attempts with the same token all but one fail.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, Principal, error) {
	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, Principal{}, ErrInvalidToken
	}
	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	if revoked {
		return TokenPair{}, Principal{}, ErrInvalidToken
	}
	user, err := s.store.Users(ctx).Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, Principal{}, ErrInvalidToken
		}
		return TokenPair{}, Principal{}, err
	}
	if err := CheckAccountUsable(user); err != nil {
		return TokenPair{}, Principal{}, err
	}
	claimed, err := s.revocations.Claim(ctx, claims.ID, claims.ExpiresAt.Time)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	if !claimed {
		return TokenPair{}, Principal{}, ErrInvalidToken
	}
	principal := PrincipalFromUser(user)
	pair, err := s.tokens.IssueTokenPair(principal)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	return pair, principal, nil
}

// Logout revokes the refresh token until it would have expired.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return ErrInvalidToken
	}
	return s.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
}

// Me returns the stored user behind an authenticated principal.
func (s *Service) Me(ctx context.Context, userID string) (*User, error) {
	return s.store.Users(ctx).Find(ctx, userID)
}

// ListPending returns registrations waiting for review, oldest first.
func (s *Service) ListPending(ctx context.Context) ([]*User, error) {
	return s.store.Users(ctx).ListByApproval(ctx, ApprovalPending)
}

// Approve marks a user approved by reviewerID.
func (s *Service) Approve(ctx context.Context, reviewerID, userID string) (*User, error) {
	return s.review(ctx, userID, ApprovalUpdate{
		Status:     ApprovalApproved,
		ReviewedBy: reviewerID,
		ReviewedAt: s.now().UTC(),
	})
}

// Reject marks a user rejected. The reason is only ever shown to that user.
func (s *Service) Reject(ctx context.Context, reviewerID, userID, reason string) (*User, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &ValidationError{Violations: []string{"rejection reason is required"}}
	}
	return s.review(ctx, userID, ApprovalUpdate{
		Status:          ApprovalRejected,
		ReviewedBy:      reviewerID,
		ReviewedAt:      s.now().UTC(),
		RejectionReason: reason,
	})
}

func (s *Service) review(ctx context.Context, userID string, update ApprovalUpdate) (*User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	users := s.store.Users(ctx)
	if err := users.UpdateApproval(ctx, userID, update); err != nil {
		return nil, err
	}
	return users.Find(ctx, userID)
}

// SetActive activates or deactivates a user. Deactivated users cannot log in or refresh.
func (s *Service) SetActive(ctx context.Context, userID string, active bool) (*User, error) {
	users := s.store.Users(ctx)
	if err := users.SetActive(ctx, userID, active); err != nil {
		return nil, err
	}
	return users.Find(ctx, userID)
}

// LinkInput binds an external identity to an existing user.
type LinkInput struct {
	UserID         string
	Provider       string
	ProviderUserID string
	AccessToken    string
	RefreshToken   string
	ExpiresAt      *time.Time
	ProfileData    map[string]any
}

// LinkExternalIdentity stores the binding, sealing provider tokens. ErrConflict if the
// external identity already belongs to a user.
func (s *Service) LinkExternalIdentity(ctx context.Context, in LinkInput) (*LinkedIdentity, error) {
	in.Provider = strings.TrimSpace(strings.ToLower(in.Provider))
	in.ProviderUserID = strings.TrimSpace(in.ProviderUserID)
	if in.UserID == "" || in.Provider == "" || in.ProviderUserID == "" {
		return nil, &ValidationError{Violations: []string{"user id, provider and provider user id are required"}}
	}
	li := &LinkedIdentity{
		ID:             s.newID(),
		UserID:         in.UserID,
		Provider:       in.Provider,
		ProviderUserID: in.ProviderUserID,
		ExpiresAt:      in.ExpiresAt,
		ProfileData:    in.ProfileData,
		CreatedAt:      s.now().UTC(),
	}
	var err error
	if li.AccessToken, err = s.seal(in.AccessToken); err != nil {
		return nil, err
	}
	if li.RefreshToken, err = s.seal(in.RefreshToken); err != nil {
		return nil, err
	}
	if err := s.store.Identities(ctx).Link(ctx, li); err != nil {
		return nil, err
	}
	return li, nil
}

// LoginWithExternalIdentity issues tokens for the user bound to (provider, providerUserID).
func (s *Service) LoginWithExternalIdentity(ctx context.Context, provider, providerUserID string) (TokenPair, Principal, error) {
	li, err := s.store.Identities(ctx).FindByProvider(ctx, strings.ToLower(strings.TrimSpace(provider)), strings.TrimSpace(providerUserID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, Principal{}, ErrInvalidCredentials
		}
		return TokenPair{}, Principal{}, err
	}
	user, err := s.store.Users(ctx).Find(ctx, li.UserID)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	if err := CheckAccountUsable(user); err != nil {
		return TokenPair{}, Principal{}, err
	}
	return s.issueFor(ctx, user)
}

func (s *Service) issueFor(ctx context.Context, user *User) (TokenPair, Principal, error) {
	principal := PrincipalFromUser(user)
	pair, err := s.tokens.IssueTokenPair(principal)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	if err := s.store.Users(ctx).TouchLastLogin(ctx, user.ID, s.now().UTC()); err != nil {
		return TokenPair{}, Principal{}, err
	}
	return pair, principal, nil
}

func (s *Service) seal(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if s.sealer == nil {
		return "", errors.New("auth: no sealer configured for provider tokens")
	}
	return s.sealer.Encrypt(value)
}

// burnPasswordCheck spends one bcrypt comparison so unknown emails take as long as wrong passwords.
func (s *Service) burnPasswordCheck(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = HashPassword("agenthub-timing-equalizer")
	})
	_ = VerifyPassword(s.dummyHash, password)
}

func (s *Service) validateStruct(v any) error {
	return ValidationErrorFrom(s.validate.Struct(v))
}

// ValidationErrorFrom converts validator output into a *ValidationError. Other errors pass through.
func ValidationErrorFrom(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		out.Violations = append(out.Violations, describeFieldError(fe))
	}
	return out
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "oneof":
		return field + " must be one of " + fe.Param()
	case "max":
		return field + " must be at most " + fe.Param() + " characters"
	case "min":
		return field + " is too short"
	default:
		return field + " is invalid"
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
