package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users(ctx context.Context) UserStore
	Identities(ctx context.Context) IdentityStore
}

// UserStore manages principals. Create returns ErrConflict on a duplicate email.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	ListByApproval(ctx context.Context, status ApprovalStatus) ([]*User, error)
	UpdateApproval(ctx context.Context, id string, update ApprovalUpdate) error
	SetActive(ctx context.Context, id string, active bool) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

// ApprovalUpdate is the result of an admin review.
type ApprovalUpdate struct {
	Status          ApprovalStatus
	ReviewedBy      string
	ReviewedAt      time.Time
	RejectionReason string
}

// IdentityStore manages linked external identities. Link returns ErrConflict when
// (provider, provider_user_id) is already bound.
type IdentityStore interface {
	Link(ctx context.Context, li *LinkedIdentity) error
	FindByProvider(ctx context.Context, provider, providerUserID string) (*LinkedIdentity, error)
	ListByUser(ctx context.Context, userID string) ([]*LinkedIdentity, error)
}
