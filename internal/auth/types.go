package auth

import "time"

// ApprovalStatus tracks admin review of a registration.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// User is a stored principal. PasswordHash is empty for OAuth-only accounts.
type User struct {
	ID              string
	Email           string
	PasswordHash    string
	Persona         Persona
	Roles           []Role
	Permissions     PermissionSet
	Metadata        map[string]any
	IsActive        bool
	ApprovalStatus  ApprovalStatus
	ApprovedBy      string
	ApprovedAt      *time.Time
	RejectionReason string
	LastLoginAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LinkedIdentity binds a user to an external OAuth identity.
// (Provider, ProviderUserID) is unique across all users.
type LinkedIdentity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	// Sealed provider tokens; never plaintext.
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	ProfileData  map[string]any
	CreatedAt    time.Time
}
