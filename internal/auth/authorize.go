package auth

// Principal is the authenticated caller as asserted by an access token.
type Principal struct {
	ID          string
	Email       string
	Persona     Persona
	Roles       []Role
	Permissions PermissionSet
}

// PrincipalFromUser derives a principal, recomputing permissions from the user's roles.
func PrincipalFromUser(u *User) Principal {
	roles := dedupeRoles(u.Roles)
	return Principal{
		ID:          u.ID,
		Email:       u.Email,
		Persona:     u.Persona,
		Roles:       roles,
		Permissions: PermissionsForRoles(roles),
	}
}

// HasPermission reports whether the principal has perm.
func (p Principal) HasPermission(perm Permission) bool {
	return p.Permissions.Has(perm)
}

// IsSuperAdmin reports whether the principal carries the super_admin persona.
func (p Principal) IsSuperAdmin() bool {
	return p.Persona == PersonaSuperAdmin
}

// CanAccessResource reports whether the principal owns the resource or is a super admin.
func (p Principal) CanAccessResource(ownerID string) bool {
	if p.IsSuperAdmin() {
		return true
	}
	return p.ID != "" && p.ID == ownerID
}

// CheckAccountUsable enforces that only active, approved users receive tokens.
func CheckAccountUsable(u *User) error {
	if !u.IsActive {
		return &AccountStateError{State: AccountDeactivated}
	}
	switch u.ApprovalStatus {
	case ApprovalApproved:
		return nil
	case ApprovalRejected:
		return &AccountStateError{State: AccountRejected, RejectionReason: u.RejectionReason}
	default:
		return &AccountStateError{State: AccountPendingApproval}
	}
}
