package auth

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrConflict           = errors.New("auth: already exists")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	ErrMissingToken       = errors.New("auth: missing bearer token")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrAccessDenied       = errors.New("auth: access denied")
	ErrRateLimited        = errors.New("auth: rate limited")
	ErrAccountState       = errors.New("auth: account not usable")
	ErrPermissionDenied   = errors.New("auth: permission denied")
	ErrPersonaDenied      = errors.New("auth: persona denied")
)

// ValidationError lists every violated input constraint.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Violations, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// AccountState is the reason an account cannot receive tokens.
type AccountState string

const (
	AccountDeactivated     AccountState = "deactivated"
	AccountPendingApproval AccountState = "pending_approval"
	AccountRejected        AccountState = "rejected"
)

// AccountStateError is returned when a principal exists but may not sign in.
// RejectionReason is only populated for the account owner.
type AccountStateError struct {
	State           AccountState
	RejectionReason string
}

func (e *AccountStateError) Error() string {
	return fmt.Sprintf("account %s", e.State)
}

func (e *AccountStateError) Unwrap() error { return ErrAccountState }

// PermissionDeniedError carries the permissions the route required.
type PermissionDeniedError struct {
	Required []Permission
	// Mode is "one", "any" or "all".
	Mode string
}

func (e *PermissionDeniedError) Error() string {
	names := make([]string, len(e.Required))
	for i, p := range e.Required {
		names[i] = string(p)
	}
	return fmt.Sprintf("missing %s permission: %s", e.Mode, strings.Join(names, ","))
}

func (e *PermissionDeniedError) Unwrap() error { return ErrPermissionDenied }

// PersonaDeniedError carries the allowed personas and the caller's persona.
type PersonaDeniedError struct {
	Allowed []Persona
	Actual  Persona
}

func (e *PersonaDeniedError) Error() string {
	names := make([]string, len(e.Allowed))
	for i, p := range e.Allowed {
		names[i] = string(p)
	}
	return fmt.Sprintf("persona %s not in [%s]", e.Actual, strings.Join(names, ","))
}

func (e *PersonaDeniedError) Unwrap() error { return ErrPersonaDenied }

// RateLimitedError carries how long the caller should wait.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfterSeconds())
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// RetryAfterSeconds rounds up to whole seconds, minimum 1.
func (e *RateLimitedError) RetryAfterSeconds() int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
