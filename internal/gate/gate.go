// Package gate turns a bearer token and a declarative requirement into either an
// authenticated principal or a typed rejection. It knows nothing about HTTP or gRPC.
//
// Every check walks the same stages in order: token present, token verified,
// permissions, persona, and (when the caller asks) ownership.
package gate

import (
	"errors"
	"strings"

	"agenthub.io/internal/auth"
	"agenthub.io/internal/obs"
)

const bearerPrefix = "bearer "

// Verifier validates access tokens. *auth.TokenService satisfies it.
type Verifier interface {
	VerifyAccessToken(token string) (*auth.AccessClaims, error)
}

// Gate composes token verification with the permission model.
type Gate struct {
	tokens Verifier
}

// New returns a Gate backed by tokens.
func New(tokens Verifier) *Gate {
	return &Gate{tokens: tokens}
}

// Authenticate verifies token and returns the principal it carries.
// An empty token is ErrMissingToken; anything unverifiable is ErrInvalidToken.
func (g *Gate) Authenticate(token string) (auth.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Principal{}, auth.ErrMissingToken
	}
	claims, err := g.tokens.VerifyAccessToken(token)
	if err != nil {
		return auth.Principal{}, auth.ErrInvalidToken
	}
	return claims.Principal(), nil
}

// Authorize applies the permission stage then the persona stage of r to p.
func (g *Gate) Authorize(p auth.Principal, r Requirement) error {
	if len(r.perms) > 0 {
		var ok bool
		switch r.mode {
		case modeAny:
			ok = p.Permissions.HasAny(r.perms...)
		default:
			ok = p.Permissions.HasAll(r.perms...)
		}
		if !ok {
			return &auth.PermissionDeniedError{Required: append([]auth.Permission(nil), r.perms...), Mode: r.mode}
		}
	}
	if len(r.personas) > 0 {
		for _, allowed := range r.personas {
			if p.Persona == allowed {
				return nil
			}
		}
		return &auth.PersonaDeniedError{Allowed: append([]auth.Persona(nil), r.personas...), Actual: p.Persona}
	}
	return nil
}

// Check authenticates token and authorizes the result against r, recording the outcome.
func (g *Gate) Check(token string, r Requirement) (auth.Principal, error) {
	p, err := g.Authenticate(token)
	if err == nil {
		err = g.Authorize(p, r)
	}
	obs.ObserveGateDecision(Outcome(err))
	if err != nil {
		return auth.Principal{}, err
	}
	return p, nil
}

// Optional returns the principal when token verifies. It never rejects.
func (g *Gate) Optional(token string) (auth.Principal, bool) {
	if strings.TrimSpace(token) == "" {
		return auth.Principal{}, false
	}
	p, err := g.Authenticate(token)
	if err != nil {
		return auth.Principal{}, false
	}
	return p, true
}

// CheckOwnership is the final stage: p must own the resource or be a super admin.
func CheckOwnership(p auth.Principal, ownerID string) error {
	if p.CanAccessResource(ownerID) {
		return nil
	}
	obs.ObserveGateDecision(Outcome(auth.ErrAccessDenied))
	return auth.ErrAccessDenied
}

// BearerToken extracts the token from an Authorization header value.
// A header with another scheme yields "" so callers report a missing token.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}

// Outcome names a gate result for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "allowed"
	case errors.Is(err, auth.ErrMissingToken):
		return "missing_token"
	case errors.Is(err, auth.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, auth.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, auth.ErrPersonaDenied):
		return "persona_denied"
	case errors.Is(err, auth.ErrAccessDenied):
		return "access_denied"
	default:
		return "error"
	}
}
