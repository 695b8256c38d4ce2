package gate

import "agenthub.io/internal/auth"

const (
	modeOne = "one"
	modeAny = "any"
	modeAll = "all"
)

// Requirement is what a route demands of an authenticated principal.
// The zero value only requires a valid token.
type Requirement struct {
	perms    []auth.Permission
	mode     string
	personas []auth.Persona
}

// Authenticated requires a valid token and nothing else.
func Authenticated() Requirement { return Requirement{} }

// RequirePermission requires a single permission.
func RequirePermission(p auth.Permission) Requirement {
	return Requirement{perms: []auth.Permission{p}, mode: modeOne}
}

// RequireAny requires at least one of perms.
func RequireAny(perms ...auth.Permission) Requirement {
	return Requirement{perms: perms, mode: modeAny}
}

// RequireAll requires every one of perms.
func RequireAll(perms ...auth.Permission) Requirement {
	return Requirement{perms: perms, mode: modeAll}
}

// RequirePersona restricts the route to the listed personas.
func RequirePersona(personas ...auth.Persona) Requirement {
	return Requirement{personas: personas}
}

func SuperAdminOnly() Requirement {
	return RequirePersona(auth.PersonaSuperAdmin)
}

// BuilderOnly also admits super admins.
func BuilderOnly() Requirement {
	return RequirePersona(auth.PersonaBuilder, auth.PersonaSuperAdmin)
}

// EndUserOnly admits every persona that can act as an end user.
func EndUserOnly() Requirement {
	return RequirePersona(auth.PersonaEndUser, auth.PersonaBuilder, auth.PersonaSuperAdmin)
}

// WithPersonas returns a copy of r whose persona allowlist is personas.
func (r Requirement) WithPersonas(personas ...auth.Persona) Requirement {
	r.personas = append([]auth.Persona(nil), personas...)
	return r
}

// Permissions lists the permissions r requires.
func (r Requirement) Permissions() []auth.Permission {
	return append([]auth.Permission(nil), r.perms...)
}

// Personas lists the personas r admits; empty means any.
func (r Requirement) Personas() []auth.Persona {
	return append([]auth.Persona(nil), r.personas...)
}
