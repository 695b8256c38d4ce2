package auth

import (
	"encoding/json"
	"sort"
	"strings"
)

// Permission names a single capability.
type Permission string

const (
	PermCreateProject            Permission = "create_project"
	PermEditProject              Permission = "edit_project"
	PermDeleteProject            Permission = "delete_project"
	PermPublishProject           Permission = "publish_project"
	PermPurchaseProject          Permission = "purchase_project"
	PermUseWidget                Permission = "use_widget"
	PermManageUsers              Permission = "manage_users"
	PermManageMCPServers         Permission = "manage_mcp_servers"
	PermViewAnalytics            Permission = "view_analytics"
	PermManageMarketplace        Permission = "manage_marketplace"
	PermManageBilling            Permission = "manage_billing"
	PermViewCredentials          Permission = "view_credentials"
	PermManageCredentials        Permission = "manage_credentials"
	PermManageProjectCredentials Permission = "manage_project_credentials"
)

// wildcardToken is the serialized form of the wildcard grant. It never appears as a Permission value.
const wildcardToken = "*"

// BuiltinPermissions is the closed set of named permissions.
var BuiltinPermissions = []Permission{
	PermCreateProject,
	PermEditProject,
	PermDeleteProject,
	PermPublishProject,
	PermPurchaseProject,
	PermUseWidget,
	PermManageUsers,
	PermManageMCPServers,
	PermViewAnalytics,
	PermManageMarketplace,
	PermManageBilling,
	PermViewCredentials,
	PermManageCredentials,
	PermManageProjectCredentials,
}

// Role groups permissions.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleBuilder    Role = "builder"
	RoleEndUser    Role = "end_user"
)

// Grant is a role's entry in the permission table: either everything or a named list.
type Grant struct {
	all   bool
	perms []Permission
}

// GrantAll is the wildcard grant.
func GrantAll() Grant { return Grant{all: true} }

// GrantOf grants exactly the listed permissions.
func GrantOf(perms ...Permission) Grant { return Grant{perms: perms} }

var rolePermissions = map[Role]Grant{
	RoleSuperAdmin: GrantAll(),
	RoleAdmin: GrantOf(
		PermManageUsers,
		PermManageMCPServers,
		PermViewAnalytics,
		PermManageMarketplace,
		PermManageBilling,
	),
	RoleBuilder: GrantOf(
		PermCreateProject,
		PermEditProject,
		PermDeleteProject,
		PermPublishProject,
		PermViewAnalytics,
		PermViewCredentials,
		PermManageCredentials,
		PermManageProjectCredentials,
	),
	RoleEndUser: GrantOf(
		PermPurchaseProject,
		PermUseWidget,
	),
}

// PermissionSet is an immutable set of granted permissions, possibly the wildcard.
type PermissionSet struct {
	all   bool
	named map[Permission]struct{}
}

// NewPermissionSet builds a set from named permissions.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := PermissionSet{named: make(map[Permission]struct{}, len(perms))}
	for _, p := range perms {
		if p == "" {
			continue
		}
		set.named[p] = struct{}{}
	}
	return set
}

// AllPermissions returns the wildcard set.
func AllPermissions() PermissionSet { return PermissionSet{all: true} }

// PermissionsForRoles returns the union of every role's table entry. Unknown roles grant nothing.
func PermissionsForRoles(roles []Role) PermissionSet {
	set := PermissionSet{named: make(map[Permission]struct{})}
	for _, role := range roles {
		grant, ok := rolePermissions[role]
		if !ok {
			continue
		}
		if grant.all {
			set.all = true
		}
		for _, p := range grant.perms {
			set.named[p] = struct{}{}
		}
	}
	return set
}

// IsAll reports whether the set holds the wildcard.
func (s PermissionSet) IsAll() bool { return s.all }

// Has reports whether required is granted.
func (s PermissionSet) Has(required Permission) bool {
	if s.all {
		return true
	}
	_, ok := s.named[required]
	return ok
}

// HasAny reports whether at least one of required is granted.
func (s PermissionSet) HasAny(required ...Permission) bool {
	if s.all {
		return true
	}
	for _, p := range required {
		if _, ok := s.named[p]; ok {
			return true
		}
	}
	return false
}

// HasAll reports whether every one of required is granted.
func (s PermissionSet) HasAll(required ...Permission) bool {
	if s.all {
		return true
	}
	for _, p := range required {
		if _, ok := s.named[p]; !ok {
			return false
		}
	}
	return true
}

// Expand lists every permission the set grants, sorted. The wildcard expands to BuiltinPermissions.
func (s PermissionSet) Expand() []Permission {
	var out []Permission
	if s.all {
		out = append(out, BuiltinPermissions...)
	} else {
		for p := range s.named {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the wire form: ["*"] for the wildcard, sorted names otherwise.
func (s PermissionSet) Strings() []string {
	if s.all {
		return []string{wildcardToken}
	}
	perms := s.Expand()
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

// ParsePermissionSet reads the wire form produced by Strings.
func ParsePermissionSet(values []string) PermissionSet {
	set := PermissionSet{named: make(map[Permission]struct{}, len(values))}
	for _, v := range values {
		v = strings.TrimSpace(v)
		switch v {
		case "":
		case wildcardToken:
			set.all = true
		default:
			set.named[Permission(v)] = struct{}{}
		}
	}
	return set
}

func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*s = ParsePermissionSet(values)
	return nil
}

// Persona is the coarse routing/display tag of a principal.
type Persona string

const (
	PersonaSuperAdmin Persona = "super_admin"
	PersonaBuilder    Persona = "builder"
	PersonaEndUser    Persona = "end_user"
)

var personaRoles = map[Persona][]Role{
	PersonaSuperAdmin: {RoleSuperAdmin, RoleAdmin},
	PersonaBuilder:    {RoleBuilder},
	PersonaEndUser:    {RoleEndUser},
}

// Valid reports whether p is a known persona.
func (p Persona) Valid() bool {
	_, ok := personaRoles[p]
	return ok
}

// ParsePersona validates and normalizes a persona name.
func ParsePersona(raw string) (Persona, error) {
	p := Persona(strings.TrimSpace(strings.ToLower(raw)))
	if !p.Valid() {
		return "", &ValidationError{Violations: []string{"persona must be one of super_admin, builder, end_user"}}
	}
	return p, nil
}

// DefaultRoles returns the roles a new principal of persona p starts with.
func DefaultRoles(p Persona) []Role {
	roles := personaRoles[p]
	out := make([]Role, len(roles))
	copy(out, roles)
	return out
}

// CanAccessPersonaData reports whether actor may see data scoped to target.
func CanAccessPersonaData(actor, target Persona) bool {
	if actor == PersonaSuperAdmin {
		return true
	}
	return actor == target
}

func dedupeRoles(roles []Role) []Role {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[Role]struct{}, len(roles))
	var normalized []Role
	for _, role := range roles {
		role = Role(strings.TrimSpace(strings.ToLower(string(role))))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}
