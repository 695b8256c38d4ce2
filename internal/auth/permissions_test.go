package auth

import (
	"encoding/json"
	"testing"
)

func TestPermissionsForRolesMonotonic(t *testing.T) {
	roles := []Role{RoleEndUser, RoleBuilder, RoleAdmin, RoleSuperAdmin}
	for i := range roles {
		base := PermissionsForRoles(roles[:i])
		grown := PermissionsForRoles(roles[:i+1])
		for _, p := range base.Expand() {
			if !grown.Has(p) {
				t.Fatalf("adding %s removed %s", roles[i], p)
			}
		}
		if base.IsAll() && !grown.IsAll() {
			t.Fatalf("adding %s dropped the wildcard", roles[i])
		}
	}
}

func TestSuperAdminHasEveryPermission(t *testing.T) {
	set := PermissionsForRoles(DefaultRoles(PersonaSuperAdmin))
	if !set.IsAll() {
		t.Fatal("expected wildcard for super admin")
	}
	for _, p := range BuiltinPermissions {
		if !set.Has(p) {
			t.Fatalf("super admin lacks %s", p)
		}
	}
	if !set.Has(Permission("not_in_table")) {
		t.Fatal("wildcard should cover unknown permissions too")
	}
}

func TestHasAnyHasAll(t *testing.T) {
	set := PermissionsForRoles([]Role{RoleBuilder})
	if !set.HasAny(PermManageUsers, PermCreateProject) {
		t.Fatal("expected HasAny true")
	}
	if set.HasAny(PermManageUsers, PermPurchaseProject) {
		t.Fatal("expected HasAny false")
	}
	if !set.HasAll(PermCreateProject, PermManageCredentials) {
		t.Fatal("expected HasAll true")
	}
	if set.HasAll(PermCreateProject, PermManageUsers) {
		t.Fatal("expected HasAll false")
	}
	if set.HasAny() {
		t.Fatal("HasAny of nothing is false for named sets")
	}
	if !set.HasAll() {
		t.Fatal("HasAll of nothing is true")
	}
}

func TestDefaultRoles(t *testing.T) {
	cases := map[Persona][]Role{
		PersonaSuperAdmin: {RoleSuperAdmin, RoleAdmin},
		PersonaBuilder:    {RoleBuilder},
		PersonaEndUser:    {RoleEndUser},
	}
	for persona, want := range cases {
		got := DefaultRoles(persona)
		if len(got) != len(want) {
			t.Fatalf("%s: got %v want %v", persona, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%s: got %v want %v", persona, got, want)
			}
		}
	}
	got := DefaultRoles(PersonaBuilder)
	got[0] = RoleSuperAdmin
	if DefaultRoles(PersonaBuilder)[0] != RoleBuilder {
		t.Fatal("DefaultRoles must return a copy")
	}
}

func TestUnknownRoleGrantsNothing(t *testing.T) {
	set := PermissionsForRoles([]Role{"ghost"})
	if set.IsAll() || len(set.Expand()) != 0 {
		t.Fatalf("unexpected grants: %v", set.Strings())
	}
}

func TestPermissionSetJSON(t *testing.T) {
	data, err := json.Marshal(AllPermissions())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `["*"]` {
		t.Fatalf("unexpected wildcard encoding %s", data)
	}
	var decoded PermissionSet
	if err := json.Unmarshal([]byte(`["use_widget","purchase_project"]`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.IsAll() || !decoded.Has(PermUseWidget) || decoded.Has(PermManageUsers) {
		t.Fatalf("unexpected decoded set %v", decoded.Strings())
	}
}

func TestCanAccessPersonaData(t *testing.T) {
	if !CanAccessPersonaData(PersonaSuperAdmin, PersonaEndUser) {
		t.Fatal("super admin sees every persona")
	}
	if !CanAccessPersonaData(PersonaBuilder, PersonaBuilder) {
		t.Fatal("same persona allowed")
	}
	if CanAccessPersonaData(PersonaBuilder, PersonaEndUser) {
		t.Fatal("cross persona denied")
	}
}

func TestParsePersona(t *testing.T) {
	if p, err := ParsePersona(" Builder "); err != nil || p != PersonaBuilder {
		t.Fatalf("ParsePersona = %q, %v", p, err)
	}
	if _, err := ParsePersona("root"); err == nil {
		t.Fatal("expected error for unknown persona")
	}
}
