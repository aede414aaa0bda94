package auth

import (
	"context"
	"testing"
)

func TestPrincipalPermissions(t *testing.T) {
	member := NewPrincipal("u1", []string{"Member"})
	if !member.HasPermission(PermChatUse) {
		t.Fatalf("member should use chat")
	}
	if member.HasPermission(PermMembersApprove) || member.IsAdmin() {
		t.Fatalf("member must not approve users")
	}

	admin := NewPrincipal("a1", []string{RoleAdmin})
	for _, p := range []string{PermMembersApprove, PermSettingsWrite, PermChatsPurge, PermChatUse} {
		if !admin.HasPermission(p) {
			t.Fatalf("admin missing %s", p)
		}
	}
	if admin.HasPermission(PermAdminSetup) {
		t.Fatalf("admin should not hold the setup permission")
	}

	setup := NewPrincipal("admin", []string{RoleSetup})
	if !setup.HasPermission(PermAdminSetup) || setup.HasPermission(PermDirectoryRead) {
		t.Fatalf("unexpected setup permissions: %v", setup.Permissions)
	}
}

func TestPrincipalContext(t *testing.T) {
	if _, ok := UserIDFromContext(context.Background()); ok {
		t.Fatal("empty context has a user")
	}
	ctx := ContextWithPrincipal(context.Background(), NewPrincipal("u7", []string{RoleMember}))
	id, ok := UserIDFromContext(ctx)
	if !ok || id != "u7" {
		t.Fatalf("UserIDFromContext=%q,%v", id, ok)
	}
	p, _ := PrincipalFromContext(ctx)
	if !p.HasRole(RoleMember) {
		t.Fatalf("roles lost: %v", p.Roles)
	}
}
