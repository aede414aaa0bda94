package auth

// Principal represents an authenticated caller with resolved roles and permissions.
type Principal struct {
	UserID      string
	Roles       []string
	Permissions map[string]struct{}
}

// NewPrincipal constructs a principal whose permissions follow from its roles.
func NewPrincipal(userID string, roles []string) Principal {
	roles = dedupeRoles(roles)
	perms := PermissionsForRoles(roles)
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[p.Key] = struct{}{}
	}
	return Principal{UserID: userID, Roles: roles, Permissions: set}
}

// HasPermission reports whether the principal can execute the action identified by key.
func (p Principal) HasPermission(key string) bool {
	_, ok := p.Permissions[key]
	return ok
}

// HasRole reports whether the principal holds role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin is shorthand for HasRole(RoleAdmin).
func (p Principal) IsAdmin() bool { return p.HasRole(RoleAdmin) }
