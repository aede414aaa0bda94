package auth

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleSetup  = "setup" // held only by the short-lived bootstrap login session
)

const (
	PermDirectoryRead  = "directory.read"
	PermProfileWrite   = "profile.write"
	PermChatUse        = "chat.use"
	PermMembersApprove = "members.approve"
	PermMembersSuspend = "members.suspend"
	PermSettingsWrite  = "settings.write"
	PermChatsPurge     = "chats.purge"
	PermAuditRead      = "audit.read"
	PermAdminSetup     = "admin.setup"
)

// Permission describes an action key.
type Permission struct {
	Key         string
	Description string
}

var BuiltinPermissions = []Permission{
	{Key: PermDirectoryRead, Description: "List family members and their locations"},
	{Key: PermProfileWrite, Description: "Update own profile and location"},
	{Key: PermChatUse, Description: "Read and write chats the user belongs to"},
	{Key: PermMembersApprove, Description: "Authorize pending members"},
	{Key: PermMembersSuspend, Description: "Suspend and reactivate members"},
	{Key: PermSettingsWrite, Description: "Change site settings"},
	{Key: PermChatsPurge, Description: "Clear the history of every chat"},
	{Key: PermAuditRead, Description: "Read the administrative audit trail"},
	{Key: PermAdminSetup, Description: "Create the bootstrap administrator"},
}

var rolePermissions = map[string][]string{
	RoleMember: {PermDirectoryRead, PermProfileWrite, PermChatUse},
	RoleAdmin: {
		PermDirectoryRead, PermProfileWrite, PermChatUse,
		PermMembersApprove, PermMembersSuspend, PermSettingsWrite, PermChatsPurge,
		PermAuditRead,
	},
	RoleSetup: {PermAdminSetup},
}

// PermissionsForRoles resolves the union of permissions granted by roles.
func PermissionsForRoles(roles []string) []Permission {
	seen := make(map[string]struct{})
	var out []Permission
	for _, role := range dedupeRoles(roles) {
		for _, key := range rolePermissions[role] {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, Permission{Key: key})
		}
	}
	return out
}
