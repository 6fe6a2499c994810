package shared

import "strings"

// Role is the coarse capability attached to an identity.
type Role string

// Portal roles issued by the identity provider.
const (
	RoleAdmin    Role = "ADMIN"
	RoleOffice   Role = "OFFICE"
	RoleTeacher  Role = "TEACHER"
	RoleParent   Role = "PARENT"
	RoleViewOnly Role = "VIEW_ONLY"
)

// ParseRole normalises a role claim; unknown values yield an empty role.
func ParseRole(raw string) Role {
	switch r := Role(strings.ToUpper(strings.TrimSpace(raw))); r {
	case RoleAdmin, RoleOffice, RoleTeacher, RoleParent, RoleViewOnly:
		return r
	default:
		return ""
	}
}

// StaffRoles may administer fee rules, collect payments and read collection reports.
func StaffRoles() []Role {
	return []Role{RoleAdmin, RoleOffice}
}

// GuardianRoles may read the guardian-facing ledger of their own student.
func GuardianRoles() []Role {
	return []Role{RoleParent}
}

// HasAnyRole reports whether role is one of allowed.
func HasAnyRole(role Role, allowed ...Role) bool {
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}
