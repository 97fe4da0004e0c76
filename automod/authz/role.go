package authz

import (
	"strings"
)

// Authorization level. The zero value, RoleNone, is "no requirement" and is only meaningful as a command's required role.
type Role int

const (
	RoleNone Role = iota
	RoleOwner
	RoleAdmin
	RoleModerator
	RoleStaff
)

// least-privileged recognized level; the effective role of a user with no recognized roles
const DefaultRole = RoleStaff

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleAdmin:
		return "admin"
	case RoleModerator:
		return "moderator"
	case RoleStaff:
		return "staff"
	default:
		return "none"
	}
}

// Returns RoleNone and false for unrecognized strings.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "owner":
		return RoleOwner, true
	case "admin":
		return RoleAdmin, true
	case "moderator":
		return RoleModerator, true
	case "staff":
		return RoleStaff, true
	default:
		return RoleNone, false
	}
}

// Position in the hierarchy; lower is more privileged. RoleNone ranks below every recognized role.
func (r Role) Rank() int {
	switch r {
	case RoleOwner, RoleAdmin, RoleModerator, RoleStaff:
		return int(r) - 1
	default:
		return int(RoleStaff)
	}
}

// Whether r is at least as privileged as required. Always true for RoleNone requirements.
func (r Role) AtLeast(required Role) bool {
	if required == RoleNone {
		return true
	}
	return r.Rank() <= required.Rank()
}

// Raw role strings as read from the store.
type RoleSet []string

// Most-privileged recognized role in the set, or DefaultRole.
func (rs RoleSet) Effective() Role {
	best := RoleNone
	for _, s := range rs {
		r, ok := ParseRole(s)
		if !ok {
			continue
		}
		if best == RoleNone || r.Rank() < best.Rank() {
			best = r
		}
	}
	if best == RoleNone {
		return DefaultRole
	}
	return best
}

func AllRoles() []Role {
	return []Role{RoleOwner, RoleAdmin, RoleModerator, RoleStaff}
}
