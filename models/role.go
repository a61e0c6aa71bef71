package models

import "strings"

// Role is one of a fixed set of account roles.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Capability is a bit in a role's permission set.
type Capability uint8

const (
	CapCreate Capability = 1 << iota
	CapRead
	CapUpdate
	CapDelete
	CapModerate
	CapManage
)

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// Capabilities returns the role's permission set. Unknown roles get none.
func (r Role) Capabilities() Capability {
	switch r {
	case RoleUser:
		return CapCreate | CapRead | CapUpdate
	case RoleModerator:
		return CapCreate | CapRead | CapUpdate | CapModerate
	case RoleAdmin:
		return CapCreate | CapRead | CapUpdate | CapDelete | CapModerate | CapManage
	}
	return 0
}

func (r Role) Can(c Capability) bool {
	return c != 0 && r.Capabilities()&c == c
}
