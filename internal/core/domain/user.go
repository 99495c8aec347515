package domain

import (
	"strings"
	"time"
)

// RoleName identifies one of the roles a user can hold. The set is open:
// the backend may introduce new roles without a client update.
type RoleName string

const (
	RoleStudent    RoleName = "student"
	RoleTutor      RoleName = "tutor"
	RoleParent     RoleName = "parent"
	RoleAdvertiser RoleName = "advertiser"
	RoleAdmin      RoleName = "admin"
)

// UserRecord is the identity projection kept in memory and persisted as
// JSON under the currentUser storage key. Field tags mirror the backend
// wire format so the persisted blob round-trips unchanged.
type UserRecord struct {
	ID         int64      `json:"id"`
	FirstName  string     `json:"first_name"`
	FatherName string     `json:"father_name,omitempty"`
	Email      string     `json:"email,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	Roles      []RoleName `json:"roles,omitempty"`
	// Role is the legacy singular field older clients persisted. Kept in
	// sync with ActiveRole on every mutation.
	Role       RoleName           `json:"role,omitempty"`
	ActiveRole RoleName           `json:"active_role,omitempty"`
	RoleIDs    map[RoleName]int64 `json:"role_ids,omitempty"`

	EmailVerified bool      `json:"email_verified,omitempty"`
	PhoneVerified bool      `json:"phone_verified,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

// DisplayName joins the name parts the backend supplies.
func (u *UserRecord) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.FatherName)
}

// HasRole reports whether the user holds the given role.
func (u *UserRecord) HasRole(role RoleName) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// NormalizeRoles synthesizes the roles list from the legacy singular
// role field when the list is absent.
func (u *UserRecord) NormalizeRoles() {
	if len(u.Roles) == 0 && u.Role != "" {
		u.Roles = []RoleName{u.Role}
	}
}

// FirstRole returns the first held role, or "" when none are known.
func (u *UserRecord) FirstRole() RoleName {
	if len(u.Roles) == 0 {
		return ""
	}
	return u.Roles[0]
}

// SetActiveRole updates both the active role and the legacy singular
// field so persisted copies stay consistent.
func (u *UserRecord) SetActiveRole(role RoleName) {
	u.ActiveRole = role
	u.Role = role
}

// Clone returns a deep copy safe to hand to callers.
func (u *UserRecord) Clone() *UserRecord {
	if u == nil {
		return nil
	}
	clone := *u
	if u.Roles != nil {
		clone.Roles = append([]RoleName(nil), u.Roles...)
	}
	if u.RoleIDs != nil {
		clone.RoleIDs = make(map[RoleName]int64, len(u.RoleIDs))
		for k, v := range u.RoleIDs {
			clone.RoleIDs[k] = v
		}
	}
	return &clone
}
