package models

import "time"

// User is an identity that can own workflows and credentials.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	PasswordHash string    `json:"-"`
	APIKey       string    `json:"-"`
	GlobalRoleID string    `json:"global_role_id"`
	GlobalRole   *Role     `json:"global_role,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsPending reports whether the user was invited but never set a password.
func (u *User) IsPending() bool {
	return u.PasswordHash == ""
}

// IsInstanceOwner reports whether the user holds the global owner role.
// The role must be loaded.
func (u *User) IsInstanceOwner() bool {
	return u.GlobalRole != nil && u.GlobalRole.Scope == RoleScopeGlobal && u.GlobalRole.Name == RoleOwner
}

// Status is the user's signup state as reported in audit events.
func (u *User) Status() string {
	if u.IsPending() {
		return "invited"
	}

	return "active"
}
