package models

import "time"

// RoleScope groups role names by what they grant access to.
type RoleScope string

const (
	RoleScopeGlobal     RoleScope = "global"
	RoleScopeWorkflow   RoleScope = "workflow"
	RoleScopeCredential RoleScope = "credential"
)

// Role names.
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// Role is immutable reference data identified by (name, scope).
type Role struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Scope     RoleScope `json:"scope"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultRoles lists the roles every installation is seeded with.
func DefaultRoles() []*Role {
	return []*Role{
		{Name: RoleOwner, Scope: RoleScopeGlobal},
		{Name: RoleMember, Scope: RoleScopeGlobal},
		{Name: RoleOwner, Scope: RoleScopeWorkflow},
		{Name: RoleOwner, Scope: RoleScopeCredential},
	}
}
