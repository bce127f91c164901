package models

import "time"

// SharedWorkflow grants a user a role over a workflow. Unique on (UserID, WorkflowID).
type SharedWorkflow struct {
	UserID     string    `json:"user_id"`
	WorkflowID string    `json:"workflow_id"`
	RoleID     string    `json:"role_id"`
	Role       *Role     `json:"role,omitempty"`
	Workflow   *Workflow `json:"workflow,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SharedCredential grants a user a role over a credential. Unique on (UserID, CredentialID).
type SharedCredential struct {
	UserID       string    `json:"user_id"`
	CredentialID string    `json:"credential_id"`
	RoleID       string    `json:"role_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
