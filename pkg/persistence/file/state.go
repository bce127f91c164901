package file

import (
	"sort"

	"github.com/tidewire/tidewire/pkg/models"
)

type state struct {
	users             map[string]*models.User
	roles             map[string]*models.Role
	workflows         map[string]*models.Workflow
	sharedWorkflows   map[shareKey]*models.SharedWorkflow
	credentials       map[string]*models.Credential
	sharedCredentials map[shareKey]*models.SharedCredential
}

type shareKey struct {
	userID     string
	resourceID string
}

func newState() *state {
	return &state{
		users:             make(map[string]*models.User),
		roles:             make(map[string]*models.Role),
		workflows:         make(map[string]*models.Workflow),
		sharedWorkflows:   make(map[shareKey]*models.SharedWorkflow),
		credentials:       make(map[string]*models.Credential),
		sharedCredentials: make(map[shareKey]*models.SharedCredential),
	}
}

// clone copies every stored entity so a transaction never mutates the
// published state.
func (s *state) clone() *state {
	next := newState()

	for id, user := range s.users {
		next.users[id] = copyUser(user)
	}

	for id, role := range s.roles {
		r := *role
		next.roles[id] = &r
	}

	for id, workflow := range s.workflows {
		next.workflows[id] = workflow.Clone()
	}

	for key, share := range s.sharedWorkflows {
		next.sharedWorkflows[key] = copySharedWorkflow(share)
	}

	for id, credential := range s.credentials {
		c := *credential
		next.credentials[id] = &c
	}

	for key, share := range s.sharedCredentials {
		sc := *share
		next.sharedCredentials[key] = &sc
	}

	return next
}

func copyUser(user *models.User) *models.User {
	u := *user
	u.GlobalRole = nil

	return &u
}

func copySharedWorkflow(share *models.SharedWorkflow) *models.SharedWorkflow {
	s := *share
	s.Role = nil
	s.Workflow = nil

	return &s
}

// document is the on-disk form. Secrets hidden from the API encoding are
// kept through dedicated fields.
type document struct {
	Users             []userRecord               `json:"users"`
	Roles             []*models.Role             `json:"roles"`
	Workflows         []*models.Workflow         `json:"workflows"`
	SharedWorkflows   []*models.SharedWorkflow   `json:"shared_workflows"`
	Credentials       []credentialRecord         `json:"credentials"`
	SharedCredentials []*models.SharedCredential `json:"shared_credentials"`
}

type userRecord struct {
	models.User

	PasswordHash string `json:"password_hash,omitempty"`
	APIKey       string `json:"api_key,omitempty"`
}

type credentialRecord struct {
	models.Credential

	Data string `json:"data,omitempty"`
}

func newDocument(st *state) *document {
	doc := &document{}

	for _, id := range sortedKeys(st.users) {
		user := copyUser(st.users[id])
		doc.Users = append(doc.Users, userRecord{User: *user, PasswordHash: user.PasswordHash, APIKey: user.APIKey})
	}

	for _, id := range sortedKeys(st.roles) {
		doc.Roles = append(doc.Roles, st.roles[id])
	}

	for _, id := range sortedKeys(st.workflows) {
		doc.Workflows = append(doc.Workflows, st.workflows[id])
	}

	for _, share := range st.sharedWorkflows {
		doc.SharedWorkflows = append(doc.SharedWorkflows, copySharedWorkflow(share))
	}

	sort.Slice(doc.SharedWorkflows, func(i, j int) bool {
		a, b := doc.SharedWorkflows[i], doc.SharedWorkflows[j]
		if a.WorkflowID != b.WorkflowID {
			return a.WorkflowID < b.WorkflowID
		}

		return a.UserID < b.UserID
	})

	for _, id := range sortedKeys(st.credentials) {
		credential := st.credentials[id]
		doc.Credentials = append(doc.Credentials, credentialRecord{Credential: *credential, Data: credential.Data})
	}

	for _, share := range st.sharedCredentials {
		doc.SharedCredentials = append(doc.SharedCredentials, share)
	}

	sort.Slice(doc.SharedCredentials, func(i, j int) bool {
		a, b := doc.SharedCredentials[i], doc.SharedCredentials[j]
		if a.CredentialID != b.CredentialID {
			return a.CredentialID < b.CredentialID
		}

		return a.UserID < b.UserID
	})

	return doc
}

func (d *document) toState() *state {
	st := newState()

	for _, record := range d.Users {
		user := record.User
		user.PasswordHash = record.PasswordHash
		user.APIKey = record.APIKey
		st.users[user.ID] = &user
	}

	for _, role := range d.Roles {
		st.roles[role.ID] = role
	}

	for _, workflow := range d.Workflows {
		st.workflows[workflow.ID] = workflow
	}

	for _, share := range d.SharedWorkflows {
		st.sharedWorkflows[shareKey{userID: share.UserID, resourceID: share.WorkflowID}] = share
	}

	for _, record := range d.Credentials {
		credential := record.Credential
		credential.Data = record.Data
		st.credentials[credential.ID] = &credential
	}

	for _, share := range d.SharedCredentials {
		st.sharedCredentials[shareKey{userID: share.UserID, resourceID: share.CredentialID}] = share
	}

	return st
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
