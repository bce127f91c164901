package file

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tidewire/tidewire/pkg/models"
	"github.com/tidewire/tidewire/pkg/persistence"
)

type credentialRepository struct {
	access access
}

func (r *credentialRepository) Create(_ context.Context, credential *models.Credential) error {
	if credential.ID == "" {
		credential.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	credential.CreatedAt = now
	credential.UpdatedAt = now

	return r.access.write(func(st *state) error {
		if _, exists := st.credentials[credential.ID]; exists {
			return fmt.Errorf("credential %s: %w", credential.ID, persistence.ErrConflict)
		}

		stored := *credential
		st.credentials[credential.ID] = &stored

		return nil
	})
}

func (r *credentialRepository) GetByID(_ context.Context, id string) (*models.Credential, error) {
	var found *models.Credential

	err := r.access.read(func(st *state) error {
		credential, ok := st.credentials[id]
		if !ok {
			return persistence.ErrCredentialNotFound
		}

		c := *credential
		found = &c

		return nil
	})

	return found, err
}

func (r *credentialRepository) FindByNameAndType(_ context.Context, name, credentialType string) ([]*models.Credential, error) {
	found := make([]*models.Credential, 0)

	err := r.access.read(func(st *state) error {
		for _, credential := range st.credentials {
			if credential.Name == name && credential.Type == credentialType {
				c := *credential
				found = append(found, &c)
			}
		}

		return nil
	})

	sort.Slice(found, func(i, j int) bool { return found[i].CreatedAt.Before(found[j].CreatedAt) })

	return found, err
}

// Delete removes the credential together with every share pointing at it.
func (r *credentialRepository) Delete(_ context.Context, id string) error {
	return r.access.write(func(st *state) error {
		if _, ok := st.credentials[id]; !ok {
			return persistence.ErrCredentialNotFound
		}

		delete(st.credentials, id)

		for key := range st.sharedCredentials {
			if key.resourceID == id {
				delete(st.sharedCredentials, key)
			}
		}

		return nil
	})
}
