package file

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidewire/tidewire/pkg/models"
	"github.com/tidewire/tidewire/pkg/persistence"
)

type userRepository struct {
	access access
}

func (r *userRepository) Create(_ context.Context, user *models.User) error {
	if user.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate user ID: %w", err)
		}

		user.ID = id.String()
	}

	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}

	user.UpdatedAt = now

	return r.access.write(func(st *state) error {
		if _, exists := st.users[user.ID]; exists {
			return fmt.Errorf("user %s: %w", user.ID, persistence.ErrConflict)
		}

		if err := checkUserUnique(st, user); err != nil {
			return err
		}

		st.users[user.ID] = copyUser(user)

		return nil
	})
}

func (r *userRepository) Update(_ context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()

	return r.access.write(func(st *state) error {
		if _, exists := st.users[user.ID]; !exists {
			return persistence.ErrUserNotFound
		}

		if err := checkUserUnique(st, user); err != nil {
			return err
		}

		st.users[user.ID] = copyUser(user)

		return nil
	})
}

func checkUserUnique(st *state, user *models.User) error {
	for id, existing := range st.users {
		if id == user.ID {
			continue
		}

		if strings.EqualFold(existing.Email, user.Email) {
			return fmt.Errorf("email %s: %w", user.Email, persistence.ErrConflict)
		}

		if user.APIKey != "" && existing.APIKey == user.APIKey {
			return fmt.Errorf("api key: %w", persistence.ErrConflict)
		}
	}

	return nil
}

func (r *userRepository) Delete(_ context.Context, id string) error {
	return r.access.write(func(st *state) error {
		if _, exists := st.users[id]; !exists {
			return persistence.ErrUserNotFound
		}

		delete(st.users, id)

		for key := range st.sharedWorkflows {
			if key.userID == id {
				delete(st.sharedWorkflows, key)
			}
		}

		for key := range st.sharedCredentials {
			if key.userID == id {
				delete(st.sharedCredentials, key)
			}
		}

		return nil
	})
}

func (r *userRepository) GetByID(_ context.Context, id string) (*models.User, error) {
	return r.findOne(func(user *models.User) bool { return user.ID == id })
}

func (r *userRepository) GetByEmail(_ context.Context, email string) (*models.User, error) {
	return r.findOne(func(user *models.User) bool { return strings.EqualFold(user.Email, email) })
}

func (r *userRepository) GetByAPIKey(_ context.Context, apiKey string) (*models.User, error) {
	if apiKey == "" {
		return nil, persistence.ErrUserNotFound
	}

	return r.findOne(func(user *models.User) bool { return user.APIKey == apiKey })
}

func (r *userRepository) findOne(match func(user *models.User) bool) (*models.User, error) {
	var found *models.User

	err := r.access.read(func(st *state) error {
		for _, user := range st.users {
			if match(user) {
				found = withRole(st, user)

				return nil
			}
		}

		return persistence.ErrUserNotFound
	})

	return found, err
}

func (r *userRepository) ListByEmails(_ context.Context, emails []string) ([]*models.User, error) {
	wanted := make(map[string]bool, len(emails))
	for _, email := range emails {
		wanted[strings.ToLower(email)] = true
	}

	users := make([]*models.User, 0)

	err := r.access.read(func(st *state) error {
		for _, id := range sortedKeys(st.users) {
			user := st.users[id]
			if wanted[strings.ToLower(user.Email)] {
				users = append(users, withRole(st, user))
			}
		}

		return nil
	})

	return users, err
}

func (r *userRepository) List(_ context.Context, opts persistence.ListUsersOptions) ([]*models.User, int64, error) {
	var total int64

	users := make([]*models.User, 0)

	err := r.access.read(func(st *state) error {
		all := make([]*models.User, 0, len(st.users))
		for _, user := range st.users {
			all = append(all, user)
		}

		sort.Slice(all, func(i, j int) bool {
			if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
				return all[i].CreatedAt.Before(all[j].CreatedAt)
			}

			return all[i].ID < all[j].ID
		})

		total = int64(len(all))

		for _, user := range paginate(all, opts.Offset, opts.Limit) {
			users = append(users, withRole(st, user))
		}

		return nil
	})

	return users, total, err
}

func withRole(st *state, user *models.User) *models.User {
	u := copyUser(user)

	if role, ok := st.roles[u.GlobalRoleID]; ok {
		r := *role
		u.GlobalRole = &r
	}

	return u
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}

	if offset >= len(items) {
		return make([]T, 0)
	}

	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	return items[offset:end]
}
