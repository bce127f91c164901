// Package web provides HTTP request and response types for the public API.
package web

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/tidewire/tidewire/pkg/models"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// WorkflowRequest is the body of workflow create and update calls. The
// active flag is not accepted; activation has its own endpoints.
type WorkflowRequest struct {
	Name        string                 `json:"name"                  validate:"required,min=1,max=128"`
	Nodes       []*models.WorkflowNode `json:"nodes"                 validate:"dive,required"`
	Connections []*models.Connection   `json:"connections"           validate:"dive,required"`
	Settings    map[string]any         `json:"settings,omitempty"`
	StaticData  map[string]any         `json:"static_data,omitempty"`
	Tags        []*models.Tag          `json:"tags,omitempty"`
}

func (r WorkflowRequest) toModel() *models.Workflow {
	return &models.Workflow{
		Name:        r.Name,
		Nodes:       r.Nodes,
		Connections: r.Connections,
		Settings:    r.Settings,
		StaticData:  r.StaticData,
		Tags:        r.Tags,
	}
}

// InviteRequest is one entry of the invite users body.
type InviteRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// UserView is the public projection of a user.
type UserView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	IsPending bool      `json:"is_pending"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserViewWithRole adds the global role name to UserView.
type UserViewWithRole struct {
	UserView

	Role string `json:"role"`
}

// SignupResponse carries the API key, which is shown only once.
type SignupResponse struct {
	UserView

	APIKey string `json:"api_key"`
}

func NewUserView(user *models.User) UserView {
	return UserView{
		ID:        user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		IsPending: user.IsPending(),
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}

func NewUserViewWithRole(user *models.User) UserViewWithRole {
	view := UserViewWithRole{UserView: NewUserView(user)}
	if user.GlobalRole != nil {
		view.Role = user.GlobalRole.Name
	}

	return view
}

// userViews projects users, adding roles when includeRole is set.
func userViews(users []*models.User, includeRole bool) []any {
	views := make([]any, 0, len(users))

	for _, user := range users {
		if includeRole {
			views = append(views, NewUserViewWithRole(user))
		} else {
			views = append(views, NewUserView(user))
		}
	}

	return views
}

// ListResponse is a page of items. NextCursor is null on the last page.
type ListResponse[T any] struct {
	Data       []T     `json:"data"`
	TotalCount int64   `json:"total_count"`
	NextCursor *string `json:"next_cursor"`
}

// Cursor is the pagination position handed to clients as an opaque string.
type Cursor struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

func EncodeCursor(cursor Cursor) string {
	data, _ := json.Marshal(cursor)

	return base64.RawURLEncoding.EncodeToString(data)
}

func DecodeCursor(encoded string) (Cursor, error) {
	var cursor Cursor

	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return cursor, ErrInvalidCursor
	}

	if err := json.Unmarshal(data, &cursor); err != nil || cursor.Offset < 0 || cursor.Limit < 0 {
		return Cursor{}, ErrInvalidCursor
	}

	return cursor, nil
}

// nextCursor returns the cursor of the page after [offset, offset+limit), or
// nil when that page would be empty.
func nextCursor(offset, limit int, total int64) *string {
	if limit <= 0 || int64(offset+limit) >= total {
		return nil
	}

	encoded := EncodeCursor(Cursor{Offset: offset + limit, Limit: limit})

	return &encoded
}
