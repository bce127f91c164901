package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidewire/tidewire/pkg/auth"
	"github.com/tidewire/tidewire/pkg/events"
	"github.com/tidewire/tidewire/pkg/mailer"
	"github.com/tidewire/tidewire/pkg/metrics"
	"github.com/tidewire/tidewire/pkg/models"
	"github.com/tidewire/tidewire/pkg/notify"
	"github.com/tidewire/tidewire/pkg/otelhelper"
	"github.com/tidewire/tidewire/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultUserListLimit = 100
	MaxUserListLimit     = 250
)

type UsersConfig struct {
	Persistence persistence.Persistence
	Ledger      *Ledger
	Mailer      mailer.Mailer
	Tokens      *auth.InviteTokens
	Notifier    notify.Notifier
	Metrics     *metrics.Metrics
	Tracer      trace.Tracer
	// BaseURL is the externally reachable address used in signup links.
	BaseURL string
	Logger  *slog.Logger
}

// Users manages invitations, signup and deletion of users.
type Users struct {
	persistence persistence.Persistence
	ledger      *Ledger
	mailer      mailer.Mailer
	tokens      *auth.InviteTokens
	notifier    notify.Notifier
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	validate    *validator.Validate
	baseURL     string
	logger      *slog.Logger
}

func NewUsers(config UsersConfig) *Users {
	tracer := config.Tracer
	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	return &Users{
		persistence: config.Persistence,
		ledger:      config.Ledger,
		mailer:      config.Mailer,
		tokens:      config.Tokens,
		notifier:    config.Notifier,
		metrics:     config.Metrics,
		tracer:      tracer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		logger:      config.Logger.With("module", "user_service"),
	}
}

// InviteResolution splits an invite list. UsersToSave holds emails unknown to
// storage; PendingUsers holds users invited before who never signed up.
// Emails of users that completed signup appear in neither.
type InviteResolution struct {
	UsersToSave  []string
	PendingUsers []*models.User
}

type InviteResult struct {
	UserID    string `json:"id"`
	Email     string `json:"email"`
	SignupURL string `json:"signup_url,omitempty"`
	EmailSent bool   `json:"email_sent"`
	Error     string `json:"error,omitempty"`
}

// ResolveUsersToInvite normalizes the emails and partitions them against storage.
func (u *Users) ResolveUsersToInvite(ctx context.Context, emails []string) (*InviteResolution, error) {
	normalized, err := u.normalizeEmails(emails)
	if err != nil {
		return nil, err
	}

	existing, err := u.persistence.Users().ListByEmails(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to look up invited users: %w", err)
	}

	byEmail := make(map[string]*models.User, len(existing))
	for _, user := range existing {
		byEmail[strings.ToLower(user.Email)] = user
	}

	resolution := &InviteResolution{
		UsersToSave:  make([]string, 0, len(normalized)),
		PendingUsers: make([]*models.User, 0),
	}

	for _, email := range normalized {
		user, ok := byEmail[email]

		switch {
		case !ok:
			resolution.UsersToSave = append(resolution.UsersToSave, email)
		case user.IsPending():
			resolution.PendingUsers = append(resolution.PendingUsers, user)
		}
	}

	return resolution, nil
}

func (u *Users) normalizeEmails(emails []string) ([]string, error) {
	normalized := make([]string, 0, len(emails))

	for _, email := range emails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" {
			continue
		}

		if err := u.validate.Var(email, "email"); err != nil {
			return nil, NewValidationError("invite_users", "INVALID_EMAIL", "invalid email address: "+email, ErrInvalidEmail)
		}

		if !slices.Contains(normalized, email) {
			normalized = append(normalized, email)
		}
	}

	if len(normalized) == 0 {
		return nil, NewValidationError("invite_users", "NO_EMAILS", "at least one email is required", ErrNoEmails)
	}

	return normalized, nil
}

// CreatePendingUsers inserts one pending user per email. Either every user is
// created or none is.
func (u *Users) CreatePendingUsers(ctx context.Context, emails []string, role *models.Role) ([]*models.User, error) {
	created := make([]*models.User, 0, len(emails))

	err := u.persistence.Transaction(ctx, func(ctx context.Context, tx persistence.Repositories) error {
		for _, email := range emails {
			user := &models.User{
				Email:        email,
				GlobalRoleID: role.ID,
			}

			if err := tx.Users().Create(ctx, user); err != nil {
				return fmt.Errorf("failed to create pending user %s: %w", email, err)
			}

			user.GlobalRole = role
			created = append(created, user)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// SendInvitations mails a signup link to each user. Delivery failures are
// recorded per user and never stop the batch.
func (u *Users) SendInvitations(ctx context.Context, inviter *models.User, users []*models.User) []InviteResult {
	results := make([]InviteResult, 0, len(users))

	for _, user := range users {
		result := InviteResult{UserID: user.ID, Email: user.Email}

		signupURL, err := u.signupURL(inviter.ID, user.ID)
		if err == nil {
			result.SignupURL = signupURL
			err = u.mailer.SendInvite(ctx, mailer.Invite{
				InviterEmail: inviter.Email,
				InviteeEmail: user.Email,
				SignupURL:    signupURL,
			})
		}

		if err != nil {
			result.Error = err.Error()

			u.logger.WarnContext(ctx, "Failed to send invitation", "user_id", user.ID, "error", err)
			u.metrics.Invitation(metrics.OutcomeFailure)

			event := &events.InviteEmailFailed{
				BaseEvent: events.NewBaseEvent(events.InviteEmailFailedEvent),
				InviterID: inviter.ID,
				UserID:    user.ID,
				Email:     user.Email,
				Error:     err.Error(),
			}
			u.notifier.Notify(ctx, user.ID, event)
		} else {
			result.EmailSent = true

			u.metrics.Invitation(metrics.OutcomeSuccess)

			event := &events.InviteEmailSent{
				BaseEvent: events.NewBaseEvent(events.InviteEmailSentEvent),
				InviterID: inviter.ID,
				UserID:    user.ID,
				Email:     user.Email,
			}
			u.notifier.Notify(ctx, user.ID, event)
		}

		results = append(results, result)
	}

	return results
}

func (u *Users) signupURL(inviterID, inviteeID string) (string, error) {
	token, err := u.tokens.Issue(inviterID, inviteeID)
	if err != nil {
		return "", fmt.Errorf("failed to issue invite token: %w", err)
	}

	query := url.Values{}
	query.Set("inviterId", inviterID)
	query.Set("inviteeId", inviteeID)
	query.Set("token", token)

	return u.baseURL + "/signup?" + query.Encode(), nil
}

// InviteUsers creates pending users for unknown emails with the member role
// and sends an invitation to every new or still pending user.
func (u *Users) InviteUsers(ctx context.Context, inviter *models.User, emails []string) (results []InviteResult, err error) {
	ctx, span := otelhelper.StartSpan(ctx, u.tracer, "users.invite",
		attribute.String(otelhelper.UserIDKey, inviter.ID),
		attribute.Int(otelhelper.InviteCountKey, len(emails)),
	)
	defer func() { otelhelper.End(span, err) }()

	resolution, err := u.ResolveUsersToInvite(ctx, emails)
	if err != nil {
		return nil, err
	}

	role, err := findRole(ctx, u.persistence.Roles(), models.RoleMember, models.RoleScopeGlobal)
	if err != nil {
		return nil, err
	}

	created := make([]*models.User, 0)
	if len(resolution.UsersToSave) > 0 {
		created, err = u.CreatePendingUsers(ctx, resolution.UsersToSave, role)
		if err != nil {
			return nil, err
		}
	}

	invitees := append(slices.Clone(created), resolution.PendingUsers...)
	results = u.SendInvitations(ctx, inviter, invitees)

	if len(created) > 0 {
		ids := make([]string, 0, len(created))
		for _, user := range created {
			ids = append(ids, user.ID)
		}

		u.notifier.Notify(ctx, inviter.ID, &events.UserInvited{
			BaseEvent: events.NewBaseEvent(events.UserInvitedEvent),
			InviterID: inviter.ID,
			UserIDs:   ids,
		})
	}

	u.logger.InfoContext(ctx, "Invited users",
		"inviter_id", inviter.ID, "created", len(created), "pending", len(resolution.PendingUsers))

	return results, nil
}

// GetUser looks a user up by email when identifier contains "@", by id otherwise.
func (u *Users) GetUser(ctx context.Context, identifier string) (*models.User, error) {
	var (
		user *models.User
		err  error
	)

	if strings.Contains(identifier, "@") {
		user, err = u.persistence.Users().GetByEmail(ctx, strings.TrimSpace(identifier))
	} else {
		user, err = u.persistence.Users().GetByID(ctx, identifier)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

func (u *Users) ListUsers(ctx context.Context, offset, limit int) ([]*models.User, int64, error) {
	if offset < 0 {
		offset = 0
	}

	if limit <= 0 {
		limit = DefaultUserListLimit
	}

	limit = min(limit, MaxUserListLimit)

	users, total, err := u.persistence.Users().List(ctx, persistence.ListUsersOptions{Offset: offset, Limit: limit})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}

	return users, total, nil
}

type AcceptInviteRequest struct {
	Token     string `json:"token"      validate:"required"`
	FirstName string `json:"first_name" validate:"max=64"`
	LastName  string `json:"last_name"  validate:"max=64"`
	Password  string `json:"password"   validate:"required,min=8"`
}

// AcceptInvite completes signup for a pending user. The returned user carries
// the freshly minted API key.
func (u *Users) AcceptInvite(ctx context.Context, req AcceptInviteRequest) (user *models.User, err error) {
	ctx, span := otelhelper.StartSpan(ctx, u.tracer, "users.accept_invite")
	defer func() { otelhelper.End(span, err) }()

	if err := u.validate.Struct(req); err != nil {
		return nil, NewValidationError("accept_invite", "INVALID_REQUEST", err.Error(), ErrInvalidRequest)
	}

	claims, err := u.tokens.Parse(req.Token)
	if err != nil {
		return nil, NewValidationError("accept_invite", "INVALID_INVITE", err.Error(), ErrInvalidInvite)
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			return nil, NewValidationError("accept_invite", "WEAK_PASSWORD", err.Error(), ErrInvalidRequest)
		}

		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	err = u.persistence.Transaction(ctx, func(ctx context.Context, tx persistence.Repositories) error {
		if _, err := tx.Users().GetByID(ctx, claims.InviterID); err != nil {
			if persistence.IsNotFound(err) {
				return NewValidationError("accept_invite", "INVALID_INVITE", "inviter no longer exists", ErrInvalidInvite)
			}

			return err
		}

		invitee, err := tx.Users().GetByID(ctx, claims.InviteeID)
		if err != nil {
			if persistence.IsNotFound(err) {
				return NewValidationError("accept_invite", "INVALID_INVITE", "invitee no longer exists", ErrInvalidInvite)
			}

			return err
		}

		if !invitee.IsPending() {
			return ErrInviteAlreadyAccepted
		}

		invitee.PasswordHash = hash
		invitee.APIKey = auth.GenerateAPIKey()
		invitee.FirstName = strings.TrimSpace(req.FirstName)
		invitee.LastName = strings.TrimSpace(req.LastName)

		if err := tx.Users().Update(ctx, invitee); err != nil {
			return fmt.Errorf("failed to complete signup: %w", err)
		}

		user = invitee

		return nil
	})
	if err != nil {
		return nil, err
	}

	u.notifier.Notify(ctx, user.ID, &events.UserSignedUp{
		BaseEvent: events.NewBaseEvent(events.UserSignedUpEvent),
		UserID:    user.ID,
		InviterID: claims.InviterID,
	})

	u.logger.InfoContext(ctx, "User signed up", "user_id", user.ID)

	return user, nil
}

// DeleteUser removes targetID on behalf of actor. With a transfer target the
// user's workflows and credentials move to that user; without one they are
// deleted along with the user. The user.deleted event is raised only after
// the deletion committed.
func (u *Users) DeleteUser(ctx context.Context, targetID string, actor *models.User, transferTargetID string) (err error) {
	ctx, span := otelhelper.StartSpan(ctx, u.tracer, "users.delete",
		attribute.String(otelhelper.UserIDKey, targetID),
		attribute.String(otelhelper.TransferTargetIDKey, transferTargetID),
	)
	defer func() { otelhelper.End(span, err) }()

	if targetID == actor.ID {
		return NewValidationError("delete_user", "CANNOT_DELETE_SELF", "cannot delete your own user", ErrCannotDeleteSelf)
	}

	if transferTargetID == targetID {
		return NewValidationError("delete_user", "TRANSFER_TO_SELF", "cannot transfer data to the user being deleted", ErrTransferToSelf)
	}

	target, err := u.persistence.Users().GetByID(ctx, targetID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}

	strategy := events.MigrationDeleteData

	if transferTargetID != "" {
		strategy = events.MigrationTransferData

		var transferee *models.User

		transferee, err = u.persistence.Users().GetByID(ctx, transferTargetID)
		if err != nil {
			if persistence.IsNotFound(err) {
				return NewValidationError("delete_user", "TRANSFER_TARGET_ABSENT", "transfer target user does not exist", ErrTransferTargetAbsent)
			}

			return fmt.Errorf("failed to get transfer target: %w", err)
		}

		err = u.ledger.TransferOwnership(ctx, target, transferee)
	} else {
		err = u.ledger.CascadeDelete(ctx, target)
	}

	if err != nil {
		return err
	}

	u.notifier.Notify(ctx, target.ID, &events.UserDeleted{
		BaseEvent:         events.NewBaseEvent(events.UserDeletedEvent),
		UserID:            target.ID,
		DeletedBy:         actor.ID,
		MigrationStrategy: strategy,
		TransferTargetID:  transferTargetID,
		PreviousStatus:    target.Status(),
	})

	u.logger.InfoContext(ctx, "Deleted user", "user_id", target.ID, "deleted_by", actor.ID, "strategy", strategy)

	return nil
}

// EnsureOwner makes sure the instance owner account exists. An empty apiKey
// generates one. The second result reports whether the owner was created.
func (u *Users) EnsureOwner(ctx context.Context, email, password, apiKey string) (*models.User, bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := u.validate.Var(email, "required,email"); err != nil {
		return nil, false, NewValidationError("ensure_owner", "INVALID_EMAIL", "invalid owner email", ErrInvalidEmail)
	}

	existing, err := u.persistence.Users().GetByEmail(ctx, email)
	if err == nil {
		return existing, false, nil
	}

	if !persistence.IsNotFound(err) {
		return nil, false, fmt.Errorf("failed to look up owner: %w", err)
	}

	role, err := findRole(ctx, u.persistence.Roles(), models.RoleOwner, models.RoleScopeGlobal)
	if err != nil {
		return nil, false, err
	}

	if apiKey == "" {
		apiKey = auth.GenerateAPIKey()
	}

	owner := &models.User{
		Email:        email,
		GlobalRoleID: role.ID,
		APIKey:       apiKey,
	}

	if password != "" {
		owner.PasswordHash, err = auth.HashPassword(password)
		if err != nil {
			return nil, false, fmt.Errorf("failed to hash owner password: %w", err)
		}
	} else {
		// Without a password the owner would count as pending and be
		// re-invitable; an unusable hash marks the account active.
		owner.PasswordHash = "!"
	}

	if err := u.persistence.Users().Create(ctx, owner); err != nil {
		return nil, false, fmt.Errorf("failed to create owner: %w", err)
	}

	owner.GlobalRole = role

	u.logger.InfoContext(ctx, "Created instance owner", "user_id", owner.ID, "email", owner.Email)

	return owner, true, nil
}
