package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/utafrali/promptbase/internal/auth"
	"github.com/utafrali/promptbase/internal/domain"
	"github.com/utafrali/promptbase/internal/event"
	"github.com/utafrali/promptbase/internal/repository"
	apperrors "github.com/utafrali/promptbase/pkg/errors"
	"github.com/utafrali/promptbase/pkg/pagination"
)

// UserService implements profile and account administration.
type UserService struct {
	users  repository.UserRepository
	creds  *auth.Credentials
	events event.Publisher
	logger *slog.Logger
}

// NewUserService creates a new user service.
func NewUserService(users repository.UserRepository, creds *auth.Credentials, events event.Publisher, logger *slog.Logger) *UserService {
	return &UserService{users: users, creds: creds, events: events, logger: logger}
}

// GetProfile retrieves a user by their ID.
func (s *UserService) GetProfile(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, userNotFound(err)
	}
	return user, nil
}

// UpdateProfile changes the caller's display name.
func (s *UserService) UpdateProfile(ctx context.Context, userID, name string) (*domain.User, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > domain.MaxNameLength {
		return nil, apperrors.InvalidInput(fmt.Sprintf("name must be 1 to %d characters", domain.MaxNameLength))
	}
	if err := s.users.UpdateName(ctx, userID, name); err != nil {
		return nil, userNotFound(err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, userNotFound(err)
	}
	s.events.Publish(ctx, event.UserUpdated, user.ID, event.UserData{UserID: user.ID})
	return user, nil
}

// ListUsers returns one page of users for the admin console.
func (s *UserService) ListUsers(ctx context.Context, params pagination.Params) (pagination.Result[domain.UserView], error) {
	users, total, err := s.users.List(ctx, params)
	if err != nil {
		return pagination.Result[domain.UserView]{}, fmt.Errorf("list users: %w", err)
	}
	views := make([]domain.UserView, 0, len(users))
	for i := range users {
		views = append(views, users[i].View())
	}
	return pagination.NewResult(views, total, params), nil
}

// ChangeRole sets targetID's role. Demoting the only admin is refused.
func (s *UserService) ChangeRole(ctx context.Context, actorID, targetID, role string) (*domain.User, error) {
	if !domain.IsValidRole(role) {
		return nil, domain.ErrInvalidRole
	}
	if err := s.users.ChangeRole(ctx, targetID, role); err != nil {
		return nil, userNotFound(err)
	}

	user, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		return nil, userNotFound(err)
	}

	s.events.Publish(ctx, event.UserRoleChanged, user.ID, event.UserData{UserID: user.ID, Email: user.Email, Role: user.Role})
	s.logger.InfoContext(ctx, "user role changed",
		slog.String("actor_id", actorID),
		slog.String("user_id", user.ID),
		slog.String("role", role),
	)
	return user, nil
}

// DeleteUser removes an account together with its sessions. Deleting the
// only admin is refused.
func (s *UserService) DeleteUser(ctx context.Context, actorID, targetID string) error {
	if err := s.users.Delete(ctx, targetID); err != nil {
		return userNotFound(err)
	}

	s.events.Publish(ctx, event.UserDeleted, targetID, event.UserData{UserID: targetID})
	s.logger.InfoContext(ctx, "user deleted",
		slog.String("actor_id", actorID),
		slog.String("user_id", targetID),
	)
	return nil
}

// BootstrapAdmin makes sure an admin exists. When none does, the account for
// email is promoted, or created verified with password if it does not exist.
func (s *UserService) BootstrapAdmin(ctx context.Context, email, password, name string) error {
	email = domain.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil
	}

	n, err := s.users.CountAdmins(ctx)
	if err != nil {
		return fmt.Errorf("count admins: %w", err)
	}
	if n > 0 {
		return nil
	}

	existing, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if err := s.users.ChangeRole(ctx, existing.ID, domain.RoleAdmin); err != nil {
			return fmt.Errorf("promote admin: %w", err)
		}
		s.logger.InfoContext(ctx, "existing user promoted to admin", slog.String("user_id", existing.ID))
		return nil
	case !errors.Is(err, apperrors.ErrNotFound):
		return fmt.Errorf("get admin by email: %w", err)
	}

	hash, err := s.creds.Hash(ctx, password)
	if err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		name = "Administrator"
	}
	now := time.Now().UTC()
	admin := &domain.User{
		ID:            uuid.NewString(),
		Name:          strings.TrimSpace(name),
		Email:         email,
		PasswordHash:  hash,
		Role:          domain.RoleAdmin,
		IsActive:      true,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.users.Create(ctx, admin); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	s.logger.InfoContext(ctx, "admin account created", slog.String("user_id", admin.ID))
	return nil
}
