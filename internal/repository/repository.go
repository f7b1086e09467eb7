package repository

import (
	"context"
	"time"

	"github.com/utafrali/promptbase/internal/domain"
	"github.com/utafrali/promptbase/pkg/pagination"
)

// UserRepository defines the interface for user persistence operations.
// Lookups that find nothing return apperrors.ErrNotFound.
type UserRepository interface {
	// Create inserts a new user. A duplicate email yields apperrors.ErrAlreadyExists.
	Create(ctx context.Context, user *domain.User) error

	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail matches case-insensitively.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// GetByVerificationToken returns the user holding a non-expired verification token.
	GetByVerificationToken(ctx context.Context, token string) (*domain.User, error)

	// GetByResetTokenHash returns the user holding a non-expired reset token digest.
	GetByResetTokenHash(ctx context.Context, hash string) (*domain.User, error)

	EmailExists(ctx context.Context, email string) (bool, error)

	// List returns one page of users ordered by creation time, newest first,
	// and the total number of users.
	List(ctx context.Context, params pagination.Params) ([]domain.User, int, error)

	CountAdmins(ctx context.Context) (int, error)

	// SetVerificationToken stores token and its expiry. An empty token clears both.
	SetVerificationToken(ctx context.Context, id, token string, expiresAt *time.Time) error

	// MarkEmailVerified sets email_verified and clears the verification token.
	MarkEmailVerified(ctx context.Context, id string) error

	// SetResetToken stores a reset token digest and its expiry. An empty hash clears both.
	SetResetToken(ctx context.Context, id, hash string, expiresAt *time.Time) error

	// UpdatePassword replaces the password hash and clears any reset token.
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	UpdateLastLogin(ctx context.Context, id string, at time.Time) error

	UpdateName(ctx context.Context, id, name string) error

	// ChangeRole updates the role. Demoting the only admin fails with
	// domain.ErrLastAdminProtected and changes nothing.
	ChangeRole(ctx context.Context, id, role string) error

	// Delete removes the user with its sessions and backup codes. Deleting
	// the only admin fails with domain.ErrLastAdminProtected.
	Delete(ctx context.Context, id string) error
}

// TwoFactorRepository persists TOTP secrets and hashed backup codes.
type TwoFactorRepository interface {
	SetTwoFactorSecret(ctx context.Context, userID, secret string) error
	EnableTwoFactor(ctx context.Context, userID, secret string, codeHashes []string) error
	ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error)
	DisableTwoFactor(ctx context.Context, userID string) error
	CountBackupCodes(ctx context.Context, userID string) (int, error)
}

// SessionRepository persists login sessions. Every mutation is a single
// statement keyed by session id, user id or token digest.
type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error

	// GetByTokenHash returns apperrors.ErrNotFound when no session holds hash.
	GetByTokenHash(ctx context.Context, hash string) (*domain.Session, error)

	// Exists reports whether an unexpired session with id exists at now.
	Exists(ctx context.Context, id string, now time.Time) (bool, error)

	// MarkActive sets last_activity only if the session is still unexpired
	// and reports whether a row was updated.
	MarkActive(ctx context.Context, id string, now time.Time) (bool, error)

	// ListByUser returns the user's unexpired sessions, most recently active first.
	ListByUser(ctx context.Context, userID string, now time.Time) ([]domain.Session, error)

	Delete(ctx context.Context, id string) error
	DeleteForUser(ctx context.Context, userID, id string) (bool, error)
	DeleteByTokenHash(ctx context.Context, hash string) (bool, error)

	// DeleteAllForUserExcept removes every session of the user except keepID.
	// An empty keepID removes all of them.
	DeleteAllForUserExcept(ctx context.Context, userID, keepID string) (int64, error)

	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
