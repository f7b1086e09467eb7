package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/promptbase/internal/domain"
	"github.com/utafrali/promptbase/pkg/database"
	apperrors "github.com/utafrali/promptbase/pkg/errors"
	"github.com/utafrali/promptbase/pkg/pagination"
)

const userColumns = `id, name, email, password_hash, role, is_active, email_verified,
		COALESCE(two_factor_secret, ''), two_factor_enabled,
		COALESCE(verification_token, ''), verification_token_expires_at,
		COALESCE(reset_token_hash, ''), reset_token_expires_at,
		last_login_at, created_at, updated_at`

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	db database.DBTX
}

// NewUserRepository creates a new PostgreSQL-backed user repository.
func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user into the database.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (id, name, email, password_hash, role, is_active, email_verified,
		                   verification_token, verification_token_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11)`

	_, err := r.db.Exec(ctx, query,
		u.ID,
		u.Name,
		u.Email,
		u.PasswordHash,
		u.Role,
		u.IsActive,
		u.EmailVerified,
		u.VerificationToken,
		u.VerificationTokenExpiresAt,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("user", "email", u.Email)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by their ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail retrieves a user by email, ignoring case.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
}

// GetByVerificationToken retrieves the user holding an unexpired verification token.
func (r *UserRepository) GetByVerificationToken(ctx context.Context, token string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users
		WHERE verification_token = $1 AND verification_token_expires_at > NOW()`, token)
}

// GetByResetTokenHash retrieves the user holding an unexpired reset token digest.
func (r *UserRepository) GetByResetTokenHash(ctx context.Context, hash string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users
		WHERE reset_token_hash = $1 AND reset_token_expires_at > NOW()`, hash)
}

// EmailExists reports whether an account uses email.
func (r *UserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(email) = LOWER($1))`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	return exists, nil
}

// List returns a page of users, newest first, with the total count.
func (r *UserRepository) List(ctx context.Context, params pagination.Params) ([]domain.User, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, params.PerPage, params.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user row: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate user rows: %w", err)
	}
	return users, total, nil
}

// CountAdmins returns the number of admin accounts.
func (r *UserRepository) CountAdmins(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE role = 'admin'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return n, nil
}

// SetVerificationToken stores or, with an empty token, clears the verification token.
func (r *UserRepository) SetVerificationToken(ctx context.Context, id, token string, expiresAt *time.Time) error {
	if token == "" {
		expiresAt = nil
	}
	return r.execOne(ctx, "set verification token", id, `
		UPDATE users
		SET verification_token = NULLIF($2, ''), verification_token_expires_at = $3, updated_at = NOW()
		WHERE id = $1`, id, token, expiresAt)
}

// MarkEmailVerified flags the email as verified and clears the verification token.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string) error {
	return r.execOne(ctx, "mark email verified", id, `
		UPDATE users
		SET email_verified = TRUE, verification_token = NULL, verification_token_expires_at = NULL, updated_at = NOW()
		WHERE id = $1`, id)
}

// SetResetToken stores or, with an empty hash, clears the reset token digest.
func (r *UserRepository) SetResetToken(ctx context.Context, id, hash string, expiresAt *time.Time) error {
	if hash == "" {
		expiresAt = nil
	}
	return r.execOne(ctx, "set reset token", id, `
		UPDATE users
		SET reset_token_hash = NULLIF($2, ''), reset_token_expires_at = $3, updated_at = NOW()
		WHERE id = $1`, id, hash, expiresAt)
}

// UpdatePassword replaces the password hash and clears any outstanding reset token.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.execOne(ctx, "update password", id, `
		UPDATE users
		SET password_hash = $2, reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = NOW()
		WHERE id = $1`, id, passwordHash)
}

// UpdateLastLogin records a successful login.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return r.execOne(ctx, "update last login", id,
		`UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
}

// UpdateName sets the display name.
func (r *UserRepository) UpdateName(ctx context.Context, id, name string) error {
	return r.execOne(ctx, "update name", id,
		`UPDATE users SET name = $2, updated_at = NOW() WHERE id = $1`, id, name)
}

// ChangeRole updates a user's role, refusing to demote the only admin.
func (r *UserRepository) ChangeRole(ctx context.Context, id, role string) error {
	return database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if role != domain.RoleAdmin {
			if err := guardLastAdmin(ctx, tx, id); err != nil {
				return err
			}
		}

		ct, err := tx.Exec(ctx, `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`, id, role)
		if err != nil {
			return fmt.Errorf("update role: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return apperrors.ErrNotFound
		}
		return nil
	})
}

// Delete removes a user, refusing to delete the only admin. Sessions and
// backup codes go with it through ON DELETE CASCADE.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	return database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := guardLastAdmin(ctx, tx, id); err != nil {
			return err
		}

		ct, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return apperrors.ErrNotFound
		}
		return nil
	})
}

// guardLastAdmin locks every admin row in id order, so concurrent demotions
// serialize instead of both passing the check, and rejects removing the last one.
func guardLastAdmin(ctx context.Context, tx pgx.Tx, id string) error {
	rows, err := tx.Query(ctx, `SELECT id FROM users WHERE role = 'admin' ORDER BY id FOR UPDATE`)
	if err != nil {
		return fmt.Errorf("lock admins: %w", err)
	}
	defer rows.Close()

	var admins []string
	for rows.Next() {
		var adminID string
		if err := rows.Scan(&adminID); err != nil {
			return fmt.Errorf("scan admin id: %w", err)
		}
		admins = append(admins, adminID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate admins: %w", err)
	}

	if len(admins) == 1 && admins[0] == id {
		return domain.ErrLastAdminProtected
	}
	return nil
}

func (r *UserRepository) execOne(ctx context.Context, what, id, query string, args ...any) error {
	ct, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", id)
	}
	return nil
}

// scanUser is a helper that executes a query expected to return a single user row.
func (r *UserRepository) scanUser(ctx context.Context, query string, args ...any) (*domain.User, error) {
	u, err := scanUserRow(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func scanUserRow(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&u.Role,
		&u.IsActive,
		&u.EmailVerified,
		&u.TwoFactorSecret,
		&u.TwoFactorEnabled,
		&u.VerificationToken,
		&u.VerificationTokenExpiresAt,
		&u.ResetTokenHash,
		&u.ResetTokenExpiresAt,
		&u.LastLoginAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
