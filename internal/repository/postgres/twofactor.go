package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/promptbase/internal/domain"
	"github.com/utafrali/promptbase/pkg/database"
	apperrors "github.com/utafrali/promptbase/pkg/errors"
)

// TwoFactorRepository implements repository.TwoFactorRepository using PostgreSQL.
type TwoFactorRepository struct {
	db database.DBTX
}

// NewTwoFactorRepository creates a new PostgreSQL-backed 2FA repository.
func NewTwoFactorRepository(db database.DBTX) *TwoFactorRepository {
	return &TwoFactorRepository{db: db}
}

// SetTwoFactorSecret stores a pending secret. The enabled flag is left false.
func (r *TwoFactorRepository) SetTwoFactorSecret(ctx context.Context, userID, secret string) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE users SET two_factor_secret = $2, two_factor_enabled = FALSE, updated_at = NOW()
		WHERE id = $1`, userID, secret)
	if err != nil {
		return fmt.Errorf("set two-factor secret: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", userID)
	}
	return nil
}

// EnableTwoFactor flips the flag and replaces the backup codes atomically.
// It only applies while secret is still the pending one; a setup restarted
// in between yields domain.ErrTwoFactorSetupChanged.
func (r *TwoFactorRepository) EnableTwoFactor(ctx context.Context, userID, secret string, codeHashes []string) error {
	return database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `
			UPDATE users SET two_factor_enabled = TRUE, updated_at = NOW()
			WHERE id = $1 AND two_factor_secret = $2 AND two_factor_enabled = FALSE`, userID, secret)
		if err != nil {
			return fmt.Errorf("enable two-factor: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return domain.ErrTwoFactorSetupChanged
		}

		if _, err := tx.Exec(ctx, `DELETE FROM two_factor_backup_codes WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("clear backup codes: %w", err)
		}
		for _, h := range codeHashes {
			if _, err := tx.Exec(ctx,
				`INSERT INTO two_factor_backup_codes (user_id, code_hash) VALUES ($1, $2)`, userID, h); err != nil {
				return fmt.Errorf("insert backup code: %w", err)
			}
		}
		return nil
	})
}

// ConsumeBackupCode deletes the matching code in one statement, so two
// concurrent logins cannot both spend it.
func (r *TwoFactorRepository) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	rows, err := r.db.Query(ctx, `
		DELETE FROM two_factor_backup_codes
		WHERE user_id = $1 AND code_hash = $2
		RETURNING code_hash`, userID, codeHash)
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	defer rows.Close()

	consumed := rows.Next()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	return consumed, nil
}

// DisableTwoFactor clears secret, flag and backup codes together.
func (r *TwoFactorRepository) DisableTwoFactor(ctx context.Context, userID string) error {
	return database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `
			UPDATE users SET two_factor_secret = NULL, two_factor_enabled = FALSE, updated_at = NOW()
			WHERE id = $1`, userID)
		if err != nil {
			return fmt.Errorf("disable two-factor: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return apperrors.NotFound("user", userID)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM two_factor_backup_codes WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("clear backup codes: %w", err)
		}
		return nil
	})
}

// CountBackupCodes returns how many unused backup codes the user has left.
func (r *TwoFactorRepository) CountBackupCodes(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM two_factor_backup_codes WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count backup codes: %w", err)
	}
	return n, nil
}
