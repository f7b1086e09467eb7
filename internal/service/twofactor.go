package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/promptbase/internal/auth"
	"github.com/utafrali/promptbase/internal/event"
	"github.com/utafrali/promptbase/internal/repository"
)

// TwoFactorStatus describes a user's second-factor state.
type TwoFactorStatus struct {
	Enabled              bool `json:"enabled"`
	Pending              bool `json:"pending"`
	BackupCodesRemaining int  `json:"backupCodesRemaining"`
}

// TwoFactorService runs TOTP enrollment and disablement for signed-in users.
type TwoFactorService struct {
	users  repository.UserRepository
	codes  repository.TwoFactorRepository
	totp   *auth.TOTPManager
	events event.Publisher
	logger *slog.Logger
}

// NewTwoFactorService creates a 2FA service.
func NewTwoFactorService(
	users repository.UserRepository,
	codes repository.TwoFactorRepository,
	totp *auth.TOTPManager,
	events event.Publisher,
	logger *slog.Logger,
) *TwoFactorService {
	return &TwoFactorService{users: users, codes: codes, totp: totp, events: events, logger: logger}
}

// Setup starts enrollment, replacing any pending secret.
func (s *TwoFactorService) Setup(ctx context.Context, userID string) (*auth.Enrollment, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, userNotFound(err)
	}
	return s.totp.Enroll(ctx, user)
}

// VerifySetup confirms enrollment and returns the one-time backup codes.
func (s *TwoFactorService) VerifySetup(ctx context.Context, userID, code string) ([]string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, userNotFound(err)
	}
	codes, err := s.totp.ConfirmEnrollment(ctx, user, code)
	if err != nil {
		return nil, err
	}

	s.events.Publish(ctx, event.TwoFactorEnabled, user.ID, event.UserData{UserID: user.ID})
	s.logger.InfoContext(ctx, "two-factor enabled", slog.String("user_id", user.ID))
	return codes, nil
}

// Disable turns 2FA off after checking a current TOTP code.
func (s *TwoFactorService) Disable(ctx context.Context, userID, code string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return userNotFound(err)
	}
	if err := s.totp.Disable(ctx, user, code); err != nil {
		return err
	}

	s.events.Publish(ctx, event.TwoFactorDisabled, user.ID, event.UserData{UserID: user.ID})
	s.logger.InfoContext(ctx, "two-factor disabled", slog.String("user_id", user.ID))
	return nil
}

// Status reports whether 2FA is on and how many backup codes are left.
func (s *TwoFactorService) Status(ctx context.Context, userID string) (*TwoFactorStatus, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, userNotFound(err)
	}
	st := &TwoFactorStatus{Enabled: user.TwoFactorEnabled, Pending: user.HasPendingTwoFactor()}
	if user.TwoFactorEnabled {
		n, err := s.codes.CountBackupCodes(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("count backup codes: %w", err)
		}
		st.BackupCodesRemaining = n
	}
	return st, nil
}
