package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/promptbase/internal/auth"
	"github.com/utafrali/promptbase/internal/domain"
	"github.com/utafrali/promptbase/internal/event"
	"github.com/utafrali/promptbase/internal/mailer"
	"github.com/utafrali/promptbase/internal/repository"
	apperrors "github.com/utafrali/promptbase/pkg/errors"
	"github.com/utafrali/promptbase/pkg/validator"
)

const (
	verificationTokenTTL = 24 * time.Hour
	resetTokenTTL        = time.Hour
)

// AuthConfig holds the policy switches of the auth flows.
type AuthConfig struct {
	// RevokeSessionsOnReset signs every device out after a password reset.
	RevokeSessionsOnReset bool
}

// AuthService sequences password checks, the second-factor challenge, token
// minting and session creation.
type AuthService struct {
	users    repository.UserRepository
	creds    *auth.Credentials
	tokens   *auth.TokenService
	totp     *auth.TOTPManager
	sessions SessionRegistry
	mail     Mailer
	events   event.Publisher
	cfg      AuthConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuthService creates the auth orchestrator.
func NewAuthService(
	users repository.UserRepository,
	creds *auth.Credentials,
	tokens *auth.TokenService,
	totp *auth.TOTPManager,
	sessions SessionRegistry,
	mail Mailer,
	events event.Publisher,
	cfg AuthConfig,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		creds:    creds,
		tokens:   tokens,
		totp:     totp,
		sessions: sessions,
		mail:     mail,
		events:   events,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SignupInput holds the parameters for creating an account.
type SignupInput struct {
	Name     string
	Email    string
	Password string
}

// LoginInput holds the parameters for a login attempt. Code is the optional
// TOTP or backup code.
type LoginInput struct {
	Email    string
	Password string
	Code     string
}

// Signup creates an unverified account, emails a verification link and signs
// the new user in on the calling device.
func (s *AuthService) Signup(ctx context.Context, in SignupInput, dc domain.DeviceContext) (*domain.LoginResult, error) {
	email := domain.NormalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperrors.InvalidInput("name is required")
	}
	if !validator.IsStrongPassword(in.Password) {
		return nil, apperrors.InvalidInput("password " + validator.PasswordRule)
	}

	exists, err := s.users.EmailExists(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return nil, domain.ErrEmailInUse
	}

	hash, err := s.creds.Hash(ctx, in.Password)
	if err != nil {
		return nil, err
	}
	plain, stored, err := auth.IssueVerificationToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	expires := now.Add(verificationTokenTTL)
	user := &domain.User{
		ID:                         uuid.NewString(),
		Name:                       name,
		Email:                      email,
		PasswordHash:               hash,
		Role:                       domain.RoleUser,
		IsActive:                   true,
		VerificationToken:          stored,
		VerificationTokenExpiresAt: &expires,
		CreatedAt:                  now,
		UpdatedAt:                  now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			return nil, domain.ErrEmailInUse
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if err := s.mail.Send(ctx, user.Email, mailer.KindVerification, map[string]string{"Name": user.Name, "Token": plain}); err != nil {
		s.logger.ErrorContext(ctx, "failed to send verification email",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
	s.events.Publish(ctx, event.UserRegistered, user.ID, event.UserData{UserID: user.ID, Email: user.Email, Role: user.Role})

	result, err := s.startSession(ctx, user, dc)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		slog.String("session_id", result.Session.ID),
	)
	return result, nil
}

// Login runs the credential check and, for 2FA accounts, the second-factor
// challenge. Without a code on a 2FA account it returns SecondFactorRequired
// and issues nothing.
func (s *AuthService) Login(ctx context.Context, in LoginInput, dc domain.DeviceContext) (*domain.LoginResult, error) {
	user, err := s.users.GetByEmail(ctx, domain.NormalizeEmail(in.Email))
	if err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("get user by email: %w", err)
		}
		if err := s.creds.DummyVerify(ctx, in.Password); err != nil {
			return nil, err
		}
		loginAttempts.WithLabelValues(outcomeInvalidCredentials).Inc()
		return nil, domain.ErrInvalidCredentials
	}

	ok, err := s.creds.Verify(ctx, in.Password, user.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok || !user.IsActive {
		loginAttempts.WithLabelValues(outcomeInvalidCredentials).Inc()
		s.logger.InfoContext(ctx, "login rejected", slog.String("user_id", user.ID))
		return nil, domain.ErrInvalidCredentials
	}

	var backupUsed bool
	if user.TwoFactorEnabled {
		if strings.TrimSpace(in.Code) == "" {
			loginAttempts.WithLabelValues(outcomeSecondFactorRequired).Inc()
			return &domain.LoginResult{User: user, SecondFactorRequired: true}, nil
		}
		res, err := s.totp.Challenge(ctx, user, in.Code)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidSecondFactor) {
				loginAttempts.WithLabelValues(outcomeInvalidSecondFactor).Inc()
			}
			return nil, err
		}
		backupUsed = res == auth.ChallengeBackupCodeConsumed
	}

	now := s.now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.WarnContext(ctx, "failed to record last login",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	} else {
		user.LastLoginAt = &now
	}

	result, err := s.startSession(ctx, user, dc)
	if err != nil {
		return nil, err
	}
	result.BackupCodeUsed = backupUsed

	if backupUsed {
		loginAttempts.WithLabelValues(outcomeBackupCode).Inc()
	}
	loginAttempts.WithLabelValues(outcomeSuccess).Inc()
	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID),
		slog.String("session_id", result.Session.ID),
		slog.Bool("backup_code_used", backupUsed),
	)
	return result, nil
}

// startSession mints a refresh token, binds it to a new session and mints an
// access token carrying the session id. A failure after the session row is
// written leaves an orphan that expires on its own.
func (s *AuthService) startSession(ctx context.Context, user *domain.User, dc domain.DeviceContext) (*domain.LoginResult, error) {
	refresh, err := s.tokens.IssueRefresh(user.ID)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Open(ctx, user.ID, refresh, dc, s.tokens.RefreshTTL())
	if err != nil {
		return nil, err
	}
	access, err := s.tokens.IssueAccess(user.ID, user.Role, sess.ID)
	if err != nil {
		return nil, err
	}

	s.events.Publish(ctx, event.SessionOpened, user.ID, event.SessionData{
		UserID:    user.ID,
		SessionID: sess.ID,
		Device:    sess.Device,
		IPAddress: sess.IPAddress,
	})

	return &domain.LoginResult{
		User:    user,
		Session: sess,
		Tokens:  &domain.TokenPair{AccessToken: access, RefreshToken: refresh},
	}, nil
}

// Refresh mints a new access token for the session bound to refreshToken.
// The refresh token is not rotated.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", domain.ErrTokenInvalid
	}

	sess, err := s.sessions.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return "", domain.ErrTokenInvalid
		}
		return "", err
	}
	if err := s.sessions.Validate(ctx, sess); err != nil {
		return "", err
	}

	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return "", err
	}
	if claims.UserID != sess.UserID {
		return "", domain.ErrTokenInvalid
	}

	user, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		if isNotFound(err) {
			return "", domain.ErrTokenInvalid
		}
		return "", fmt.Errorf("get user for refresh: %w", err)
	}
	if !user.IsActive {
		return "", domain.ErrTokenInvalid
	}

	// A concurrent revoke either lands before this update and we reject,
	// or after it and the new token dies with the session.
	if err := s.sessions.MarkActive(ctx, sess.ID); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return "", domain.ErrTokenInvalid
		}
		return "", err
	}

	return s.tokens.IssueAccess(user.ID, user.Role, sess.ID)
}

// Logout deletes the session bound to refreshToken. Unknown or empty tokens
// are not an error.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	sess, err := s.sessions.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	ok, err := s.sessions.RevokeByRefreshToken(ctx, refreshToken)
	if err != nil {
		return err
	}
	if ok {
		s.events.Publish(ctx, event.SessionRevoked, sess.UserID, event.SessionData{UserID: sess.UserID, SessionID: sess.ID, Count: 1})
		s.logger.InfoContext(ctx, "user logged out",
			slog.String("user_id", sess.UserID),
			slog.String("session_id", sess.ID),
		)
	}
	return nil
}

// CheckEmail reports whether email is free for signup.
func (s *AuthService) CheckEmail(ctx context.Context, email string) (bool, error) {
	exists, err := s.users.EmailExists(ctx, domain.NormalizeEmail(email))
	if err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	return !exists, nil
}

// ForgotPassword emails a one-hour reset link when email belongs to an active
// account. Unknown addresses succeed silently. If the email cannot be sent the
// token is withdrawn and ErrMailDeliveryFailed is returned.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if isNotFound(err) {
			s.logger.InfoContext(ctx, "password reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("get user by email: %w", err)
	}
	if !user.IsActive {
		return nil
	}

	plain, stored, err := auth.IssueResetToken()
	if err != nil {
		return err
	}
	expires := s.now().Add(resetTokenTTL)
	if err := s.users.SetResetToken(ctx, user.ID, stored, &expires); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	if err := s.mail.Send(ctx, user.Email, mailer.KindPasswordReset, map[string]string{"Name": user.Name, "Token": plain}); err != nil {
		s.logger.ErrorContext(ctx, "failed to send password reset email",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		if rbErr := s.users.SetResetToken(ctx, user.ID, "", nil); rbErr != nil {
			s.logger.ErrorContext(ctx, "failed to clear reset token",
				slog.String("user_id", user.ID),
				slog.String("error", rbErr.Error()),
			)
		}
		return domain.ErrMailDeliveryFailed
	}

	s.events.Publish(ctx, event.PasswordResetRequested, user.ID, event.UserData{UserID: user.ID, Email: user.Email})
	s.logger.InfoContext(ctx, "password reset requested", slog.String("user_id", user.ID))
	return nil
}

// ResetPassword sets a new password for the holder of an unexpired reset token.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if !validator.IsStrongPassword(newPassword) {
		return apperrors.InvalidInput("password " + validator.PasswordRule)
	}

	user, err := s.users.GetByResetTokenHash(ctx, auth.HashToken(token))
	if err != nil {
		if isNotFound(err) {
			return domain.ErrInvalidResetToken
		}
		return fmt.Errorf("get user by reset token: %w", err)
	}

	hash, err := s.creds.Hash(ctx, newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if s.cfg.RevokeSessionsOnReset {
		n, err := s.sessions.RevokeAll(ctx, user.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to revoke sessions after password reset",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		} else if n > 0 {
			s.events.Publish(ctx, event.SessionRevoked, user.ID, event.SessionData{UserID: user.ID, Count: n})
		}
	}

	if err := s.mail.Send(ctx, user.Email, mailer.KindPasswordResetSuccess, map[string]string{"Name": user.Name}); err != nil {
		s.logger.WarnContext(ctx, "failed to send password reset confirmation",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
	s.events.Publish(ctx, event.PasswordChanged, user.ID, event.UserData{UserID: user.ID, Email: user.Email})
	s.logger.InfoContext(ctx, "password reset completed", slog.String("user_id", user.ID))
	return nil
}

// VerifyEmail marks the holder of an unexpired verification token as verified.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	user, err := s.users.GetByVerificationToken(ctx, token)
	if err != nil {
		if isNotFound(err) {
			return domain.ErrInvalidVerifyToken
		}
		return fmt.Errorf("get user by verification token: %w", err)
	}
	if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}

	if err := s.mail.Send(ctx, user.Email, mailer.KindWelcome, map[string]string{"Name": user.Name}); err != nil {
		s.logger.WarnContext(ctx, "failed to send welcome email",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
	s.events.Publish(ctx, event.UserVerified, user.ID, event.UserData{UserID: user.ID, Email: user.Email})
	s.logger.InfoContext(ctx, "email verified", slog.String("user_id", user.ID))
	return nil
}

// ResendVerification replaces the user's verification token and emails it.
// When the email cannot be sent the previous token is restored.
func (s *AuthService) ResendVerification(ctx context.Context, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return userNotFound(err)
	}
	if user.EmailVerified {
		return domain.ErrAlreadyVerified
	}

	plain, stored, err := auth.IssueVerificationToken()
	if err != nil {
		return err
	}
	expires := s.now().Add(verificationTokenTTL)
	if err := s.users.SetVerificationToken(ctx, user.ID, stored, &expires); err != nil {
		return fmt.Errorf("store verification token: %w", err)
	}

	if err := s.mail.Send(ctx, user.Email, mailer.KindVerification, map[string]string{"Name": user.Name, "Token": plain}); err != nil {
		s.logger.ErrorContext(ctx, "failed to resend verification email",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		if rbErr := s.users.SetVerificationToken(ctx, user.ID, user.VerificationToken, user.VerificationTokenExpiresAt); rbErr != nil {
			s.logger.ErrorContext(ctx, "failed to restore verification token",
				slog.String("user_id", user.ID),
				slog.String("error", rbErr.Error()),
			)
		}
		return domain.ErrMailDeliveryFailed
	}
	return nil
}

// ChangePassword replaces the password of a signed-in user after checking the
// current one, then signs out every other device.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentSessionID, currentPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return userNotFound(err)
	}

	ok, err := s.creds.Verify(ctx, currentPassword, user.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrWrongCurrentPassword
	}
	if currentPassword == newPassword {
		return apperrors.InvalidInput("new password must be different from current password")
	}
	if !validator.IsStrongPassword(newPassword) {
		return apperrors.InvalidInput("password " + validator.PasswordRule)
	}

	hash, err := s.creds.Hash(ctx, newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	n, err := s.sessions.RevokeAllExcept(ctx, user.ID, currentSessionID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke sessions after password change",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	} else if n > 0 {
		s.events.Publish(ctx, event.SessionRevoked, user.ID, event.SessionData{UserID: user.ID, Count: n})
	}

	s.events.Publish(ctx, event.PasswordChanged, user.ID, event.UserData{UserID: user.ID, Email: user.Email})
	s.logger.InfoContext(ctx, "password changed", slog.String("user_id", user.ID))
	return nil
}
