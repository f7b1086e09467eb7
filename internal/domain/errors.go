package domain

import (
	"net/http"

	apperrors "github.com/utafrali/promptbase/pkg/errors"
)

// Authentication and session errors. They are matched with errors.Is by code,
// and their messages are safe to show to clients.
var (
	// ErrInvalidCredentials covers unknown email, wrong password and inactive
	// accounts alike so callers cannot tell them apart.
	ErrInvalidCredentials = apperrors.New("INVALID_CREDENTIALS", "invalid email or password", http.StatusUnauthorized, apperrors.ErrUnauthorized)

	ErrAccountNotVerified  = apperrors.New("ACCOUNT_NOT_VERIFIED", "email address has not been verified", http.StatusForbidden, apperrors.ErrForbidden)
	ErrInvalidSecondFactor = apperrors.New("INVALID_2FA_CODE", "invalid two-factor code", http.StatusUnauthorized, apperrors.ErrUnauthorized)
	ErrTokenExpired        = apperrors.New("TOKEN_EXPIRED", "token has expired", http.StatusUnauthorized, apperrors.ErrUnauthorized)
	ErrTokenInvalid        = apperrors.New("TOKEN_INVALID", "invalid token", http.StatusUnauthorized, apperrors.ErrUnauthorized)

	// ErrSessionNotFound is a 404 when revoking; refresh maps it to ErrTokenInvalid.
	ErrSessionNotFound = apperrors.New("SESSION_NOT_FOUND", "session not found", http.StatusNotFound, apperrors.ErrNotFound)

	ErrTwoFactorSetupChanged = apperrors.New("2FA_SETUP_CHANGED", "2FA setup was restarted, scan the new code", http.StatusConflict, apperrors.ErrConflict)

	ErrLastAdminProtected = apperrors.New("LAST_ADMIN_PROTECTED", "cannot demote or delete the last admin", http.StatusConflict, apperrors.ErrConflict)
	ErrRateLimited        = apperrors.New("RATE_LIMITED", "too many requests, please try again later", http.StatusTooManyRequests, apperrors.ErrTooManyRequests)

	ErrEmailInUse           = apperrors.New("EMAIL_IN_USE", "email already in use", http.StatusBadRequest, apperrors.ErrAlreadyExists)
	ErrAlreadyVerified      = apperrors.New("ALREADY_VERIFIED", "email is already verified", http.StatusBadRequest, apperrors.ErrInvalidInput)
	ErrInvalidResetToken    = apperrors.New("INVALID_RESET_TOKEN", "invalid or expired reset token", http.StatusBadRequest, apperrors.ErrInvalidInput)
	ErrInvalidVerifyToken   = apperrors.New("INVALID_VERIFICATION_TOKEN", "invalid or expired verification token", http.StatusBadRequest, apperrors.ErrInvalidInput)
	ErrTwoFactorNotInit     = apperrors.New("2FA_NOT_INITIALIZED", "2FA not initialized", http.StatusBadRequest, apperrors.ErrInvalidInput)
	ErrTwoFactorAlreadyOn   = apperrors.New("2FA_ALREADY_ENABLED", "2FA is already enabled", http.StatusBadRequest, apperrors.ErrInvalidInput)
	ErrTwoFactorNotEnabled  = apperrors.New("2FA_NOT_ENABLED", "2FA is not enabled", http.StatusBadRequest, apperrors.ErrInvalidInput)
	ErrWrongCurrentPassword = apperrors.New("INVALID_PASSWORD", "current password is incorrect", http.StatusBadRequest, apperrors.ErrInvalidInput)
	ErrUserNotFound         = apperrors.New("USER_NOT_FOUND", "user not found", http.StatusNotFound, apperrors.ErrNotFound)
	ErrInvalidRole          = apperrors.New("INVALID_ROLE", "role must be one of: user, admin", http.StatusBadRequest, apperrors.ErrInvalidInput)
	ErrMailDeliveryFailed   = apperrors.New("EMAIL_DELIVERY_FAILED", "could not send email, please try again later", http.StatusInternalServerError, apperrors.ErrInternal)
)
