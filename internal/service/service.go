// Package service holds the identity use cases: the login state machine,
// two-factor enrollment, session management and account administration.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/promptbase/internal/domain"
	"github.com/utafrali/promptbase/internal/mailer"
	apperrors "github.com/utafrali/promptbase/pkg/errors"
)

// SessionRegistry is the session store the services depend on.
type SessionRegistry interface {
	Open(ctx context.Context, userID, refreshToken string, dc domain.DeviceContext, ttl time.Duration) (*domain.Session, error)
	FindByRefreshToken(ctx context.Context, token string) (*domain.Session, error)
	Validate(ctx context.Context, s *domain.Session) error
	MarkActive(ctx context.Context, sessionID string) error
	ListForUser(ctx context.Context, userID string) ([]domain.Session, error)
	Revoke(ctx context.Context, userID, sessionID string) error
	RevokeByRefreshToken(ctx context.Context, token string) (bool, error)
	RevokeAllExcept(ctx context.Context, userID, keepID string) (int64, error)
	RevokeAll(ctx context.Context, userID string) (int64, error)
}

// Mailer sends transactional email.
type Mailer interface {
	Send(ctx context.Context, to string, kind mailer.Kind, params map[string]string) error
}

// Login outcomes recorded in promptbase_auth_logins_total.
const (
	outcomeSuccess              = "success"
	outcomeInvalidCredentials   = "invalid_credentials"
	outcomeSecondFactorRequired = "second_factor_required"
	outcomeInvalidSecondFactor  = "invalid_second_factor"
	outcomeBackupCode           = "backup_code"
)

var loginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "promptbase_auth_logins_total",
	Help: "Login attempts by outcome.",
}, []string{"outcome"})

// userNotFound maps a repository miss to domain.ErrUserNotFound.
func userNotFound(err error) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return domain.ErrUserNotFound
	}
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound)
}
