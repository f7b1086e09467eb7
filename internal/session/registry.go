// Package session keeps track of logged-in devices. Each session is bound to
// the digest of one refresh token and can be listed and revoked by its owner.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/utafrali/promptbase/internal/auth"
	"github.com/utafrali/promptbase/internal/domain"
	"github.com/utafrali/promptbase/internal/repository"
	apperrors "github.com/utafrali/promptbase/pkg/errors"
)

const touchTimeout = 2 * time.Second

// Config tunes the background work of a Registry.
type Config struct {
	TouchQueueSize int
	ReapInterval   time.Duration
}

// Registry opens, finds, validates and revokes sessions.
type Registry struct {
	store   repository.SessionRepository
	touches chan string
	reap    time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewRegistry creates a session registry over store.
func NewRegistry(store repository.SessionRepository, cfg Config, logger *slog.Logger) *Registry {
	if cfg.TouchQueueSize < 1 {
		cfg.TouchQueueSize = 1
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 10 * time.Minute
	}
	return &Registry{
		store:   store,
		touches: make(chan string, cfg.TouchQueueSize),
		reap:    cfg.ReapInterval,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Open persists a new session for refreshToken. Only the token's digest is stored.
func (r *Registry) Open(ctx context.Context, userID, refreshToken string, dc domain.DeviceContext, ttl time.Duration) (*domain.Session, error) {
	now := r.now()
	s := &domain.Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		RefreshTokenHash: auth.HashToken(refreshToken),
		Device:           dc.Device,
		Browser:          dc.Browser,
		OS:               dc.OS,
		IPAddress:        dc.IPAddress,
		Location:         dc.Location,
		LastActivity:     now,
		ExpiresAt:        now.Add(ttl),
		CreatedAt:        now,
	}
	if err := r.store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	sessionsOpened.Inc()
	return s, nil
}

// Touch queues a last-activity update for sessionID. It never blocks; when
// the queue is full the update is dropped.
func (r *Registry) Touch(sessionID string) {
	if sessionID == "" {
		return
	}
	select {
	case r.touches <- sessionID:
	default:
		touchesDropped.Inc()
	}
}

// FindByRefreshToken returns the session bound to token or domain.ErrSessionNotFound.
func (r *Registry) FindByRefreshToken(ctx context.Context, token string) (*domain.Session, error) {
	s, err := r.store.GetByTokenHash(ctx, auth.HashToken(token))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

// Validate fails with domain.ErrTokenExpired once s has expired, deleting it.
func (r *Registry) Validate(ctx context.Context, s *domain.Session) error {
	if !s.Expired(r.now()) {
		return nil
	}
	if err := r.store.Delete(ctx, s.ID); err != nil {
		r.logger.WarnContext(ctx, "failed to delete expired session",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
	} else {
		sessionsRevoked.WithLabelValues("expired").Inc()
	}
	return domain.ErrTokenExpired
}

// MarkActive bumps last activity. A session that was revoked or expired in
// the meantime yields domain.ErrSessionNotFound.
func (r *Registry) MarkActive(ctx context.Context, sessionID string) error {
	ok, err := r.store.MarkActive(ctx, sessionID, r.now())
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrSessionNotFound
	}
	return nil
}

// Exists reports whether sessionID is still live.
func (r *Registry) Exists(ctx context.Context, sessionID string) (bool, error) {
	return r.store.Exists(ctx, sessionID, r.now())
}

// ListForUser returns the user's live sessions, most recently active first.
func (r *Registry) ListForUser(ctx context.Context, userID string) ([]domain.Session, error) {
	return r.store.ListByUser(ctx, userID, r.now())
}

// Revoke deletes one of userID's sessions. Sessions of other users are
// reported as domain.ErrSessionNotFound.
func (r *Registry) Revoke(ctx context.Context, userID, sessionID string) error {
	ok, err := r.store.DeleteForUser(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrSessionNotFound
	}
	sessionsRevoked.WithLabelValues("user").Inc()
	return nil
}

// RevokeByRefreshToken deletes the session bound to token, if any.
func (r *Registry) RevokeByRefreshToken(ctx context.Context, token string) (bool, error) {
	ok, err := r.store.DeleteByTokenHash(ctx, auth.HashToken(token))
	if err != nil {
		return false, err
	}
	if ok {
		sessionsRevoked.WithLabelValues("logout").Inc()
	}
	return ok, nil
}

// RevokeAllExcept deletes every session of userID other than keepID.
func (r *Registry) RevokeAllExcept(ctx context.Context, userID, keepID string) (int64, error) {
	n, err := r.store.DeleteAllForUserExcept(ctx, userID, keepID)
	if err != nil {
		return 0, err
	}
	sessionsRevoked.WithLabelValues("bulk").Add(float64(n))
	return n, nil
}

// RevokeAll deletes every session of userID.
func (r *Registry) RevokeAll(ctx context.Context, userID string) (int64, error) {
	return r.RevokeAllExcept(ctx, userID, "")
}

// Reap deletes all expired sessions.
func (r *Registry) Reap(ctx context.Context) (int64, error) {
	n, err := r.store.DeleteExpired(ctx, r.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		sessionsRevoked.WithLabelValues("expired").Add(float64(n))
	}
	return n, nil
}

// Run drains the touch queue and reaps expired sessions periodically until
// ctx is cancelled.
func (r *Registry) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.drainTouches(ctx)
		return nil
	})
	g.Go(func() error {
		r.reapLoop(ctx)
		return nil
	})
	return g.Wait()
}

func (r *Registry) drainTouches(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.touches:
			tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), touchTimeout)
			if _, err := r.store.MarkActive(tctx, id, r.now()); err != nil {
				r.logger.WarnContext(ctx, "session touch failed",
					slog.String("session_id", id),
					slog.String("error", err.Error()),
				)
			}
			cancel()
		}
	}
}

func (r *Registry) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(r.reap)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.Reap(ctx)
			if err != nil {
				r.logger.ErrorContext(ctx, "session reap failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				r.logger.InfoContext(ctx, "reaped expired sessions", slog.Int64("count", n))
			}
		}
	}
}
