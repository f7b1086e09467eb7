package service

import (
	"context"
	"log/slog"

	"github.com/utafrali/promptbase/internal/domain"
	"github.com/utafrali/promptbase/internal/event"
)

// SessionService lists and revokes a user's own sessions.
type SessionService struct {
	sessions SessionRegistry
	events   event.Publisher
	logger   *slog.Logger
}

// NewSessionService creates a session management service.
func NewSessionService(sessions SessionRegistry, events event.Publisher, logger *slog.Logger) *SessionService {
	return &SessionService{sessions: sessions, events: events, logger: logger}
}

// List returns the user's live sessions, flagging the one identified by currentID.
func (s *SessionService) List(ctx context.Context, userID, currentID string) ([]domain.SessionView, error) {
	sessions, err := s.sessions.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]domain.SessionView, 0, len(sessions))
	for i := range sessions {
		views = append(views, sessions[i].View(currentID))
	}
	return views, nil
}

// Revoke deletes one of the user's sessions. Revoking the current one is a logout.
func (s *SessionService) Revoke(ctx context.Context, userID, sessionID string) error {
	if err := s.sessions.Revoke(ctx, userID, sessionID); err != nil {
		return err
	}
	s.events.Publish(ctx, event.SessionRevoked, userID, event.SessionData{UserID: userID, SessionID: sessionID, Count: 1})
	s.logger.InfoContext(ctx, "session revoked",
		slog.String("user_id", userID),
		slog.String("session_id", sessionID),
	)
	return nil
}

// RevokeOthers deletes every session of the user except currentID. With no
// current session all of them go.
func (s *SessionService) RevokeOthers(ctx context.Context, userID, currentID string) (int64, error) {
	n, err := s.sessions.RevokeAllExcept(ctx, userID, currentID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.events.Publish(ctx, event.SessionRevoked, userID, event.SessionData{UserID: userID, Count: n})
	}
	s.logger.InfoContext(ctx, "other sessions revoked",
		slog.String("user_id", userID),
		slog.Int64("count", n),
	)
	return n, nil
}
