package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/promptbase/internal/domain"
	"github.com/utafrali/promptbase/pkg/database"
	apperrors "github.com/utafrali/promptbase/pkg/errors"
)

const sessionColumns = `id, user_id, refresh_token_hash, device, browser, os, ip_address, location,
		last_activity, expires_at, created_at`

// SessionRepository implements repository.SessionRepository using PostgreSQL.
// Every statement is traced.
type SessionRepository struct {
	db database.DBTX
}

// NewSessionRepository creates a new PostgreSQL-backed session repository.
func NewSessionRepository(db database.DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session row.
func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) (err error) {
	query := `
		INSERT INTO sessions (id, user_id, refresh_token_hash, device, browser, os, ip_address, location,
		                      last_activity, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	ctx, end := database.TraceQuery(ctx, "CreateSession", query)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, query,
		s.ID,
		s.UserID,
		s.RefreshTokenHash,
		s.Device,
		s.Browser,
		s.OS,
		s.IPAddress,
		s.Location,
		s.LastActivity,
		s.ExpiresAt,
		s.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("session", "refresh_token_hash", "")
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetByTokenHash looks a session up by the digest of its refresh token.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, hash string) (_ *domain.Session, err error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE refresh_token_hash = $1`
	ctx, end := database.TraceQuery(ctx, "FindSessionByTokenHash", query)
	defer func() { end(err) }()

	s, err := scanSessionRow(r.db.QueryRow(ctx, query, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get session by token hash: %w", err)
	}
	return s, nil
}

// Exists reports whether an unexpired session with id exists.
func (r *SessionRepository) Exists(ctx context.Context, id string, now time.Time) (_ bool, err error) {
	query := `SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1 AND expires_at > $2)`
	ctx, end := database.TraceQuery(ctx, "SessionExists", query)
	defer func() { end(err) }()

	var exists bool
	if err = r.db.QueryRow(ctx, query, id, now).Scan(&exists); err != nil {
		return false, fmt.Errorf("check session: %w", err)
	}
	return exists, nil
}

// MarkActive bumps last_activity on an unexpired session.
func (r *SessionRepository) MarkActive(ctx context.Context, id string, now time.Time) (_ bool, err error) {
	query := `UPDATE sessions SET last_activity = $2 WHERE id = $1 AND expires_at > $2`
	ctx, end := database.TraceQuery(ctx, "MarkSessionActive", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("mark session active: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// ListByUser returns the user's live sessions, most recently active first.
func (r *SessionRepository) ListByUser(ctx context.Context, userID string, now time.Time) (_ []domain.Session, err error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE user_id = $1 AND expires_at > $2
		ORDER BY last_activity DESC`
	ctx, end := database.TraceQuery(ctx, "ListUserSessions", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]domain.Session, 0)
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return sessions, nil
}

// Delete removes a session by id. Missing rows are not an error.
func (r *SessionRepository) Delete(ctx context.Context, id string) (err error) {
	query := `DELETE FROM sessions WHERE id = $1`
	ctx, end := database.TraceQuery(ctx, "DeleteSession", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteForUser removes a session only if it belongs to userID.
func (r *SessionRepository) DeleteForUser(ctx context.Context, userID, id string) (_ bool, err error) {
	query := `DELETE FROM sessions WHERE id = $1 AND user_id = $2`
	ctx, end := database.TraceQuery(ctx, "DeleteUserSession", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete user session: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// DeleteByTokenHash removes the session holding the refresh token digest.
func (r *SessionRepository) DeleteByTokenHash(ctx context.Context, hash string) (_ bool, err error) {
	query := `DELETE FROM sessions WHERE refresh_token_hash = $1`
	ctx, end := database.TraceQuery(ctx, "DeleteSessionByTokenHash", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, hash)
	if err != nil {
		return false, fmt.Errorf("delete session by token hash: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// DeleteAllForUserExcept removes every session of userID other than keepID.
func (r *SessionRepository) DeleteAllForUserExcept(ctx context.Context, userID, keepID string) (_ int64, err error) {
	query := `DELETE FROM sessions WHERE user_id = $1`
	args := []any{userID}
	if keepID != "" {
		query += ` AND id <> $2`
		args = append(args, keepID)
	}
	ctx, end := database.TraceQuery(ctx, "DeleteUserSessions", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete user sessions: %w", err)
	}
	return ct.RowsAffected(), nil
}

// DeleteExpired removes sessions whose expiry is at or before now.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (_ int64, err error) {
	query := `DELETE FROM sessions WHERE expires_at <= $1`
	ctx, end := database.TraceQuery(ctx, "DeleteExpiredSessions", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return ct.RowsAffected(), nil
}

func scanSessionRow(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.RefreshTokenHash,
		&s.Device,
		&s.Browser,
		&s.OS,
		&s.IPAddress,
		&s.Location,
		&s.LastActivity,
		&s.ExpiresAt,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
