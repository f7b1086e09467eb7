package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	apperrors "github.com/utafrali/promptbase/pkg/errors"
	"github.com/utafrali/promptbase/pkg/httputil"
	"github.com/utafrali/promptbase/pkg/logger"
)

type contextKeyType string

const (
	userIDKey    contextKeyType = "user_id"
	roleKey      contextKeyType = "role"
	sessionIDKey contextKeyType = "session_id"
)

// Claims are the verified access-token claims the auth middleware places in context.
type Claims struct {
	UserID    string
	Role      string
	SessionID string
}

// TokenValidator validates an access token and returns its claims.
type TokenValidator func(token string) (*Claims, error)

// SessionCheck reports whether the session behind a verified token still
// exists. Returning false rejects the request.
type SessionCheck func(ctx context.Context, sessionID string) (bool, error)

type authConfig struct {
	cookieName      string
	onAuthenticated func(ctx context.Context, c *Claims)
	sessionCheck    SessionCheck
}

// AuthOption configures Auth.
type AuthOption func(*authConfig)

// WithTokenCookie accepts the access token from the named cookie when no
// Authorization header is present.
func WithTokenCookie(name string) AuthOption {
	return func(c *authConfig) { c.cookieName = name }
}

// OnAuthenticated registers a callback run after a token verifies. It must not block.
func OnAuthenticated(fn func(ctx context.Context, c *Claims)) AuthOption {
	return func(c *authConfig) { c.onAuthenticated = fn }
}

// WithSessionCheck rejects tokens whose session no longer exists. This costs
// one store read per request.
func WithSessionCheck(fn SessionCheck) AuthOption {
	return func(c *authConfig) { c.sessionCheck = fn }
}

// Auth validates the access token (Authorization: Bearer first, then the
// configured cookie) and injects the claims into the request context.
func Auth(validate TokenValidator, opts ...AuthOption) func(http.Handler) http.Handler {
	cfg := &authConfig{}
	for _, o := range opts {
		o(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extractToken(r, cfg.cookieName)
			if !ok {
				writeAuthError(w, r, "missing access token")
				return
			}

			claims, err := validate(token)
			if err != nil {
				writeAuthError(w, r, "invalid or expired token")
				return
			}

			ctx := r.Context()
			if cfg.sessionCheck != nil && claims.SessionID != "" {
				alive, err := cfg.sessionCheck(ctx, claims.SessionID)
				if err != nil {
					httputil.WriteError(w, r, apperrors.Internal(fmt.Errorf("session check: %w", err)), nil)
					return
				}
				if !alive {
					writeAuthError(w, r, "session has been revoked")
					return
				}
			}

			ctx = WithClaims(ctx, claims)

			l := logger.FromContext(ctx).With(slog.String("user_id", claims.UserID))
			if claims.SessionID != "" {
				l = l.With(slog.String("session_id", claims.SessionID))
			}
			ctx = logger.NewContext(ctx, l)

			if cfg.onAuthenticated != nil {
				cfg.onAuthenticated(ctx, claims)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request, cookieName string) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") && parts[1] != "" {
			return parts[1], true
		}
		return "", false
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value, true
		}
	}
	return "", false
}

// WithClaims stores verified claims in ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	ctx = context.WithValue(ctx, userIDKey, c.UserID)
	ctx = context.WithValue(ctx, roleKey, c.Role)
	ctx = context.WithValue(ctx, sessionIDKey, c.SessionID)
	ctx = logger.WithUserID(ctx, c.UserID)
	return logger.WithSessionID(ctx, c.SessionID)
}

// RequireRole rejects authenticated users whose role is not listed.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	roleSet := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		roleSet[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := roleSet[RoleFromContext(r.Context())]; !ok {
				httputil.WriteError(w, r, apperrors.Forbidden("insufficient permissions"), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// RoleFromContext extracts the user role from the request context.
func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(roleKey).(string)
	return role
}

// SessionIDFromContext extracts the session id carried by the access token.
// Empty for tokens minted without one.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}

func writeAuthError(w http.ResponseWriter, r *http.Request, message string) {
	httputil.WriteError(w, r, apperrors.Unauthorized(message), nil)
}
