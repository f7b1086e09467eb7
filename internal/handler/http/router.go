package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/promptbase/internal/auth"
	"github.com/utafrali/promptbase/internal/domain"
	"github.com/utafrali/promptbase/internal/ratelimit"
	"github.com/utafrali/promptbase/pkg/health"
	"github.com/utafrali/promptbase/pkg/middleware"
)

const serviceName = "identity"

// AccessTokenVerifier checks an access token's signature, expiry and type.
type AccessTokenVerifier interface {
	VerifyAccess(token string) (*auth.AccessClaims, error)
}

// RouterDeps carries everything the router mounts.
type RouterDeps struct {
	Auth      AuthService
	TwoFactor TwoFactorService
	Sessions  SessionService
	Users     UserService
	Devices   DeviceResolver
	Tokens    AccessTokenVerifier

	// Touch records activity for the session behind each authenticated request.
	Touch func(sessionID string)
	// SessionCheck, when set, makes every authenticated request require that
	// the token's session still exists.
	SessionCheck middleware.SessionCheck

	// AuthLimiter guards the unauthenticated credential endpoints per client IP.
	AuthLimiter ratelimit.Limiter
	// ResendLimiter guards resend-verification per user.
	ResendLimiter ratelimit.Limiter

	Health     *health.Handler
	Cookies    CookieConfig
	CORS       middleware.CORSConfig
	TrustProxy bool
	PprofCIDRs []string
	Logger     *slog.Logger
}

// NewRouter creates a chi router with all identity routes registered.
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.RequestLogging(d.Logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogger(d.Logger))
	r.Use(middleware.PrometheusMetrics(serviceName))
	r.Use(middleware.CORS(d.CORS))

	// Health check endpoints
	if d.Health != nil {
		r.Get("/health/live", d.Health.LivenessHandler())
		r.Get("/health/ready", d.Health.ReadinessHandler())
	}
	r.Handle("/metrics", promhttp.Handler())
	middleware.RegisterPprof(r, d.PprofCIDRs, d.Logger)

	authOpts := []middleware.AuthOption{middleware.WithTokenCookie(accessCookie)}
	if d.Touch != nil {
		touch := d.Touch
		authOpts = append(authOpts, middleware.OnAuthenticated(func(_ context.Context, c *middleware.Claims) {
			if c.SessionID != "" {
				touch(c.SessionID)
			}
		}))
	}
	if d.SessionCheck != nil {
		authOpts = append(authOpts, middleware.WithSessionCheck(d.SessionCheck))
	}
	requireAuth := middleware.Auth(accessTokenValidator(d.Tokens), authOpts...)

	authLimit := ratelimit.Middleware(d.AuthLimiter, "auth", ipKey(d.TrustProxy))
	resendLimit := ratelimit.Middleware(d.ResendLimiter, "resend_verification", userKey)

	authHandler := NewAuthHandler(d.Auth, d.Devices, d.Cookies, d.Logger)
	twoFactorHandler := NewTwoFactorHandler(d.TwoFactor, d.Logger)
	sessionHandler := NewSessionHandler(d.Sessions, d.Logger)
	userHandler := NewUserHandler(d.Users, d.Cookies, d.Logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.NoStore)

		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(authLimit)
				r.Post("/signup", authHandler.Signup)
				r.Post("/login", authHandler.Login)
				r.Post("/forgot-password", authHandler.ForgotPassword)
				r.Post("/reset-password", authHandler.ResetPassword)
			})

			r.Post("/refresh", authHandler.Refresh)
			r.Post("/logout", authHandler.Logout)
			r.Post("/check-email", authHandler.CheckEmail)
			r.Post("/verify-email/{token}", authHandler.VerifyEmail)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.With(resendLimit).Post("/resend-verification", authHandler.ResendVerification)
				r.Post("/change-password", authHandler.ChangePassword)
			})
		})

		r.Route("/2fa", func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/status", twoFactorHandler.Status)
			r.Post("/setup", twoFactorHandler.Setup)
			r.Post("/verify-setup", twoFactorHandler.VerifySetup)
			r.Post("/disable", twoFactorHandler.Disable)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/", sessionHandler.List)
			r.Delete("/all", sessionHandler.RevokeOthers)
			r.Delete("/{id}", sessionHandler.Revoke)
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/me", userHandler.GetProfile)
			r.Put("/me", userHandler.UpdateProfile)
			r.Delete("/me", userHandler.DeleteAccount)
		})

		r.Route("/admin/users", func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(middleware.RequireRole(domain.RoleAdmin))
			r.Get("/", userHandler.List)
			r.Put("/{id}/role", userHandler.ChangeRole)
			r.Delete("/{id}", userHandler.Delete)
		})
	})

	return r
}

// accessTokenValidator bridges the token service to the auth middleware.
func accessTokenValidator(tokens AccessTokenVerifier) middleware.TokenValidator {
	return func(token string) (*middleware.Claims, error) {
		claims, err := tokens.VerifyAccess(token)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{
			UserID:    claims.UserID,
			Role:      claims.Role,
			SessionID: claims.SessionID,
		}, nil
	}
}
