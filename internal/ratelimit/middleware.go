package ratelimit

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/promptbase/internal/domain"
	"github.com/utafrali/promptbase/pkg/httputil"
	"github.com/utafrali/promptbase/pkg/logger"
)

// KeyFunc extracts the budget key from a request. An empty key skips the check.
type KeyFunc func(r *http.Request) string

// Middleware rejects requests over budget with 429 RATE_LIMITED. If the
// limiter itself fails the request is rejected too.
func Middleware(l Limiter, policy string, key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			allowed, err := l.Allow(ctx, k)
			if err != nil {
				httputil.WriteError(w, r, err, nil)
				return
			}
			if !allowed {
				rejections.WithLabelValues(policy).Inc()
				logger.FromContext(ctx).WarnContext(ctx, "rate limit exceeded",
					slog.String("policy", policy),
					slog.String("path", r.URL.Path),
				)
				httputil.WriteError(w, r, domain.ErrRateLimited, nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
