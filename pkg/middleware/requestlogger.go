package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/promptbase/pkg/logger"
)

// RequestLogger stores a request-scoped logger in context, enriched with the
// correlation id and the trace/span ids. Mount it after RequestLogging and
// Tracing. Auth later adds user_id and session_id to the same logger.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
