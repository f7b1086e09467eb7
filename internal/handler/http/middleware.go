package http

import (
	"net/http"
	"strings"

	"github.com/utafrali/promptbase/internal/device"
	"github.com/utafrali/promptbase/pkg/httputil"
	"github.com/utafrali/promptbase/pkg/logger"
	"github.com/utafrali/promptbase/pkg/middleware"
)

// ContentTypeJSON rejects body-carrying requests that declare a non-JSON
// Content-Type. A missing Content-Type is let through; the decoder decides.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
					Error: &httputil.ErrorResponse{
						Code:      "UNSUPPORTED_MEDIA_TYPE",
						Message:   "Content-Type must be application/json",
						RequestID: logger.CorrelationIDFromContext(r.Context()),
					},
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// ipKey buckets requests by client address.
func ipKey(trustProxy bool) func(r *http.Request) string {
	return func(r *http.Request) string {
		return "ip:" + device.ClientIP(r, trustProxy)
	}
}

// userKey buckets requests by authenticated user. It must run after Auth.
func userKey(r *http.Request) string {
	if id := middleware.UserIDFromContext(r.Context()); id != "" {
		return "user:" + id
	}
	return ""
}
