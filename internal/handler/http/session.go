package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/promptbase/internal/domain"
	"github.com/utafrali/promptbase/pkg/httputil"
	"github.com/utafrali/promptbase/pkg/middleware"
)

// SessionService lists and revokes the caller's sessions.
type SessionService interface {
	List(ctx context.Context, userID, currentID string) ([]domain.SessionView, error)
	Revoke(ctx context.Context, userID, sessionID string) error
	RevokeOthers(ctx context.Context, userID, currentID string) (int64, error)
}

// SessionHandler handles the /sessions endpoints.
type SessionHandler struct {
	svc    SessionService
	logger *slog.Logger
}

// NewSessionHandler creates a new session HTTP handler.
func NewSessionHandler(svc SessionService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{svc: svc, logger: logger}
}

// List handles GET /api/v1/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	views, err := h.svc.List(ctx, middleware.UserIDFromContext(ctx), middleware.SessionIDFromContext(ctx))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: views})
}

// Revoke handles DELETE /api/v1/sessions/{id}
func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	ctx := r.Context()
	if err := h.svc.Revoke(ctx, middleware.UserIDFromContext(ctx), id.String()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: messageResponse{Message: "session revoked"}})
}

// RevokeOthers handles DELETE /api/v1/sessions/all. The calling session is kept.
func (h *SessionHandler) RevokeOthers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	n, err := h.svc.RevokeOthers(ctx, middleware.UserIDFromContext(ctx), middleware.SessionIDFromContext(ctx))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]int64{"revoked": n}})
}
