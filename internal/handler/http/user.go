package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/promptbase/internal/domain"
	"github.com/utafrali/promptbase/pkg/httputil"
	"github.com/utafrali/promptbase/pkg/middleware"
	"github.com/utafrali/promptbase/pkg/pagination"
	"github.com/utafrali/promptbase/pkg/validator"
)

// UserService is profile and account administration.
type UserService interface {
	GetProfile(ctx context.Context, userID string) (*domain.User, error)
	UpdateProfile(ctx context.Context, userID, name string) (*domain.User, error)
	ListUsers(ctx context.Context, params pagination.Params) (pagination.Result[domain.UserView], error)
	ChangeRole(ctx context.Context, actorID, targetID, role string) (*domain.User, error)
	DeleteUser(ctx context.Context, actorID, targetID string) error
}

// UserHandler handles the profile and admin user endpoints.
type UserHandler struct {
	svc     UserService
	cookies CookieConfig
	logger  *slog.Logger
}

// NewUserHandler creates a new user HTTP handler.
func NewUserHandler(svc UserService, cookies CookieConfig, logger *slog.Logger) *UserHandler {
	return &UserHandler{svc: svc, cookies: cookies, logger: logger}
}

// UpdateProfileRequest is the JSON request body for updating the caller's profile.
type UpdateProfileRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

// ChangeRoleRequest is the JSON request body for changing a user's role.
type ChangeRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=user admin"`
}

// GetProfile handles GET /api/v1/users/me
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.GetProfile(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: user.View()})
}

// UpdateProfile handles PUT /api/v1/users/me
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	user, err := h.svc.UpdateProfile(r.Context(), middleware.UserIDFromContext(r.Context()), req.Name)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: user.View()})
}

// DeleteAccount handles DELETE /api/v1/users/me. Sessions go with the
// account, so the caller's cookies are cleared too.
func (h *UserHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if err := h.svc.DeleteUser(r.Context(), userID, userID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.cookies.clear(w)
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: messageResponse{Message: "account deleted"}})
}

// List handles GET /api/v1/admin/users
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ListUsers(r.Context(), pagination.FromRequest(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// ChangeRole handles PUT /api/v1/admin/users/{id}/role
func (h *UserHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req ChangeRoleRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	user, err := h.svc.ChangeRole(r.Context(), middleware.UserIDFromContext(r.Context()), id.String(), req.Role)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: user.View()})
}

// Delete handles DELETE /api/v1/admin/users/{id}
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := h.svc.DeleteUser(r.Context(), middleware.UserIDFromContext(r.Context()), id.String()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: messageResponse{Message: "user deleted"}})
}
