package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/utafrali/promptbase/internal/auth"
	"github.com/utafrali/promptbase/internal/service"
	"github.com/utafrali/promptbase/pkg/httputil"
	"github.com/utafrali/promptbase/pkg/middleware"
	"github.com/utafrali/promptbase/pkg/validator"
)

// TwoFactorService is TOTP enrollment for the signed-in user.
type TwoFactorService interface {
	Setup(ctx context.Context, userID string) (*auth.Enrollment, error)
	VerifySetup(ctx context.Context, userID, code string) ([]string, error)
	Disable(ctx context.Context, userID, code string) error
	Status(ctx context.Context, userID string) (*service.TwoFactorStatus, error)
}

// TwoFactorHandler handles the /2fa endpoints.
type TwoFactorHandler struct {
	svc    TwoFactorService
	logger *slog.Logger
}

// NewTwoFactorHandler creates a new 2FA HTTP handler.
func NewTwoFactorHandler(svc TwoFactorService, logger *slog.Logger) *TwoFactorHandler {
	return &TwoFactorHandler{svc: svc, logger: logger}
}

// TOTPRequest carries a 6-digit authenticator code.
type TOTPRequest struct {
	Token string `json:"token" validate:"required,len=6,numeric"`
}

// Setup handles POST /api/v1/2fa/setup
func (h *TwoFactorHandler) Setup(w http.ResponseWriter, r *http.Request) {
	enr, err := h.svc.Setup(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: enr})
}

// VerifySetup handles POST /api/v1/2fa/verify-setup. The backup codes in the
// response are shown once.
func (h *TwoFactorHandler) VerifySetup(w http.ResponseWriter, r *http.Request) {
	var req TOTPRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	codes, err := h.svc.VerifySetup(r.Context(), middleware.UserIDFromContext(r.Context()), req.Token)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string][]string{"backupCodes": codes}})
}

// Disable handles POST /api/v1/2fa/disable
func (h *TwoFactorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	var req TOTPRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	if err := h.svc.Disable(r.Context(), middleware.UserIDFromContext(r.Context()), req.Token); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: messageResponse{Message: "two-factor authentication disabled"}})
}

// Status handles GET /api/v1/2fa/status
func (h *TwoFactorHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: st})
}
