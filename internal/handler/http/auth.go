package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/promptbase/internal/domain"
	"github.com/utafrali/promptbase/internal/service"
	"github.com/utafrali/promptbase/pkg/httputil"
	"github.com/utafrali/promptbase/pkg/middleware"
	"github.com/utafrali/promptbase/pkg/validator"
)

// AuthService is the account lifecycle the auth endpoints drive.
type AuthService interface {
	Signup(ctx context.Context, in service.SignupInput, dc domain.DeviceContext) (*domain.LoginResult, error)
	Login(ctx context.Context, in service.LoginInput, dc domain.DeviceContext) (*domain.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (string, error)
	Logout(ctx context.Context, refreshToken string) error
	CheckEmail(ctx context.Context, email string) (bool, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	VerifyEmail(ctx context.Context, token string) error
	ResendVerification(ctx context.Context, userID string) error
	ChangePassword(ctx context.Context, userID, currentSessionID, currentPassword, newPassword string) error
}

// DeviceResolver derives the login device context from a request.
type DeviceResolver interface {
	FromRequest(r *http.Request) domain.DeviceContext
}

// AuthHandler handles HTTP requests for auth endpoints.
type AuthHandler struct {
	auth    AuthService
	devices DeviceResolver
	cookies CookieConfig
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(svc AuthService, devices DeviceResolver, cookies CookieConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: svc, devices: devices, cookies: cookies, logger: logger}
}

// --- Request DTOs ---

// SignupRequest is the JSON request body for account creation.
type SignupRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=100"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,password,max=72"`
}

// LoginRequest is the JSON request body for login. Code carries the TOTP or
// backup code on the second leg of a 2FA login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Code     string `json:"code" validate:"omitempty,otp"`
}

// RefreshRequest is the optional JSON body of refresh and logout. The
// refreshToken cookie is used when it is absent.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// EmailRequest is the JSON body of check-email and forgot-password.
type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest is the JSON request body for password reset.
type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,password,max=72"`
}

// ChangePasswordRequest is the JSON request body for changing a password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,password,max=72"`
}

// --- Response types ---

// SessionResponse is returned by signup and a completed login.
type SessionResponse struct {
	User           domain.UserView `json:"user"`
	AccessToken    string          `json:"accessToken"`
	RefreshToken   string          `json:"refreshToken"`
	BackupCodeUsed bool            `json:"backupCodeUsed,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// --- Handlers ---

// Signup handles POST /api/v1/auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	res, err := h.auth.Signup(r.Context(), service.SignupInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	}, h.devices.FromRequest(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.cookies.setTokens(w, res.Tokens.AccessToken, res.Tokens.RefreshToken)
	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: sessionResponse(res)})
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	res, err := h.auth.Login(r.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Code:     req.Code,
	}, h.devices.FromRequest(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if res.SecondFactorRequired {
		httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]bool{"require2FA": true}})
		return
	}

	h.cookies.setTokens(w, res.Tokens.AccessToken, res.Tokens.RefreshToken)
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: sessionResponse(res)})
}

// Refresh handles POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := refreshTokenFrom(r, decodeRefreshBody(w, r))
	if token == "" {
		httputil.WriteError(w, r, domain.ErrTokenInvalid, h.logger)
		return
	}

	access, err := h.auth.Refresh(r.Context(), token)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.cookies.setAccess(w, access)
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"accessToken": access}})
}

// Logout handles POST /api/v1/auth/logout. Cookies are cleared whatever the
// outcome of the revoke.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := refreshTokenFrom(r, decodeRefreshBody(w, r))
	h.cookies.clear(w)

	if err := h.auth.Logout(r.Context(), token); err != nil {
		h.logger.ErrorContext(r.Context(), "logout failed", slog.String("error", err.Error()))
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: messageResponse{Message: "logged out"}})
}

// CheckEmail handles POST /api/v1/auth/check-email
func (h *AuthHandler) CheckEmail(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	available, err := h.auth.CheckEmail(r.Context(), req.Email)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]bool{"available": available}})
}

// ForgotPassword handles POST /api/v1/auth/forgot-password. The response is
// the same whether or not the address is registered.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	if err := h.auth.ForgotPassword(r.Context(), req.Email); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: messageResponse{Message: "if the email is registered, a reset link has been sent"},
	})
}

// ResetPassword handles POST /api/v1/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	if err := h.auth.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: messageResponse{Message: "password updated, please log in"}})
}

// VerifyEmail handles POST /api/v1/auth/verify-email/{token}
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.VerifyEmail(r.Context(), chi.URLParam(r, "token")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: messageResponse{Message: "email verified"}})
}

// ResendVerification handles POST /api/v1/auth/resend-verification
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.ResendVerification(r.Context(), middleware.UserIDFromContext(r.Context())); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: messageResponse{Message: "verification email sent"}})
}

// ChangePassword handles POST /api/v1/auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	ctx := r.Context()
	err := h.auth.ChangePassword(ctx,
		middleware.UserIDFromContext(ctx),
		middleware.SessionIDFromContext(ctx),
		req.CurrentPassword,
		req.NewPassword,
	)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: messageResponse{Message: "password changed"}})
}

func sessionResponse(res *domain.LoginResult) SessionResponse {
	return SessionResponse{
		User:           res.User.View(),
		AccessToken:    res.Tokens.AccessToken,
		RefreshToken:   res.Tokens.RefreshToken,
		BackupCodeUsed: res.BackupCodeUsed,
	}
}

// decodeRefreshBody reads an optional {refreshToken} body. An empty or
// malformed body yields "".
func decodeRefreshBody(w http.ResponseWriter, r *http.Request) string {
	if r.Body == nil || r.ContentLength == 0 {
		return ""
	}
	var req RefreshRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		return ""
	}
	return req.RefreshToken
}
