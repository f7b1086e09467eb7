package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/promptbase/internal/auth"
	"github.com/utafrali/promptbase/internal/device"
	"github.com/utafrali/promptbase/internal/domain"
	"github.com/utafrali/promptbase/internal/ratelimit"
	"github.com/utafrali/promptbase/internal/service"
	"github.com/utafrali/promptbase/pkg/health"
	"github.com/utafrali/promptbase/pkg/middleware"
	"github.com/utafrali/promptbase/pkg/pagination"
)

// ============================================================================
// Mock Services
// ============================================================================

type mockAuthService struct {
	mock.Mock
}

func (m *mockAuthService) loginResult(args mock.Arguments) (*domain.LoginResult, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LoginResult), args.Error(1)
}

func (m *mockAuthService) Signup(ctx context.Context, in service.SignupInput, dc domain.DeviceContext) (*domain.LoginResult, error) {
	return m.loginResult(m.Called(ctx, in, dc))
}

func (m *mockAuthService) Login(ctx context.Context, in service.LoginInput, dc domain.DeviceContext) (*domain.LoginResult, error) {
	return m.loginResult(m.Called(ctx, in, dc))
}

func (m *mockAuthService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	args := m.Called(ctx, refreshToken)
	return args.String(0), args.Error(1)
}

func (m *mockAuthService) Logout(ctx context.Context, refreshToken string) error {
	return m.Called(ctx, refreshToken).Error(0)
}

func (m *mockAuthService) CheckEmail(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func (m *mockAuthService) ForgotPassword(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

func (m *mockAuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	return m.Called(ctx, token, newPassword).Error(0)
}

func (m *mockAuthService) VerifyEmail(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

func (m *mockAuthService) ResendVerification(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *mockAuthService) ChangePassword(ctx context.Context, userID, currentSessionID, currentPassword, newPassword string) error {
	return m.Called(ctx, userID, currentSessionID, currentPassword, newPassword).Error(0)
}

type mockTwoFactorService struct {
	mock.Mock
}

func (m *mockTwoFactorService) Setup(ctx context.Context, userID string) (*auth.Enrollment, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Enrollment), args.Error(1)
}

func (m *mockTwoFactorService) VerifySetup(ctx context.Context, userID, code string) ([]string, error) {
	args := m.Called(ctx, userID, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockTwoFactorService) Disable(ctx context.Context, userID, code string) error {
	return m.Called(ctx, userID, code).Error(0)
}

func (m *mockTwoFactorService) Status(ctx context.Context, userID string) (*service.TwoFactorStatus, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.TwoFactorStatus), args.Error(1)
}

type mockSessionService struct {
	mock.Mock
}

func (m *mockSessionService) List(ctx context.Context, userID, currentID string) ([]domain.SessionView, error) {
	args := m.Called(ctx, userID, currentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SessionView), args.Error(1)
}

func (m *mockSessionService) Revoke(ctx context.Context, userID, sessionID string) error {
	return m.Called(ctx, userID, sessionID).Error(0)
}

func (m *mockSessionService) RevokeOthers(ctx context.Context, userID, currentID string) (int64, error) {
	args := m.Called(ctx, userID, currentID)
	return args.Get(0).(int64), args.Error(1)
}

type mockUserService struct {
	mock.Mock
}

func (m *mockUserService) GetProfile(ctx context.Context, userID string) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserService) UpdateProfile(ctx context.Context, userID, name string) (*domain.User, error) {
	args := m.Called(ctx, userID, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserService) ListUsers(ctx context.Context, params pagination.Params) (pagination.Result[domain.UserView], error) {
	args := m.Called(ctx, params)
	return args.Get(0).(pagination.Result[domain.UserView]), args.Error(1)
}

func (m *mockUserService) ChangeRole(ctx context.Context, actorID, targetID, role string) (*domain.User, error) {
	args := m.Called(ctx, actorID, targetID, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserService) DeleteUser(ctx context.Context, actorID, targetID string) error {
	return m.Called(ctx, actorID, targetID).Error(0)
}

// ============================================================================
// Test Helpers
// ============================================================================

const (
	userID    = "7f8c7e2a-5d7b-4b8e-9a51-0a4c2d9e1f01"
	adminID   = "1b2c3d4e-5f60-4718-8a9b-0c1d2e3f4a5b"
	sessionID = "c0ffee00-1111-4222-8333-444455556666"
)

type testServer struct {
	handler  http.Handler
	auth     *mockAuthService
	twoFA    *mockTwoFactorService
	sessions *mockSessionService
	users    *mockUserService
	tokens   *auth.TokenService
	touched  []string
}

type serverOption func(*RouterDeps)

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	ts := &testServer{
		auth:     new(mockAuthService),
		twoFA:    new(mockTwoFactorService),
		sessions: new(mockSessionService),
		users:    new(mockUserService),
		tokens: auth.NewTokenService(auth.TokenConfig{
			AccessSecret:  "handler-access-secret-0123456789abcdef",
			RefreshSecret: "handler-refresh-secret-0123456789abcdef",
			Issuer:        "promptbase",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
		}),
	}

	deps := RouterDeps{
		Auth:          ts.auth,
		TwoFactor:     ts.twoFA,
		Sessions:      ts.sessions,
		Users:         ts.users,
		Devices:       device.NewResolver(device.UnknownLocation{}, false),
		Tokens:        ts.tokens,
		Touch:         func(id string) { ts.touched = append(ts.touched, id) },
		AuthLimiter:   ratelimit.NewLocal(ratelimit.Policy{Name: "auth", Limit: 100, Window: time.Minute}),
		ResendLimiter: ratelimit.NewLocal(ratelimit.Policy{Name: "resend", Limit: 100, Window: time.Minute}),
		Health:        health.NewHandler(),
		Cookies:       CookieConfig{AccessTTL: 15 * time.Minute, RefreshTTL: 7 * 24 * time.Hour},
		CORS:          middleware.DefaultCORSConfig(),
		Logger:        testLogger(),
	}
	for _, o := range opts {
		o(&deps)
	}
	ts.handler = NewRouter(deps)
	return ts
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (ts *testServer) accessToken(t *testing.T, uid, role, sid string) string {
	t.Helper()
	tok, err := ts.tokens.IssueAccess(uid, role, sid)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(method, path, body, bearer string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func cookieByName(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
