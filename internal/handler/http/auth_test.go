package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/promptbase/internal/domain"
	"github.com/utafrali/promptbase/internal/service"
	"github.com/utafrali/promptbase/pkg/httputil"
)

func sampleResult() *domain.LoginResult {
	return &domain.LoginResult{
		User:    &domain.User{ID: userID, Name: "Ada", Email: "ada@x.com", Role: domain.RoleUser, PasswordHash: "$2a$secret"},
		Session: &domain.Session{ID: sessionID, UserID: userID},
		Tokens:  &domain.TokenPair{AccessToken: "access-jwt", RefreshToken: "refresh-jwt"},
	}
}

type envelope struct {
	Data  json.RawMessage         `json:"data"`
	Error *httputil.ErrorResponse `json:"error"`
}

func decodeEnvelope(t *testing.T, body []byte) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(body, &env))
	return env
}

func TestSignup_SetsCookiesAndReturns201(t *testing.T) {
	ts := newTestServer(t)
	ts.auth.On("Signup", mock.Anything, service.SignupInput{Name: "Ada", Email: "ada@x.com", Password: "Password123"}, mock.MatchedBy(func(dc domain.DeviceContext) bool {
		return dc.Browser != "" && dc.IPAddress == "192.0.2.1"
	})).Return(sampleResult(), nil)

	rr := ts.do(http.MethodPost, "/api/v1/auth/signup", `{"name":"Ada","email":"ada@x.com","password":"Password123"}`, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var data SessionResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rr.Body.Bytes()).Data, &data))
	assert.Equal(t, userID, data.User.ID)
	assert.Equal(t, "access-jwt", data.AccessToken)
	assert.Equal(t, "refresh-jwt", data.RefreshToken)
	assert.NotContains(t, rr.Body.String(), "$2a$secret")

	access := cookieByName(rr, accessCookie)
	require.NotNil(t, access)
	assert.Equal(t, "access-jwt", access.Value)
	assert.True(t, access.HttpOnly)
	assert.Equal(t, "/", access.Path)
	assert.Equal(t, 15*60, access.MaxAge)
	assert.Equal(t, http.SameSiteLaxMode, access.SameSite)
	assert.False(t, access.Secure)

	refresh := cookieByName(rr, refreshCookie)
	require.NotNil(t, refresh)
	assert.Equal(t, 7*24*60*60, refresh.MaxAge)
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
}

func TestSignup_ValidationError(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(http.MethodPost, "/api/v1/auth/signup", `{"name":"Ada","email":"not-an-email","password":"weak"}`, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	env := decodeEnvelope(t, rr.Body.Bytes())
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Contains(t, env.Error.Fields, "email")
	assert.Contains(t, env.Error.Fields, "password")
	ts.auth.AssertNotCalled(t, "Signup", mock.Anything, mock.Anything, mock.Anything)
}

func TestSignup_MultibytePasswordOverBcryptLimit(t *testing.T) {
	ts := newTestServer(t)
	body, err := json.Marshal(map[string]string{
		"name":     "Ada",
		"email":    "ada@x.com",
		"password": "Aa1" + strings.Repeat("é", 40),
	})
	require.NoError(t, err)

	rr := ts.do(http.MethodPost, "/api/v1/auth/signup", string(body), "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	env := decodeEnvelope(t, rr.Body.Bytes())
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Fields, "password")
	ts.auth.AssertNotCalled(t, "Signup", mock.Anything, mock.Anything, mock.Anything)
}

func TestSignup_EmailInUse(t *testing.T) {
	ts := newTestServer(t)
	ts.auth.On("Signup", mock.Anything, mock.Anything, mock.Anything).Return(nil, domain.ErrEmailInUse)

	rr := ts.do(http.MethodPost, "/api/v1/auth/signup", `{"name":"Ada","email":"ada@x.com","password":"Password123"}`, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "EMAIL_IN_USE", decodeEnvelope(t, rr.Body.Bytes()).Error.Code)
	assert.Nil(t, cookieByName(rr, accessCookie))
}

func TestSecureCookiesInProduction(t *testing.T) {
	ts := newTestServer(t, func(d *RouterDeps) { d.Cookies.Secure = true })
	ts.auth.On("Login", mock.Anything, mock.Anything, mock.Anything).Return(sampleResult(), nil)

	rr := ts.do(http.MethodPost, "/api/v1/auth/login", `{"email":"ada@x.com","password":"Password123"}`, "")
	require.Equal(t, http.StatusOK, rr.Code)

	c := cookieByName(rr, accessCookie)
	require.NotNil(t, c)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteNoneMode, c.SameSite)
}

func TestLogin_SecondFactorRequired(t *testing.T) {
	ts := newTestServer(t)
	ts.auth.On("Login", mock.Anything, service.LoginInput{Email: "ada@x.com", Password: "Password123"}, mock.Anything).
		Return(&domain.LoginResult{User: sampleResult().User, SecondFactorRequired: true}, nil)

	rr := ts.do(http.MethodPost, "/api/v1/auth/login", `{"email":"ada@x.com","password":"Password123"}`, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"require2FA":true}`, string(decodeEnvelope(t, rr.Body.Bytes()).Data))
	assert.Empty(t, rr.Result().Cookies())
}

func TestLogin_WithCodeAndInvalidCredentials(t *testing.T) {
	ts := newTestServer(t)
	ts.auth.On("Login", mock.Anything, service.LoginInput{Email: "ada@x.com", Password: "nope", Code: "123456"}, mock.Anything).
		Return(nil, domain.ErrInvalidCredentials)

	rr := ts.do(http.MethodPost, "/api/v1/auth/login", `{"email":"ada@x.com","password":"nope","code":"123456"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	env := decodeEnvelope(t, rr.Body.Bytes())
	assert.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)
	assert.Equal(t, "invalid email or password", env.Error.Message)
}

func TestLogin_MalformedCode(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(http.MethodPost, "/api/v1/auth/login", `{"email":"ada@x.com","password":"x","code":"12"}`, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeEnvelope(t, rr.Body.Bytes()).Error.Fields, "code")
}

func TestRefresh_FromCookie(t *testing.T) {
	ts := newTestServer(t)
	ts.auth.On("Refresh", mock.Anything, "refresh-from-cookie").Return("new-access", nil)

	rr := ts.do(http.MethodPost, "/api/v1/auth/refresh", "", "", &http.Cookie{Name: refreshCookie, Value: "refresh-from-cookie"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"accessToken":"new-access"}`, string(decodeEnvelope(t, rr.Body.Bytes()).Data))

	c := cookieByName(rr, accessCookie)
	require.NotNil(t, c)
	assert.Equal(t, "new-access", c.Value)
	assert.Nil(t, cookieByName(rr, refreshCookie), "refresh token is not rotated")
}

func TestRefresh_BodyWinsOverCookie(t *testing.T) {
	ts := newTestServer(t)
	ts.auth.On("Refresh", mock.Anything, "from-body").Return("new-access", nil)

	rr := ts.do(http.MethodPost, "/api/v1/auth/refresh", `{"refreshToken":"from-body"}`, "", &http.Cookie{Name: refreshCookie, Value: "from-cookie"})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRefresh_MissingToken(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(http.MethodPost, "/api/v1/auth/refresh", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	ts.auth.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything)
}

func TestRefresh_RevokedSession(t *testing.T) {
	ts := newTestServer(t)
	ts.auth.On("Refresh", mock.Anything, "revoked").Return("", domain.ErrTokenInvalid)

	rr := ts.do(http.MethodPost, "/api/v1/auth/refresh", `{"refreshToken":"revoked"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "TOKEN_INVALID", decodeEnvelope(t, rr.Body.Bytes()).Error.Code)
}

func TestLogout_AlwaysClearsCookies(t *testing.T) {
	ts := newTestServer(t)
	ts.auth.On("Logout", mock.Anything, "tok").Return(errors.New("db down"))
	ts.auth.On("Logout", mock.Anything, "").Return(nil)

	for _, rr := range []interface{ Result() *http.Response }{
		ts.do(http.MethodPost, "/api/v1/auth/logout", "", "", &http.Cookie{Name: refreshCookie, Value: "tok"}),
		ts.do(http.MethodPost, "/api/v1/auth/logout", "", ""),
	} {
		res := rr.Result()
		assert.Equal(t, http.StatusOK, res.StatusCode)
		var cleared int
		for _, c := range res.Cookies() {
			if (c.Name == accessCookie || c.Name == refreshCookie) && c.Value == "" && c.MaxAge < 0 {
				cleared++
			}
		}
		assert.Equal(t, 2, cleared)
	}
}

func TestForgotPassword_SameResponseForUnknownEmail(t *testing.T) {
	ts := newTestServer(t)
	ts.auth.On("ForgotPassword", mock.Anything, "known@x.com").Return(nil)
	ts.auth.On("ForgotPassword", mock.Anything, "ghost@x.com").Return(nil)

	known := ts.do(http.MethodPost, "/api/v1/auth/forgot-password", `{"email":"known@x.com"}`, "")
	ghost := ts.do(http.MethodPost, "/api/v1/auth/forgot-password", `{"email":"ghost@x.com"}`, "")
	assert.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, known.Code, ghost.Code)
	assert.Equal(t, known.Body.String(), ghost.Body.String())
}

func TestForgotPassword_MailFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.auth.On("ForgotPassword", mock.Anything, "known@x.com").Return(domain.ErrMailDeliveryFailed)

	rr := ts.do(http.MethodPost, "/api/v1/auth/forgot-password", `{"email":"known@x.com"}`, "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "EMAIL_DELIVERY_FAILED", decodeEnvelope(t, rr.Body.Bytes()).Error.Code)
}

func TestResetPassword(t *testing.T) {
	ts := newTestServer(t)
	ts.auth.On("ResetPassword", mock.Anything, "good", "NewPassword1").Return(nil)
	ts.auth.On("ResetPassword", mock.Anything, "bad", "NewPassword1").Return(domain.ErrInvalidResetToken)

	rr := ts.do(http.MethodPost, "/api/v1/auth/reset-password", `{"token":"good","password":"NewPassword1"}`, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(http.MethodPost, "/api/v1/auth/reset-password", `{"token":"bad","password":"NewPassword1"}`, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_RESET_TOKEN", decodeEnvelope(t, rr.Body.Bytes()).Error.Code)
}

func TestVerifyEmail_TokenFromPath(t *testing.T) {
	ts := newTestServer(t)
	ts.auth.On("VerifyEmail", mock.Anything, "abc123").Return(nil)
	ts.auth.On("VerifyEmail", mock.Anything, "stale").Return(domain.ErrInvalidVerifyToken)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/v1/auth/verify-email/abc123", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/v1/auth/verify-email/stale", "", "").Code)
}

func TestCheckEmail(t *testing.T) {
	ts := newTestServer(t)
	ts.auth.On("CheckEmail", mock.Anything, "free@x.com").Return(true, nil)

	rr := ts.do(http.MethodPost, "/api/v1/auth/check-email", `{"email":"free@x.com"}`, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"available":true}`, string(decodeEnvelope(t, rr.Body.Bytes()).Data))
}

func TestChangePassword_PassesCurrentSession(t *testing.T) {
	ts := newTestServer(t)
	ts.auth.On("ChangePassword", mock.Anything, userID, sessionID, "Password123", "NewPassword1").Return(nil)

	rr := ts.do(http.MethodPost, "/api/v1/auth/change-password",
		`{"currentPassword":"Password123","newPassword":"NewPassword1"}`,
		ts.accessToken(t, userID, domain.RoleUser, sessionID))
	assert.Equal(t, http.StatusOK, rr.Code)
	ts.auth.AssertExpectations(t)
}

func TestResendVerification_AlreadyVerified(t *testing.T) {
	ts := newTestServer(t)
	ts.auth.On("ResendVerification", mock.Anything, userID).Return(domain.ErrAlreadyVerified)

	rr := ts.do(http.MethodPost, "/api/v1/auth/resend-verification", "", ts.accessToken(t, userID, domain.RoleUser, sessionID))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "ALREADY_VERIFIED", decodeEnvelope(t, rr.Body.Bytes()).Error.Code)
}
