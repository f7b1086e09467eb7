package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signupInput struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,password"`
}

type codeInput struct {
	Token string `json:"token" validate:"required,otp"`
}

func fieldsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	return valErr.Fields()
}

func TestValidate_Success(t *testing.T) {
	err := Validate(signupInput{Name: "A", Email: "a@x.com", Password: "Password123!"})
	assert.NoError(t, err)
}

func TestValidate_UsesJSONFieldNames(t *testing.T) {
	fields := fieldsOf(t, Validate(signupInput{Password: "Password123"}))

	assert.Equal(t, "is required", fields["name"])
	assert.Equal(t, "is required", fields["email"])
	assert.NotContains(t, fields, "Name")
}

func TestValidate_InvalidEmail(t *testing.T) {
	fields := fieldsOf(t, Validate(signupInput{Name: "A", Email: "nope", Password: "Password123"}))
	assert.Equal(t, "must be a valid email address", fields["email"])
}

func TestValidate_WeakPassword(t *testing.T) {
	fields := fieldsOf(t, Validate(signupInput{Name: "A", Email: "a@x.com", Password: "password"}))
	assert.Contains(t, fields["password"], "upper-case")
}

func TestIsStrongPassword(t *testing.T) {
	tests := map[string]bool{
		"Password123!": true,
		"Abcdefg1":     true,
		"Abc1":         false,
		"alllower123":  false,
		"ALLUPPER123":  false,
		"NoDigitsHere": false,
		// 43 characters, 83 bytes.
		"Aa1" + strings.Repeat("é", 40): false,
		"Aa1" + strings.Repeat("x", 69):  true,
		"Aa1" + strings.Repeat("x", 70):  false,
		"Ab1éééé":                       false,
		"Ab1ééééé":                      true,
	}
	for in, want := range tests {
		assert.Equal(t, want, IsStrongPassword(in), in)
	}
}

func TestValidate_OTPInput(t *testing.T) {
	for _, ok := range []string{"123456", "ABCDE-FGHJK", "abcde fghjk", "ABCDEFGHJK"} {
		assert.NoError(t, Validate(codeInput{Token: ok}), ok)
	}
	for _, bad := range []string{"12345", "12a456", "ABCDE-FGH", "ABCDE_FGHJK"} {
		fields := fieldsOf(t, Validate(codeInput{Token: bad}))
		assert.Equal(t, "must be a 6-digit code or a backup code", fields["token"], bad)
	}
}

func TestValidationError_ErrorString(t *testing.T) {
	err := Validate(signupInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field 'name'")
	assert.Contains(t, err.Error(), "is required")
}

func TestDecodeAndValidate(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		body := `{"name":"A","email":"a@x.com","password":"Password123"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

		var in signupInput
		require.NoError(t, DecodeAndValidate(httptest.NewRecorder(), r, &in))
		assert.Equal(t, "a@x.com", in.Email)
	})

	t.Run("malformed json", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))

		var in signupInput
		err := DecodeAndValidate(httptest.NewRecorder(), r, &in)
		assert.ErrorIs(t, err, ErrDecode)
	})

	t.Run("validation failure", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@x.com"}`))

		var in signupInput
		err := DecodeAndValidate(httptest.NewRecorder(), r, &in)
		assert.Contains(t, fieldsOf(t, err), "name")
	})

	t.Run("body too large", func(t *testing.T) {
		big := `{"name":"` + strings.Repeat("a", MaxBodyBytes+1) + `"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))

		var in signupInput
		err := DecodeAndValidate(httptest.NewRecorder(), r, &in)
		assert.ErrorIs(t, err, ErrDecode)
	})
}
