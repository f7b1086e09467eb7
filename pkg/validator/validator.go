package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// MaxBodyBytes caps the size of JSON request bodies accepted by DecodeAndValidate.
const MaxBodyBytes = 1 << 20

// ErrDecode is returned by DecodeAndValidate when the body is not valid JSON.
var ErrDecode = errors.New("invalid request body")

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON names so messages match the wire format.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return IsStrongPassword(fl.Field().String())
	})
	_ = v.RegisterValidation("otp", func(fl validator.FieldLevel) bool {
		return isOTPInput(fl.Field().String())
	})

	return v
}

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

// PasswordRule describes what IsStrongPassword accepts.
const PasswordRule = "must be at least 8 characters, at most 72 bytes, and contain an upper-case letter, a lower-case letter and a digit"

// IsStrongPassword reports whether s has at least 8 characters including an
// upper-case letter, a lower-case letter and a digit. The limit is counted in
// bytes since multibyte characters count against bcrypt's input size.
func IsStrongPassword(s string) bool {
	if utf8.RuneCountInString(s) < 8 || len(s) > MaxPasswordBytes {
		return false
	}
	var upper, lower, digit bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return upper && lower && digit
}

// isOTPInput accepts a 6-digit TOTP code or a backup code (10 alphanumerics,
// optionally grouped with a dash or spaces).
func isOTPInput(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) == 6 {
		for _, r := range s {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	}

	n := 0
	for _, r := range s {
		switch {
		case r == '-' || r == ' ':
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			n++
		default:
			return false
		}
	}
	return n == 10
}

// Validate validates a struct using go-playground/validator tags.
func Validate(s any) error {
	if err := validate.Struct(s); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			return &ValidationError{Errors: validationErrors}
		}
		return err
	}
	return nil
}

// ValidationError wraps validator.ValidationErrors with a user-friendly message.
type ValidationError struct {
	Errors validator.ValidationErrors
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, err := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("field '%s' %s", err.Field(), msgForTag(err)))
	}
	return strings.Join(msgs, "; ")
}

// Fields returns a map of field names to error messages.
func (e *ValidationError) Fields() map[string]string {
	fields := make(map[string]string, len(e.Errors))
	for _, err := range e.Errors {
		fields[err.Field()] = msgForTag(err)
	}
	return fields
}

func msgForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "uuid":
		return "must be a valid UUID"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "password":
		return PasswordRule
	case "otp":
		return "must be a 6-digit code or a backup code"
	default:
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
}

// DecodeAndValidate reads at most MaxBodyBytes of JSON from the request body,
// decodes it into dst and validates it. Decoding failures wrap ErrDecode;
// validation failures are returned as *ValidationError.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return Validate(dst)
}
