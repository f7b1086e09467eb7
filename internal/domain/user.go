package domain

import (
	"strings"
	"time"
)

// MaxNameLength is the widest display name the users table holds.
const MaxNameLength = 100

// User is a registered identity. Secrets and token fields never leave the
// service; handlers render a UserView instead.
type User struct {
	ID            string
	Name          string
	Email         string
	PasswordHash  string
	Role          string
	IsActive      bool
	EmailVerified bool

	TwoFactorSecret  string
	TwoFactorEnabled bool

	// The verification token is stored as issued; the reset token only as a
	// SHA-256 hex digest.
	VerificationToken          string
	VerificationTokenExpiresAt *time.Time
	ResetTokenHash             string
	ResetTokenExpiresAt        *time.Time

	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// HasPendingTwoFactor reports whether a TOTP secret was generated but not yet confirmed.
func (u *User) HasPendingTwoFactor() bool {
	return u.TwoFactorSecret != "" && !u.TwoFactorEnabled
}

// UserView is the public projection of a User.
type UserView struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Email            string     `json:"email"`
	Role             string     `json:"role"`
	IsActive         bool       `json:"isActive"`
	EmailVerified    bool       `json:"emailVerified"`
	TwoFactorEnabled bool       `json:"twoFactorEnabled"`
	LastLogin        *time.Time `json:"lastLogin,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// View returns the public projection of u.
func (u *User) View() UserView {
	return UserView{
		ID:               u.ID,
		Name:             u.Name,
		Email:            u.Email,
		Role:             u.Role,
		IsActive:         u.IsActive,
		EmailVerified:    u.EmailVerified,
		TwoFactorEnabled: u.TwoFactorEnabled,
		LastLogin:        u.LastLoginAt,
		CreatedAt:        u.CreatedAt,
	}
}

// NormalizeEmail lower-cases and trims an address. Emails are unique case-insensitively.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// TokenPair holds an access and refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// LoginResult is the outcome of a login attempt that did not fail.
// When SecondFactorRequired is set no tokens were issued and no session opened.
type LoginResult struct {
	User                 *User
	Tokens               *TokenPair
	Session              *Session
	SecondFactorRequired bool
	BackupCodeUsed       bool
}
