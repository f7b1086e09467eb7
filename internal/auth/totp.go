package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/utafrali/promptbase/internal/domain"
)

const qrCodeSize = 200

// TwoFactorStore persists TOTP enrollment state and backup codes.
type TwoFactorStore interface {
	// SetTwoFactorSecret stores a pending secret, replacing any earlier one.
	SetTwoFactorSecret(ctx context.Context, userID, secret string) error
	// EnableTwoFactor sets the enabled flag and replaces the backup codes in one
	// transaction, provided secret is still the pending one.
	EnableTwoFactor(ctx context.Context, userID, secret string, codeHashes []string) error
	// ConsumeBackupCode deletes a matching code and reports whether one was deleted.
	ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error)
	// DisableTwoFactor clears the secret, the flag and all backup codes in one transaction.
	DisableTwoFactor(ctx context.Context, userID string) error
}

// Enrollment is returned when a user starts TOTP setup.
type Enrollment struct {
	Secret string `json:"secret"`
	URL    string `json:"otpauthUrl"`
	QRCode string `json:"qrCode"`
}

// ChallengeResult is the outcome of a successful second-factor check.
type ChallengeResult int

const (
	ChallengeVerified ChallengeResult = iota + 1
	ChallengeBackupCodeConsumed
)

// TOTPManager drives TOTP enrollment, login challenges and disablement.
type TOTPManager struct {
	issuer string
	store  TwoFactorStore
	now    func() time.Time
}

// NewTOTPManager creates a TOTP manager. issuer is shown in authenticator apps.
func NewTOTPManager(issuer string, store TwoFactorStore) *TOTPManager {
	return &TOTPManager{
		issuer: issuer,
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Enroll generates a new secret, stores it as pending and returns the
// provisioning URL with a PNG QR code as a data URL.
func (m *TOTPManager) Enroll(ctx context.Context, user *domain.User) (*Enrollment, error) {
	if user.TwoFactorEnabled {
		return nil, domain.ErrTwoFactorAlreadyOn
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: user.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp key: %w", err)
	}

	qr, err := qrDataURL(key)
	if err != nil {
		return nil, err
	}

	if err := m.store.SetTwoFactorSecret(ctx, user.ID, key.Secret()); err != nil {
		return nil, fmt.Errorf("store pending totp secret: %w", err)
	}

	return &Enrollment{Secret: key.Secret(), URL: key.URL(), QRCode: qr}, nil
}

// Validate checks a 6-digit code against secret, allowing one 30s step of drift
// either way.
func (m *TOTPManager) Validate(secret, code string) bool {
	code = strings.TrimSpace(code)
	if secret == "" || len(code) != 6 {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, m.now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// ConfirmEnrollment enables 2FA when code matches the pending secret and
// returns freshly generated backup codes. They are never retrievable again.
func (m *TOTPManager) ConfirmEnrollment(ctx context.Context, user *domain.User, code string) ([]string, error) {
	if user.TwoFactorEnabled {
		return nil, domain.ErrTwoFactorAlreadyOn
	}
	if user.TwoFactorSecret == "" {
		return nil, domain.ErrTwoFactorNotInit
	}
	if !m.Validate(user.TwoFactorSecret, code) {
		return nil, domain.ErrInvalidSecondFactor
	}

	display, hashes, err := GenerateBackupCodes(BackupCodeCount)
	if err != nil {
		return nil, err
	}
	if err := m.store.EnableTwoFactor(ctx, user.ID, user.TwoFactorSecret, hashes); err != nil {
		return nil, fmt.Errorf("enable two-factor: %w", err)
	}
	return display, nil
}

// Challenge verifies a login second factor. A TOTP code is tried first; then
// the input is matched against the unused backup codes, consuming one on success.
func (m *TOTPManager) Challenge(ctx context.Context, user *domain.User, code string) (ChallengeResult, error) {
	if !user.TwoFactorEnabled {
		return 0, domain.ErrTwoFactorNotEnabled
	}
	if m.Validate(user.TwoFactorSecret, code) {
		return ChallengeVerified, nil
	}

	normalized := NormalizeBackupCode(code)
	if len(normalized) != backupCodeLength {
		return 0, domain.ErrInvalidSecondFactor
	}
	consumed, err := m.store.ConsumeBackupCode(ctx, user.ID, HashToken(normalized))
	if err != nil {
		return 0, fmt.Errorf("consume backup code: %w", err)
	}
	if !consumed {
		return 0, domain.ErrInvalidSecondFactor
	}
	return ChallengeBackupCodeConsumed, nil
}

// Disable turns 2FA off. Only a current TOTP code is accepted here.
func (m *TOTPManager) Disable(ctx context.Context, user *domain.User, code string) error {
	if !user.TwoFactorEnabled {
		return domain.ErrTwoFactorNotEnabled
	}
	if !m.Validate(user.TwoFactorSecret, code) {
		return domain.ErrInvalidSecondFactor
	}
	if err := m.store.DisableTwoFactor(ctx, user.ID); err != nil {
		return fmt.Errorf("disable two-factor: %w", err)
	}
	return nil
}

func qrDataURL(key *otp.Key) (string, error) {
	img, err := key.Image(qrCodeSize, qrCodeSize)
	if err != nil {
		return "", fmt.Errorf("render totp qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode totp qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
