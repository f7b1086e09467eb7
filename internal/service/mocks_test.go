package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/utafrali/promptbase/internal/auth"
	"github.com/utafrali/promptbase/internal/domain"
	"github.com/utafrali/promptbase/internal/mailer"
	"github.com/utafrali/promptbase/pkg/pagination"
)

// --- Mock User Repository ---

type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) Create(ctx context.Context, user *domain.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockUserRepository) userResult(args mock.Arguments) (*domain.User, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return m.userResult(m.Called(ctx, id))
}

func (m *mockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return m.userResult(m.Called(ctx, email))
}

func (m *mockUserRepository) GetByVerificationToken(ctx context.Context, token string) (*domain.User, error) {
	return m.userResult(m.Called(ctx, token))
}

func (m *mockUserRepository) GetByResetTokenHash(ctx context.Context, hash string) (*domain.User, error) {
	return m.userResult(m.Called(ctx, hash))
}

func (m *mockUserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func (m *mockUserRepository) List(ctx context.Context, params pagination.Params) ([]domain.User, int, error) {
	args := m.Called(ctx, params)
	return args.Get(0).([]domain.User), args.Int(1), args.Error(2)
}

func (m *mockUserRepository) CountAdmins(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockUserRepository) SetVerificationToken(ctx context.Context, id, token string, expiresAt *time.Time) error {
	return m.Called(ctx, id, token, expiresAt).Error(0)
}

func (m *mockUserRepository) MarkEmailVerified(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockUserRepository) SetResetToken(ctx context.Context, id, hash string, expiresAt *time.Time) error {
	return m.Called(ctx, id, hash, expiresAt).Error(0)
}

func (m *mockUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return m.Called(ctx, id, passwordHash).Error(0)
}

func (m *mockUserRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *mockUserRepository) UpdateName(ctx context.Context, id, name string) error {
	return m.Called(ctx, id, name).Error(0)
}

func (m *mockUserRepository) ChangeRole(ctx context.Context, id, role string) error {
	return m.Called(ctx, id, role).Error(0)
}

func (m *mockUserRepository) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

// --- Mock Two-Factor Repository ---

type mockTwoFactorRepository struct {
	mock.Mock
}

func (m *mockTwoFactorRepository) SetTwoFactorSecret(ctx context.Context, userID, secret string) error {
	return m.Called(ctx, userID, secret).Error(0)
}

func (m *mockTwoFactorRepository) EnableTwoFactor(ctx context.Context, userID, secret string, hashes []string) error {
	return m.Called(ctx, userID, secret, hashes).Error(0)
}

func (m *mockTwoFactorRepository) ConsumeBackupCode(ctx context.Context, userID, hash string) (bool, error) {
	args := m.Called(ctx, userID, hash)
	return args.Bool(0), args.Error(1)
}

func (m *mockTwoFactorRepository) DisableTwoFactor(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *mockTwoFactorRepository) CountBackupCodes(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

// --- Mock Session Registry ---

type mockSessions struct {
	mock.Mock
}

func (m *mockSessions) Open(ctx context.Context, userID, refreshToken string, dc domain.DeviceContext, ttl time.Duration) (*domain.Session, error) {
	args := m.Called(ctx, userID, refreshToken, dc, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *mockSessions) FindByRefreshToken(ctx context.Context, token string) (*domain.Session, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *mockSessions) Validate(ctx context.Context, s *domain.Session) error {
	return m.Called(ctx, s).Error(0)
}

func (m *mockSessions) MarkActive(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

func (m *mockSessions) ListForUser(ctx context.Context, userID string) ([]domain.Session, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]domain.Session), args.Error(1)
}

func (m *mockSessions) Revoke(ctx context.Context, userID, sessionID string) error {
	return m.Called(ctx, userID, sessionID).Error(0)
}

func (m *mockSessions) RevokeByRefreshToken(ctx context.Context, token string) (bool, error) {
	args := m.Called(ctx, token)
	return args.Bool(0), args.Error(1)
}

func (m *mockSessions) RevokeAllExcept(ctx context.Context, userID, keepID string) (int64, error) {
	args := m.Called(ctx, userID, keepID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSessions) RevokeAll(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

// --- Mock Mailer ---

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) Send(ctx context.Context, to string, kind mailer.Kind, params map[string]string) error {
	return m.Called(ctx, to, kind, params).Error(0)
}

// --- Recording Publisher ---

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, eventType, _ string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// --- Fixtures ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCredentials(t *testing.T) *auth.Credentials {
	t.Helper()
	creds, err := auth.NewCredentials(bcrypt.MinCost, 2)
	require.NoError(t, err)
	return creds
}

func testTokens() *auth.TokenService {
	return auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  "test-access-secret-0123456789abcdef",
		RefreshSecret: "test-refresh-secret-0123456789abcdef",
		Issuer:        "promptbase",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	})
}

func hashPassword(t *testing.T, creds *auth.Credentials, pw string) string {
	t.Helper()
	h, err := creds.Hash(context.Background(), pw)
	require.NoError(t, err)
	return h
}
