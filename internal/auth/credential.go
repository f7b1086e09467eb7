package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

const opaqueTokenBytes = 32

// Credentials hashes and verifies passwords and issues the opaque tokens used
// for email verification and password reset.
//
// bcrypt is CPU-bound, so every hash or compare first takes a slot from a
// weighted semaphore. Waiting for a slot honours ctx.
type Credentials struct {
	cost      int
	slots     *semaphore.Weighted
	dummyHash []byte
}

// NewCredentials creates a credential manager. workers <= 0 means runtime.NumCPU().
func NewCredentials(cost, workers int) (*Credentials, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	// Login compares unknown emails against this hash so both branches cost the same.
	dummy, err := bcrypt.GenerateFromPassword([]byte("promptbase-dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}

	return &Credentials{
		cost:      cost,
		slots:     semaphore.NewWeighted(int64(workers)),
		dummyHash: dummy,
	}, nil
}

// Hash returns a salted bcrypt hash of plaintext.
func (c *Credentials) Hash(ctx context.Context, plaintext string) (string, error) {
	if err := c.slots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.slots.Release(1)

	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), c.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// Verify reports whether plaintext matches hash. A mismatch is not an error;
// err is non-nil only when ctx ends while waiting for a worker slot.
func (c *Credentials) Verify(ctx context.Context, plaintext, hash string) (bool, error) {
	if err := c.slots.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer c.slots.Release(1)

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	return err == nil, nil
}

// DummyVerify spends the same time as Verify against a real hash and always
// reports a mismatch.
func (c *Credentials) DummyVerify(ctx context.Context, plaintext string) error {
	_, err := c.Verify(ctx, plaintext, string(c.dummyHash))
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// IssueVerificationToken returns a random token that is stored as issued.
func IssueVerificationToken() (plain, stored string, err error) {
	plain, err = randomHex(opaqueTokenBytes)
	if err != nil {
		return "", "", err
	}
	return plain, plain, nil
}

// IssueResetToken returns a random token together with its SHA-256 digest.
// Only the digest is persisted.
func IssueResetToken() (plain, stored string, err error) {
	plain, err = randomHex(opaqueTokenBytes)
	if err != nil {
		return "", "", err
	}
	return plain, HashToken(plain), nil
}

// HashToken returns the hex SHA-256 of a high-entropy token. It is used for
// reset tokens, refresh tokens and backup codes.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
