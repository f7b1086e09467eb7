package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	// BackupCodeCount is how many codes are issued when 2FA is enabled.
	BackupCodeCount = 5

	backupCodeLength   = 10
	backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// GenerateBackupCodes returns n codes formatted for display (XXXXX-XXXXX) and
// the SHA-256 digests of their normalised form, index-aligned.
func GenerateBackupCodes(n int) (display []string, hashes []string, err error) {
	display = make([]string, 0, n)
	hashes = make([]string, 0, n)
	alphabetSize := big.NewInt(int64(len(backupCodeAlphabet)))

	for i := 0; i < n; i++ {
		var b strings.Builder
		for j := 0; j < backupCodeLength; j++ {
			idx, err := rand.Int(rand.Reader, alphabetSize)
			if err != nil {
				return nil, nil, fmt.Errorf("generate backup code: %w", err)
			}
			b.WriteByte(backupCodeAlphabet[idx.Int64()])
		}
		code := b.String()
		display = append(display, code[:5]+"-"+code[5:])
		hashes = append(hashes, HashToken(code))
	}
	return display, hashes, nil
}

// NormalizeBackupCode upper-cases a submitted code and strips dashes and spaces.
func NormalizeBackupCode(code string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return -1
		}
		return r
	}, strings.ToUpper(strings.TrimSpace(code)))
}

// HashBackupCode returns the digest stored for a submitted code.
func HashBackupCode(code string) string {
	return HashToken(NormalizeBackupCode(code))
}
