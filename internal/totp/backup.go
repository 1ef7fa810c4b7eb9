package totp

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	// BackupCodeDigits is the length of a backup code.
	BackupCodeDigits = 8
	// DefaultBackupCodeCount is the number of codes issued per credential.
	DefaultBackupCodeCount = 10
	// BackupSaltBytes is the length of the per-credential backup-code salt.
	BackupSaltBytes = 16

	backupHashTime    = 1
	backupHashMemory  = 8 * 1024
	backupHashThreads = 1
	backupHashKeyLen  = 32

	maxBackupCodeCount = 32
)

// ErrInvalidBackupCodeCount is returned for counts outside 1..32.
var ErrInvalidBackupCodeCount = errors.New("invalid backup code count")

// GenerateBackupCodes returns count distinct random 8-digit codes.
func GenerateBackupCodes(count int) ([]string, error) {
	if count <= 0 || count > maxBackupCodeCount {
		return nil, ErrInvalidBackupCodeCount
	}

	seen := make(map[string]struct{}, count)
	codes := make([]string, 0, count)
	for len(codes) < count {
		code, err := randomDigits(BackupCodeDigits)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}

// NewBackupSalt returns a random salt shared by one credential's backup codes.
func NewBackupSalt() ([]byte, error) {
	salt := make([]byte, BackupSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// HashBackupCode returns the hex argon2id digest of a normalized code.
func HashBackupCode(code string, salt []byte) string {
	key := argon2.IDKey([]byte(code), salt, backupHashTime, backupHashMemory, backupHashThreads, backupHashKeyLen)
	return hex.EncodeToString(key)
}

// HashBackupCodes hashes every code with the same salt, preserving order.
func HashBackupCodes(codes []string, salt []byte) []string {
	out := make([]string, len(codes))
	for i, code := range codes {
		out[i] = HashBackupCode(code, salt)
	}
	return out
}

// NormalizeBackupCode strips the separators users tend to type.
func NormalizeBackupCode(code string) string {
	code = strings.TrimSpace(code)
	return strings.NewReplacer("-", "", " ", "").Replace(code)
}

// IsValidBackupCodeFormat reports whether code is exactly eight ASCII digits.
func IsValidBackupCodeFormat(code string) bool {
	return len(code) == BackupCodeDigits && isDigits(code)
}

func randomDigits(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)

	ten := big.NewInt(10)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}
