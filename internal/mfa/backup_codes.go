package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/moodmash/authcore/internal/models"
)

const (
	backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	backupCodeHalf     = 5
)

// GenerateBackupCodes returns n plaintext codes (XXXXX-XXXXX) and their digests.
func GenerateBackupCodes(n int) ([]string, models.BackupCodes, error) {
	plain := make([]string, 0, n)
	hashes := make(models.BackupCodes, 0, n)
	seen := make(map[string]struct{}, n)
	for len(plain) < n {
		code, errCode := randomBackupCode()
		if errCode != nil {
			return nil, nil, errCode
		}
		hash := HashBackupCode(code)
		if _, dup := seen[hash]; dup {
			continue
		}
		seen[hash] = struct{}{}
		plain = append(plain, code)
		hashes = append(hashes, hash)
	}
	return plain, hashes, nil
}

// HashBackupCode returns the digest of the canonical form of code.
func HashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(CanonicalBackupCode(code)))
	return hex.EncodeToString(sum[:])
}

// CanonicalBackupCode upper-cases and strips separators.
func CanonicalBackupCode(code string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(code) {
		if r == '-' || r == ' ' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func randomBackupCode() (string, error) {
	alphabetLen := big.NewInt(int64(len(backupCodeAlphabet)))
	buf := make([]byte, 0, backupCodeHalf*2+1)
	for i := 0; i < backupCodeHalf*2; i++ {
		if i == backupCodeHalf {
			buf = append(buf, '-')
		}
		n, errRand := rand.Int(rand.Reader, alphabetLen)
		if errRand != nil {
			return "", fmt.Errorf("mfa: backup code: %w", errRand)
		}
		buf = append(buf, backupCodeAlphabet[n.Int64()])
	}
	return string(buf), nil
}
