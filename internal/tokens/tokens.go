// Package tokens generates secret tokens and one-time codes and manages the
// single-use e-mail tokens stored in the database.
package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const tokenEntropyBytes = 32

// FloatSource returns a uniformly distributed value in [0, 1).
type FloatSource func() (float64, error)

// CreateToken returns a 64-char hex token derived from fresh randomness.
func CreateToken(purpose string, userID uint64) (string, error) {
	random := make([]byte, tokenEntropyBytes)
	if _, errRead := rand.Read(random); errRead != nil {
		return "", fmt.Errorf("tokens: read random: %w", errRead)
	}
	h := sha256.New()
	h.Write([]byte(strconv.FormatUint(userID, 10)))
	h.Write(random)
	h.Write([]byte(strconv.FormatInt(time.Now().UnixNano(), 10)))
	h.Write([]byte(strings.TrimSpace(purpose)))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashToken returns the storage digest of a token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

// GenerateOTP returns a 6-digit code from the CSPRNG.
func GenerateOTP() (string, error) {
	return GenerateOTPFrom(CryptoFloat)
}

// GenerateOTPFrom maps r in [0, 1) to 100000 + floor(r * 900000).
func GenerateOTPFrom(source FloatSource) (string, error) {
	if source == nil {
		source = CryptoFloat
	}
	r, errSource := source()
	if errSource != nil {
		return "", fmt.Errorf("tokens: otp source: %w", errSource)
	}
	if r < 0 || r >= 1 || math.IsNaN(r) {
		return "", fmt.Errorf("tokens: otp source value %v out of range", r)
	}
	return strconv.Itoa(100000 + int(math.Floor(r*900000))), nil
}

// CryptoFloat draws 53 random bits from crypto/rand.
func CryptoFloat() (float64, error) {
	var buf [8]byte
	if _, errRead := rand.Read(buf[:]); errRead != nil {
		return 0, errRead
	}
	return float64(binary.BigEndian.Uint64(buf[:])>>11) / (1 << 53), nil
}
