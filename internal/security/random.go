package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, errRead := rand.Read(buf); errRead != nil {
		return nil, fmt.Errorf("read random: %w", errRead)
	}
	return buf, nil
}

// GenerateRandomString returns a URL-safe string encoding n random bytes.
func GenerateRandomString(n int) (string, error) {
	buf, errRandom := RandomBytes(n)
	if errRandom != nil {
		return "", errRandom
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
