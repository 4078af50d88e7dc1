package security

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// PasswordCost is the bcrypt cost used for new hashes.
const PasswordCost = 12

const (
	minPasswordLength = 8
	maxPasswordLength = 72
)

// ErrWeakPassword is returned when a password fails the strength policy.
var ErrWeakPassword = errors.New("password must be 8-72 characters and contain a letter and a digit")

// HashingError reports a failure of the hashing primitive.
type HashingError struct {
	Err error
}

func (e *HashingError) Error() string { return fmt.Sprintf("hash password: %v", e.Err) }

func (e *HashingError) Unwrap() error { return e.Err }

// ComparisonError reports a malformed hash or a primitive failure while comparing.
type ComparisonError struct {
	Err error
}

func (e *ComparisonError) Error() string { return fmt.Sprintf("compare password: %v", e.Err) }

func (e *ComparisonError) Unwrap() error { return e.Err }

// HashPassword hashes a password with bcrypt at PasswordCost.
func HashPassword(password string) (string, error) {
	hash, errHash := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if errHash != nil {
		return "", &HashingError{Err: errHash}
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches hash. A mismatch is (false, nil).
func VerifyPassword(password, hash string) (bool, error) {
	errCompare := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errCompare == nil {
		return true, nil
	}
	if errors.Is(errCompare, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, &ComparisonError{Err: errCompare}
}

// NeedsRehash reports whether hash was produced with a lower cost than PasswordCost.
func NeedsRehash(hash string) bool {
	cost, errCost := bcrypt.Cost([]byte(hash))
	if errCost != nil {
		return false
	}
	return cost < PasswordCost
}

// ValidatePasswordStrength enforces length and character class rules.
func ValidatePasswordStrength(password string) error {
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return ErrWeakPassword
	}
	if strings.TrimSpace(password) == "" {
		return ErrWeakPassword
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return ErrWeakPassword
	}
	return nil
}
