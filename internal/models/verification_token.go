package models

import "time"

// Token purposes.
const (
	TokenPurposeVerification  = "verification"
	TokenPurposePasswordReset = "password_reset"
)

// VerificationToken is a single-use e-mailed token. Only the digest is stored.
type VerificationToken struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Identifier string `gorm:"type:text;not null;index:idx_verification_tokens_lookup"` // E-mail the token was sent to.
	TokenHash  string `gorm:"type:text;not null;uniqueIndex"`                         // sha256 hex of the mailed token.
	Purpose    string `gorm:"type:text;not null;index:idx_verification_tokens_lookup"` // verification or password_reset.

	ExpiresAt time.Time `gorm:"not null;index"`          // Absolute expiry.
	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Issue time.
}

// Expired reports whether the token is past its expiry at now.
func (t *VerificationToken) Expired(now time.Time) bool {
	return t == nil || !now.Before(t.ExpiresAt)
}
