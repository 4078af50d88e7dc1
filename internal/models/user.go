package models

import "time"

// User represents an end-user account stored in the database.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name     string `gorm:"type:text"`                      // Display name.
	Email    string `gorm:"type:text;not null;uniqueIndex"` // Lower-cased login identifier.
	Password string `gorm:"type:text"`                      // bcrypt hash; empty for passkey-only accounts.

	EmailVerifiedAt *time.Time // Set once the verification token is consumed.

	WebAuthnHandle []byte `gorm:"column:webauthn_handle;type:bytea;uniqueIndex"` // Opaque WebAuthn user handle.

	MFAEnabled     bool        `gorm:"column:mfa_enabled;not null;default:false"`               // TOTP confirmed and enforced.
	MFASecret      string      `gorm:"column:mfa_secret;type:text"`                             // Base32 TOTP secret.
	MFABackupCodes BackupCodes `gorm:"column:mfa_backup_codes;type:text;not null;default:'[]'"` // Hashed single-use codes.
	MFAVersion     int64       `gorm:"column:mfa_version;not null;default:0"`                   // Bumped on every MFA mutation.

	SessionVersion int64 `gorm:"column:session_version;not null;default:0"` // Sessions minted under an older version are rejected.

	Disabled bool `gorm:"not null;default:false"` // Explicit disable flag.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// HasPassword reports whether password login is available for the account.
func (u *User) HasPassword() bool {
	return u != nil && u.Password != ""
}

// EmailVerified reports whether the address was confirmed.
func (u *User) EmailVerified() bool {
	return u != nil && u.EmailVerifiedAt != nil
}
