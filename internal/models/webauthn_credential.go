package models

import (
	"time"

	"gorm.io/datatypes"
)

// Device types derived from the authenticator backup-eligible flag.
const (
	DeviceTypeSingle = "single_device"
	DeviceTypeMulti  = "multi_device"
)

// WebAuthnCredential stores a registered passkey.
type WebAuthnCredential struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.
	UserID uint64 `gorm:"not null;index"`           // Owning user.

	CredentialID    []byte         `gorm:"type:bytea;not null;uniqueIndex"` // External credential id.
	PublicKey       []byte         `gorm:"type:bytea;not null"`             // COSE-encoded public key.
	AttestationType string         `gorm:"type:text"`                       // Attestation format reported at registration.
	Transports      datatypes.JSON // Authenticator transports hint.
	AAGUID          []byte         `gorm:"column:aaguid;type:bytea"` // Authenticator model id.

	SignCount      uint32 `gorm:"type:bigint;not null;default:0"`   // Last accepted signature counter.
	DeviceType     string `gorm:"type:text;not null"`               // single_device or multi_device.
	BackupEligible bool   `gorm:"not null;default:false"`           // BE flag.
	BackupState    bool   `gorm:"not null;default:false"`           // BS flag.
	Name           string `gorm:"type:text;not null;default:''"`    // Friendly display name.

	CreatedAt  time.Time  `gorm:"not null;autoCreateTime"` // Registration time.
	LastUsedAt *time.Time // Last successful assertion.
}

// TableName keeps the table name readable.
func (WebAuthnCredential) TableName() string { return "webauthn_credentials" }
