// Package mfa manages TOTP enrollment and backup codes.
package mfa

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/moodmash/authcore/internal/config"
	"github.com/moodmash/authcore/internal/store"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	log "github.com/sirupsen/logrus"
)

const (
	totpPeriod = 30
	totpSkew   = 1
)

var (
	// ErrAlreadyEnabled is returned when setup is requested for an enrolled user.
	ErrAlreadyEnabled = errors.New("mfa already enabled")
	// ErrNotPending is returned when confirming without a pending secret.
	ErrNotPending = errors.New("mfa setup not started")
	// ErrNotEnabled is returned when verifying a factor for a user without MFA.
	ErrNotEnabled = errors.New("mfa not enabled")
	// ErrInvalidCode is returned when a TOTP or backup code does not verify.
	ErrInvalidCode = errors.New("invalid mfa code")
	// ErrUserNotFound is returned for unknown users.
	ErrUserNotFound = errors.New("user not found")
	// ErrUnknownFactor is returned for unsupported factor variants.
	ErrUnknownFactor = errors.New("unknown mfa factor")
)

// Setup is returned once at enrollment. Backup codes are shown only here.
type Setup struct {
	Secret        string
	OTPAuthURL    string
	QRCodeDataURL string
	BackupCodes   []string
}

// Manager drives the Unenrolled → Pending → Enabled lifecycle.
type Manager struct {
	users *store.Users
	cfg   config.MFAConfig
	nowFn func() time.Time
}

// NewManager constructs a Manager.
func NewManager(users *store.Users, cfg config.MFAConfig, nowFn func() time.Time) *Manager {
	if nowFn == nil {
		nowFn = time.Now
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		cfg.Issuer = "MoodMash"
	}
	if cfg.BackupCodeCount <= 0 {
		cfg.BackupCodeCount = 10
	}
	return &Manager{users: users, cfg: cfg, nowFn: nowFn}
}

// GenerateSecret creates a pending secret and a fresh backup-code set.
// Retrying before confirmation overwrites the previous pending secret.
func (m *Manager) GenerateSecret(ctx context.Context, userID uint64, email string) (*Setup, error) {
	key, errKey := totp.Generate(totp.GenerateOpts{
		Issuer:      m.cfg.Issuer,
		AccountName: email,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if errKey != nil {
		return nil, fmt.Errorf("mfa: generate secret: %w", errKey)
	}
	plain, hashes, errCodes := GenerateBackupCodes(m.cfg.BackupCodeCount)
	if errCodes != nil {
		return nil, errCodes
	}
	qrURL, errQR := QRCodeDataURL(key.URL())
	if errQR != nil {
		return nil, errQR
	}

	if errSave := m.users.SaveMFASetup(ctx, userID, key.Secret(), hashes); errSave != nil {
		switch {
		case errors.Is(errSave, store.ErrConflict):
			return nil, ErrAlreadyEnabled
		case errors.Is(errSave, store.ErrNotFound):
			return nil, ErrUserNotFound
		default:
			return nil, fmt.Errorf("mfa: save setup: %w", errSave)
		}
	}
	return &Setup{
		Secret:        key.Secret(),
		OTPAuthURL:    key.URL(),
		QRCodeDataURL: qrURL,
		BackupCodes:   plain,
	}, nil
}

// VerifyTOTP checks code against secret with ±1 step drift. Never errors.
func (m *Manager) VerifyTOTP(code, secret string) bool {
	code = strings.TrimSpace(code)
	if code == "" || secret == "" {
		return false
	}
	valid, errValidate := totp.ValidateCustom(code, secret, m.nowFn(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if errValidate != nil {
		log.WithError(errValidate).Debug("mfa: totp validation error")
		return false
	}
	return valid
}

// ConfirmSetup verifies a code against the pending secret and enables MFA.
// A non-empty clientSecret must equal the pending secret.
func (m *Manager) ConfirmSetup(ctx context.Context, userID uint64, code, clientSecret string) error {
	user, errUser := m.users.FindByID(ctx, userID)
	if errUser != nil {
		return m.userErr(errUser)
	}
	if user.MFAEnabled {
		return ErrAlreadyEnabled
	}
	if user.MFASecret == "" {
		return ErrNotPending
	}
	clientSecret = strings.TrimSpace(clientSecret)
	if clientSecret != "" && subtle.ConstantTimeCompare([]byte(clientSecret), []byte(user.MFASecret)) != 1 {
		return ErrInvalidCode
	}
	if !m.VerifyTOTP(code, user.MFASecret) {
		return ErrInvalidCode
	}
	return m.Enable(ctx, userID)
}

// Enable marks a pending secret as active.
func (m *Manager) Enable(ctx context.Context, userID uint64) error {
	if errEnable := m.users.EnableMFA(ctx, userID); errEnable != nil {
		if errors.Is(errEnable, store.ErrConflict) {
			return ErrNotPending
		}
		return m.userErr(errEnable)
	}
	return nil
}

// Disable clears the secret, backup codes and flag in one update.
func (m *Manager) Disable(ctx context.Context, userID uint64) error {
	if errClear := m.users.ClearMFA(ctx, userID); errClear != nil {
		return m.userErr(errClear)
	}
	return nil
}

// VerifyBackupCode consumes code if it is in the user's set.
func (m *Manager) VerifyBackupCode(ctx context.Context, userID uint64, code string) (bool, error) {
	if CanonicalBackupCode(code) == "" {
		return false, nil
	}
	consumed, errConsume := m.users.ConsumeBackupCode(ctx, userID, HashBackupCode(code))
	if errConsume != nil {
		if errors.Is(errConsume, store.ErrNotFound) {
			return false, ErrUserNotFound
		}
		return false, fmt.Errorf("mfa: consume backup code: %w", errConsume)
	}
	return consumed, nil
}

// Verify checks one factor for a user with MFA enabled.
func (m *Manager) Verify(ctx context.Context, userID uint64, factor Factor) (bool, error) {
	user, errUser := m.users.FindByID(ctx, userID)
	if errUser != nil {
		return false, m.userErr(errUser)
	}
	if !user.MFAEnabled {
		return false, ErrNotEnabled
	}
	switch f := factor.(type) {
	case TOTPFactor:
		return m.VerifyTOTP(f.Code, user.MFASecret), nil
	case BackupCodeFactor:
		return m.VerifyBackupCode(ctx, userID, f.Code)
	default:
		return false, ErrUnknownFactor
	}
}

// RegenerateBackupCodes replaces the backup-code set after a factor check.
func (m *Manager) RegenerateBackupCodes(ctx context.Context, userID uint64, factor Factor) ([]string, error) {
	ok, errVerify := m.Verify(ctx, userID, factor)
	if errVerify != nil {
		return nil, errVerify
	}
	if !ok {
		return nil, ErrInvalidCode
	}
	plain, hashes, errCodes := GenerateBackupCodes(m.cfg.BackupCodeCount)
	if errCodes != nil {
		return nil, errCodes
	}
	if errReplace := m.users.ReplaceBackupCodes(ctx, userID, hashes); errReplace != nil {
		return nil, m.userErr(errReplace)
	}
	return plain, nil
}

func (m *Manager) userErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	return fmt.Errorf("mfa: %w", err)
}
