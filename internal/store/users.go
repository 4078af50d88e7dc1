package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	dbutil "github.com/moodmash/authcore/internal/db"
	"github.com/moodmash/authcore/internal/models"
	"gorm.io/gorm"
)

// Users persists accounts and their password/MFA fields.
type Users struct {
	db *gorm.DB
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create inserts a new user. Duplicate e-mails return ErrDuplicate.
func (r *Users) Create(ctx context.Context, user *models.User) error {
	if user == nil {
		return fmt.Errorf("users: nil user")
	}
	user.Email = NormalizeEmail(user.Email)
	if errCreate := r.db.WithContext(ctx).Create(user).Error; errCreate != nil {
		return fmt.Errorf("users: create: %w", translate(errCreate))
	}
	return nil
}

// FindByID loads a user by primary key.
func (r *Users) FindByID(ctx context.Context, id uint64) (*models.User, error) {
	var user models.User
	if errFind := r.db.WithContext(ctx).First(&user, id).Error; errFind != nil {
		return nil, translate(errFind)
	}
	return &user, nil
}

// FindByEmail loads a user by normalized e-mail.
func (r *Users) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	errFind := r.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&user).Error
	if errFind != nil {
		return nil, translate(errFind)
	}
	return &user, nil
}

// FindByHandle loads a user by WebAuthn user handle.
func (r *Users) FindByHandle(ctx context.Context, handle []byte) (*models.User, error) {
	if len(handle) == 0 {
		return nil, ErrNotFound
	}
	var user models.User
	if errFind := r.db.WithContext(ctx).Where("webauthn_handle = ?", handle).First(&user).Error; errFind != nil {
		return nil, translate(errFind)
	}
	return &user, nil
}

// SetWebAuthnHandle assigns a user handle once. Returns ErrConflict when a
// handle is already set.
func (r *Users) SetWebAuthnHandle(ctx context.Context, id uint64, handle []byte) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND webauthn_handle IS NULL", id).
		Updates(map[string]any{"webauthn_handle": handle, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("users: set webauthn handle: %w", translate(res.Error))
	}
	if res.RowsAffected == 0 {
		return r.existsOr(ctx, id, ErrConflict)
	}
	return nil
}

// UpdatePassword replaces the password hash and keeps existing sessions.
func (r *Users) UpdatePassword(ctx context.Context, id uint64, hash string) error {
	return r.updateOne(ctx, id, map[string]any{"password": hash})
}

// ReplacePassword stores a new password hash and revokes every outstanding session.
func (r *Users) ReplacePassword(ctx context.Context, id uint64, hash string) error {
	return r.updateOne(ctx, id, map[string]any{
		"password":        hash,
		"session_version": gorm.Expr("session_version + 1"),
	})
}

// MarkEmailVerified stamps the verification time for the address.
func (r *Users) MarkEmailVerified(ctx context.Context, email string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("email = ?", NormalizeEmail(email)).
		Updates(map[string]any{"email_verified_at": at, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("users: verify email: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveMFASetup stores a pending secret and hashed backup codes.
// Returns ErrConflict when MFA is already enabled.
func (r *Users) SaveMFASetup(ctx context.Context, id uint64, secret string, codes models.BackupCodes) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND mfa_enabled = ?", id, false).
		Updates(map[string]any{
			"mfa_secret":       secret,
			"mfa_backup_codes": codes,
			"mfa_version":      gorm.Expr("mfa_version + 1"),
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("users: save mfa setup: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return r.existsOr(ctx, id, ErrConflict)
	}
	return nil
}

// EnableMFA flips the enabled flag when a secret is present.
func (r *Users) EnableMFA(ctx context.Context, id uint64) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND mfa_secret <> ''", id).
		Updates(map[string]any{
			"mfa_enabled": true,
			"mfa_version": gorm.Expr("mfa_version + 1"),
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("users: enable mfa: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return r.existsOr(ctx, id, ErrConflict)
	}
	return nil
}

// ClearMFA disables MFA and drops the secret and backup codes in one statement.
// Outstanding sessions are revoked.
func (r *Users) ClearMFA(ctx context.Context, id uint64) error {
	return r.updateOne(ctx, id, map[string]any{
		"mfa_enabled":      false,
		"mfa_secret":       "",
		"mfa_backup_codes": models.BackupCodes{},
		"mfa_version":      gorm.Expr("mfa_version + 1"),
		"session_version":  gorm.Expr("session_version + 1"),
	})
}

// ReplaceBackupCodes swaps the whole backup-code set.
func (r *Users) ReplaceBackupCodes(ctx context.Context, id uint64, codes models.BackupCodes) error {
	return r.updateOne(ctx, id, map[string]any{
		"mfa_backup_codes": codes,
		"mfa_version":      gorm.Expr("mfa_version + 1"),
	})
}

// ConsumeBackupCode removes hash from the user's set under a row lock and a
// version compare-and-set. Reports false when the code is absent or a
// concurrent request consumed it first.
func (r *Users) ConsumeBackupCode(ctx context.Context, id uint64, hash string) (bool, error) {
	consumed := false
	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if errFind := dbutil.ForUpdate(tx).
			Select("id", "mfa_backup_codes", "mfa_version").
			First(&user, id).Error; errFind != nil {
			return translate(errFind)
		}
		remaining, found := user.MFABackupCodes.Without(hash)
		if !found {
			return nil
		}
		res := tx.Model(&models.User{}).
			Where("id = ? AND mfa_version = ?", id, user.MFAVersion).
			Updates(map[string]any{
				"mfa_backup_codes": remaining,
				"mfa_version":      user.MFAVersion + 1,
				"updated_at":       time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		consumed = res.RowsAffected == 1
		return nil
	})
	if errTx != nil {
		return false, fmt.Errorf("users: consume backup code: %w", errTx)
	}
	return consumed, nil
}

func (r *Users) updateOne(ctx context.Context, id uint64, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("users: update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Users) existsOr(ctx context.Context, id uint64, errExists error) error {
	var count int64
	if errCount := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Count(&count).Error; errCount != nil {
		return fmt.Errorf("users: count: %w", errCount)
	}
	if count == 0 {
		return ErrNotFound
	}
	return errExists
}
