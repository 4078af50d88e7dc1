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

// Credentials persists WebAuthn credentials.
type Credentials struct {
	db *gorm.DB
}

// Create inserts a credential. A reused credential id returns ErrDuplicate.
func (r *Credentials) Create(ctx context.Context, cred *models.WebAuthnCredential) error {
	if cred == nil {
		return fmt.Errorf("credentials: nil credential")
	}
	if errCreate := r.db.WithContext(ctx).Create(cred).Error; errCreate != nil {
		return fmt.Errorf("credentials: create: %w", translate(errCreate))
	}
	return nil
}

// ListByUser returns the user's credentials, oldest first.
func (r *Credentials) ListByUser(ctx context.Context, userID uint64) ([]models.WebAuthnCredential, error) {
	var rows []models.WebAuthnCredential
	errFind := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at ASC, id ASC").Find(&rows).Error
	if errFind != nil {
		return nil, fmt.Errorf("credentials: list: %w", errFind)
	}
	return rows, nil
}

// FindByCredentialID loads a credential by its external id.
func (r *Credentials) FindByCredentialID(ctx context.Context, credentialID []byte) (*models.WebAuthnCredential, error) {
	if len(credentialID) == 0 {
		return nil, ErrNotFound
	}
	var cred models.WebAuthnCredential
	if errFind := r.db.WithContext(ctx).Where("credential_id = ?", credentialID).First(&cred).Error; errFind != nil {
		return nil, translate(errFind)
	}
	return &cred, nil
}

// UpdateCounter advances sign_count from expected to next. Reports false when
// the stored counter no longer equals expected.
func (r *Credentials) UpdateCounter(ctx context.Context, id uint64, expected, next uint32, usedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.WebAuthnCredential{}).
		Where("id = ? AND sign_count = ?", id, expected).
		Updates(map[string]any{"sign_count": next, "last_used_at": usedAt})
	if res.Error != nil {
		return false, fmt.Errorf("credentials: update counter: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Rename sets the friendly name of a credential owned by userID.
func (r *Credentials) Rename(ctx context.Context, userID, id uint64, name string) error {
	res := r.db.WithContext(ctx).Model(&models.WebAuthnCredential{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("name", strings.TrimSpace(name))
	if res.Error != nil {
		return fmt.Errorf("credentials: rename: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteForUser removes a credential unless it is the user's last one.
func (r *Credentials) DeleteForUser(ctx context.Context, userID, id uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Serializes concurrent deletes for the same user.
		var owner models.User
		if errLock := dbutil.ForUpdate(tx).Select("id").First(&owner, userID).Error; errLock != nil {
			return translate(errLock)
		}

		var cred models.WebAuthnCredential
		if errFind := tx.Where("id = ? AND user_id = ?", id, userID).First(&cred).Error; errFind != nil {
			return translate(errFind)
		}

		var count int64
		if errCount := tx.Model(&models.WebAuthnCredential{}).Where("user_id = ?", userID).Count(&count).Error; errCount != nil {
			return fmt.Errorf("credentials: count: %w", errCount)
		}
		if count <= 1 {
			return ErrLastCredential
		}

		if errDelete := tx.Delete(&models.WebAuthnCredential{}, cred.ID).Error; errDelete != nil {
			return fmt.Errorf("credentials: delete: %w", errDelete)
		}
		return nil
	})
}
