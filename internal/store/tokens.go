package store

import (
	"context"
	"fmt"
	"time"

	"github.com/moodmash/authcore/internal/models"
	"gorm.io/gorm"
)

// Tokens persists hashed verification and reset tokens.
type Tokens struct {
	db *gorm.DB
}

// Replace deletes the identifier's tokens of the same purpose and inserts token.
func (r *Tokens) Replace(ctx context.Context, token *models.VerificationToken) error {
	if token == nil {
		return fmt.Errorf("tokens: nil token")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errDelete := tx.Where("identifier = ? AND purpose = ?", token.Identifier, token.Purpose).
			Delete(&models.VerificationToken{}).Error; errDelete != nil {
			return fmt.Errorf("tokens: delete previous: %w", errDelete)
		}
		if errCreate := tx.Create(token).Error; errCreate != nil {
			return fmt.Errorf("tokens: create: %w", translate(errCreate))
		}
		return nil
	})
}

// FindByHash loads a token by digest and purpose.
func (r *Tokens) FindByHash(ctx context.Context, hash, purpose string) (*models.VerificationToken, error) {
	var token models.VerificationToken
	errFind := r.db.WithContext(ctx).Where("token_hash = ? AND purpose = ?", hash, purpose).First(&token).Error
	if errFind != nil {
		return nil, translate(errFind)
	}
	return &token, nil
}

// Delete removes a token row. Reports whether this call removed it.
func (r *Tokens) Delete(ctx context.Context, id uint64) (bool, error) {
	res := r.db.WithContext(ctx).Delete(&models.VerificationToken{}, id)
	if res.Error != nil {
		return false, fmt.Errorf("tokens: delete: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// PurgeExpired deletes tokens past expiry and returns the count removed.
func (r *Tokens) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.VerificationToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("tokens: purge: %w", res.Error)
	}
	return res.RowsAffected, nil
}
