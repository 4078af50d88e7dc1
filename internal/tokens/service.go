package tokens

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/moodmash/authcore/internal/config"
	"github.com/moodmash/authcore/internal/models"
	"github.com/moodmash/authcore/internal/store"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrTokenInvalid is returned for unknown or already used tokens.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired is returned for tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
)

// Service issues and redeems single-use e-mail tokens.
type Service struct {
	tokens *store.Tokens
	cfg    config.TokenConfig
	nowFn  func() time.Time
}

// NewService constructs a Service.
func NewService(tokens *store.Tokens, cfg config.TokenConfig, nowFn func() time.Time) *Service {
	if nowFn == nil {
		nowFn = time.Now
	}
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = 24 * time.Hour
	}
	if cfg.PasswordResetTTL <= 0 {
		cfg.PasswordResetTTL = time.Hour
	}
	return &Service{tokens: tokens, cfg: cfg, nowFn: nowFn}
}

func (s *Service) ttl(purpose string) time.Duration {
	if purpose == models.TokenPurposePasswordReset {
		return s.cfg.PasswordResetTTL
	}
	return s.cfg.VerificationTTL
}

// Issue replaces any outstanding token of purpose for identifier and returns
// the new raw token. Only its digest is stored.
func (s *Service) Issue(ctx context.Context, identifier string, userID uint64, purpose string) (string, error) {
	identifier = store.NormalizeEmail(identifier)
	if identifier == "" {
		return "", fmt.Errorf("tokens: issue: empty identifier")
	}
	raw, errCreate := CreateToken(purpose, userID)
	if errCreate != nil {
		return "", errCreate
	}
	record := &models.VerificationToken{
		Identifier: identifier,
		TokenHash:  HashToken(raw),
		Purpose:    purpose,
		ExpiresAt:  s.nowFn().UTC().Add(s.ttl(purpose)),
	}
	if errReplace := s.tokens.Replace(ctx, record); errReplace != nil {
		return "", fmt.Errorf("tokens: issue: %w", errReplace)
	}
	return raw, nil
}

// Validate checks a token without consuming it. Expired tokens are deleted.
func (s *Service) Validate(ctx context.Context, token, purpose string) (string, error) {
	record, errLookup := s.lookup(ctx, token, purpose)
	if errLookup != nil {
		return "", errLookup
	}
	if record.Expired(s.nowFn()) {
		s.dropExpired(ctx, record)
		return "", ErrTokenExpired
	}
	return record.Identifier, nil
}

// Consume redeems a token exactly once and returns its identifier.
func (s *Service) Consume(ctx context.Context, token, purpose string) (string, error) {
	record, errLookup := s.lookup(ctx, token, purpose)
	if errLookup != nil {
		return "", errLookup
	}
	deleted, errDelete := s.tokens.Delete(ctx, record.ID)
	if errDelete != nil {
		return "", fmt.Errorf("tokens: consume: %w", errDelete)
	}
	if !deleted {
		return "", ErrTokenInvalid
	}
	if record.Expired(s.nowFn()) {
		return "", ErrTokenExpired
	}
	return record.Identifier, nil
}

// PurgeExpired removes all expired rows.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.tokens.PurgeExpired(ctx, s.nowFn().UTC())
}

func (s *Service) lookup(ctx context.Context, token, purpose string) (*models.VerificationToken, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrTokenInvalid
	}
	record, errFind := s.tokens.FindByHash(ctx, HashToken(token), purpose)
	if errors.Is(errFind, store.ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if errFind != nil {
		return nil, fmt.Errorf("tokens: lookup: %w", errFind)
	}
	return record, nil
}

func (s *Service) dropExpired(ctx context.Context, record *models.VerificationToken) {
	if _, errDelete := s.tokens.Delete(ctx, record.ID); errDelete != nil {
		log.WithError(errDelete).WithField("purpose", record.Purpose).Warn("tokens: failed to delete expired token")
	}
}
