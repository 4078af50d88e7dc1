package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/moodmash/authcore/internal/logging"
	"github.com/moodmash/authcore/internal/models"
	"github.com/moodmash/authcore/internal/ratelimit"
	"github.com/moodmash/authcore/internal/security"
	"github.com/moodmash/authcore/internal/store"
	"github.com/moodmash/authcore/internal/tokens"
	log "github.com/sirupsen/logrus"
)

// RegisterInput is a password signup request.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	IP       string
}

// LoginInput is a password login request.
type LoginInput struct {
	Email    string
	Password string
	IP       string
}

// Register creates a password account and mails a verification token.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email, errEmail := normalizeEmail(in.Email)
	if errEmail != nil {
		return nil, errEmail
	}
	if errGate := s.gate(ctx, ratelimit.ActionRegister, ratelimit.Subject(email, in.IP)); errGate != nil {
		return nil, errGate
	}
	name := strings.TrimSpace(in.Name)
	if utf8.RuneCountInString(name) > maxNameLength {
		return nil, fmt.Errorf("%w: name is too long", ErrInvalidInput)
	}
	if errStrength := security.ValidatePasswordStrength(in.Password); errStrength != nil {
		return nil, errStrength
	}
	hash, errHash := security.HashPassword(in.Password)
	if errHash != nil {
		return nil, errHash
	}

	user := &models.User{Name: name, Email: email, Password: hash}
	if errCreate := s.users.Create(ctx, user); errCreate != nil {
		if errors.Is(errCreate, store.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, errCreate
	}
	log.WithFields(log.Fields{"user_id": user.ID, "ip": in.IP}).Info("auth: user registered")

	s.sendVerification(ctx, user)
	return user, nil
}

// ResendVerification issues a fresh verification token for an unverified account.
func (s *Service) ResendVerification(ctx context.Context, userID uint64) error {
	user, errFind := s.Me(ctx, userID)
	if errFind != nil {
		return errFind
	}
	if user.EmailVerified() {
		return fmt.Errorf("%w: email already verified", ErrInvalidInput)
	}
	if errGate := s.gate(ctx, ratelimit.ActionVerifyEmail, user.Email); errGate != nil {
		return errGate
	}
	raw, errIssue := s.tokens.Issue(ctx, user.Email, user.ID, models.TokenPurposeVerification)
	if errIssue != nil {
		return errIssue
	}
	if errSend := s.mailer.SendVerification(ctx, user.Email, raw); errSend != nil {
		return fmt.Errorf("auth: send verification: %w", errSend)
	}
	return nil
}

// sendVerification never fails the signup; the user can request a new mail.
func (s *Service) sendVerification(ctx context.Context, user *models.User) {
	raw, errIssue := s.tokens.Issue(ctx, user.Email, user.ID, models.TokenPurposeVerification)
	if errIssue != nil {
		log.WithError(errIssue).WithField("user_id", user.ID).Error("auth: issue verification token")
		return
	}
	if errSend := s.mailer.SendVerification(ctx, user.Email, raw); errSend != nil {
		log.WithError(errSend).WithField("user_id", user.ID).Error("auth: send verification")
	}
}

// LoginPassword verifies an e-mail and password. Accounts with MFA enabled
// receive a single-use ticket for ChallengeMFA instead of a session.
func (s *Service) LoginPassword(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email, errEmail := normalizeEmail(in.Email)
	if errEmail != nil {
		return nil, ErrInvalidCredentials
	}
	if in.Password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	if errGate := s.gate(ctx, ratelimit.ActionLogin, email); errGate != nil {
		return nil, errGate
	}
	if s.limiter.Locked(ctx, email) {
		logging.SecurityEvent("login_locked", "failure threshold reached").
			WithField("ip", in.IP).Warn("auth: login refused")
		return nil, ErrAccountLocked
	}

	user, errFind := s.users.FindByEmail(ctx, email)
	if errFind != nil {
		if !errors.Is(errFind, store.ErrNotFound) {
			return nil, fmt.Errorf("auth: load user: %w", errFind)
		}
		burnPasswordCheck(in.Password)
		return nil, s.loginFailed(ctx, email, in.IP, "unknown_email")
	}
	if user.Disabled || !user.HasPassword() {
		burnPasswordCheck(in.Password)
		return nil, s.loginFailed(ctx, email, in.IP, "password_unavailable")
	}

	ok, errVerify := security.VerifyPassword(in.Password, user.Password)
	if errVerify != nil {
		return nil, errVerify
	}
	if !ok {
		return nil, s.loginFailed(ctx, email, in.IP, "wrong_password")
	}

	s.limiter.Reset(ctx, ratelimit.ActionLogin, email)
	s.limiter.ResetFailures(ctx, email)
	s.rehashIfNeeded(ctx, user, in.Password)

	if user.MFAEnabled {
		ticket, errTicket := s.issueMFATicket(ctx, user)
		if errTicket != nil {
			return nil, errTicket
		}
		return &LoginResult{User: user, MFARequired: true, MFATicket: ticket}, nil
	}
	log.WithFields(log.Fields{"user_id": user.ID, "ip": in.IP}).Info("auth: password login")
	return s.loggedIn(user)
}

func (s *Service) loginFailed(ctx context.Context, email, ip, reason string) error {
	failures := s.limiter.IncrementFailure(ctx, email)
	logging.SecurityEvent("login_failed", reason).
		WithFields(log.Fields{"ip": ip, "failures": failures}).Info("auth: login failed")
	return ErrInvalidCredentials
}

func (s *Service) rehashIfNeeded(ctx context.Context, user *models.User, password string) {
	if !security.NeedsRehash(user.Password) {
		return
	}
	hash, errHash := security.HashPassword(password)
	if errHash != nil {
		log.WithError(errHash).WithField("user_id", user.ID).Warn("auth: rehash password")
		return
	}
	if errUpdate := s.users.UpdatePassword(ctx, user.ID, hash); errUpdate != nil {
		log.WithError(errUpdate).WithField("user_id", user.ID).Warn("auth: store rehashed password")
		return
	}
	user.Password = hash
}

// ForgotPassword mails a reset token. Unknown addresses succeed silently.
func (s *Service) ForgotPassword(ctx context.Context, rawEmail, ip string) error {
	email, errEmail := normalizeEmail(rawEmail)
	if errEmail != nil {
		return errEmail
	}
	if errGate := s.gate(ctx, ratelimit.ActionPasswordReset, ratelimit.Subject(email, ip)); errGate != nil {
		return errGate
	}
	user, errFind := s.users.FindByEmail(ctx, email)
	if errFind != nil {
		if errors.Is(errFind, store.ErrNotFound) {
			log.WithField("ip", ip).Debug("auth: password reset for unknown email")
			return nil
		}
		return fmt.Errorf("auth: load user: %w", errFind)
	}
	if user.Disabled {
		return nil
	}
	raw, errIssue := s.tokens.Issue(ctx, user.Email, user.ID, models.TokenPurposePasswordReset)
	if errIssue != nil {
		return errIssue
	}
	if errSend := s.mailer.SendPasswordReset(ctx, user.Email, raw); errSend != nil {
		return fmt.Errorf("auth: send password reset: %w", errSend)
	}
	log.WithFields(log.Fields{"user_id": user.ID, "ip": ip}).Info("auth: password reset requested")
	return nil
}

// ValidateResetToken checks a reset token without consuming it.
func (s *Service) ValidateResetToken(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	if _, errValidate := s.tokens.Validate(ctx, token, models.TokenPurposePasswordReset); errValidate != nil {
		return tokenErr(errValidate)
	}
	return nil
}

// ResetPassword consumes a reset token and sets a new password.
func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	if errStrength := security.ValidatePasswordStrength(password); errStrength != nil {
		return errStrength
	}
	hash, errHash := security.HashPassword(password)
	if errHash != nil {
		return errHash
	}
	email, errConsume := s.tokens.Consume(ctx, token, models.TokenPurposePasswordReset)
	if errConsume != nil {
		return tokenErr(errConsume)
	}
	user, errFind := s.users.FindByEmail(ctx, email)
	if errFind != nil {
		if errors.Is(errFind, store.ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("auth: load user: %w", errFind)
	}
	if errUpdate := s.users.ReplacePassword(ctx, user.ID, hash); errUpdate != nil {
		return fmt.Errorf("auth: update password: %w", errUpdate)
	}
	s.limiter.Reset(ctx, ratelimit.ActionLogin, email)
	s.limiter.ResetFailures(ctx, email)
	logging.SecurityEvent("password_reset", "token_consumed").WithField("user_id", user.ID).Info("auth: password changed")
	return nil
}

// VerifyEmail consumes a verification token and marks the address verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	email, errConsume := s.tokens.Consume(ctx, token, models.TokenPurposeVerification)
	if errConsume != nil {
		return tokenErr(errConsume)
	}
	if errMark := s.users.MarkEmailVerified(ctx, email, s.nowFn().UTC()); errMark != nil {
		if errors.Is(errMark, store.ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("auth: verify email: %w", errMark)
	}
	return nil
}

func tokenErr(err error) error {
	if errors.Is(err, tokens.ErrTokenInvalid) || errors.Is(err, tokens.ErrTokenExpired) {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return err
}
