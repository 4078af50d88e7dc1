package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/moodmash/authcore/internal/challenge"
	"github.com/moodmash/authcore/internal/logging"
	"github.com/moodmash/authcore/internal/mfa"
	"github.com/moodmash/authcore/internal/models"
	"github.com/moodmash/authcore/internal/ratelimit"
	log "github.com/sirupsen/logrus"
)

// MFAChallengeInput completes a login that stopped at MFARequired.
type MFAChallengeInput struct {
	Email  string
	Ticket string
	Factor mfa.Factor
	IP     string
}

type mfaTicket struct {
	UserID uint64 `json:"user_id"`
	Email  string `json:"email"`
}

func (s *Service) issueMFATicket(ctx context.Context, user *models.User) (string, error) {
	payload, errMarshal := json.Marshal(mfaTicket{UserID: user.ID, Email: user.Email})
	if errMarshal != nil {
		return "", fmt.Errorf("auth: encode mfa ticket: %w", errMarshal)
	}
	id := challenge.NewID()
	if errPut := s.challenges.Put(ctx, challenge.Key(challenge.KindMFATicket, id), payload, s.ticketTTL); errPut != nil {
		return "", fmt.Errorf("auth: store mfa ticket: %w", errPut)
	}
	return id, nil
}

// ChallengeMFA verifies the second factor for a ticket and mints a session.
// The ticket is consumed on success or once the mfa bucket trips.
func (s *Service) ChallengeMFA(ctx context.Context, in MFAChallengeInput) (*LoginResult, error) {
	email, errEmail := normalizeEmail(in.Email)
	if errEmail != nil {
		return nil, ErrInvalidMFA
	}
	ticketID := strings.TrimSpace(in.Ticket)
	if ticketID == "" {
		return nil, fmt.Errorf("%w: mfa token is required", ErrInvalidInput)
	}
	if in.Factor == nil {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidInput)
	}
	key := challenge.Key(challenge.KindMFATicket, ticketID)

	if errGate := s.gate(ctx, ratelimit.ActionMFA, email); errGate != nil {
		if errDelete := s.challenges.Delete(ctx, key); errDelete != nil {
			log.WithError(errDelete).Warn("auth: drop mfa ticket")
		}
		return nil, errGate
	}

	raw, errGet := s.challenges.Get(ctx, key)
	if errGet != nil {
		if errors.Is(errGet, challenge.ErrNotFound) {
			return nil, ErrInvalidMFA
		}
		return nil, fmt.Errorf("auth: load mfa ticket: %w", errGet)
	}
	var ticket mfaTicket
	if errUnmarshal := json.Unmarshal(raw, &ticket); errUnmarshal != nil {
		return nil, fmt.Errorf("auth: decode mfa ticket: %w", errUnmarshal)
	}
	if ticket.Email != email {
		logging.SecurityEvent("mfa_failed", "ticket_email_mismatch").WithField("ip", in.IP).Warn("auth: mfa challenge rejected")
		return nil, ErrInvalidMFA
	}

	ok, errVerify := s.mfa.Verify(ctx, ticket.UserID, in.Factor)
	if errVerify != nil {
		if errors.Is(errVerify, mfa.ErrNotEnabled) || errors.Is(errVerify, mfa.ErrUserNotFound) {
			return nil, ErrInvalidMFA
		}
		return nil, errVerify
	}
	if !ok {
		logging.SecurityEvent("mfa_failed", "invalid_"+mfa.Kind(in.Factor)).
			WithFields(log.Fields{"user_id": ticket.UserID, "ip": in.IP}).Info("auth: mfa challenge rejected")
		return nil, ErrInvalidMFA
	}

	if _, errTake := s.challenges.Take(ctx, key); errTake != nil {
		if errors.Is(errTake, challenge.ErrNotFound) {
			return nil, ErrInvalidMFA
		}
		return nil, fmt.Errorf("auth: consume mfa ticket: %w", errTake)
	}
	s.limiter.Reset(ctx, ratelimit.ActionMFA, email)

	user, errUser := s.Me(ctx, ticket.UserID)
	if errUser != nil {
		return nil, errUser
	}
	log.WithFields(log.Fields{"user_id": user.ID, "factor": mfa.Kind(in.Factor), "ip": in.IP}).Info("auth: mfa login")
	return s.loggedIn(user)
}

// SetupMFA starts enrollment for a signed-in user.
func (s *Service) SetupMFA(ctx context.Context, userID uint64) (*mfa.Setup, error) {
	user, errUser := s.Me(ctx, userID)
	if errUser != nil {
		return nil, errUser
	}
	setup, errSetup := s.mfa.GenerateSecret(ctx, user.ID, user.Email)
	if errSetup != nil {
		return nil, mfaErr(errSetup)
	}
	return setup, nil
}

// ConfirmMFA enables MFA once a code from the pending secret verifies.
func (s *Service) ConfirmMFA(ctx context.Context, userID uint64, code, secret string) error {
	if errGate := s.gate(ctx, ratelimit.ActionMFA, userSubject(userID)); errGate != nil {
		return errGate
	}
	if errConfirm := s.mfa.ConfirmSetup(ctx, userID, code, secret); errConfirm != nil {
		return mfaErr(errConfirm)
	}
	s.limiter.Reset(ctx, ratelimit.ActionMFA, userSubject(userID))
	logging.SecurityEvent("mfa_enabled", "setup_confirmed").WithField("user_id", userID).Info("auth: mfa enabled")
	return nil
}

// DisableMFA turns MFA off after a factor check.
func (s *Service) DisableMFA(ctx context.Context, userID uint64, factor mfa.Factor) error {
	if errVerify := s.verifyFactor(ctx, userID, factor); errVerify != nil {
		return errVerify
	}
	if errDisable := s.mfa.Disable(ctx, userID); errDisable != nil {
		return mfaErr(errDisable)
	}
	logging.SecurityEvent("mfa_disabled", mfa.Kind(factor)).WithField("user_id", userID).Info("auth: mfa disabled")
	return nil
}

// RegenerateBackupCodes replaces the backup-code set after a factor check.
func (s *Service) RegenerateBackupCodes(ctx context.Context, userID uint64, factor mfa.Factor) ([]string, error) {
	if factor == nil {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidInput)
	}
	if errGate := s.gate(ctx, ratelimit.ActionMFA, userSubject(userID)); errGate != nil {
		return nil, errGate
	}
	codes, errRegenerate := s.mfa.RegenerateBackupCodes(ctx, userID, factor)
	if errRegenerate != nil {
		return nil, mfaErr(errRegenerate)
	}
	s.limiter.Reset(ctx, ratelimit.ActionMFA, userSubject(userID))
	return codes, nil
}

func (s *Service) verifyFactor(ctx context.Context, userID uint64, factor mfa.Factor) error {
	if factor == nil {
		return fmt.Errorf("%w: code is required", ErrInvalidInput)
	}
	if errGate := s.gate(ctx, ratelimit.ActionMFA, userSubject(userID)); errGate != nil {
		return errGate
	}
	ok, errVerify := s.mfa.Verify(ctx, userID, factor)
	if errVerify != nil {
		return mfaErr(errVerify)
	}
	if !ok {
		return ErrInvalidMFA
	}
	s.limiter.Reset(ctx, ratelimit.ActionMFA, userSubject(userID))
	return nil
}

func userSubject(userID uint64) string {
	return "user:" + strconv.FormatUint(userID, 10)
}

func mfaErr(err error) error {
	switch {
	case errors.Is(err, mfa.ErrAlreadyEnabled):
		return ErrMFAAlreadyEnabled
	case errors.Is(err, mfa.ErrNotEnabled):
		return ErrMFANotEnabled
	case errors.Is(err, mfa.ErrNotPending):
		return ErrMFANotPending
	case errors.Is(err, mfa.ErrInvalidCode), errors.Is(err, mfa.ErrUnknownFactor):
		return ErrInvalidMFA
	case errors.Is(err, mfa.ErrUserNotFound):
		return ErrUnauthorized
	default:
		return err
	}
}
