package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/moodmash/authcore/internal/models"
	"github.com/moodmash/authcore/internal/passkey"
	"github.com/moodmash/authcore/internal/ratelimit"
	"github.com/moodmash/authcore/internal/store"
	log "github.com/sirupsen/logrus"
)

// BeginPasskeyLogin issues assertion options. Unknown or empty e-mails get a
// discoverable ceremony so the response does not reveal whether an account
// exists. The per-IP webauthn bucket is enforced by the HTTP layer.
func (s *Service) BeginPasskeyLogin(ctx context.Context, rawEmail, ip string) (*protocol.CredentialAssertion, string, error) {
	email := store.NormalizeEmail(rawEmail)
	var user *models.User
	if email != "" {
		if errGate := s.gate(ctx, ratelimit.ActionWebAuthn, email); errGate != nil {
			return nil, "", errGate
		}
		found, errFind := s.users.FindByEmail(ctx, email)
		switch {
		case errFind == nil && !found.Disabled:
			user = found
		case errors.Is(errFind, store.ErrNotFound):
			log.WithField("ip", ip).Debug("auth: passkey options for unknown email")
		case errFind != nil:
			return nil, "", fmt.Errorf("auth: load user: %w", errFind)
		}
	}
	return s.passkeys.BeginLogin(ctx, user)
}

// FinishPasskeyLogin verifies an assertion and mints a session.
func (s *Service) FinishPasskeyLogin(ctx context.Context, requestID string, body []byte, ip string) (*LoginResult, error) {
	if strings.TrimSpace(requestID) == "" || len(body) == 0 {
		return nil, fmt.Errorf("%w: credential and requestId are required", ErrInvalidInput)
	}
	result, errFinish := s.passkeys.FinishLogin(ctx, requestID, body)
	if errFinish != nil {
		return nil, passkeyErr(errFinish)
	}
	user := result.User
	if user.Disabled {
		return nil, ErrAuthenticationFailed
	}
	s.limiter.Reset(ctx, ratelimit.ActionLogin, user.Email)
	s.limiter.ResetFailures(ctx, user.Email)
	log.WithFields(log.Fields{"user_id": user.ID, "credential": result.Credential.ID, "ip": ip}).Info("auth: passkey login")
	return s.loggedIn(user)
}

// BeginPasskeyRegistration issues creation options for a signed-in user.
func (s *Service) BeginPasskeyRegistration(ctx context.Context, userID uint64) (*protocol.CredentialCreation, string, error) {
	user, errUser := s.Me(ctx, userID)
	if errUser != nil {
		return nil, "", errUser
	}
	return s.passkeys.BeginRegistration(ctx, user)
}

// FinishPasskeyRegistration verifies an attestation for a signed-in user.
func (s *Service) FinishPasskeyRegistration(ctx context.Context, userID uint64, challengeID string, body []byte, name string) (*models.WebAuthnCredential, error) {
	if strings.TrimSpace(challengeID) == "" || len(body) == 0 {
		return nil, fmt.Errorf("%w: credential and challengeId are required", ErrInvalidInput)
	}
	user, errUser := s.Me(ctx, userID)
	if errUser != nil {
		return nil, errUser
	}
	cred, errFinish := s.passkeys.FinishRegistration(ctx, user, challengeID, body, name)
	if errFinish != nil {
		return nil, passkeyErr(errFinish)
	}
	log.WithFields(log.Fields{"user_id": user.ID, "credential": cred.ID}).Info("auth: passkey registered")
	return cred, nil
}

// passkeyErr folds ceremony failures into ErrAuthenticationFailed, keeping the cause.
func passkeyErr(err error) error {
	switch {
	case errors.Is(err, passkey.ErrChallengeNotFound),
		errors.Is(err, passkey.ErrCredentialNotRegistered),
		errors.Is(err, passkey.ErrSignatureInvalid),
		errors.Is(err, passkey.ErrCounterRegression),
		errors.Is(err, passkey.ErrRegistrationFailed),
		errors.Is(err, passkey.ErrInvalidResponse):
		return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	default:
		return err
	}
}
