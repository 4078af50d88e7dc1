// Package passkey runs WebAuthn registration and authentication ceremonies
// and manages stored credentials.
package passkey

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/moodmash/authcore/internal/challenge"
	"github.com/moodmash/authcore/internal/logging"
	"github.com/moodmash/authcore/internal/models"
	"github.com/moodmash/authcore/internal/security"
	"github.com/moodmash/authcore/internal/store"
)

const (
	userHandleBytes    = 64
	maxCredentialName  = 64
	defaultCeremonyTTL = 15 * time.Minute
)

var (
	// ErrCredentialNotRegistered is returned for unknown credential ids.
	ErrCredentialNotRegistered = errors.New("authenticator not registered")
	// ErrChallengeNotFound is returned for expired, replayed or foreign ceremonies.
	ErrChallengeNotFound = errors.New("challenge expired or not found")
	// ErrSignatureInvalid is returned when ceremony verification fails.
	ErrSignatureInvalid = errors.New("signature invalid")
	// ErrCounterRegression is returned when the signature counter did not increase.
	ErrCounterRegression = errors.New("signature counter regression")
	// ErrRegistrationFailed is returned when an attestation does not verify.
	ErrRegistrationFailed = errors.New("registration verification failed")
	// ErrCredentialExists is returned when the authenticator is already registered.
	ErrCredentialExists = errors.New("credential already registered")
	// ErrInvalidResponse is returned for malformed client payloads.
	ErrInvalidResponse = errors.New("malformed credential response")
	// ErrLastCredential is returned when deleting the only remaining credential.
	ErrLastCredential = errors.New("cannot delete last credential")
	// ErrCredentialNotFound is returned for credential CRUD on unknown ids.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrInvalidName is returned for empty or oversized friendly names.
	ErrInvalidName = errors.New("credential name must be 1-64 characters")
)

// ceremony is the server-side state of one registration or login.
type ceremony struct {
	UserID  uint64               `json:"user_id"`
	Session webauthn.SessionData `json:"session"`
}

// LoginResult is a verified assertion.
type LoginResult struct {
	User       *models.User
	Credential *models.WebAuthnCredential
}

// CredentialInfo is credential metadata without key material.
type CredentialInfo struct {
	ID             uint64     `json:"id"`
	CredentialID   string     `json:"credentialId"`
	Name           string     `json:"name"`
	DeviceType     string     `json:"deviceType"`
	BackupEligible bool       `json:"backupEligible"`
	BackupState    bool       `json:"backupState"`
	Transports     []string   `json:"transports"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastUsedAt     *time.Time `json:"lastUsedAt,omitempty"`
}

// Manager runs ceremonies against a relying party.
type Manager struct {
	wa          *webauthn.WebAuthn
	users       *store.Users
	credentials *store.Credentials
	challenges  challenge.Store
	ttl         time.Duration
	nowFn       func() time.Time
}

// NewManager constructs a Manager.
func NewManager(wa *webauthn.WebAuthn, s *store.Store, challenges challenge.Store, ttl time.Duration, nowFn func() time.Time) *Manager {
	if ttl <= 0 {
		ttl = defaultCeremonyTTL
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Manager{
		wa:          wa,
		users:       s.Users,
		credentials: s.Credentials,
		challenges:  challenges,
		ttl:         ttl,
		nowFn:       nowFn,
	}
}

// BeginRegistration issues creation options excluding the user's existing credentials.
func (m *Manager) BeginRegistration(ctx context.Context, user *models.User) (*protocol.CredentialCreation, string, error) {
	user, errHandle := m.ensureHandle(ctx, user)
	if errHandle != nil {
		return nil, "", errHandle
	}
	wUser, errLoad := m.loadWebAuthnUser(ctx, user)
	if errLoad != nil {
		return nil, "", errLoad
	}
	options, session, errBegin := m.wa.BeginRegistration(wUser,
		webauthn.WithExclusions(wUser.exclusions()),
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementPreferred),
	)
	if errBegin != nil {
		return nil, "", fmt.Errorf("passkey: begin registration: %w", errBegin)
	}
	id, errSave := m.saveCeremony(ctx, challenge.KindRegistration, user.ID, session)
	if errSave != nil {
		return nil, "", errSave
	}
	return options, id, nil
}

// FinishRegistration verifies an attestation and stores the new credential.
func (m *Manager) FinishRegistration(ctx context.Context, user *models.User, challengeID string, body []byte, name string) (*models.WebAuthnCredential, error) {
	cer, errTake := m.takeCeremony(ctx, challenge.KindRegistration, challengeID)
	if errTake != nil {
		return nil, errTake
	}
	if cer.UserID != user.ID {
		m.reject("webauthn_registration_failed", "challenge_user_mismatch", nil)
		return nil, ErrChallengeNotFound
	}
	parsed, errParse := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(body))
	if errParse != nil {
		m.reject("webauthn_registration_failed", "malformed_response", errParse)
		return nil, ErrInvalidResponse
	}
	wUser, errLoad := m.loadWebAuthnUser(ctx, user)
	if errLoad != nil {
		return nil, errLoad
	}
	cred, errCreate := m.wa.CreateCredential(wUser, cer.Session, parsed)
	if errCreate != nil {
		m.reject("webauthn_registration_failed", "attestation_invalid", errCreate)
		return nil, ErrRegistrationFailed
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultCredentialName(cred)
	}
	if len(name) > maxCredentialName {
		name = name[:maxCredentialName]
	}
	record := fromWebAuthnCredential(user.ID, cred, name)
	if errSave := m.credentials.Create(ctx, record); errSave != nil {
		if errors.Is(errSave, store.ErrDuplicate) {
			return nil, ErrCredentialExists
		}
		return nil, fmt.Errorf("passkey: save credential: %w", errSave)
	}
	return record, nil
}

// BeginLogin issues assertion options. A nil user, or one without
// credentials, gets a discoverable (usernameless) ceremony.
func (m *Manager) BeginLogin(ctx context.Context, user *models.User) (*protocol.CredentialAssertion, string, error) {
	var (
		options  *protocol.CredentialAssertion
		session  *webauthn.SessionData
		userID   uint64
		errBegin error
		wUser    *webauthnUser
	)
	if user != nil && len(user.WebAuthnHandle) > 0 {
		loaded, errLoad := m.loadWebAuthnUser(ctx, user)
		if errLoad != nil {
			return nil, "", errLoad
		}
		wUser = loaded
	}
	if wUser != nil && len(wUser.credentials) > 0 {
		userID = user.ID
		options, session, errBegin = m.wa.BeginLogin(wUser)
	} else {
		options, session, errBegin = m.wa.BeginDiscoverableLogin()
	}
	if errBegin != nil {
		return nil, "", fmt.Errorf("passkey: begin login: %w", errBegin)
	}
	id, errSave := m.saveCeremony(ctx, challenge.KindLogin, userID, session)
	if errSave != nil {
		return nil, "", errSave
	}
	return options, id, nil
}

// FinishLogin verifies an assertion, enforces a strictly increasing signature
// counter and persists it with a compare-and-set.
func (m *Manager) FinishLogin(ctx context.Context, requestID string, body []byte) (*LoginResult, error) {
	cer, errTake := m.takeCeremony(ctx, challenge.KindLogin, requestID)
	if errTake != nil {
		return nil, errTake
	}
	parsed, errParse := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(body))
	if errParse != nil {
		m.reject("webauthn_login_failed", "malformed_response", errParse)
		return nil, ErrInvalidResponse
	}

	stored, errFind := m.credentials.FindByCredentialID(ctx, parsed.RawID)
	if errFind != nil {
		if errors.Is(errFind, store.ErrNotFound) {
			m.reject("webauthn_login_failed", "credential_not_registered", nil)
			return nil, ErrCredentialNotRegistered
		}
		return nil, fmt.Errorf("passkey: find credential: %w", errFind)
	}
	if cer.UserID != 0 && cer.UserID != stored.UserID {
		m.reject("webauthn_login_failed", "credential_user_mismatch", nil)
		return nil, ErrCredentialNotRegistered
	}
	user, errUser := m.credentialOwner(ctx, cer, stored, parsed.Response.UserHandle)
	if errUser != nil {
		return nil, errUser
	}
	wUser, errLoad := m.loadWebAuthnUser(ctx, user)
	if errLoad != nil {
		return nil, errLoad
	}

	if cer.UserID != 0 {
		_, errValidate := m.wa.ValidateLogin(wUser, cer.Session, parsed)
		if errValidate != nil {
			m.reject("webauthn_login_failed", "signature_invalid", errValidate)
			return nil, ErrSignatureInvalid
		}
	} else {
		handler := func(rawID, userHandle []byte) (webauthn.User, error) {
			if !bytes.Equal(userHandle, user.WebAuthnHandle) {
				return nil, ErrCredentialNotRegistered
			}
			return wUser, nil
		}
		_, errValidate := m.wa.ValidateDiscoverableLogin(handler, cer.Session, parsed)
		if errValidate != nil {
			m.reject("webauthn_login_failed", "signature_invalid", errValidate)
			return nil, ErrSignatureInvalid
		}
	}

	next := parsed.Response.AuthenticatorData.Counter
	if next <= stored.SignCount {
		logging.SecurityEvent("webauthn_counter_regression", "counter_not_increasing").
			WithField("user_id", user.ID).
			WithField("credential", stored.ID).
			WithField("stored_count", stored.SignCount).
			WithField("received_count", next).
			Warn("possible cloned authenticator or replayed assertion")
		return nil, ErrCounterRegression
	}
	now := m.nowFn().UTC()
	updated, errUpdate := m.credentials.UpdateCounter(ctx, stored.ID, stored.SignCount, next, now)
	if errUpdate != nil {
		return nil, fmt.Errorf("passkey: update counter: %w", errUpdate)
	}
	if !updated {
		logging.SecurityEvent("webauthn_counter_regression", "concurrent_counter_update").
			WithField("user_id", user.ID).
			WithField("credential", stored.ID).
			Warn("signature counter changed during verification")
		return nil, ErrCounterRegression
	}
	stored.SignCount = next
	stored.LastUsedAt = &now
	return &LoginResult{User: user, Credential: stored}, nil
}

// credentialOwner loads the account behind an assertion. Discoverable logins
// resolve it from the returned user handle, which must own the credential.
func (m *Manager) credentialOwner(ctx context.Context, cer *ceremony, stored *models.WebAuthnCredential, userHandle []byte) (*models.User, error) {
	var (
		user    *models.User
		errUser error
	)
	if cer.UserID != 0 {
		user, errUser = m.users.FindByID(ctx, stored.UserID)
	} else {
		user, errUser = m.users.FindByHandle(ctx, userHandle)
	}
	if errUser != nil {
		if errors.Is(errUser, store.ErrNotFound) {
			m.reject("webauthn_login_failed", "credential_owner_missing", nil)
			return nil, ErrCredentialNotRegistered
		}
		return nil, fmt.Errorf("passkey: load user: %w", errUser)
	}
	if user.ID != stored.UserID {
		m.reject("webauthn_login_failed", "user_handle_mismatch", nil)
		return nil, ErrCredentialNotRegistered
	}
	return user, nil
}

// List returns the user's credentials without public keys.
func (m *Manager) List(ctx context.Context, userID uint64) ([]CredentialInfo, error) {
	rows, errList := m.credentials.ListByUser(ctx, userID)
	if errList != nil {
		return nil, fmt.Errorf("passkey: list: %w", errList)
	}
	out := make([]CredentialInfo, 0, len(rows))
	for i := range rows {
		out = append(out, Describe(&rows[i]))
	}
	return out, nil
}

// Delete removes a credential unless it is the user's last one.
func (m *Manager) Delete(ctx context.Context, userID, id uint64) error {
	errDelete := m.credentials.DeleteForUser(ctx, userID, id)
	switch {
	case errDelete == nil:
		return nil
	case errors.Is(errDelete, store.ErrLastCredential):
		return ErrLastCredential
	case errors.Is(errDelete, store.ErrNotFound):
		return ErrCredentialNotFound
	default:
		return fmt.Errorf("passkey: delete: %w", errDelete)
	}
}

// Rename sets a credential's friendly name.
func (m *Manager) Rename(ctx context.Context, userID, id uint64, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxCredentialName {
		return "", ErrInvalidName
	}
	if errRename := m.credentials.Rename(ctx, userID, id, name); errRename != nil {
		if errors.Is(errRename, store.ErrNotFound) {
			return "", ErrCredentialNotFound
		}
		return "", fmt.Errorf("passkey: rename: %w", errRename)
	}
	return name, nil
}

// Describe converts a stored credential into public metadata.
func Describe(c *models.WebAuthnCredential) CredentialInfo {
	transports := make([]string, 0)
	for _, t := range decodeTransports(c.Transports) {
		transports = append(transports, string(t))
	}
	return CredentialInfo{
		ID:             c.ID,
		CredentialID:   protocol.URLEncodedBase64(c.CredentialID).String(),
		Name:           c.Name,
		DeviceType:     c.DeviceType,
		BackupEligible: c.BackupEligible,
		BackupState:    c.BackupState,
		Transports:     transports,
		CreatedAt:      c.CreatedAt,
		LastUsedAt:     c.LastUsedAt,
	}
}

func (m *Manager) ensureHandle(ctx context.Context, user *models.User) (*models.User, error) {
	if len(user.WebAuthnHandle) > 0 {
		return user, nil
	}
	handle, errRandom := security.RandomBytes(userHandleBytes)
	if errRandom != nil {
		return nil, errRandom
	}
	errSet := m.users.SetWebAuthnHandle(ctx, user.ID, handle)
	if errSet != nil && !errors.Is(errSet, store.ErrConflict) {
		return nil, fmt.Errorf("passkey: set user handle: %w", errSet)
	}
	reloaded, errFind := m.users.FindByID(ctx, user.ID)
	if errFind != nil {
		return nil, fmt.Errorf("passkey: reload user: %w", errFind)
	}
	return reloaded, nil
}

func (m *Manager) loadWebAuthnUser(ctx context.Context, user *models.User) (*webauthnUser, error) {
	stored, errList := m.credentials.ListByUser(ctx, user.ID)
	if errList != nil {
		return nil, fmt.Errorf("passkey: list credentials: %w", errList)
	}
	return newWebAuthnUser(user, stored), nil
}

func (m *Manager) saveCeremony(ctx context.Context, kind string, userID uint64, session *webauthn.SessionData) (string, error) {
	raw, errMarshal := json.Marshal(ceremony{UserID: userID, Session: *session})
	if errMarshal != nil {
		return "", fmt.Errorf("passkey: encode session: %w", errMarshal)
	}
	id := challenge.NewID()
	if errPut := m.challenges.Put(ctx, challenge.Key(kind, id), raw, m.ttl); errPut != nil {
		return "", fmt.Errorf("passkey: store challenge: %w", errPut)
	}
	return id, nil
}

func (m *Manager) takeCeremony(ctx context.Context, kind, id string) (*ceremony, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrChallengeNotFound
	}
	raw, errTake := m.challenges.Take(ctx, challenge.Key(kind, id))
	if errTake != nil {
		if errors.Is(errTake, challenge.ErrNotFound) {
			m.reject("webauthn_ceremony_failed", "challenge_not_found", nil)
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("passkey: take challenge: %w", errTake)
	}
	var cer ceremony
	if errUnmarshal := json.Unmarshal(raw, &cer); errUnmarshal != nil {
		return nil, fmt.Errorf("passkey: decode session: %w", errUnmarshal)
	}
	return &cer, nil
}

func (m *Manager) reject(event, reason string, err error) {
	entry := logging.SecurityEvent(event, reason)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Info("webauthn ceremony rejected")
}

func defaultCredentialName(cred *webauthn.Credential) string {
	if cred.Flags.BackupEligible {
		return "Synced passkey"
	}
	return "Security key"
}
