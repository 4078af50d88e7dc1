package passkey

import (
	"encoding/json"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/moodmash/authcore/internal/models"
)

// webauthnUser adapts a stored user and its credentials to webauthn.User.
type webauthnUser struct {
	user        *models.User
	credentials []webauthn.Credential
}

func newWebAuthnUser(user *models.User, stored []models.WebAuthnCredential) *webauthnUser {
	creds := make([]webauthn.Credential, 0, len(stored))
	for i := range stored {
		creds = append(creds, toWebAuthnCredential(&stored[i]))
	}
	return &webauthnUser{user: user, credentials: creds}
}

func (u *webauthnUser) WebAuthnID() []byte { return u.user.WebAuthnHandle }

func (u *webauthnUser) WebAuthnName() string { return u.user.Email }

func (u *webauthnUser) WebAuthnDisplayName() string {
	if name := strings.TrimSpace(u.user.Name); name != "" {
		return name
	}
	return u.user.Email
}

func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

func (u *webauthnUser) exclusions() []protocol.CredentialDescriptor {
	list := make([]protocol.CredentialDescriptor, 0, len(u.credentials))
	for _, cred := range u.credentials {
		list = append(list, cred.Descriptor())
	}
	return list
}

// toWebAuthnCredential restores the flags the library re-checks on login.
func toWebAuthnCredential(c *models.WebAuthnCredential) webauthn.Credential {
	return webauthn.Credential{
		ID:              c.CredentialID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       decodeTransports(c.Transports),
		Flags: webauthn.CredentialFlags{
			UserPresent:    true,
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    c.AAGUID,
			SignCount: c.SignCount,
		},
	}
}

func fromWebAuthnCredential(userID uint64, cred *webauthn.Credential, name string) *models.WebAuthnCredential {
	deviceType := models.DeviceTypeSingle
	if cred.Flags.BackupEligible {
		deviceType = models.DeviceTypeMulti
	}
	return &models.WebAuthnCredential{
		UserID:          userID,
		CredentialID:    cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		Transports:      encodeTransports(cred.Transport),
		AAGUID:          cred.Authenticator.AAGUID,
		SignCount:       cred.Authenticator.SignCount,
		DeviceType:      deviceType,
		BackupEligible:  cred.Flags.BackupEligible,
		BackupState:     cred.Flags.BackupState,
		Name:            name,
	}
}

func encodeTransports(transports []protocol.AuthenticatorTransport) []byte {
	if len(transports) == 0 {
		return []byte("[]")
	}
	raw, errMarshal := json.Marshal(transports)
	if errMarshal != nil {
		return []byte("[]")
	}
	return raw
}

func decodeTransports(raw []byte) []protocol.AuthenticatorTransport {
	if len(raw) == 0 {
		return nil
	}
	var transports []protocol.AuthenticatorTransport
	if errUnmarshal := json.Unmarshal(raw, &transports); errUnmarshal != nil {
		return nil
	}
	return transports
}
