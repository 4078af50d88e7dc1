// Package security holds password hashing, session tokens and the WebAuthn
// relying party setup.
package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/moodmash/authcore/internal/config"
)

// ErrWebAuthnConfig is returned when the relying party id or origins are missing.
var ErrWebAuthnConfig = errors.New("webauthn: rp id and at least one origin are required")

// NewWebAuthn builds the relying party from configuration.
func NewWebAuthn(cfg config.WebAuthnConfig) (*webauthn.WebAuthn, error) {
	if strings.TrimSpace(cfg.RPID) == "" || len(cfg.Origins) == 0 {
		return nil, ErrWebAuthnConfig
	}
	timeout := cfg.ChallengeTTL
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	wa, errNew := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPName,
		RPOrigins:     cfg.Origins,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: protocol.VerificationPreferred,
		},
		Timeouts: webauthn.TimeoutsConfig{
			Login: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    timeout,
				TimeoutUVD: timeout,
			},
			Registration: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    timeout,
				TimeoutUVD: timeout,
			},
		},
	})
	if errNew != nil {
		return nil, fmt.Errorf("webauthn: %w", errNew)
	}
	return wa, nil
}
