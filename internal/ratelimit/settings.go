package ratelimit

import (
	"strings"
	"time"

	"github.com/moodmash/authcore/internal/config"
)

// Outage modes applied while the shared counter store is unreachable.
const (
	OutageModeOpen  = "open"
	OutageModeLocal = "local"
)

const (
	defaultLockoutThreshold = 5
	defaultLockoutWindow    = 15 * time.Minute
)

// DefaultPolicies returns the built-in limits for every action.
func DefaultPolicies() map[Action]Policy {
	return map[Action]Policy{
		ActionGeneral:       {Max: 100, Window: time.Minute},
		ActionAPI:           {Max: 60, Window: time.Minute},
		ActionLogin:         {Max: 5, Window: 15 * time.Minute},
		ActionRegister:      {Max: 5, Window: time.Hour},
		ActionMFA:           {Max: 5, Window: 5 * time.Minute},
		ActionPasswordReset: {Max: 3, Window: time.Hour},
		ActionVerifyEmail:   {Max: 10, Window: time.Hour},
		ActionWebAuthn:      {Max: 20, Window: 5 * time.Minute},
	}
}

// Settings is the resolved limiter configuration.
type Settings struct {
	Policies         map[Action]Policy
	LockoutThreshold int
	LockoutWindow    time.Duration
	OutageMode       string
}

// SettingsFromConfig merges file overrides onto the defaults. Overrides with a
// non-positive max or window are ignored.
func SettingsFromConfig(cfg config.RateLimitConfig) Settings {
	policies := DefaultPolicies()
	for name, override := range cfg.Actions {
		action := Action(strings.ToLower(strings.TrimSpace(name)))
		if action == "" || override.Max <= 0 || override.Window <= 0 {
			continue
		}
		policies[action] = Policy{Max: override.Max, Window: override.Window}
	}

	settings := Settings{
		Policies:         policies,
		LockoutThreshold: cfg.Lockout.Threshold,
		LockoutWindow:    cfg.Lockout.Window,
		OutageMode:       OutageModeOpen,
	}
	if settings.LockoutThreshold <= 0 {
		settings.LockoutThreshold = defaultLockoutThreshold
	}
	if settings.LockoutWindow <= 0 {
		settings.LockoutWindow = defaultLockoutWindow
	}
	if strings.EqualFold(strings.TrimSpace(cfg.OutageMode), OutageModeLocal) {
		settings.OutageMode = OutageModeLocal
	}
	return settings
}
