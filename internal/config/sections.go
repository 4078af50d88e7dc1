package config

import (
	"os"
	"strings"
	"time"
)

// RedisConfig holds the shared counter/challenge store connection settings.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

const defaultRedisPrefix = "moodmash"

// LoadRedisConfig loads redis settings. REDIS_ADDR enables redis when set.
func LoadRedisConfig(configPath string) (RedisConfig, error) {
	type fileConfig struct {
		Redis RedisConfig `yaml:"redis"`
	}
	var cfg fileConfig
	if errRead := readYAML(configPath, &cfg); errRead != nil {
		return RedisConfig{}, errRead
	}
	result := cfg.Redis
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		result.Addr = addr
		result.Enabled = true
	}
	if password := strings.TrimSpace(os.Getenv(EnvRedisPassword)); password != "" {
		result.Password = password
	}
	result.Addr = strings.TrimSpace(result.Addr)
	result.Prefix = strings.TrimSpace(result.Prefix)
	if result.Prefix == "" {
		result.Prefix = defaultRedisPrefix
	}
	if result.DB < 0 {
		result.DB = 0
	}
	if result.Addr == "" {
		result.Enabled = false
	}
	return result, nil
}

// WebAuthnConfig describes the relying party.
type WebAuthnConfig struct {
	RPID         string        `yaml:"rp-id"`
	RPName       string        `yaml:"rp-name"`
	Origins      []string      `yaml:"origins"`
	ChallengeTTL time.Duration `yaml:"challenge-ttl"`
}

const defaultChallengeTTL = 15 * time.Minute

// LoadWebAuthnConfig loads relying party settings with localhost defaults.
func LoadWebAuthnConfig(configPath string) (WebAuthnConfig, error) {
	type fileConfig struct {
		WebAuthn WebAuthnConfig `yaml:"webauthn"`
	}
	var cfg fileConfig
	if errRead := readYAML(configPath, &cfg); errRead != nil {
		return WebAuthnConfig{}, errRead
	}
	result := cfg.WebAuthn
	result.RPID = strings.TrimSpace(result.RPID)
	if result.RPID == "" {
		result.RPID = "localhost"
	}
	if strings.TrimSpace(result.RPName) == "" {
		result.RPName = "MoodMash"
	}
	origins := make([]string, 0, len(result.Origins))
	for _, origin := range result.Origins {
		if trimmed := strings.TrimRight(strings.TrimSpace(origin), "/"); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	result.Origins = origins
	if result.ChallengeTTL <= 0 {
		result.ChallengeTTL = defaultChallengeTTL
	}
	return result, nil
}

// MFAConfig controls TOTP provisioning.
type MFAConfig struct {
	Issuer          string        `yaml:"issuer"`
	BackupCodeCount int           `yaml:"backup-code-count"`
	TicketTTL       time.Duration `yaml:"ticket-ttl"`
}

// LoadMFAConfig loads MFA settings.
func LoadMFAConfig(configPath string) (MFAConfig, error) {
	type fileConfig struct {
		MFA MFAConfig `yaml:"mfa"`
	}
	var cfg fileConfig
	if errRead := readYAML(configPath, &cfg); errRead != nil {
		return MFAConfig{}, errRead
	}
	result := cfg.MFA
	if strings.TrimSpace(result.Issuer) == "" {
		result.Issuer = "MoodMash"
	}
	if result.BackupCodeCount <= 0 {
		result.BackupCodeCount = 10
	}
	if result.TicketTTL <= 0 {
		result.TicketTTL = 5 * time.Minute
	}
	return result, nil
}

// TokenConfig controls single-use email token lifetimes.
type TokenConfig struct {
	VerificationTTL  time.Duration `yaml:"verification-ttl"`
	PasswordResetTTL time.Duration `yaml:"password-reset-ttl"`
}

// LoadTokenConfig loads token lifetimes.
func LoadTokenConfig(configPath string) (TokenConfig, error) {
	type fileConfig struct {
		Tokens TokenConfig `yaml:"tokens"`
	}
	var cfg fileConfig
	if errRead := readYAML(configPath, &cfg); errRead != nil {
		return TokenConfig{}, errRead
	}
	result := cfg.Tokens
	if result.VerificationTTL <= 0 {
		result.VerificationTTL = 24 * time.Hour
	}
	if result.PasswordResetTTL <= 0 {
		result.PasswordResetTTL = time.Hour
	}
	return result, nil
}

// RateLimitPolicy is a (max, window) pair for one action type.
type RateLimitPolicy struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// LockoutConfig controls progressive lockout after failed logins.
type LockoutConfig struct {
	Threshold int           `yaml:"threshold"`
	Window    time.Duration `yaml:"window"`
}

// RateLimitConfig holds per-action overrides. Missing actions keep their defaults.
type RateLimitConfig struct {
	OutageMode string                     `yaml:"outage-mode"`
	Actions    map[string]RateLimitPolicy `yaml:"actions"`
	Lockout    LockoutConfig              `yaml:"lockout"`
}

// LoadRateLimitConfig loads rate limit overrides.
func LoadRateLimitConfig(configPath string) (RateLimitConfig, error) {
	type fileConfig struct {
		RateLimit RateLimitConfig `yaml:"rate-limit"`
	}
	var cfg fileConfig
	if errRead := readYAML(configPath, &cfg); errRead != nil {
		return RateLimitConfig{}, errRead
	}
	result := cfg.RateLimit
	result.OutageMode = strings.ToLower(strings.TrimSpace(result.OutageMode))
	if result.Actions == nil {
		result.Actions = map[string]RateLimitPolicy{}
	}
	return result, nil
}

// LoggingConfig controls log level and optional file output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	JSON       bool   `yaml:"json"`
}

// LoadLoggingConfig loads logging settings.
func LoadLoggingConfig(configPath string) LoggingConfig {
	type fileConfig struct {
		Logging LoggingConfig `yaml:"logging"`
	}
	var cfg fileConfig
	_ = readYAML(configPath, &cfg)
	result := cfg.Logging
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		result.Level = level
	}
	if strings.TrimSpace(result.Level) == "" {
		result.Level = "info"
	}
	return result
}
