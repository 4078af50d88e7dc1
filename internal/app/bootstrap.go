package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/moodmash/authcore/internal/security"
	"gopkg.in/yaml.v3"
)

// DefaultSQLiteDSN is used by WriteConfigFile when no DSN is given.
const DefaultSQLiteDSN = "./moodmash-auth.db"

// configFile is the starter layout written by WriteConfigFile.
type configFile struct {
	Server struct {
		Port            int    `yaml:"port"`
		ShutdownTimeout string `yaml:"shutdown-timeout"`
	} `yaml:"server"`
	DatabaseDSN string `yaml:"database-dsn"`
	JWT         struct {
		Secret string `yaml:"secret"`
		Expiry string `yaml:"expiry"`
	} `yaml:"jwt"`
	Redis struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
		Prefix  string `yaml:"prefix"`
	} `yaml:"redis"`
	WebAuthn struct {
		RPID    string   `yaml:"rp-id"`
		RPName  string   `yaml:"rp-name"`
		Origins []string `yaml:"origins"`
	} `yaml:"webauthn"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// ConfigExists reports whether the config file exists.
func ConfigExists(configPath string) bool {
	info, err := os.Stat(configPath)
	return err == nil && !info.IsDir()
}

// generateJWTSecret creates a random session signing secret.
func generateJWTSecret() (string, error) {
	secret, err := security.GenerateRandomString(32)
	if err != nil {
		return "", fmt.Errorf("generate jwt secret: %w", err)
	}
	return secret, nil
}

// WriteConfigFile writes a starter config with a fresh JWT secret. It refuses
// to overwrite an existing file.
func WriteConfigFile(configPath, dsn string, port int) error {
	if ConfigExists(configPath) {
		return fmt.Errorf("config file already exists: %s", configPath)
	}
	if dsn == "" {
		dsn = DefaultSQLiteDSN
	}
	secret, errSecret := generateJWTSecret()
	if errSecret != nil {
		return errSecret
	}

	var cfg configFile
	cfg.Server.Port = port
	cfg.Server.ShutdownTimeout = "10s"
	cfg.DatabaseDSN = dsn
	cfg.JWT.Secret = secret
	cfg.JWT.Expiry = "24h"
	cfg.Redis.Prefix = "moodmash"
	cfg.WebAuthn.RPID = "localhost"
	cfg.WebAuthn.RPName = "MoodMash"
	cfg.WebAuthn.Origins = []string{"http://localhost:3000"}
	cfg.Logging.Level = "info"

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(configPath)
	if errMkdir := os.MkdirAll(dir, 0755); errMkdir != nil {
		return fmt.Errorf("create config dir: %w", errMkdir)
	}

	if errWrite := os.WriteFile(configPath, data, 0600); errWrite != nil {
		return fmt.Errorf("write config file: %w", errWrite)
	}
	return nil
}
