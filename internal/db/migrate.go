package db

import (
	"fmt"

	"github.com/moodmash/authcore/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite:
		return autoMigrate(conn)
	case DialectPostgres, "":
		return migratePostgres(conn)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

func autoMigrate(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(
		&models.User{},
		&models.WebAuthnCredential{},
		&models.VerificationToken{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	return nil
}

// migratePostgres applies PostgreSQL-specific constraints on top of AutoMigrate.
func migratePostgres(conn *gorm.DB) error {
	if errAuto := autoMigrate(conn); errAuto != nil {
		return errAuto
	}

	if errFK := conn.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM pg_constraint WHERE conname = 'fk_webauthn_credentials_user'
			) THEN
				ALTER TABLE webauthn_credentials
				ADD CONSTRAINT fk_webauthn_credentials_user
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE;
			END IF;
		END $$;
	`).Error; errFK != nil {
		return fmt.Errorf("db: add credential fk: %w", errFK)
	}

	if errCheck := conn.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM pg_constraint WHERE conname = 'chk_webauthn_credentials_sign_count'
			) THEN
				ALTER TABLE webauthn_credentials
				ADD CONSTRAINT chk_webauthn_credentials_sign_count CHECK (sign_count >= 0);
			END IF;
		END $$;
	`).Error; errCheck != nil {
		return fmt.Errorf("db: add sign count check: %w", errCheck)
	}

	if errEmailIndex := conn.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email_lower ON users (LOWER(email))
	`).Error; errEmailIndex != nil {
		return fmt.Errorf("db: create email index: %w", errEmailIndex)
	}
	return nil
}
