package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/moodmash/authcore/internal/config"
	"github.com/moodmash/authcore/internal/db"
	"github.com/moodmash/authcore/internal/models"
)

func TestWriteConfigFileIsLoadable(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "nested", "config.yaml")
	dsn := filepath.Join(dir, "auth.db")

	if errWrite := WriteConfigFile(configPath, dsn, 8400); errWrite != nil {
		t.Fatalf("write config: %v", errWrite)
	}
	if !ConfigExists(configPath) {
		t.Fatalf("expected config file to exist")
	}
	if errWrite := WriteConfigFile(configPath, dsn, 8400); errWrite == nil {
		t.Fatalf("expected overwrite to be refused")
	}

	gotDSN, errDSN := config.LoadDatabaseDSN(configPath)
	if errDSN != nil || gotDSN != dsn {
		t.Fatalf("dsn = %q, %v", gotDSN, errDSN)
	}
	jwtCfg, errJWT := config.LoadJWTConfig(configPath)
	if errJWT != nil {
		t.Fatalf("load jwt: %v", errJWT)
	}
	if len(jwtCfg.Secret) < 32 || jwtCfg.Expiry != 24*time.Hour {
		t.Fatalf("unexpected jwt config: %+v", jwtCfg)
	}
	serverCfg := config.LoadServerConfig(configPath, 1)
	if serverCfg.Port != 8400 || serverCfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected server config: %+v", serverCfg)
	}
}

func TestBuildWithRedisServesHealthz(t *testing.T) {
	mr := miniredis.RunT(t)
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if errWrite := WriteConfigFile(configPath, filepath.Join(dir, "auth.db"), 8401); errWrite != nil {
		t.Fatalf("write config: %v", errWrite)
	}
	t.Setenv(config.EnvRedisAddr, mr.Addr())

	components, errBuild := Build(context.Background(), configPath)
	if errBuild != nil {
		t.Fatalf("build: %v", errBuild)
	}
	t.Cleanup(components.Close)
	if components.Redis == nil {
		t.Fatalf("expected redis client")
	}

	gin.SetMode(gin.TestMode)
	engine, errEngine := NewEngine(components, config.ServerConfig{})
	if errEngine != nil {
		t.Fatalf("engine: %v", errEngine)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v0/auth/webauthn/login/options", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("login options status = %d body=%s", rec.Code, rec.Body.String())
	}
	if len(mr.Keys()) == 0 {
		t.Fatalf("expected rate limit and challenge keys in redis")
	}
}

func TestMigrateCreatesSchemaAndReleasesDatabase(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	dsn := filepath.Join(dir, "migrate.db")
	if errWrite := WriteConfigFile(configPath, dsn, 8402); errWrite != nil {
		t.Fatalf("write config: %v", errWrite)
	}

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	if errMigrate := Migrate(canceled, config.AppConfig{ConfigPath: configPath}); errMigrate == nil {
		t.Fatalf("expected canceled context to abort migration")
	}

	if errMigrate := Migrate(context.Background(), config.AppConfig{ConfigPath: configPath}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		t.Fatalf("reopen: %v", errOpen)
	}
	defer closeDB(conn)
	if !conn.Migrator().HasTable(&models.User{}) || !conn.Migrator().HasColumn(&models.User{}, "session_version") {
		t.Fatalf("expected users table with session_version column")
	}
	if !conn.Migrator().HasTable(&models.WebAuthnCredential{}) || !conn.Migrator().HasTable(&models.VerificationToken{}) {
		t.Fatalf("expected credential and token tables")
	}
}

func TestBuildRequiresJWTSecret(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.EnvDBConnection, filepath.Join(dir, "auth.db"))
	t.Setenv(config.EnvJWTSecret, "")
	if _, errBuild := Build(context.Background(), filepath.Join(dir, "missing.yaml")); errBuild == nil {
		t.Fatalf("expected missing jwt secret error")
	}
}
