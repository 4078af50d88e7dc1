package mfa

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/moodmash/authcore/internal/config"
	dbutil "github.com/moodmash/authcore/internal/db"
	"github.com/moodmash/authcore/internal/models"
	"github.com/moodmash/authcore/internal/store"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 15, 0, time.UTC)

func newTestManager(t *testing.T) (*Manager, *store.Store, *models.User) {
	t.Helper()
	conn, err := dbutil.Open(filepath.Join(t.TempDir(), "mfa-test.db"))
	require.NoError(t, err)
	require.NoError(t, dbutil.Migrate(conn))
	t.Cleanup(func() {
		if sqlDB, errDB := conn.DB(); errDB == nil {
			_ = sqlDB.Close()
		}
	})
	s := store.New(conn)
	user := &models.User{Email: "mfa@example.com", Password: "hash"}
	require.NoError(t, s.Users.Create(context.Background(), user))
	return NewManager(s.Users, config.MFAConfig{}, func() time.Time { return testNow }), s, user
}

func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func enroll(t *testing.T, m *Manager, user *models.User) *Setup {
	t.Helper()
	ctx := context.Background()
	setup, err := m.GenerateSecret(ctx, user.ID, user.Email)
	require.NoError(t, err)
	require.NoError(t, m.ConfirmSetup(ctx, user.ID, codeAt(t, setup.Secret, testNow), setup.Secret))
	return setup
}

func TestGenerateSecretPersistsPendingState(t *testing.T) {
	m, s, user := newTestManager(t)
	ctx := context.Background()

	setup, err := m.GenerateSecret(ctx, user.ID, user.Email)
	require.NoError(t, err)
	assert.NotEmpty(t, setup.Secret)
	assert.True(t, strings.HasPrefix(setup.OTPAuthURL, "otpauth://totp/"))
	assert.True(t, strings.HasPrefix(setup.QRCodeDataURL, "data:image/png;base64,"))
	require.Len(t, setup.BackupCodes, 10)
	pattern := regexp.MustCompile(`^[A-Z2-9]{5}-[A-Z2-9]{5}$`)
	for _, code := range setup.BackupCodes {
		assert.Regexp(t, pattern, code)
	}

	loaded, err := s.Users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, loaded.MFAEnabled)
	assert.Equal(t, setup.Secret, loaded.MFASecret)
	require.Len(t, loaded.MFABackupCodes, 10)
	assert.Equal(t, HashBackupCode(setup.BackupCodes[0]), loaded.MFABackupCodes[0])
	assert.NotContains(t, loaded.MFABackupCodes, setup.BackupCodes[0], "plaintext codes must not be stored")
}

func TestConfirmSetupEnables(t *testing.T) {
	m, s, user := newTestManager(t)
	ctx := context.Background()

	assert.ErrorIs(t, m.ConfirmSetup(ctx, user.ID, "123456", ""), ErrNotPending)

	setup, err := m.GenerateSecret(ctx, user.ID, user.Email)
	require.NoError(t, err)
	assert.ErrorIs(t, m.ConfirmSetup(ctx, user.ID, "000000", ""), ErrInvalidCode)
	assert.ErrorIs(t, m.ConfirmSetup(ctx, user.ID, codeAt(t, setup.Secret, testNow), "OTHERSECRET"), ErrInvalidCode)
	require.NoError(t, m.ConfirmSetup(ctx, user.ID, codeAt(t, setup.Secret, testNow), ""))

	loaded, err := s.Users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, loaded.MFAEnabled)

	_, err = m.GenerateSecret(ctx, user.ID, user.Email)
	assert.ErrorIs(t, err, ErrAlreadyEnabled)
}

func TestVerifyTOTPDriftWindow(t *testing.T) {
	m, _, _ := newTestManager(t)
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "MoodMash", AccountName: "x@example.com"})
	require.NoError(t, err)
	secret := key.Secret()

	assert.True(t, m.VerifyTOTP(codeAt(t, secret, testNow), secret))
	assert.True(t, m.VerifyTOTP(codeAt(t, secret, testNow.Add(-30*time.Second)), secret))
	assert.True(t, m.VerifyTOTP(codeAt(t, secret, testNow.Add(30*time.Second)), secret))
	assert.False(t, m.VerifyTOTP(codeAt(t, secret, testNow.Add(-90*time.Second)), secret))
	assert.False(t, m.VerifyTOTP("abc", secret))
	assert.False(t, m.VerifyTOTP("123456", "not base32 !!"))
	assert.False(t, m.VerifyTOTP("", secret))
}

func TestBackupCodeSingleUse(t *testing.T) {
	m, s, user := newTestManager(t)
	ctx := context.Background()
	setup := enroll(t, m, user)
	code := setup.BackupCodes[3]

	ok, err := m.Verify(ctx, user.ID, BackupCodeFactor{Code: strings.ToLower(code)})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Verify(ctx, user.ID, BackupCodeFactor{Code: code})
	require.NoError(t, err)
	assert.False(t, ok, "backup code must not be reusable")

	loaded, err := s.Users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.MFABackupCodes, 9)
	assert.NotContains(t, loaded.MFABackupCodes, HashBackupCode(code))
}

func TestVerifyDispatchesOnFactorKind(t *testing.T) {
	m, _, user := newTestManager(t)
	ctx := context.Background()
	setup := enroll(t, m, user)
	totpCode := codeAt(t, setup.Secret, testNow)

	ok, err := m.Verify(ctx, user.ID, TOTPFactor{Code: totpCode})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Verify(ctx, user.ID, BackupCodeFactor{Code: totpCode})
	require.NoError(t, err)
	assert.False(t, ok, "a totp code must not pass as a backup code")

	ok, err = m.Verify(ctx, user.ID, TOTPFactor{Code: setup.BackupCodes[0]})
	require.NoError(t, err)
	assert.False(t, ok, "a backup code must not pass as a totp code")

	_, err = m.Verify(ctx, user.ID, nil)
	assert.ErrorIs(t, err, ErrUnknownFactor)
}

func TestVerifyRequiresEnabled(t *testing.T) {
	m, _, user := newTestManager(t)
	_, err := m.Verify(context.Background(), user.ID, TOTPFactor{Code: "123456"})
	assert.ErrorIs(t, err, ErrNotEnabled)
	_, err = m.Verify(context.Background(), user.ID+99, TOTPFactor{Code: "123456"})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDisableClearsSecretAndCodesTogether(t *testing.T) {
	m, s, user := newTestManager(t)
	ctx := context.Background()
	enroll(t, m, user)

	require.NoError(t, m.Disable(ctx, user.ID))
	loaded, err := s.Users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, loaded.MFAEnabled)
	assert.Empty(t, loaded.MFASecret)
	assert.Empty(t, loaded.MFABackupCodes)

	_, err = m.GenerateSecret(ctx, user.ID, user.Email)
	assert.NoError(t, err, "re-enrollment after disable must work")
}

func TestRegenerateBackupCodes(t *testing.T) {
	m, s, user := newTestManager(t)
	ctx := context.Background()
	setup := enroll(t, m, user)

	_, err := m.RegenerateBackupCodes(ctx, user.ID, TOTPFactor{Code: "000000"})
	assert.ErrorIs(t, err, ErrInvalidCode)

	fresh, err := m.RegenerateBackupCodes(ctx, user.ID, TOTPFactor{Code: codeAt(t, setup.Secret, testNow)})
	require.NoError(t, err)
	require.Len(t, fresh, 10)

	loaded, err := s.Users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotContains(t, loaded.MFABackupCodes, HashBackupCode(setup.BackupCodes[0]))
	assert.Contains(t, loaded.MFABackupCodes, HashBackupCode(fresh[0]))
}

func TestFactorFromRequest(t *testing.T) {
	assert.Equal(t, BackupCodeFactor{Code: "x"}, FactorFromRequest("x", true))
	assert.Equal(t, TOTPFactor{Code: "x"}, FactorFromRequest("x", false))
	assert.Equal(t, "backup_code", Kind(BackupCodeFactor{}))
	assert.Equal(t, "none", Kind(nil))
}

func TestCanonicalBackupCode(t *testing.T) {
	assert.Equal(t, "ABCDE12345", CanonicalBackupCode(" abcde-12345 "))
	assert.Equal(t, HashBackupCode("ABCDE-12345"), HashBackupCode("abcde 12345"))
}
