package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dbutil "github.com/moodmash/authcore/internal/db"
	"github.com/moodmash/authcore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := dbutil.Open(filepath.Join(t.TempDir(), "store-test.db"))
	require.NoError(t, err)
	require.NoError(t, dbutil.Migrate(conn))
	t.Cleanup(func() {
		if sqlDB, errDB := conn.DB(); errDB == nil {
			_ = sqlDB.Close()
		}
	})
	return New(conn)
}

func createUser(t *testing.T, s *Store, email string) *models.User {
	t.Helper()
	user := &models.User{Email: email, Password: "hash"}
	require.NoError(t, s.Users.Create(context.Background(), user))
	return user
}

func TestUsersCreateNormalizesAndRejectsDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := createUser(t, s, "  Alice@Example.COM ")
	assert.Equal(t, "alice@example.com", user.Email)

	found, err := s.Users.FindByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	errDup := s.Users.Create(ctx, &models.User{Email: "alice@EXAMPLE.com"})
	assert.True(t, errors.Is(errDup, ErrDuplicate), "expected ErrDuplicate, got %v", errDup)

	_, errMissing := s.Users.FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, errMissing, ErrNotFound)
}

func TestUsersFindByHandle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := &models.User{Email: "h@example.com", WebAuthnHandle: []byte("handle-1")}
	require.NoError(t, s.Users.Create(ctx, user))
	createUser(t, s, "nohandle1@example.com")
	createUser(t, s, "nohandle2@example.com")

	found, err := s.Users.FindByHandle(ctx, []byte("handle-1"))
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	_, errEmpty := s.Users.FindByHandle(ctx, nil)
	assert.ErrorIs(t, errEmpty, ErrNotFound)

	plain := createUser(t, s, "late-handle@example.com")
	require.NoError(t, s.Users.SetWebAuthnHandle(ctx, plain.ID, []byte("handle-2")))
	assert.ErrorIs(t, s.Users.SetWebAuthnHandle(ctx, plain.ID, []byte("handle-3")), ErrConflict)
	assert.ErrorIs(t, s.Users.SetWebAuthnHandle(ctx, plain.ID+100, []byte("handle-4")), ErrNotFound)
}

func TestUsersPasswordAndVerification(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createUser(t, s, "p@example.com")

	require.NoError(t, s.Users.UpdatePassword(ctx, user.ID, "new-hash"))
	assert.ErrorIs(t, s.Users.UpdatePassword(ctx, user.ID+100, "x"), ErrNotFound)

	now := time.Now().UTC()
	require.NoError(t, s.Users.MarkEmailVerified(ctx, "P@example.com", now))
	assert.ErrorIs(t, s.Users.MarkEmailVerified(ctx, "missing@example.com", now), ErrNotFound)

	loaded, err := s.Users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", loaded.Password)
	assert.True(t, loaded.EmailVerified())
	assert.Zero(t, loaded.SessionVersion)

	require.NoError(t, s.Users.ReplacePassword(ctx, user.ID, "reset-hash"))
	assert.ErrorIs(t, s.Users.ReplacePassword(ctx, user.ID+100, "x"), ErrNotFound)
	replaced, err := s.Users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "reset-hash", replaced.Password)
	assert.Equal(t, int64(1), replaced.SessionVersion)
}

func TestUsersMFALifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createUser(t, s, "mfa@example.com")

	assert.ErrorIs(t, s.Users.EnableMFA(ctx, user.ID), ErrConflict)

	require.NoError(t, s.Users.SaveMFASetup(ctx, user.ID, "SECRET", models.BackupCodes{"c1", "c2"}))
	require.NoError(t, s.Users.EnableMFA(ctx, user.ID))
	assert.ErrorIs(t, s.Users.SaveMFASetup(ctx, user.ID, "OTHER", nil), ErrConflict)
	assert.ErrorIs(t, s.Users.SaveMFASetup(ctx, user.ID+100, "OTHER", nil), ErrNotFound)

	loaded, err := s.Users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, loaded.MFAEnabled)
	assert.Equal(t, "SECRET", loaded.MFASecret)
	assert.Equal(t, models.BackupCodes{"c1", "c2"}, loaded.MFABackupCodes)

	require.NoError(t, s.Users.ClearMFA(ctx, user.ID))
	cleared, err := s.Users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, cleared.MFAEnabled)
	assert.Empty(t, cleared.MFASecret)
	assert.Empty(t, cleared.MFABackupCodes)
	assert.Greater(t, cleared.MFAVersion, loaded.MFAVersion)
	assert.Equal(t, loaded.SessionVersion+1, cleared.SessionVersion)
}

func TestUsersConsumeBackupCodeIsSingleUse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createUser(t, s, "backup@example.com")
	require.NoError(t, s.Users.SaveMFASetup(ctx, user.ID, "SECRET", models.BackupCodes{"h1", "h2"}))

	ok, err := s.Users.ConsumeBackupCode(ctx, user.ID, "h1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Users.ConsumeBackupCode(ctx, user.ID, "h1")
	require.NoError(t, err)
	assert.False(t, ok)

	loaded, err := s.Users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BackupCodes{"h2"}, loaded.MFABackupCodes)
}

func TestUsersConsumeBackupCodeConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createUser(t, s, "race@example.com")
	require.NoError(t, s.Users.SaveMFASetup(ctx, user.ID, "SECRET", models.BackupCodes{"h1"}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, errConsume := s.Users.ConsumeBackupCode(ctx, user.ID, "h1")
			if errConsume == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestCredentialsLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createUser(t, s, "cred@example.com")

	first := &models.WebAuthnCredential{UserID: user.ID, CredentialID: []byte("cred-1"), PublicKey: []byte("pk"), DeviceType: models.DeviceTypeSingle, SignCount: 3}
	require.NoError(t, s.Credentials.Create(ctx, first))
	dup := &models.WebAuthnCredential{UserID: user.ID, CredentialID: []byte("cred-1"), PublicKey: []byte("pk"), DeviceType: models.DeviceTypeSingle}
	assert.ErrorIs(t, s.Credentials.Create(ctx, dup), ErrDuplicate)

	found, err := s.Credentials.FindByCredentialID(ctx, []byte("cred-1"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	ok, err := s.Credentials.UpdateCounter(ctx, first.ID, 3, 4, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Credentials.UpdateCounter(ctx, first.ID, 3, 5, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok, "stale counter must not update")

	require.NoError(t, s.Credentials.Rename(ctx, user.ID, first.ID, "  Laptop "))
	assert.ErrorIs(t, s.Credentials.Rename(ctx, user.ID+1, first.ID, "x"), ErrNotFound)

	list, err := s.Credentials.ListByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Laptop", list[0].Name)
	assert.Equal(t, uint32(4), list[0].SignCount)
	require.NotNil(t, list[0].LastUsedAt)
}

func TestCredentialsDeleteKeepsLastOne(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createUser(t, s, "del@example.com")
	other := createUser(t, s, "other@example.com")

	a := &models.WebAuthnCredential{UserID: user.ID, CredentialID: []byte("a"), PublicKey: []byte("pk"), DeviceType: models.DeviceTypeSingle}
	b := &models.WebAuthnCredential{UserID: user.ID, CredentialID: []byte("b"), PublicKey: []byte("pk"), DeviceType: models.DeviceTypeMulti}
	require.NoError(t, s.Credentials.Create(ctx, a))
	require.NoError(t, s.Credentials.Create(ctx, b))

	assert.ErrorIs(t, s.Credentials.DeleteForUser(ctx, other.ID, a.ID), ErrNotFound)
	require.NoError(t, s.Credentials.DeleteForUser(ctx, user.ID, a.ID))
	assert.ErrorIs(t, s.Credentials.DeleteForUser(ctx, user.ID, b.ID), ErrLastCredential)

	list, err := s.Credentials.ListByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)
}

func TestTokensReplaceFindDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	expires := time.Now().UTC().Add(time.Hour)

	first := &models.VerificationToken{Identifier: "t@example.com", TokenHash: "hash-1", Purpose: models.TokenPurposePasswordReset, ExpiresAt: expires}
	require.NoError(t, s.Tokens.Replace(ctx, first))
	second := &models.VerificationToken{Identifier: "t@example.com", TokenHash: "hash-2", Purpose: models.TokenPurposePasswordReset, ExpiresAt: expires}
	require.NoError(t, s.Tokens.Replace(ctx, second))
	verify := &models.VerificationToken{Identifier: "t@example.com", TokenHash: "hash-3", Purpose: models.TokenPurposeVerification, ExpiresAt: expires}
	require.NoError(t, s.Tokens.Replace(ctx, verify))

	_, err := s.Tokens.FindByHash(ctx, "hash-1", models.TokenPurposePasswordReset)
	assert.ErrorIs(t, err, ErrNotFound, "replaced token must be gone")
	_, err = s.Tokens.FindByHash(ctx, "hash-3", models.TokenPurposePasswordReset)
	assert.ErrorIs(t, err, ErrNotFound, "purpose must match")

	found, err := s.Tokens.FindByHash(ctx, "hash-2", models.TokenPurposePasswordReset)
	require.NoError(t, err)

	deleted, err := s.Tokens.Delete(ctx, found.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.Tokens.Delete(ctx, found.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestTokensPurgeExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Tokens.Replace(ctx, &models.VerificationToken{Identifier: "a", TokenHash: "old", Purpose: models.TokenPurposeVerification, ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, s.Tokens.Replace(ctx, &models.VerificationToken{Identifier: "b", TokenHash: "new", Purpose: models.TokenPurposeVerification, ExpiresAt: now.Add(time.Hour)}))

	purged, err := s.Tokens.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	_, err = s.Tokens.FindByHash(ctx, "new", models.TokenPurposeVerification)
	assert.NoError(t, err)
}
