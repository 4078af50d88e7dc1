package tokens

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/moodmash/authcore/internal/config"
	dbutil "github.com/moodmash/authcore/internal/db"
	"github.com/moodmash/authcore/internal/models"
	"github.com/moodmash/authcore/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, now *time.Time) *Service {
	t.Helper()
	conn, err := dbutil.Open(filepath.Join(t.TempDir(), "tokens-test.db"))
	require.NoError(t, err)
	require.NoError(t, dbutil.Migrate(conn))
	t.Cleanup(func() {
		if sqlDB, errDB := conn.DB(); errDB == nil {
			_ = sqlDB.Close()
		}
	})
	return NewService(store.New(conn).Tokens, config.TokenConfig{}, func() time.Time { return *now })
}

func TestResetTokenValidatesThenConsumesOnce(t *testing.T) {
	now := time.Now().UTC()
	svc := newTestService(t, &now)
	ctx := context.Background()

	raw, err := svc.Issue(ctx, "User@Example.com", 1, models.TokenPurposePasswordReset)
	require.NoError(t, err)

	identifier, err := svc.Validate(ctx, raw, models.TokenPurposePasswordReset)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", identifier)

	_, err = svc.Validate(ctx, raw, models.TokenPurposeVerification)
	assert.ErrorIs(t, err, ErrTokenInvalid, "purpose must match")

	identifier, err = svc.Consume(ctx, raw, models.TokenPurposePasswordReset)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", identifier)

	_, err = svc.Consume(ctx, raw, models.TokenPurposePasswordReset)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	_, err = svc.Validate(ctx, raw, models.TokenPurposePasswordReset)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestIssueReplacesOutstandingToken(t *testing.T) {
	now := time.Now().UTC()
	svc := newTestService(t, &now)
	ctx := context.Background()

	first, err := svc.Issue(ctx, "a@example.com", 1, models.TokenPurposeVerification)
	require.NoError(t, err)
	second, err := svc.Issue(ctx, "a@example.com", 1, models.TokenPurposeVerification)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = svc.Validate(ctx, first, models.TokenPurposeVerification)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	_, err = svc.Validate(ctx, second, models.TokenPurposeVerification)
	assert.NoError(t, err)
}

func TestExpiredTokenIsDeletedOnDetection(t *testing.T) {
	now := time.Now().UTC()
	svc := newTestService(t, &now)
	ctx := context.Background()

	raw, err := svc.Issue(ctx, "late@example.com", 3, models.TokenPurposePasswordReset)
	require.NoError(t, err)

	now = now.Add(time.Hour + time.Second)
	_, err = svc.Validate(ctx, raw, models.TokenPurposePasswordReset)
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, err = svc.Validate(ctx, raw, models.TokenPurposePasswordReset)
	assert.ErrorIs(t, err, ErrTokenInvalid, "expired token must be gone after detection")
}

func TestConsumeExpiredToken(t *testing.T) {
	now := time.Now().UTC()
	svc := newTestService(t, &now)
	ctx := context.Background()

	raw, err := svc.Issue(ctx, "v@example.com", 4, models.TokenPurposeVerification)
	require.NoError(t, err)
	now = now.Add(25 * time.Hour)

	_, err = svc.Consume(ctx, raw, models.TokenPurposeVerification)
	assert.ErrorIs(t, err, ErrTokenExpired)
	_, err = svc.Consume(ctx, raw, models.TokenPurposeVerification)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestEmptyTokenIsInvalid(t *testing.T) {
	now := time.Now().UTC()
	svc := newTestService(t, &now)
	_, err := svc.Consume(context.Background(), "  ", models.TokenPurposeVerification)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
