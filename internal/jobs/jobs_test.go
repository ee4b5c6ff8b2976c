package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ma496/EasyForNet-sub002/internal/auth"
	"github.com/ma496/EasyForNet-sub002/internal/store/memory"
)

func TestCleanupJobsDeleteOnlyExpired(t *testing.T) {
	now := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
	store := memory.New()
	ctx := context.Background()

	user := &auth.User{ID: "u1", Username: "a", Email: "a@example.com", IsActive: true}
	user.Normalize()
	require.NoError(t, store.Users().Create(ctx, user))
	for _, s := range []*auth.AuthToken{
		{ID: "A", UserID: "u1", RefreshTokenHash: "ha", RefreshExpiry: now.Add(-24 * time.Hour)},
		{ID: "B", UserID: "u1", RefreshTokenHash: "hb", RefreshExpiry: now.Add(24 * time.Hour)},
	} {
		require.NoError(t, store.AuthTokens().Create(ctx, s))
	}
	require.NoError(t, store.Tokens().Create(ctx, &auth.Token{
		ID: "t1", UserID: "u1", ValueHash: "v1", Purpose: auth.PurposePasswordReset, Expiry: now.Add(-time.Minute),
	}))

	logger, hook := test.NewNullLogger()
	cleaner := auth.NewCleaner(store, func() time.Time { return now })
	require.NoError(t, RunOnce(ctx, logger, CleanupJobs(cleaner)))

	ok, err := store.AuthTokens().Exists(ctx, "u1", "hb", now)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = store.AuthTokens().Consume(ctx, "u1", "ha", now.Add(-48*time.Hour))
	assert.ErrorIs(t, err, auth.ErrNotFound)
	_, err = store.Tokens().GetByValue(ctx, "v1")
	assert.ErrorIs(t, err, auth.ErrNotFound)

	require.Len(t, hook.Entries, 2)
	assert.Equal(t, int64(1), hook.Entries[0].Data["deleted"])
	assert.Equal(t, "tokens", hook.Entries[1].Data["job"])
}

func TestRunOnceContinuesAfterFailure(t *testing.T) {
	logger, _ := test.NewNullLogger()
	boom := errors.New("db down")
	ran := false
	err := RunOnce(context.Background(), logger, []Job{
		{Name: "first", Run: func(context.Context) (int64, error) { return 0, boom }},
		{Name: "second", Run: func(context.Context) (int64, error) { ran = true; return 0, nil }},
	})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "first")
	assert.True(t, ran)
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := NewScheduler(logger)
	require.Error(t, s.Add("not a schedule"))
	require.NoError(t, s.Add("@daily", Job{Name: "noop", Run: func(context.Context) (int64, error) { return 0, nil }}))
	assert.Equal(t, 1, s.Len())

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
