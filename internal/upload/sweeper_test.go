package upload

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_Sweep(t *testing.T) {
	env := setupTestManager(t, 1024)
	ctx := context.Background()
	sweeper := NewSweeper(env.store, env.manager.locker)

	// expires at testNow + 5 days
	expired := env.create(t, size(10))
	_, err := env.manager.AppendChunk(ctx, expired.ID, []byte("abc"), 0)
	require.NoError(t, err)

	// expires exactly at the sweep time
	boundary := env.create(t, size(10))
	env.manager.now = func() time.Time { return testNow.Add(time.Hour) }
	_, err = env.manager.AppendChunk(ctx, boundary.ID, []byte("abc"), 0)
	require.NoError(t, err)

	// never received a chunk
	untouched := env.create(t, size(10))

	sweepAt := testNow.Add(5*24*time.Hour + time.Hour)
	result, err := sweeper.Sweep(ctx, sweepAt)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Scanned)
	assert.Equal(t, []string{expired.ID}, result.Removed)

	_, err = env.manager.Get(ctx, expired.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	for _, id := range []string{boundary.ID, untouched.ID} {
		_, err := env.manager.Get(ctx, id)
		assert.NoError(t, err)
	}

	// far in the future the session without expiry still stays
	result, err = sweeper.Sweep(ctx, sweepAt.AddDate(10, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{boundary.ID}, result.Removed)

	_, err = env.manager.Get(ctx, untouched.ID)
	assert.NoError(t, err)
}

func TestSweeper_SkipsBusyUploads(t *testing.T) {
	env := setupTestManager(t, 1024)
	ctx := context.Background()
	sweeper := NewSweeper(env.store, env.manager.locker)

	session := env.create(t, size(10))
	_, err := env.manager.AppendChunk(ctx, session.ID, []byte("abc"), 0)
	require.NoError(t, err)

	release, err := env.manager.locker.Lock(ctx, session.ID)
	require.NoError(t, err)

	later := testNow.AddDate(0, 1, 0)
	result, err := sweeper.Sweep(ctx, later)
	require.NoError(t, err)
	assert.Empty(t, result.Removed)

	release()

	result, err = sweeper.Sweep(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, []string{session.ID}, result.Removed)
}

func TestSweeper_IgnoresUnreadableRecords(t *testing.T) {
	env := setupTestManager(t, 1024)
	ctx := context.Background()
	sweeper := NewSweeper(env.store, env.manager.locker)

	session := env.create(t, size(10))
	require.NoError(t, env.store.records.DeleteRecord(ctx, session.ID))

	result, err := sweeper.Sweep(ctx, testNow.AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Empty(t, result.Removed)
}

func TestCleanupScheduler(t *testing.T) {
	env := setupTestManager(t, 1024)
	ctx := context.Background()

	session := env.create(t, size(10))
	_, err := env.manager.AppendChunk(ctx, session.ID, []byte("abc"), 0)
	require.NoError(t, err)

	scheduler := NewCleanupScheduler(NewSweeper(env.store, env.manager.locker), time.Hour)
	scheduler.now = func() time.Time { return testNow.AddDate(0, 1, 0) }

	scheduler.Start()
	result := scheduler.RunNow()
	scheduler.Stop()
	scheduler.Stop()

	assert.Equal(t, []string{session.ID}, result.Removed)
}
