//go:build integration

package upload

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedis connects to TUS_TEST_REDIS_ADDR and isolates keys under a random prefix
func setupRedis(t *testing.T) (*redis.Client, string) {
	t.Helper()

	addr := os.Getenv("TUS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TUS_TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())

	prefix := "tus-test:" + NewID() + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		client.Close()
	})

	return client, prefix
}

func TestRedisRecords(t *testing.T) {
	client, prefix := setupRedis(t)
	records := NewRedisRecords(client, prefix)
	ctx := context.Background()

	id := NewID()
	lookup, err := records.ReadRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, RecordAbsent, lookup.State)

	session := sampleSession(id)
	require.NoError(t, records.WriteRecord(ctx, session))

	lookup, err = records.ReadRecord(ctx, id)
	require.NoError(t, err)
	require.Equal(t, RecordFound, lookup.State)
	assertSameSession(t, session, lookup.Session)

	require.NoError(t, client.Set(ctx, prefix+"upload:"+id, "{broken", 0).Err())
	lookup, err = records.ReadRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, RecordCorrupt, lookup.State)

	require.NoError(t, records.DeleteRecord(ctx, id))
	require.NoError(t, records.DeleteRecord(ctx, id))
	lookup, err = records.ReadRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, RecordAbsent, lookup.State)
}

func TestRedisLocker(t *testing.T) {
	client, prefix := setupRedis(t)
	locker := NewRedisLocker(client, prefix, 600*time.Millisecond)
	ctx := context.Background()
	id := NewID()

	release, err := locker.Lock(ctx, id)
	require.NoError(t, err)

	_, ok, err := locker.TryLock(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	// the lease outlives its ttl while held
	time.Sleep(time.Second)
	timeoutCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(timeoutCtx, id)
	assert.ErrorIs(t, err, ErrLocked)

	release()
	release()

	again, ok, err := locker.TryLock(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	again()
}
