package upload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLocker is a Locker shared by every server process using the same Redis.
// Leases expire after ttl unless the holder keeps refreshing them.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker creates a lease based locker; keys are prefix+"lock:"+id
func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		retry:  50 * time.Millisecond,
	}
}

func (l *RedisLocker) key(id string) string {
	return l.prefix + "lock:" + id
}

func (l *RedisLocker) acquire(ctx context.Context, id, token string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(id), token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire upload lock: %w", err)
	}
	return ok, nil
}

func (l *RedisLocker) Lock(ctx context.Context, id string) (func(), error) {
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.acquire(ctx, id, token)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrLocked
			}
			return nil, err
		}
		if ok {
			return l.hold(id, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ErrLocked
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) TryLock(ctx context.Context, id string) (func(), bool, error) {
	token := uuid.NewString()

	ok, err := l.acquire(ctx, id, token)
	if err != nil || !ok {
		return nil, false, err
	}
	return l.hold(id, token), true, nil
}

// hold keeps the lease alive until the returned release is called
func (l *RedisLocker) hold(id, token string) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(l.ttl / 3)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				err := refreshScript.Run(context.Background(), l.client, []string{l.key(id)}, token, l.ttl.Milliseconds()).Err()
				if err != nil {
					log.Warn().Err(err).Str("upload_id", id).Msg("failed to refresh upload lock")
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()

			if err := releaseScript.Run(context.Background(), l.client, []string{l.key(id)}, token).Err(); err != nil {
				log.Warn().Err(err).Str("upload_id", id).Msg("failed to release upload lock")
			}
		})
	}
}
