package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisRecords keeps records as JSON strings in Redis
type RedisRecords struct {
	client *redis.Client
	prefix string
}

// NewRedisRecords creates a Redis backed record store; keys are prefix+"upload:"+id
func NewRedisRecords(client *redis.Client, prefix string) *RedisRecords {
	return &RedisRecords{client: client, prefix: prefix}
}

func (r *RedisRecords) key(id string) string {
	return r.prefix + "upload:" + id
}

func (r *RedisRecords) ReadRecord(ctx context.Context, id string) (RecordLookup, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return RecordLookup{State: RecordAbsent}, nil
		}
		return RecordLookup{}, fmt.Errorf("failed to get upload record: %w", err)
	}

	return decodeRecord(id, data), nil
}

func (r *RedisRecords) WriteRecord(ctx context.Context, session *Session) error {
	data, err := encodeRecord(session)
	if err != nil {
		return fmt.Errorf("failed to encode upload record: %w", err)
	}

	// no TTL, expiry belongs to the sweeper so blob and record go together
	if err := r.client.Set(ctx, r.key(session.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set upload record: %w", err)
	}
	return nil
}

func (r *RedisRecords) DeleteRecord(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete upload record: %w", err)
	}
	return nil
}
