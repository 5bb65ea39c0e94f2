package common

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/lgulliver/tusgate/pkg/config"
	"github.com/redis/go-redis/v9"
)

// Cache wraps the Redis client shared by upload records, locks and notifications
type Cache struct {
	client *redis.Client
	prefix string
}

// NewCache creates a new cache instance
func NewCache(cfg *config.RedisConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client, prefix: cfg.KeyPrefix}, nil
}

// Client returns the underlying Redis client
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Prefix returns the key prefix all tusgate keys share
func (c *Cache) Prefix() string {
	return c.prefix
}

// Publish sends value as JSON on channel
func (c *Cache) Publish(ctx context.Context, channel string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return c.client.Publish(ctx, channel, data).Err()
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}
