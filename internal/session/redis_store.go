package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store using Redis with a per-context TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis at redisURL. Contexts expire after ttl
// of inactivity.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

func contextKey(tenantID, userID string) string {
	return fmt.Sprintf("assist:ctx:%s:%s", tenantID, userID)
}

// Load returns the stored context, or a fresh one when the key is absent.
func (s *RedisStore) Load(ctx context.Context, tenantID, userID string) (*Context, error) {
	data, err := s.client.Get(ctx, contextKey(tenantID, userID)).Result()
	if err == redis.Nil {
		return &Context{
			TenantID:  tenantID,
			UserID:    userID,
			History:   []Message{},
			UpdatedAt: time.Now(),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load context: %w", err)
	}

	var c Context
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("failed to parse context data: %w", err)
	}
	return &c, nil
}

// Save persists the context and refreshes the TTL.
func (s *RedisStore) Save(ctx context.Context, c *Context) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}
	key := contextKey(c.TenantID, c.UserID)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save context: %w", err)
	}
	return nil
}

// Clear removes the context.
func (s *RedisStore) Clear(ctx context.Context, tenantID, userID string) error {
	if err := s.client.Del(ctx, contextKey(tenantID, userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear context: %w", err)
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
