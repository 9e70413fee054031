package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "driftgate:dedup:"

// RedisStore shares suppression state across replicas through redis TTL
// keys. Expiry is handled by redis itself.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) IsDuplicate(ctx context.Context, fp string) (bool, error) {
	n, err := s.client.Exists(ctx, redisKeyPrefix+fp).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: redis exists: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) MarkSent(ctx context.Context, fp string, window time.Duration) error {
	if err := s.client.Set(ctx, redisKeyPrefix+fp, 1, window).Err(); err != nil {
		return fmt.Errorf("dedup: redis set: %w", err)
	}
	return nil
}
