package pickup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisReplayStore implements ReplayStore using Redis for multi-instance deployments.
type RedisReplayStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisReplayStore creates a new Redis-based replay store.
func NewRedisReplayStore(client redis.UniversalClient, prefix string) *RedisReplayStore {
	if prefix == "" {
		prefix = "ebox:pickup:used:"
	}
	return &RedisReplayStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *RedisReplayStore) key(tokenID string) string {
	return s.prefix + tokenID
}

// Consume uses SET NX so concurrent verifications of one token admit exactly one.
func (s *RedisReplayStore) Consume(ctx context.Context, tokenID string, until time.Time) (bool, error) {
	ttl := until.Sub(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}

	ok, err := s.client.SetNX(ctx, s.key(tokenID), until.Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis replay: consume failed: %w", err)
	}
	return ok, nil
}
