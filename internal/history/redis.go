package history

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "concierge:history:"

// RedisStore keeps transcripts in Redis lists so they survive restarts
// and can be shared by multiple gateway instances. Each append trims
// the list to capacity in the same pipeline.
type RedisStore struct {
	client   *redis.Client
	capacity int
}

func NewRedisStore(addr string, capacity int) *RedisStore {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &RedisStore{
		client:   redis.NewClient(&redis.Options{Addr: addr}),
		capacity: capacity,
	}
}

func redisKey(key string) string { return redisKeyPrefix + key }

func (r *RedisStore) Append(ctx context.Context, key string, turn Turn) error {
	payload, err := sonic.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode history turn: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, redisKey(key), payload)
	pipe.LTrim(ctx, redisKey(key), int64(-r.capacity), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append history turn: %w", err)
	}
	return nil
}

func (r *RedisStore) Recent(ctx context.Context, key string, n int) ([]Turn, error) {
	start := int64(-r.capacity)
	if n > 0 && n < r.capacity {
		start = int64(-n)
	}
	values, err := r.client.LRange(ctx, redisKey(key), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	turns := make([]Turn, 0, len(values))
	for _, v := range values {
		var turn Turn
		if err := sonic.Unmarshal([]byte(v), &turn); err != nil {
			return nil, fmt.Errorf("decode history turn: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func (r *RedisStore) Close() error { return r.client.Close() }
