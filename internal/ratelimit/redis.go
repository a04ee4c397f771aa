package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "send_limit:"

// Redis is a fixed window limiter shared by every service instance.
type Redis struct {
	cli    *redis.Client
	limit  int64
	window time.Duration
}

// NewRedis connects to url and verifies the server answers.
func NewRedis(ctx context.Context, url string, limit int, window time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{cli: cli, limit: int64(limit), window: window}, nil
}

// Allow counts one send in the current window. The key is created with its
// expiry and incremented in one MULTI so a window can never outlive its TTL.
func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	key = redisKeyPrefix + key
	var incr *redis.IntCmd
	_, err := r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, key, 0, r.window)
		incr = pipe.Incr(ctx, key)
		return nil
	})
	if err != nil {
		return false, err
	}
	return incr.Val() <= r.limit, nil
}

func (r *Redis) Close() error {
	return r.cli.Close()
}
