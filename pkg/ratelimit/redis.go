package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces counters in Redis.
const KeyPrefix = "advres:ratelimit:"

// Redis is a fixed-window limiter whose counters live in Redis, so every
// server instance shares them.
type Redis struct {
	client redis.Cmdable
	now    func() time.Time
	window time.Duration
	max    int
}

// NewRedis returns a limiter allowing max requests per window and key.
func NewRedis(client redis.Cmdable, window time.Duration, max int) *Redis {
	window, max = orDefault(window, max)
	return &Redis{client: client, now: time.Now, window: window, max: max}
}

// NewRedisClient connects to addr, which is either host:port or a
// redis:// URL, and pings it.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return client, nil
}

// Allow implements Limiter. The counter is incremented and its expiry read
// in one round trip; the expiry is set when the window starts.
func (l *Redis) Allow(ctx context.Context, key string) (Result, error) {
	key = KeyPrefix + key

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		ttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("rate limit counter: %w", err)
	}

	remaining := ttl.Val()
	if remaining <= 0 {
		if err := l.client.PExpire(ctx, key, l.window).Err(); err != nil {
			return Result{}, fmt.Errorf("rate limit expiry: %w", err)
		}
		remaining = l.window
	}
	return result(l.max, incr.Val(), l.now().Add(remaining)), nil
}
