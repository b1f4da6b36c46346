package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Limiter decides whether a connection may publish another event.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// RateLimiter is an in-process sliding window limiter keyed by client id.
type RateLimiter struct {
	limits      map[string][]time.Time
	mu          sync.Mutex
	maxMessages int
	window      time.Duration
	now         func() time.Time
}

func NewRateLimiter(maxMessages int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limits:      make(map[string][]time.Time),
		maxMessages: maxMessages,
		window:      window,
		now:         time.Now,
	}
}

func (r *RateLimiter) Allow(_ context.Context, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)
	var recent []time.Time
	for _, t := range r.limits[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.maxMessages {
		r.limits[key] = recent
		return false
	}

	r.limits[key] = append(recent, now)
	return true
}

// Forget drops the history for key, called when a connection closes.
func (r *RateLimiter) Forget(key string) {
	r.mu.Lock()
	delete(r.limits, key)
	r.mu.Unlock()
}

// RedisLimiter counts events in fixed windows shared through Redis, so
// several relay processes enforce a common budget per client address.
// Redis errors fail open.
type RedisLimiter struct {
	client      *redis.Client
	maxMessages int
	window      time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

// NewRedisLimiter parses redisURL and returns a limiter backed by it.
func NewRedisLimiter(ctx context.Context, redisURL string, maxMessages int, window time.Duration, logger zerolog.Logger) (*RedisLimiter, error) {
	if window < time.Millisecond {
		return nil, fmt.Errorf("rate limit window too small: %s", window)
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisLimiter{
		client:      client,
		maxMessages: maxMessages,
		window:      window,
		logger:      logger.With().Str("component", "ratelimit").Logger(),
		now:         time.Now,
	}, nil
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) bool {
	windowKey := r.windowKey(key)

	pipe := r.client.TxPipeline()
	count := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, r.window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("rate limit check failed")
		return true
	}
	return count.Val() <= int64(r.maxMessages)
}

func (r *RedisLimiter) Close() error {
	return r.client.Close()
}

// windowKey buckets key by the current window.
func (r *RedisLimiter) windowKey(key string) string {
	bucket := r.now().UnixMilli() / r.window.Milliseconds()
	return fmt.Sprintf("ratelimit:ws:%s:%d", key, bucket)
}
