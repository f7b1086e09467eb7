package ratelimit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "promptbase:ratelimit:"

// Redis is a fixed-window counter shared by every replica. When Redis fails
// the check is answered by the fallback limiter instead.
type Redis struct {
	client   redis.UniversalClient
	policy   Policy
	fallback Limiter
	logger   *slog.Logger
}

// NewRedis creates a Redis-backed limiter for p. fallback may be nil, in which
// case store errors are returned to the caller.
func NewRedis(client redis.UniversalClient, p Policy, fallback Limiter, logger *slog.Logger) *Redis {
	return &Redis{client: client, policy: p, fallback: fallback, logger: logger}
}

// Allow counts one request in the current window.
func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	count, err := r.incr(ctx, keyPrefix+r.policy.Name+":"+key)
	if err != nil {
		backendErrors.WithLabelValues(r.policy.Name).Inc()
		if r.fallback == nil {
			return false, err
		}
		r.logger.WarnContext(ctx, "rate limit store unavailable, using local limiter",
			slog.String("policy", r.policy.Name),
			slog.String("error", err.Error()),
		)
		return r.fallback.Allow(ctx, key)
	}
	return count <= int64(r.policy.Limit), nil
}

// incr counts a hit and sets the window TTL in the same transaction. NX keeps
// an open window from being extended and gives a key left without a TTL one.
func (r *Redis) incr(ctx context.Context, key string) (int64, error) {
	var count *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, r.policy.Window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return count.Val(), nil
}
