package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrResendUnavailable is returned when the cooldown backend fails.
	ErrResendUnavailable = errors.New("resend limiter unavailable")
)

// ResendLimiter allows one code delivery per scope per cooldown window.
type ResendLimiter struct {
	redis    redis.UniversalClient
	prefix   string
	cooldown time.Duration
}

// NewResendLimiter builds a limiter under prefix (default "tfs").
func NewResendLimiter(redisClient redis.UniversalClient, prefix string, cooldown time.Duration) *ResendLimiter {
	if prefix == "" {
		prefix = "tfs"
	}
	return &ResendLimiter{redis: redisClient, prefix: prefix, cooldown: cooldown}
}

func (l *ResendLimiter) key(scope, userID string) string {
	return l.prefix + ":" + scope + ":" + userID
}

// Acquire claims the window at now. When the previous claim is still inside
// the cooldown it returns ok=false and the time left.
//
// The stored value is the claim time in unix milliseconds so the decision
// follows the caller's clock rather than the Redis TTL.
func (l *ResendLimiter) Acquire(ctx context.Context, scope, userID string, now time.Time) (bool, time.Duration, error) {
	if l == nil || l.cooldown <= 0 {
		return true, 0, nil
	}
	key := l.key(scope, userID)

	const maxRetries = 4
	for i := 0; i < maxRetries; i++ {
		var (
			allowed bool
			wait    time.Duration
		)
		err := l.redis.Watch(ctx, func(tx *redis.Tx) error {
			last, err := tx.Get(ctx, key).Int64()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil {
				elapsed := now.Sub(time.UnixMilli(last))
				if elapsed < l.cooldown {
					wait = l.cooldown - elapsed
					return nil
				}
			}
			allowed = true
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, now.UnixMilli(), l.cooldown)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, 0, fmt.Errorf("%w: %v", ErrResendUnavailable, err)
		}
		return allowed, wait, nil
	}

	return false, l.cooldown, nil
}

// Release clears the window, used when a delivery is abandoned before send.
func (l *ResendLimiter) Release(ctx context.Context, scope, userID string) error {
	if l == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(scope, userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrResendUnavailable, err)
	}
	return nil
}
