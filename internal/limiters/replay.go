package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrReplayUnavailable is returned when the replay backend fails.
	ErrReplayUnavailable = errors.New("replay guard unavailable")
)

// ReplayGuard remembers which TOTP steps a user has already spent.
type ReplayGuard struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewReplayGuard keeps claims for ttl, which should cover the whole
// acceptance window.
func NewReplayGuard(redisClient redis.UniversalClient, prefix string, ttl time.Duration) *ReplayGuard {
	if prefix == "" {
		prefix = "tfr"
	}
	return &ReplayGuard{redis: redisClient, prefix: prefix, ttl: ttl}
}

func (g *ReplayGuard) key(userID string, step int64) string {
	return g.prefix + ":" + userID + ":" + strconv.FormatInt(step, 10)
}

// Claim returns false when step was claimed before.
func (g *ReplayGuard) Claim(ctx context.Context, userID string, step int64) (bool, error) {
	if g == nil {
		return true, nil
	}
	ok, err := g.redis.SetNX(ctx, g.key(userID, step), 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrReplayUnavailable, err)
	}
	return ok, nil
}
