package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutConfig holds the lockout policy.
type LockoutConfig struct {
	Threshold int
	Cooldown  time.Duration
	// LedgerTTL bounds how long an unlocked failure count survives in Redis.
	LedgerTTL time.Duration
}

var (
	// ErrLockoutUnavailable is returned when the ledger backend fails.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// Reservation is one attempt admitted by ReserveAttempt. The attempt is
// already counted as a failure; RecordSuccess clears it and ReleaseAttempt
// returns it.
type Reservation struct {
	Granted   bool
	Locked    bool
	Failures  int
	Remaining time.Duration
	// LockedUntil is the cooldown end in unix milliseconds when this
	// reservation started the lock, zero otherwise.
	LockedUntil int64
}

// LockoutStatus is the read-only lockout view.
type LockoutStatus struct {
	Locked    bool
	Failures  int
	Remaining time.Duration
}

// The ledger is a hash {count, until}; until is unix milliseconds.
// A reservation while locked is refused and leaves the ledger untouched.
// Otherwise the attempt is counted up front; reaching the threshold clamps
// count to the threshold and starts the cooldown.
var reserveAttemptScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local threshold = tonumber(ARGV[2])
local cooldown = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local vals = redis.call('HMGET', key, 'count', 'until')
local count = tonumber(vals[1]) or 0
local locked_until = tonumber(vals[2]) or 0

if locked_until > now then
  return {0, count, locked_until - now, 0}
end

count = count + 1
if count >= threshold then
  count = threshold
  locked_until = now + cooldown
  redis.call('HSET', key, 'count', count, 'until', locked_until)
  local keep = cooldown
  if ttl > keep then keep = ttl end
  redis.call('PEXPIRE', key, keep)
  return {1, count, cooldown, locked_until}
end

redis.call('HSET', key, 'count', count, 'until', 0)
redis.call('PEXPIRE', key, ttl)
return {1, count, 0, 0}
`)

// Undoes one reservation. A lock is lifted only when it is the one the
// reservation started. A missing ledger was already cleared by a success.
var releaseAttemptScript = redis.NewScript(`
local key = KEYS[1]
local started = tonumber(ARGV[1])

local vals = redis.call('HMGET', key, 'count', 'until')
if not vals[1] then
  return 0
end
local count = tonumber(vals[1]) or 0
local locked_until = tonumber(vals[2]) or 0

if count > 0 then count = count - 1 end
if started > 0 and locked_until == started then
  locked_until = 0
end
redis.call('HSET', key, 'count', count, 'until', locked_until)
return 1
`)

// LockoutLedger tracks consecutive verification failures per user.
type LockoutLedger struct {
	redis  redis.UniversalClient
	prefix string
	config LockoutConfig
}

// NewLockoutLedger builds a ledger under prefix (default "tfl").
func NewLockoutLedger(redisClient redis.UniversalClient, prefix string, cfg LockoutConfig) *LockoutLedger {
	if prefix == "" {
		prefix = "tfl"
	}
	if cfg.LedgerTTL < cfg.Cooldown {
		cfg.LedgerTTL = cfg.Cooldown
	}
	return &LockoutLedger{redis: redisClient, prefix: prefix, config: cfg}
}

func (l *LockoutLedger) key(userID string) string {
	return l.prefix + ":" + userID
}

// ReserveAttempt admits one attempt at now unless the user is locked. The
// lock check and the increment are a single script, so concurrent callers
// are admitted at most Threshold times per cooldown.
func (l *LockoutLedger) ReserveAttempt(ctx context.Context, userID string, now time.Time) (Reservation, error) {
	if userID == "" || l.config.Threshold <= 0 {
		return Reservation{Granted: true}, nil
	}

	res, err := reserveAttemptScript.Run(ctx, l.redis, []string{l.key(userID)},
		now.UnixMilli(),
		l.config.Threshold,
		l.config.Cooldown.Milliseconds(),
		l.config.LedgerTTL.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Reservation{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if len(res) != 4 {
		return Reservation{}, fmt.Errorf("%w: unexpected script reply", ErrLockoutUnavailable)
	}

	r := Reservation{
		Granted:     res[0] == 1,
		Failures:    int(res[1]),
		Remaining:   time.Duration(res[2]) * time.Millisecond,
		LockedUntil: res[3],
	}
	r.Locked = !r.Granted || r.LockedUntil > 0
	return r, nil
}

// ReleaseAttempt returns a granted reservation whose attempt was never
// judged, e.g. because a backend failed during verification.
func (l *LockoutLedger) ReleaseAttempt(ctx context.Context, userID string, r Reservation) error {
	if userID == "" || !r.Granted || l.config.Threshold <= 0 {
		return nil
	}
	if err := releaseAttemptScript.Run(ctx, l.redis, []string{l.key(userID)}, r.LockedUntil).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// RecordSuccess clears the ledger.
func (l *LockoutLedger) RecordSuccess(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// CheckLocked reports the lockout state at now without mutating it.
func (l *LockoutLedger) CheckLocked(ctx context.Context, userID string, now time.Time) (LockoutStatus, error) {
	if userID == "" {
		return LockoutStatus{}, nil
	}

	vals, err := l.redis.HMGet(ctx, l.key(userID), "count", "until").Result()
	if err != nil {
		return LockoutStatus{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	count := parseInt64(vals[0])
	until := parseInt64(vals[1])

	status := LockoutStatus{Failures: int(count)}
	if remaining := until - now.UnixMilli(); remaining > 0 {
		status.Locked = true
		status.Remaining = time.Duration(remaining) * time.Millisecond
	}
	return status, nil
}

func parseInt64(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
