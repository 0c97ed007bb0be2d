package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	challengeRecordVersion1 = 1
)

var (
	ErrChallengeNotFound = errors.New("login challenge not found")
	ErrChallengeExpired  = errors.New("login challenge expired")
	ErrChallengeBackend  = errors.New("login challenge backend unavailable")
)

// LoginChallenge is an issued, not yet satisfied second-factor challenge.
type LoginChallenge struct {
	UserID      string
	Fingerprint string
	Method      uint8
	Attempts    uint16
	CreatedAt   int64
	ExpiresAt   int64
}

var challengeErrors = recordErrors{
	notFound: ErrChallengeNotFound,
	expired:  ErrChallengeExpired,
	backend:  ErrChallengeBackend,
}

var challengeCodec = codec[LoginChallenge]{
	encode:    encodeLoginChallenge,
	decode:    decodeLoginChallenge,
	expiresAt: func(c *LoginChallenge) int64 { return c.ExpiresAt },
}

// ChallengeStore keeps login challenges under "<prefix>:<challengeID>".
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewChallengeStore builds a store under prefix (default "tfc").
func NewChallengeStore(redisClient redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "tfc"
	}
	return &ChallengeStore{redis: redisClient, prefix: prefix}
}

func (s *ChallengeStore) key(challengeID string) string {
	return s.prefix + ":" + challengeID
}

// Save writes the challenge with a TTL derived from its ExpiresAt.
func (s *ChallengeStore) Save(ctx context.Context, challengeID string, record *LoginChallenge, now time.Time) error {
	encoded, err := encodeLoginChallenge(record)
	if err != nil {
		return err
	}
	ttl := ttlUntil(record.ExpiresAt, now)
	if ttl <= 0 {
		return ErrChallengeExpired
	}
	if err := s.redis.Set(ctx, s.key(challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// Get loads a live challenge.
func (s *ChallengeStore) Get(ctx context.Context, challengeID string, now time.Time) (*LoginChallenge, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}

	record, err := decodeLoginChallenge(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	if now.UnixMilli() >= record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(challengeID)).Result()
		return nil, ErrChallengeExpired
	}
	return record, nil
}

// RecordAttempt increments the caller-visible attempt counter.
func (s *ChallengeStore) RecordAttempt(ctx context.Context, challengeID string, now time.Time) (int, error) {
	record, err := mutate(ctx, s.redis, s.key(challengeID), now, challengeCodec, challengeErrors,
		func(c *LoginChallenge) (mutation, error) {
			if c.Attempts < ^uint16(0) {
				c.Attempts++
			}
			return mutationSave, nil
		})
	if err != nil {
		return 0, err
	}
	return int(record.Attempts), nil
}

// Delete removes the challenge and reports whether it existed.
func (s *ChallengeStore) Delete(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return n > 0, nil
}

func encodeLoginChallenge(c *LoginChallenge) ([]byte, error) {
	w := newRecordWriter(challengeRecordVersion1)
	w.u8(c.Method)
	w.u16(c.Attempts)
	w.i64(c.CreatedAt)
	w.i64(c.ExpiresAt)
	w.str(c.UserID)
	w.str(c.Fingerprint)
	return w.result()
}

func decodeLoginChallenge(data []byte) (*LoginChallenge, error) {
	r, err := newRecordReader(data, challengeRecordVersion1)
	if err != nil {
		return nil, err
	}
	c := &LoginChallenge{}
	c.Method = r.u8()
	c.Attempts = r.u16()
	c.CreatedAt = r.i64()
	c.ExpiresAt = r.i64()
	c.UserID = r.str()
	c.Fingerprint = r.str()
	if r.err != nil {
		return nil, r.err
	}
	return c, nil
}
