package stores

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	emailCodeRecordVersion1 = 1
	emailCodeRetention      = 10 * time.Minute
)

var (
	ErrEmailCodeNotFound         = errors.New("email code not found")
	ErrEmailCodeExpired          = errors.New("email code expired")
	ErrEmailCodeInvalid          = errors.New("email code invalid")
	ErrEmailCodeUsed             = errors.New("email code already used")
	ErrEmailCodeAttemptsExceeded = errors.New("email code attempts exceeded")
	ErrEmailCodeBackend          = errors.New("email code backend unavailable")
)

// EmailCode is the most recent code delivered to a user for one purpose.
// Issuing overwrites the previous record, so older codes stop working.
type EmailCode struct {
	CodeHash  [32]byte
	Email     string
	IssuedAt  int64
	ExpiresAt int64
	Used      bool
	Attempts  uint16
}

var emailCodeErrors = recordErrors{
	notFound: ErrEmailCodeNotFound,
	expired:  ErrEmailCodeExpired,
	backend:  ErrEmailCodeBackend,
}

var emailCodeCodec = codec[EmailCode]{
	encode:    encodeEmailCode,
	decode:    decodeEmailCode,
	expiresAt: func(c *EmailCode) int64 { return c.ExpiresAt },
	retain:    emailCodeRetention,
}

// EmailCodeStore keeps codes under "<prefix>:<purpose>:<userID>".
type EmailCodeStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewEmailCodeStore builds a store under prefix (default "tfe").
func NewEmailCodeStore(redisClient redis.UniversalClient, prefix string) *EmailCodeStore {
	if prefix == "" {
		prefix = "tfe"
	}
	return &EmailCodeStore{redis: redisClient, prefix: prefix}
}

func (s *EmailCodeStore) key(purpose, userID string) string {
	return s.prefix + ":" + purpose + ":" + userID
}

// Issue replaces any previous code for (purpose, userID).
func (s *EmailCodeStore) Issue(ctx context.Context, purpose, userID string, record *EmailCode, now time.Time) error {
	encoded, err := encodeEmailCode(record)
	if err != nil {
		return err
	}
	ttl := ttlUntil(record.ExpiresAt, now)
	if ttl <= 0 {
		return ErrEmailCodeExpired
	}
	if err := s.redis.Set(ctx, s.key(purpose, userID), encoded, ttl+emailCodeRetention).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrEmailCodeBackend, err)
	}
	return nil
}

// Verify checks codeHash against the current code and marks it used on match.
// A mismatch counts an attempt; reaching maxAttempts invalidates the code.
func (s *EmailCodeStore) Verify(
	ctx context.Context,
	purpose, userID string,
	codeHash [32]byte,
	maxAttempts int,
	now time.Time,
) (*EmailCode, error) {
	return mutate(ctx, s.redis, s.key(purpose, userID), now, emailCodeCodec, emailCodeErrors,
		func(c *EmailCode) (mutation, error) {
			if c.Used {
				return mutationKeep, ErrEmailCodeUsed
			}
			if maxAttempts > 0 && int(c.Attempts) >= maxAttempts {
				return mutationDelete, ErrEmailCodeAttemptsExceeded
			}
			if subtle.ConstantTimeCompare(c.CodeHash[:], codeHash[:]) != 1 {
				c.Attempts++
				if maxAttempts > 0 && int(c.Attempts) >= maxAttempts {
					return mutationDelete, ErrEmailCodeAttemptsExceeded
				}
				return mutationSave, ErrEmailCodeInvalid
			}
			c.Used = true
			return mutationSave, nil
		})
}

// Peek returns the current code record without changing it.
func (s *EmailCodeStore) Peek(ctx context.Context, purpose, userID string, now time.Time) (*EmailCode, error) {
	data, err := s.redis.Get(ctx, s.key(purpose, userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmailCodeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrEmailCodeBackend, err)
	}
	record, err := decodeEmailCode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmailCodeBackend, err)
	}
	if now.UnixMilli() >= record.ExpiresAt {
		return nil, ErrEmailCodeExpired
	}
	return record, nil
}

// Delete drops the code for (purpose, userID).
func (s *EmailCodeStore) Delete(ctx context.Context, purpose, userID string) error {
	if err := s.redis.Del(ctx, s.key(purpose, userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrEmailCodeBackend, err)
	}
	return nil
}

func encodeEmailCode(c *EmailCode) ([]byte, error) {
	w := newRecordWriter(emailCodeRecordVersion1)
	used := uint8(0)
	if c.Used {
		used = 1
	}
	w.u8(used)
	w.u16(c.Attempts)
	w.i64(c.IssuedAt)
	w.i64(c.ExpiresAt)
	w.fixed(c.CodeHash[:])
	w.str(c.Email)
	return w.result()
}

func decodeEmailCode(data []byte) (*EmailCode, error) {
	r, err := newRecordReader(data, emailCodeRecordVersion1)
	if err != nil {
		return nil, err
	}
	c := &EmailCode{}
	c.Used = r.u8() == 1
	c.Attempts = r.u16()
	c.IssuedAt = r.i64()
	c.ExpiresAt = r.i64()
	r.fixed(c.CodeHash[:])
	c.Email = r.str()
	if r.err != nil {
		return nil, r.err
	}
	return c, nil
}
