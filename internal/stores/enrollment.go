package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	enrollmentRecordVersion1 = 1
)

var (
	// ErrEnrollmentNotFound is returned for unknown or reclaimed flows.
	ErrEnrollmentNotFound = errors.New("enrollment flow not found")
	// ErrEnrollmentExpired is returned once ExpiresAt has passed.
	ErrEnrollmentExpired = errors.New("enrollment flow expired")
	// ErrEnrollmentBackend wraps Redis failures.
	ErrEnrollmentBackend = errors.New("enrollment backend unavailable")
)

// EnrollmentFlow is the in-progress enrollment. Nothing in it is durable:
// the secret or address only reach the profile once the first code passes.
type EnrollmentFlow struct {
	UserID    string
	State     uint8
	Method    uint8
	Secret    []byte
	Email     string
	Attempts  uint16
	CreatedAt int64
	ExpiresAt int64
}

// EnrollmentStore keeps enrollment flows under "<prefix>:<flowID>".
type EnrollmentStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewEnrollmentStore builds a store under prefix (default "tfn").
func NewEnrollmentStore(redisClient redis.UniversalClient, prefix string) *EnrollmentStore {
	if prefix == "" {
		prefix = "tfn"
	}
	return &EnrollmentStore{redis: redisClient, prefix: prefix}
}

func (s *EnrollmentStore) key(flowID string) string {
	return s.prefix + ":" + flowID
}

var enrollmentCodec = codec[EnrollmentFlow]{
	encode:    encodeEnrollmentFlow,
	decode:    decodeEnrollmentFlow,
	expiresAt: func(f *EnrollmentFlow) int64 { return f.ExpiresAt },
}

var enrollmentErrors = recordErrors{
	notFound: ErrEnrollmentNotFound,
	expired:  ErrEnrollmentExpired,
	backend:  ErrEnrollmentBackend,
}

// Save writes flow with a TTL derived from its ExpiresAt.
func (s *EnrollmentStore) Save(ctx context.Context, flowID string, flow *EnrollmentFlow, now time.Time) error {
	encoded, err := encodeEnrollmentFlow(flow)
	if err != nil {
		return err
	}
	ttl := ttlUntil(flow.ExpiresAt, now)
	if ttl <= 0 {
		return ErrEnrollmentExpired
	}
	if err := s.redis.Set(ctx, s.key(flowID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrEnrollmentBackend, err)
	}
	return nil
}

// Get loads a live flow.
func (s *EnrollmentStore) Get(ctx context.Context, flowID string, now time.Time) (*EnrollmentFlow, error) {
	data, err := s.redis.Get(ctx, s.key(flowID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrEnrollmentBackend, err)
	}

	flow, err := decodeEnrollmentFlow(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnrollmentBackend, err)
	}
	if now.UnixMilli() >= flow.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(flowID)).Result()
		return nil, ErrEnrollmentExpired
	}
	return flow, nil
}

// Transition applies fn atomically. fn returns save to persist its changes,
// discard to delete the flow, and an error that is surfaced afterwards.
func (s *EnrollmentStore) Transition(
	ctx context.Context,
	flowID string,
	now time.Time,
	fn func(*EnrollmentFlow) (save bool, discard bool, err error),
) (*EnrollmentFlow, error) {
	return mutate(ctx, s.redis, s.key(flowID), now, enrollmentCodec, enrollmentErrors,
		func(f *EnrollmentFlow) (mutation, error) {
			save, discard, err := fn(f)
			switch {
			case discard:
				return mutationDelete, err
			case save:
				return mutationSave, err
			default:
				return mutationKeep, err
			}
		})
}

// Delete removes the flow.
func (s *EnrollmentStore) Delete(ctx context.Context, flowID string) error {
	if err := s.redis.Del(ctx, s.key(flowID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrEnrollmentBackend, err)
	}
	return nil
}

func encodeEnrollmentFlow(f *EnrollmentFlow) ([]byte, error) {
	w := newRecordWriter(enrollmentRecordVersion1)
	w.u8(f.State)
	w.u8(f.Method)
	w.u16(f.Attempts)
	w.i64(f.CreatedAt)
	w.i64(f.ExpiresAt)
	w.str(f.UserID)
	w.bytes(f.Secret)
	w.str(f.Email)
	return w.result()
}

func decodeEnrollmentFlow(data []byte) (*EnrollmentFlow, error) {
	r, err := newRecordReader(data, enrollmentRecordVersion1)
	if err != nil {
		return nil, err
	}
	f := &EnrollmentFlow{}
	f.State = r.u8()
	f.Method = r.u8()
	f.Attempts = r.u16()
	f.CreatedAt = r.i64()
	f.ExpiresAt = r.i64()
	f.UserID = r.str()
	f.Secret = r.bytes()
	f.Email = r.str()
	if r.err != nil {
		return nil, r.err
	}
	if len(f.Secret) == 0 {
		f.Secret = nil
	}
	return f, nil
}
