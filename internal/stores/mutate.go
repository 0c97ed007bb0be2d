package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type mutation uint8

const (
	mutationKeep mutation = iota
	mutationSave
	mutationDelete
)

var errRetriesExhausted = errors.New("record contention retries exhausted")

// recordErrors are the store-specific sentinels mutate reports with.
type recordErrors struct {
	notFound error
	expired  error
	backend  error
}

// codec adapts a record type to the shared WATCH loop.
type codec[T any] struct {
	encode    func(*T) ([]byte, error)
	decode    func([]byte) (*T, error)
	expiresAt func(*T) int64
	// retain keeps expired records readable for a while so callers can tell
	// "expired" from "never existed".
	retain time.Duration
}

// mutate loads key, applies fn and persists the outcome inside one optimistic
// transaction. fn's error is returned after its mutation is applied, which
// lets a failed attempt still be counted.
//
// A missing key yields errs.notFound. An expired record is deleted and
// yields errs.expired. Redis and decode failures are wrapped in errs.backend.
func mutate[T any](
	ctx context.Context,
	rdb redis.UniversalClient,
	key string,
	now time.Time,
	c codec[T],
	errs recordErrors,
	fn func(*T) (mutation, error),
) (*T, error) {
	const maxRetries = 4

	for i := 0; i < maxRetries; i++ {
		var (
			out    *T
			result error
		)
		err := rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			record, err := c.decode(data)
			if err != nil {
				return err
			}

			expires := c.expiresAt(record)
			if now.UnixMilli() >= expires {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				result = errs.expired
				return nil
			}

			action, fnErr := fn(record)
			result = fnErr
			out = record

			switch action {
			case mutationSave:
				encoded, err := c.encode(record)
				if err != nil {
					return err
				}
				ttl := ttlUntil(c.expiresAt(record), now) + c.retain
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, encoded, ttl)
					return nil
				})
				return err
			case mutationDelete:
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, errs.notFound
			}
			return nil, fmt.Errorf("%w: %v", errs.backend, err)
		}
		return out, result
	}

	return nil, fmt.Errorf("%w: %v", errs.backend, errRetriesExhausted)
}

func ttlUntil(expiresAtMillis int64, now time.Time) time.Duration {
	return time.UnixMilli(expiresAtMillis).Sub(now)
}
