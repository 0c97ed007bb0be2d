package redisstore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/twofactor"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix   = "tfs"
	maxWatchRetries = 4
)

var errRetriesExhausted = errors.New("redisstore: contention retries exhausted")

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix (default "tfs").
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithActivityCap keeps only the newest n activity records per user. By
// default the list is append-only and nothing is trimmed; set a cap only
// when an external retention policy allows dropping old records.
func WithActivityCap(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.activityCap = n
		}
	}
}

// Store is a twofactor.Store backed by Redis.
type Store struct {
	redis       redis.UniversalClient
	prefix      string
	activityCap int
}

var _ twofactor.Store = (*Store)(nil)

// New returns a Store on client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		redis:  client,
		prefix: defaultPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(userID, kind string) string {
	return s.prefix + ":{" + userID + "}:" + kind
}

func backendErr(op string, err error) error {
	return fmt.Errorf("redisstore: %s: %w", op, err)
}

// watch runs fn under WATCH on keys, retrying on contention.
func (s *Store) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxWatchRetries; i++ {
		err := s.redis.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return errRetriesExhausted
}

// Profiles

var enableProfileScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'method', ARGV[1], 'secret', ARGV[2], 'email', ARGV[3], 'enabled_at', ARGV[4])
return 1
`)

// GetProfile implements twofactor.ProfileStore.
func (s *Store) GetProfile(ctx context.Context, userID string) (twofactor.Profile, error) {
	vals, err := s.redis.HGetAll(ctx, s.key(userID, "profile")).Result()
	if err != nil {
		return twofactor.Profile{}, backendErr("get profile", err)
	}
	if len(vals) == 0 {
		return twofactor.Profile{UserID: userID}, nil
	}

	enabledAt, _ := strconv.ParseInt(vals["enabled_at"], 10, 64)
	p := twofactor.Profile{
		UserID:    userID,
		EnabledAt: time.UnixMilli(enabledAt).UTC(),
	}
	switch vals["method"] {
	case twofactor.MethodAuthenticator.String():
		secret, err := hex.DecodeString(vals["secret"])
		if err != nil {
			return twofactor.Profile{}, backendErr("decode profile secret", err)
		}
		p.Factor = twofactor.AuthenticatorFactor{Secret: secret}
	case twofactor.MethodEmail.String():
		if vals["email"] == "" {
			return twofactor.Profile{}, backendErr("get profile", errors.New("email profile without address"))
		}
		p.Factor = twofactor.EmailFactor{Address: vals["email"]}
	default:
		return twofactor.Profile{}, backendErr("get profile", fmt.Errorf("unknown method %q", vals["method"]))
	}
	return p, nil
}

// EnableProfile implements twofactor.ProfileStore.
func (s *Store) EnableProfile(ctx context.Context, p twofactor.Profile) (bool, error) {
	var secret, email string
	switch f := p.Factor.(type) {
	case twofactor.AuthenticatorFactor:
		secret = hex.EncodeToString(f.Secret)
	case twofactor.EmailFactor:
		email = f.Address
	default:
		return false, errors.New("redisstore: profile has no factor")
	}

	n, err := enableProfileScript.Run(ctx, s.redis, []string{s.key(p.UserID, "profile")},
		p.Method().String(), secret, email, p.EnabledAt.UnixMilli()).Int()
	if err != nil {
		return false, backendErr("enable profile", err)
	}
	return n == 1, nil
}

// DeleteProfile implements twofactor.ProfileStore.
func (s *Store) DeleteProfile(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.key(userID, "profile")).Err(); err != nil {
		return backendErr("delete profile", err)
	}
	return nil
}

// Backup codes

var consumeCodeScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then
  return 0
end
return redis.call('HSETNX', KEYS[2], ARGV[1], ARGV[2])
`)

// ReplaceBackupCodes implements twofactor.BackupCodeStore. The delete and
// the new batch commit in one MULTI.
func (s *Store) ReplaceBackupCodes(ctx context.Context, userID string, codes []twofactor.BackupCodeRecord) error {
	codesKey, usedKey := s.key(userID, "codes"), s.key(userID, "used")
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, codesKey, usedKey)
		if len(codes) == 0 {
			return nil
		}
		fields := make([]interface{}, 0, 2*len(codes))
		for i, c := range codes {
			fields = append(fields, hex.EncodeToString(c.Hash[:]), strconv.Itoa(i)+":"+strconv.FormatInt(c.CreatedAt.UnixMilli(), 10))
		}
		pipe.HSet(ctx, codesKey, fields...)
		return nil
	})
	if err != nil {
		return backendErr("replace backup codes", err)
	}
	return nil
}

// ListBackupCodes implements twofactor.BackupCodeStore.
func (s *Store) ListBackupCodes(ctx context.Context, userID string) ([]twofactor.BackupCodeRecord, error) {
	var codesCmd, usedCmd *redis.MapStringStringCmd
	_, err := s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		codesCmd = pipe.HGetAll(ctx, s.key(userID, "codes"))
		usedCmd = pipe.HGetAll(ctx, s.key(userID, "used"))
		return nil
	})
	if err != nil {
		return nil, backendErr("list backup codes", err)
	}

	type positioned struct {
		pos    int
		record twofactor.BackupCodeRecord
	}
	used := usedCmd.Val()
	items := make([]positioned, 0, len(codesCmd.Val()))
	for field, value := range codesCmd.Val() {
		raw, err := hex.DecodeString(field)
		if err != nil || len(raw) != 32 {
			return nil, backendErr("list backup codes", fmt.Errorf("bad code field %q", field))
		}
		posStr, createdStr, ok := strings.Cut(value, ":")
		if !ok {
			return nil, backendErr("list backup codes", fmt.Errorf("bad code value %q", value))
		}
		pos, _ := strconv.Atoi(posStr)
		created, _ := strconv.ParseInt(createdStr, 10, 64)

		var rec twofactor.BackupCodeRecord
		copy(rec.Hash[:], raw)
		rec.CreatedAt = time.UnixMilli(created).UTC()
		if usedMS, ok := used[field]; ok {
			ms, _ := strconv.ParseInt(usedMS, 10, 64)
			rec.UsedAt = time.UnixMilli(ms).UTC()
		}
		items = append(items, positioned{pos: pos, record: rec})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].pos < items[j].pos })

	out := make([]twofactor.BackupCodeRecord, len(items))
	for i, it := range items {
		out[i] = it.record
	}
	return out, nil
}

// ConsumeBackupCode implements twofactor.BackupCodeStore.
func (s *Store) ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte, usedAt time.Time) (bool, error) {
	n, err := consumeCodeScript.Run(ctx, s.redis,
		[]string{s.key(userID, "codes"), s.key(userID, "used")},
		hex.EncodeToString(hash[:]), usedAt.UnixMilli()).Int()
	if err != nil {
		return false, backendErr("consume backup code", err)
	}
	return n == 1, nil
}

// DeleteBackupCodes implements twofactor.BackupCodeStore.
func (s *Store) DeleteBackupCodes(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.key(userID, "codes"), s.key(userID, "used")).Err(); err != nil {
		return backendErr("delete backup codes", err)
	}
	return nil
}

// Trusted devices

type deviceRecord struct {
	Label      string `json:"label"`
	CreatedAt  int64  `json:"created_at"`
	LastUsedAt int64  `json:"last_used_at"`
	ExpiresAt  int64  `json:"expires_at"`
}

func encodeDevice(d twofactor.TrustedDevice) (string, error) {
	b, err := json.Marshal(deviceRecord{
		Label:      d.Label,
		CreatedAt:  d.CreatedAt.UnixMilli(),
		LastUsedAt: d.LastUsedAt.UnixMilli(),
		ExpiresAt:  d.ExpiresAt.UnixMilli(),
	})
	return string(b), err
}

func decodeDevice(fingerprint, raw string) (twofactor.TrustedDevice, error) {
	var r deviceRecord
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return twofactor.TrustedDevice{}, err
	}
	return twofactor.TrustedDevice{
		Fingerprint: fingerprint,
		Label:       r.Label,
		CreatedAt:   time.UnixMilli(r.CreatedAt).UTC(),
		LastUsedAt:  time.UnixMilli(r.LastUsedAt).UTC(),
		ExpiresAt:   time.UnixMilli(r.ExpiresAt).UTC(),
	}, nil
}

// UpsertTrustedDevice implements twofactor.DeviceStore.
func (s *Store) UpsertTrustedDevice(ctx context.Context, userID string, device twofactor.TrustedDevice) error {
	key := s.key(userID, "devices")
	err := s.watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, device.Fingerprint).Result()
		switch {
		case err == nil:
			if existing, decErr := decodeDevice(device.Fingerprint, raw); decErr == nil {
				device.CreatedAt = existing.CreatedAt
			}
		case !errors.Is(err, redis.Nil):
			return err
		}

		encoded, err := encodeDevice(device)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, device.Fingerprint, encoded)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return backendErr("upsert trusted device", err)
	}
	return nil
}

// GetTrustedDevice implements twofactor.DeviceStore.
func (s *Store) GetTrustedDevice(ctx context.Context, userID, fingerprint string) (twofactor.TrustedDevice, bool, error) {
	raw, err := s.redis.HGet(ctx, s.key(userID, "devices"), fingerprint).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return twofactor.TrustedDevice{}, false, nil
		}
		return twofactor.TrustedDevice{}, false, backendErr("get trusted device", err)
	}
	d, err := decodeDevice(fingerprint, raw)
	if err != nil {
		return twofactor.TrustedDevice{}, false, backendErr("decode trusted device", err)
	}
	return d, true, nil
}

// TouchTrustedDevice implements twofactor.DeviceStore.
func (s *Store) TouchTrustedDevice(ctx context.Context, userID, fingerprint string, at time.Time) error {
	key := s.key(userID, "devices")
	err := s.watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, fingerprint).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		d, err := decodeDevice(fingerprint, raw)
		if err != nil {
			return err
		}
		d.LastUsedAt = at
		encoded, err := encodeDevice(d)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fingerprint, encoded)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return backendErr("touch trusted device", err)
	}
	return nil
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (s *Store) allDevices(ctx context.Context, c hashReader, userID string) ([]twofactor.TrustedDevice, error) {
	vals, err := c.HGetAll(ctx, s.key(userID, "devices")).Result()
	if err != nil {
		return nil, err
	}
	out := make([]twofactor.TrustedDevice, 0, len(vals))
	for fp, raw := range vals {
		d, err := decodeDevice(fp, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListTrustedDevices implements twofactor.DeviceStore.
func (s *Store) ListTrustedDevices(ctx context.Context, userID string, after time.Time) ([]twofactor.TrustedDevice, error) {
	all, err := s.allDevices(ctx, s.redis, userID)
	if err != nil {
		return nil, backendErr("list trusted devices", err)
	}
	out := all[:0]
	for _, d := range all {
		if d.ExpiresAt.After(after) {
			out = append(out, d)
		}
	}
	return out, nil
}

// DeleteTrustedDevice implements twofactor.DeviceStore.
func (s *Store) DeleteTrustedDevice(ctx context.Context, userID, fingerprint string) (bool, error) {
	n, err := s.redis.HDel(ctx, s.key(userID, "devices"), fingerprint).Result()
	if err != nil {
		return false, backendErr("delete trusted device", err)
	}
	return n == 1, nil
}

// DeleteTrustedDevices implements twofactor.DeviceStore.
func (s *Store) DeleteTrustedDevices(ctx context.Context, userID string) (int, error) {
	key := s.key(userID, "devices")
	var count *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.HLen(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return 0, backendErr("delete trusted devices", err)
	}
	return int(count.Val()), nil
}

// PurgeExpiredDevices implements twofactor.DeviceStore.
func (s *Store) PurgeExpiredDevices(ctx context.Context, userID string, before time.Time) (int, error) {
	key := s.key(userID, "devices")
	var purged int
	err := s.watch(ctx, func(tx *redis.Tx) error {
		all, err := s.allDevices(ctx, tx, userID)
		if err != nil {
			return err
		}
		expired := make([]string, 0, len(all))
		for _, d := range all {
			if !d.ExpiresAt.After(before) {
				expired = append(expired, d.Fingerprint)
			}
		}
		purged = len(expired)
		if purged == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, key, expired...)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return 0, backendErr("purge trusted devices", err)
	}
	return purged, nil
}

// Activity

type activityRecord struct {
	ID        string            `json:"id"`
	EventType string            `json:"event_type"`
	Success   bool              `json:"success"`
	Timestamp int64             `json:"ts"`
	Context   map[string]string `json:"ctx,omitempty"`
}

// AppendActivity implements twofactor.ActivityStore. Records are only
// trimmed when WithActivityCap is set.
func (s *Store) AppendActivity(ctx context.Context, record twofactor.ActivityRecord) error {
	b, err := json.Marshal(activityRecord{
		ID:        record.ID,
		EventType: record.EventType,
		Success:   record.Success,
		Timestamp: record.Timestamp.UnixMilli(),
		Context:   record.Context,
	})
	if err != nil {
		return err
	}

	key := s.key(record.UserID, "activity")
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, b)
		if s.activityCap > 0 {
			pipe.LTrim(ctx, key, 0, int64(s.activityCap-1))
		}
		return nil
	})
	if err != nil {
		return backendErr("append activity", err)
	}
	return nil
}

// ListActivity implements twofactor.ActivityStore.
func (s *Store) ListActivity(ctx context.Context, userID string, limit int) ([]twofactor.ActivityRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := s.redis.LRange(ctx, s.key(userID, "activity"), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, backendErr("list activity", err)
	}

	out := make([]twofactor.ActivityRecord, 0, len(raw))
	for _, item := range raw {
		var r activityRecord
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, backendErr("decode activity", err)
		}
		out = append(out, twofactor.ActivityRecord{
			ID:        r.ID,
			UserID:    userID,
			EventType: r.EventType,
			Success:   r.Success,
			Timestamp: time.UnixMilli(r.Timestamp).UTC(),
			Context:   r.Context,
		})
	}
	return out, nil
}
