package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/twofactor"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is a twofactor.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ twofactor.Store = (*Store)(nil)

// New returns a Store on pool. The schema must already be migrated.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func dbErr(op string, err error) error {
	return fmt.Errorf("pgstore: %s: %w", op, err)
}

// GetProfile implements twofactor.ProfileStore.
func (s *Store) GetProfile(ctx context.Context, userID string) (twofactor.Profile, error) {
	var (
		method    string
		secret    []byte
		email     *string
		enabledAt time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT method, secret, email, enabled_at FROM two_factor_profiles WHERE user_id = $1`,
		userID,
	).Scan(&method, &secret, &email, &enabledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return twofactor.Profile{UserID: userID}, nil
		}
		return twofactor.Profile{}, dbErr("get profile", err)
	}

	return decodeProfile(userID, method, secret, email, enabledAt)
}

// decodeProfile maps a profile row. A row that does not describe a usable
// factor is an error, never a disabled profile.
func decodeProfile(userID, method string, secret []byte, email *string, enabledAt time.Time) (twofactor.Profile, error) {
	p := twofactor.Profile{UserID: userID, EnabledAt: enabledAt.UTC()}
	switch method {
	case twofactor.MethodAuthenticator.String():
		if len(secret) == 0 {
			return twofactor.Profile{}, dbErr("get profile", errors.New("authenticator row without secret"))
		}
		p.Factor = twofactor.AuthenticatorFactor{Secret: secret}
	case twofactor.MethodEmail.String():
		if email == nil || *email == "" {
			return twofactor.Profile{}, dbErr("get profile", errors.New("email row without address"))
		}
		p.Factor = twofactor.EmailFactor{Address: *email}
	default:
		return twofactor.Profile{}, dbErr("get profile", fmt.Errorf("unknown method %q", method))
	}
	return p, nil
}

// EnableProfile implements twofactor.ProfileStore.
func (s *Store) EnableProfile(ctx context.Context, p twofactor.Profile) (bool, error) {
	var (
		secret []byte
		email  *string
	)
	switch f := p.Factor.(type) {
	case twofactor.AuthenticatorFactor:
		secret = f.Secret
	case twofactor.EmailFactor:
		email = &f.Address
	default:
		return false, errors.New("pgstore: profile has no factor")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO two_factor_profiles (user_id, method, secret, email, enabled_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO NOTHING`,
		p.UserID, p.Method().String(), secret, email, p.EnabledAt,
	)
	if err != nil {
		return false, dbErr("enable profile", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteProfile implements twofactor.ProfileStore.
func (s *Store) DeleteProfile(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM two_factor_profiles WHERE user_id = $1`, userID); err != nil {
		return dbErr("delete profile", err)
	}
	return nil
}

// ReplaceBackupCodes implements twofactor.BackupCodeStore. The delete and
// the copy of the new batch share one transaction.
func (s *Store) ReplaceBackupCodes(ctx context.Context, userID string, codes []twofactor.BackupCodeRecord) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM two_factor_backup_codes WHERE user_id = $1`, userID); err != nil {
			return err
		}
		if len(codes) == 0 {
			return nil
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"two_factor_backup_codes"},
			[]string{"user_id", "position", "code_hash", "created_at"},
			pgx.CopyFromSlice(len(codes), func(i int) ([]any, error) {
				return []any{userID, i, codes[i].Hash[:], codes[i].CreatedAt}, nil
			}),
		)
		return err
	})
	if err != nil {
		return dbErr("replace backup codes", err)
	}
	return nil
}

// ListBackupCodes implements twofactor.BackupCodeStore.
func (s *Store) ListBackupCodes(ctx context.Context, userID string) ([]twofactor.BackupCodeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT code_hash, created_at, used_at FROM two_factor_backup_codes
		 WHERE user_id = $1 ORDER BY position`,
		userID,
	)
	if err != nil {
		return nil, dbErr("list backup codes", err)
	}
	defer rows.Close()

	var out []twofactor.BackupCodeRecord
	for rows.Next() {
		var (
			hash    []byte
			created time.Time
			used    *time.Time
		)
		if err := rows.Scan(&hash, &created, &used); err != nil {
			return nil, dbErr("scan backup code", err)
		}
		var rec twofactor.BackupCodeRecord
		copy(rec.Hash[:], hash)
		rec.CreatedAt = created.UTC()
		if used != nil {
			rec.UsedAt = used.UTC()
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("list backup codes", err)
	}
	return out, nil
}

// ConsumeBackupCode implements twofactor.BackupCodeStore.
func (s *Store) ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte, usedAt time.Time) (bool, error) {
	var position int
	err := s.pool.QueryRow(ctx,
		`UPDATE two_factor_backup_codes SET used_at = $3
		 WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL
		 RETURNING position`,
		userID, hash[:], usedAt,
	).Scan(&position)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, dbErr("consume backup code", err)
	}
	return true, nil
}

// DeleteBackupCodes implements twofactor.BackupCodeStore.
func (s *Store) DeleteBackupCodes(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM two_factor_backup_codes WHERE user_id = $1`, userID); err != nil {
		return dbErr("delete backup codes", err)
	}
	return nil
}

// UpsertTrustedDevice implements twofactor.DeviceStore.
func (s *Store) UpsertTrustedDevice(ctx context.Context, userID string, d twofactor.TrustedDevice) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO two_factor_trusted_devices (user_id, fingerprint, label, created_at, last_used_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, fingerprint) DO UPDATE
		 SET label = EXCLUDED.label, last_used_at = EXCLUDED.last_used_at, expires_at = EXCLUDED.expires_at`,
		userID, d.Fingerprint, d.Label, d.CreatedAt, d.LastUsedAt, d.ExpiresAt,
	)
	if err != nil {
		return dbErr("upsert trusted device", err)
	}
	return nil
}

const deviceColumns = `fingerprint, label, created_at, last_used_at, expires_at`

func scanDevice(row pgx.Row) (twofactor.TrustedDevice, error) {
	var d twofactor.TrustedDevice
	if err := row.Scan(&d.Fingerprint, &d.Label, &d.CreatedAt, &d.LastUsedAt, &d.ExpiresAt); err != nil {
		return twofactor.TrustedDevice{}, err
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.LastUsedAt = d.LastUsedAt.UTC()
	d.ExpiresAt = d.ExpiresAt.UTC()
	return d, nil
}

// GetTrustedDevice implements twofactor.DeviceStore.
func (s *Store) GetTrustedDevice(ctx context.Context, userID, fingerprint string) (twofactor.TrustedDevice, bool, error) {
	d, err := scanDevice(s.pool.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM two_factor_trusted_devices WHERE user_id = $1 AND fingerprint = $2`,
		userID, fingerprint,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return twofactor.TrustedDevice{}, false, nil
		}
		return twofactor.TrustedDevice{}, false, dbErr("get trusted device", err)
	}
	return d, true, nil
}

// TouchTrustedDevice implements twofactor.DeviceStore.
func (s *Store) TouchTrustedDevice(ctx context.Context, userID, fingerprint string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE two_factor_trusted_devices SET last_used_at = $3 WHERE user_id = $1 AND fingerprint = $2`,
		userID, fingerprint, at,
	)
	if err != nil {
		return dbErr("touch trusted device", err)
	}
	return nil
}

// ListTrustedDevices implements twofactor.DeviceStore.
func (s *Store) ListTrustedDevices(ctx context.Context, userID string, after time.Time) ([]twofactor.TrustedDevice, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+deviceColumns+` FROM two_factor_trusted_devices
		 WHERE user_id = $1 AND expires_at > $2 ORDER BY created_at`,
		userID, after,
	)
	if err != nil {
		return nil, dbErr("list trusted devices", err)
	}
	defer rows.Close()

	var out []twofactor.TrustedDevice
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, dbErr("scan trusted device", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("list trusted devices", err)
	}
	return out, nil
}

// DeleteTrustedDevice implements twofactor.DeviceStore.
func (s *Store) DeleteTrustedDevice(ctx context.Context, userID, fingerprint string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM two_factor_trusted_devices WHERE user_id = $1 AND fingerprint = $2`,
		userID, fingerprint,
	)
	if err != nil {
		return false, dbErr("delete trusted device", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteTrustedDevices implements twofactor.DeviceStore.
func (s *Store) DeleteTrustedDevices(ctx context.Context, userID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM two_factor_trusted_devices WHERE user_id = $1`, userID)
	if err != nil {
		return 0, dbErr("delete trusted devices", err)
	}
	return int(tag.RowsAffected()), nil
}

// PurgeExpiredDevices implements twofactor.DeviceStore.
func (s *Store) PurgeExpiredDevices(ctx context.Context, userID string, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM two_factor_trusted_devices WHERE user_id = $1 AND expires_at <= $2`,
		userID, before,
	)
	if err != nil {
		return 0, dbErr("purge trusted devices", err)
	}
	return int(tag.RowsAffected()), nil
}

// AppendActivity implements twofactor.ActivityStore.
func (s *Store) AppendActivity(ctx context.Context, r twofactor.ActivityRecord) error {
	meta := r.Context
	if meta == nil {
		meta = map[string]string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO two_factor_activity (id, user_id, event_type, success, occurred_at, context)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.UserID, r.EventType, r.Success, r.Timestamp, meta,
	)
	if err != nil {
		return dbErr("append activity", err)
	}
	return nil
}

// ListActivity implements twofactor.ActivityStore.
func (s *Store) ListActivity(ctx context.Context, userID string, limit int) ([]twofactor.ActivityRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, event_type, success, occurred_at, context FROM two_factor_activity
		 WHERE user_id = $1 ORDER BY occurred_at DESC, id DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, dbErr("list activity", err)
	}
	defer rows.Close()

	var out []twofactor.ActivityRecord
	for rows.Next() {
		r := twofactor.ActivityRecord{UserID: userID}
		if err := rows.Scan(&r.ID, &r.EventType, &r.Success, &r.Timestamp, &r.Context); err != nil {
			return nil, dbErr("scan activity", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("list activity", err)
	}
	return out, nil
}
