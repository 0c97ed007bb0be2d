package pgstore

import (
	"context"
	"crypto/sha256"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/twofactor"
	"github.com/google/uuid"
)

// newTestStore connects to the database named by TWOFACTOR_TEST_PG_DSN and
// migrates it. Each test uses fresh user ids, so runs do not interfere.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TWOFACTOR_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TWOFACTOR_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, Config{ConnectionString: dsn, RetryAttempts: 1})
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := Migrate(ctx, pool, nil); err != nil {
		t.Fatalf("Migrate error: %v", err)
	}
	return New(pool)
}

func userID() string {
	return "pg-" + uuid.NewString()
}

func TestConnectRejectsBadConnectionString(t *testing.T) {
	if _, err := Connect(context.Background(), Config{ConnectionString: "::not a dsn::"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDecodeProfileRejectsCorruptRows(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	empty := ""
	cases := []struct {
		name   string
		method string
		secret []byte
		email  *string
	}{
		{name: "unknown method", method: "sms", secret: []byte("s")},
		{name: "email without address", method: twofactor.MethodEmail.String()},
		{name: "email with empty address", method: twofactor.MethodEmail.String(), email: &empty},
		{name: "authenticator without secret", method: twofactor.MethodAuthenticator.String()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := decodeProfile("u1", tc.method, tc.secret, tc.email, at)
			if err == nil {
				t.Fatalf("expected an error, got profile %+v", p)
			}
			if p.Enabled() {
				t.Fatal("corrupt row decoded as an enabled profile")
			}
		})
	}

	addr := "a@example.com"
	p, err := decodeProfile("u1", twofactor.MethodEmail.String(), nil, &addr, at)
	if err != nil || p.Method() != twofactor.MethodEmail || !p.EnabledAt.Equal(at) {
		t.Fatalf("decodeProfile = %+v, %v", p, err)
	}
}

func TestProfileEnableIsConditional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := userID()

	p, err := s.GetProfile(ctx, uid)
	if err != nil || p.Enabled() {
		t.Fatalf("GetProfile = %+v, %v", p, err)
	}

	at := time.UnixMilli(1700000000000).UTC()
	ok, err := s.EnableProfile(ctx, twofactor.Profile{
		UserID:    uid,
		Factor:    twofactor.EmailFactor{Address: "a@example.com"},
		EnabledAt: at,
	})
	if err != nil || !ok {
		t.Fatalf("EnableProfile = %v, %v", ok, err)
	}
	ok, err = s.EnableProfile(ctx, twofactor.Profile{
		UserID:    uid,
		Factor:    twofactor.AuthenticatorFactor{Secret: []byte("x")},
		EnabledAt: at,
	})
	if err != nil || ok {
		t.Fatalf("second EnableProfile = %v, %v", ok, err)
	}

	p, err = s.GetProfile(ctx, uid)
	if err != nil {
		t.Fatalf("GetProfile error: %v", err)
	}
	if p.Method() != twofactor.MethodEmail || !p.EnabledAt.Equal(at) {
		t.Fatalf("unexpected profile %+v", p)
	}

	if err := s.DeleteProfile(ctx, uid); err != nil {
		t.Fatalf("DeleteProfile error: %v", err)
	}
	if p, _ := s.GetProfile(ctx, uid); p.Enabled() {
		t.Fatal("profile survived delete")
	}
}

func TestBackupCodesConsumeOnceUnderConcurrency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := userID()
	now := time.Now().UTC().Truncate(time.Millisecond)

	codes := []twofactor.BackupCodeRecord{
		{Hash: sha256.Sum256([]byte("a")), CreatedAt: now},
		{Hash: sha256.Sum256([]byte("b")), CreatedAt: now},
	}
	if err := s.ReplaceBackupCodes(ctx, uid, codes); err != nil {
		t.Fatalf("ReplaceBackupCodes error: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ConsumeBackupCode(ctx, uid, codes[1].Hash, now)
			if err != nil {
				t.Errorf("ConsumeBackupCode error: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one consume, got %d", wins.Load())
	}

	list, err := s.ListBackupCodes(ctx, uid)
	if err != nil || len(list) != 2 {
		t.Fatalf("ListBackupCodes = %d, %v", len(list), err)
	}
	if list[0].Used() || !list[1].Used() {
		t.Fatalf("unexpected usage flags %+v", list)
	}

	if err := s.ReplaceBackupCodes(ctx, uid, codes[:1]); err != nil {
		t.Fatalf("second ReplaceBackupCodes error: %v", err)
	}
	if ok, _ := s.ConsumeBackupCode(ctx, uid, codes[1].Hash, now); ok {
		t.Fatal("replaced code still consumable")
	}
	if err := s.DeleteBackupCodes(ctx, uid); err != nil {
		t.Fatalf("DeleteBackupCodes error: %v", err)
	}
}

func TestTrustedDevices(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := userID()
	base := time.Now().UTC().Truncate(time.Millisecond)

	d := twofactor.TrustedDevice{
		Fingerprint: "v1_" + uuid.NewString(),
		Label:       "laptop",
		CreatedAt:   base,
		LastUsedAt:  base,
		ExpiresAt:   base.Add(time.Hour),
	}
	if err := s.UpsertTrustedDevice(ctx, uid, d); err != nil {
		t.Fatalf("UpsertTrustedDevice error: %v", err)
	}
	refreshed := d
	refreshed.CreatedAt = base.Add(time.Minute)
	refreshed.ExpiresAt = base.Add(2 * time.Hour)
	if err := s.UpsertTrustedDevice(ctx, uid, refreshed); err != nil {
		t.Fatalf("second UpsertTrustedDevice error: %v", err)
	}

	got, ok, err := s.GetTrustedDevice(ctx, uid, d.Fingerprint)
	if err != nil || !ok {
		t.Fatalf("GetTrustedDevice = %v, %v", ok, err)
	}
	if !got.CreatedAt.Equal(base) || !got.ExpiresAt.Equal(refreshed.ExpiresAt) {
		t.Fatalf("unexpected device %+v", got)
	}

	stale := twofactor.TrustedDevice{Fingerprint: "v1_stale", CreatedAt: base, LastUsedAt: base, ExpiresAt: base}
	if err := s.UpsertTrustedDevice(ctx, uid, stale); err != nil {
		t.Fatalf("UpsertTrustedDevice error: %v", err)
	}
	list, err := s.ListTrustedDevices(ctx, uid, base)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListTrustedDevices = %d, %v", len(list), err)
	}
	n, err := s.PurgeExpiredDevices(ctx, uid, base)
	if err != nil || n != 1 {
		t.Fatalf("PurgeExpiredDevices = %d, %v", n, err)
	}

	removed, err := s.DeleteTrustedDevice(ctx, uid, d.Fingerprint)
	if err != nil || !removed {
		t.Fatalf("DeleteTrustedDevice = %v, %v", removed, err)
	}
	if n, _ := s.DeleteTrustedDevices(ctx, uid); n != 0 {
		t.Fatalf("expected no rows left, got %d", n)
	}
}

func TestActivityNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := userID()
	base := time.Now().UTC().Truncate(time.Millisecond)

	for i := 0; i < 3; i++ {
		err := s.AppendActivity(ctx, twofactor.ActivityRecord{
			ID:        uuid.NewString(),
			UserID:    uid,
			EventType: "login_2fa_challenge_succeeded",
			Success:   true,
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Context:   map[string]string{"n": string(rune('a' + i))},
		})
		if err != nil {
			t.Fatalf("AppendActivity error: %v", err)
		}
	}

	list, err := s.ListActivity(ctx, uid, 2)
	if err != nil || len(list) != 2 {
		t.Fatalf("ListActivity = %d, %v", len(list), err)
	}
	if list[0].Context["n"] != "c" || list[1].Context["n"] != "b" {
		t.Fatalf("unexpected order %+v", list)
	}
}
