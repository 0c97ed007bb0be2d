package twofactor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/twofactor"
)

func TestDisableWithAuthenticatorCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	secret, _ := h.enrollAuthenticator(t, "u1")

	fp := h.engine.Fingerprint(laptop)
	if err := h.engine.GrantTrust(ctx, "u1", fp, "laptop"); err != nil {
		t.Fatalf("GrantTrust failed: %v", err)
	}

	if err := h.engine.Disable(ctx, "u1", "wrong", h.codeAt(t, secret, 0)); !errors.Is(err, twofactor.ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
	if err := h.engine.Disable(ctx, "u1", testPassword, wrongCode(h.codeAt(t, secret, 0))); !errors.Is(err, twofactor.ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if err := h.engine.Disable(ctx, "u1", testPassword, h.codeAt(t, secret, 0)); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}

	st, err := h.engine.Status(ctx, "u1")
	if err != nil || st.Enabled {
		t.Fatalf("profile still enabled: %+v (%v)", st, err)
	}
	codes, err := h.engine.ListBackupCodes(ctx, "u1")
	if err != nil || len(codes) != 0 {
		t.Fatalf("backup codes survived: %d (%v)", len(codes), err)
	}
	if trusted, err := h.engine.IsTrusted(ctx, "u1", fp); err != nil || trusted {
		t.Fatalf("trusted device survived: %v (%v)", trusted, err)
	}
	if err := h.engine.Disable(ctx, "u1", testPassword, "123456"); !errors.Is(err, twofactor.ErrNotEnabled) {
		t.Fatalf("expected ErrNotEnabled, got %v", err)
	}
}

func TestDisableWithBackupCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, codes := h.enrollAuthenticator(t, "u1")

	if err := h.engine.Disable(ctx, "u1", testPassword, "ZZZZ-ZZZZ-ZZZZ-ZZZZ"); !errors.Is(err, twofactor.ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if err := h.engine.Disable(ctx, "u1", testPassword, codes[2]); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}
	if st, _ := h.engine.Status(ctx, "u1"); st.Enabled {
		t.Fatal("profile still enabled")
	}
}

func TestDisableEmailMethodNeedsRequestedCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enrollEmail(t, "u1", "user@example.com")
	h.enrollAuthenticator(t, "u2")

	if err := h.engine.RequestDisableCode(ctx, "u2"); !errors.Is(err, twofactor.ErrInvalidMethod) {
		t.Fatalf("expected ErrInvalidMethod for an authenticator profile, got %v", err)
	}
	if err := h.engine.RequestDisableCode(ctx, "nobody"); !errors.Is(err, twofactor.ErrNotEnabled) {
		t.Fatalf("expected ErrNotEnabled, got %v", err)
	}

	if err := h.engine.RequestDisableCode(ctx, "u1"); err != nil {
		t.Fatalf("RequestDisableCode failed: %v", err)
	}
	code := h.notifier.last("user@example.com")
	if err := h.engine.Disable(ctx, "u1", testPassword, code); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}
}

func TestDeviceTrustManagement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	fp := h.engine.Fingerprint(laptop)
	if fp != twofactor.Fingerprint(laptop) {
		t.Fatal("engine and package fingerprints differ")
	}
	other := laptop
	other.Timezone = "America/New_York"
	if h.engine.Fingerprint(other) == fp {
		t.Fatal("different signals produced the same fingerprint")
	}
	if twofactor.Fingerprint(twofactor.ClientSignals{}) != "" {
		t.Fatal("empty signals produced a fingerprint")
	}

	if err := h.engine.GrantTrust(ctx, "u1", "", "x"); !errors.Is(err, twofactor.ErrInvalidFingerprint) {
		t.Fatalf("expected ErrInvalidFingerprint, got %v", err)
	}
	if err := h.engine.GrantTrust(ctx, "u1", fp, "laptop"); err != nil {
		t.Fatalf("GrantTrust failed: %v", err)
	}
	h.clock.Advance(time.Hour)
	if err := h.engine.GrantTrust(ctx, "u1", fp, "laptop"); err != nil {
		t.Fatalf("GrantTrust refresh failed: %v", err)
	}
	if err := h.engine.GrantTrust(ctx, "u1", h.engine.Fingerprint(other), "desktop"); err != nil {
		t.Fatalf("GrantTrust failed: %v", err)
	}

	devices, err := h.engine.ListTrustedDevices(ctx, "u1")
	if err != nil || len(devices) != 2 {
		t.Fatalf("ListTrustedDevices = %d, %v", len(devices), err)
	}
	for _, d := range devices {
		if d.Fingerprint == fp && !d.ExpiresAt.Equal(h.clock.Now().Add(30*24*time.Hour)) {
			t.Fatalf("refresh did not extend expiry: %v", d.ExpiresAt)
		}
	}

	removed, err := h.engine.RevokeDevice(ctx, "u1", fp)
	if err != nil || !removed {
		t.Fatalf("RevokeDevice = %v, %v", removed, err)
	}
	if removed, _ := h.engine.RevokeDevice(ctx, "u1", fp); removed {
		t.Fatal("second revoke reported a removal")
	}
	n, err := h.engine.RevokeAllDevices(ctx, "u1")
	if err != nil || n != 1 {
		t.Fatalf("RevokeAllDevices = %d, %v", n, err)
	}
}

func TestDeviceTrustDisabled(t *testing.T) {
	h := newHarness(t, func(cfg *twofactor.Config) {
		cfg.DeviceTrust.Enabled = false
	})
	fp := h.engine.Fingerprint(laptop)
	if err := h.engine.GrantTrust(context.Background(), "u1", fp, "laptop"); !errors.Is(err, twofactor.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestRecentActivityNewestFirst(t *testing.T) {
	h := newHarness(t)
	ctx := twofactor.WithClientIP(context.Background(), "203.0.113.7")

	if _, err := h.engine.StartEnrollment(ctx, "u1", "wrong"); !errors.Is(err, twofactor.ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
	h.clock.Advance(time.Second)
	if _, err := h.engine.StartEnrollment(ctx, "u1", testPassword); err != nil {
		t.Fatalf("StartEnrollment failed: %v", err)
	}

	records, err := h.engine.ListRecentActivity(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("ListRecentActivity failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].EventType != twofactor.EventEnrollmentStarted || !records[0].Success {
		t.Fatalf("unexpected newest record %+v", records[0])
	}
	if records[1].EventType != twofactor.EventEnrollmentPasswordRejected || records[1].Success {
		t.Fatalf("unexpected oldest record %+v", records[1])
	}
	if records[0].Context["ip"] != "203.0.113.7" {
		t.Fatalf("client ip missing from context: %v", records[0].Context)
	}
	if records[0].Timestamp.Before(records[1].Timestamp) {
		t.Fatal("records not ordered newest first")
	}
}
