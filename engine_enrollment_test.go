package twofactor_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/twofactor"
)

func TestAuthenticatorEnrollmentEnablesOnlyAfterFirstCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	e, err := h.engine.StartEnrollment(ctx, "u1", testPassword)
	if err != nil {
		t.Fatalf("StartEnrollment failed: %v", err)
	}
	if e.State != twofactor.EnrollmentMethodChosen || e.Ticket == "" {
		t.Fatalf("unexpected start view %+v", e)
	}

	e, err = h.engine.ChooseMethod(ctx, e.Ticket, twofactor.MethodAuthenticator)
	if err != nil {
		t.Fatalf("ChooseMethod failed: %v", err)
	}
	if e.State != twofactor.EnrollmentAwaitingFirstCode || e.Setup == nil {
		t.Fatalf("unexpected provisioned view %+v", e)
	}
	if !strings.HasPrefix(e.Setup.URI, "otpauth://totp/") || !strings.Contains(e.Setup.URI, "issuer=Chat") {
		t.Fatalf("unexpected provisioning uri %q", e.Setup.URI)
	}
	if len(e.Setup.Image) == 0 {
		t.Fatal("expected a QR code image")
	}

	if st, _ := h.engine.Status(ctx, "u1"); st.Enabled {
		t.Fatal("profile enabled before the first code was confirmed")
	}

	secret := e.Setup.Secret
	if _, err := h.engine.ConfirmFirstCode(ctx, e.Ticket, wrongCode(h.codeAt(t, secret, 0))); !errors.Is(err, twofactor.ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}

	e, err = h.engine.ConfirmFirstCode(ctx, e.Ticket, h.codeAt(t, secret, 0))
	if err != nil {
		t.Fatalf("ConfirmFirstCode failed: %v", err)
	}
	if e.State != twofactor.EnrollmentBackupCodesIssued || len(e.BackupCodes) != 8 {
		t.Fatalf("unexpected confirmed view state=%v codes=%d", e.State, len(e.BackupCodes))
	}
	if e.Setup != nil {
		t.Fatal("secret still exposed after confirmation")
	}

	st, err := h.engine.Status(ctx, "u1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !st.Enabled || st.Method != twofactor.MethodAuthenticator || st.BackupCodesRemaining != 8 {
		t.Fatalf("unexpected status %+v", st)
	}

	done, err := h.engine.CompleteEnrollment(ctx, e.Ticket)
	if err != nil {
		t.Fatalf("CompleteEnrollment failed: %v", err)
	}
	if done.Ticket != "" {
		t.Fatal("completed enrollment still returns a ticket")
	}
	if _, err := h.engine.CompleteEnrollment(ctx, e.Ticket); !errors.Is(err, twofactor.ErrFlowNotFound) {
		t.Fatalf("expected ErrFlowNotFound after completion, got %v", err)
	}
}

func TestStartEnrollmentRequiresPasswordAndDisabledProfile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.engine.StartEnrollment(ctx, "u1", "wrong"); !errors.Is(err, twofactor.ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}

	h.enrollAuthenticator(t, "u1")
	if _, err := h.engine.StartEnrollment(ctx, "u1", testPassword); !errors.Is(err, twofactor.ErrAlreadyEnabled) {
		t.Fatalf("expected ErrAlreadyEnabled, got %v", err)
	}
}

func TestAbandonedEnrollmentLeavesProfileDisabled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	e, err := h.engine.StartEnrollment(ctx, "u1", testPassword)
	if err != nil {
		t.Fatalf("StartEnrollment failed: %v", err)
	}
	e, err = h.engine.ChooseMethod(ctx, e.Ticket, twofactor.MethodAuthenticator)
	if err != nil {
		t.Fatalf("ChooseMethod failed: %v", err)
	}
	secret := e.Setup.Secret

	h.clock.Advance(16 * time.Minute)

	if _, err := h.engine.ConfirmFirstCode(ctx, e.Ticket, h.codeAt(t, secret, 0)); !errors.Is(err, twofactor.ErrFlowNotFound) {
		t.Fatalf("expected ErrFlowNotFound for an expired flow, got %v", err)
	}
	st, err := h.engine.Status(ctx, "u1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.Enabled {
		t.Fatal("abandoned enrollment enabled the profile")
	}
	codes, err := h.engine.ListBackupCodes(ctx, "u1")
	if err != nil || len(codes) != 0 {
		t.Fatalf("expected no backup codes, got %d (%v)", len(codes), err)
	}

	// A fresh enrollment is possible right away.
	if _, err := h.engine.StartEnrollment(ctx, "u1", testPassword); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
}

func TestEnrollmentDiscardedAfterTooManyWrongCodes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	e, err := h.engine.StartEnrollment(ctx, "u1", testPassword)
	if err != nil {
		t.Fatalf("StartEnrollment failed: %v", err)
	}
	e, err = h.engine.ChooseMethod(ctx, e.Ticket, twofactor.MethodAuthenticator)
	if err != nil {
		t.Fatalf("ChooseMethod failed: %v", err)
	}
	bad := wrongCode(h.codeAt(t, e.Setup.Secret, 0))

	for i := 1; i < 5; i++ {
		if _, err := h.engine.ConfirmFirstCode(ctx, e.Ticket, bad); !errors.Is(err, twofactor.ErrInvalidCode) {
			t.Fatalf("attempt %d: expected ErrInvalidCode, got %v", i, err)
		}
	}
	if _, err := h.engine.ConfirmFirstCode(ctx, e.Ticket, bad); !errors.Is(err, twofactor.ErrFlowAttemptsExceeded) {
		t.Fatalf("expected ErrFlowAttemptsExceeded, got %v", err)
	}
	if _, err := h.engine.ConfirmFirstCode(ctx, e.Ticket, h.codeAt(t, e.Setup.Secret, 0)); !errors.Is(err, twofactor.ErrFlowNotFound) {
		t.Fatalf("expected ErrFlowNotFound, got %v", err)
	}

	// Enrollment failures do not feed the login lockout ledger.
	status, err := h.engine.CheckLocked(ctx, "u1")
	if err != nil || status.Failures != 0 {
		t.Fatalf("unexpected lockout status %+v (%v)", status, err)
	}
}

func TestChooseMethodRejectsUnknownMethod(t *testing.T) {
	h := newHarness(t)
	e, err := h.engine.StartEnrollment(context.Background(), "u1", testPassword)
	if err != nil {
		t.Fatalf("StartEnrollment failed: %v", err)
	}
	if _, err := h.engine.ChooseMethod(context.Background(), e.Ticket, twofactor.MethodNone); !errors.Is(err, twofactor.ErrInvalidMethod) {
		t.Fatalf("expected ErrInvalidMethod, got %v", err)
	}
}

func TestEmailEnrollmentDeliveryFailureAndCooldown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	e, err := h.engine.StartEnrollment(ctx, "u1", testPassword)
	if err != nil {
		t.Fatalf("StartEnrollment failed: %v", err)
	}
	e, err = h.engine.ChooseMethod(ctx, e.Ticket, twofactor.MethodEmail)
	if err != nil {
		t.Fatalf("ChooseMethod failed: %v", err)
	}
	if e.State != twofactor.EnrollmentEmailPending {
		t.Fatalf("expected EmailPending, got %v", e.State)
	}
	ticket := e.Ticket

	if _, err := h.engine.SubmitEmailAddress(ctx, ticket, "not-an-address"); !errors.Is(err, twofactor.ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}

	h.notifier.setFail(true)
	if _, err := h.engine.SubmitEmailAddress(ctx, ticket, "user@Example.COM"); !errors.Is(err, twofactor.ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	h.notifier.setFail(false)

	_, err = h.engine.SubmitEmailAddress(ctx, ticket, "user@example.com")
	if !errors.Is(err, twofactor.ErrResendCooldown) {
		t.Fatalf("expected ErrResendCooldown, got %v", err)
	}
	if wait, ok := twofactor.RemainingCooldown(err); !ok || wait <= 0 || wait > 30*time.Second {
		t.Fatalf("unexpected cooldown %v %v", wait, ok)
	}

	h.clock.Advance(31 * time.Second)
	e, err = h.engine.SubmitEmailAddress(ctx, ticket, "user@example.com")
	if err != nil {
		t.Fatalf("SubmitEmailAddress retry failed: %v", err)
	}
	if e.State != twofactor.EnrollmentAwaitingFirstCode || e.MaskedEmail != "u***@example.com" {
		t.Fatalf("unexpected view %+v", e)
	}

	code := h.notifier.last("user@example.com")
	if code == "" {
		t.Fatal("no code delivered")
	}
	e, err = h.engine.ConfirmFirstCode(ctx, e.Ticket, code)
	if err != nil {
		t.Fatalf("ConfirmFirstCode failed: %v", err)
	}
	if len(e.BackupCodes) == 0 {
		t.Fatal("expected backup codes")
	}

	st, err := h.engine.Status(ctx, "u1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.Method != twofactor.MethodEmail || st.MaskedEmail != "u***@example.com" {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestEnrollmentTicketIsKindAndUserScoped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.engine.ChooseMethod(ctx, "garbage", twofactor.MethodEmail); !errors.Is(err, twofactor.ErrFlowNotFound) {
		t.Fatalf("expected ErrFlowNotFound, got %v", err)
	}

	h.enrollAuthenticator(t, "u2")
	ch := h.begin(t, "u2", "")
	if _, err := h.engine.ChooseMethod(ctx, ch.Ticket, twofactor.MethodEmail); !errors.Is(err, twofactor.ErrFlowNotFound) {
		t.Fatalf("challenge ticket accepted as enrollment ticket: %v", err)
	}
}
