package twofactor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/MrEthical07/twofactor/internal"
	internalflows "github.com/MrEthical07/twofactor/internal/flows"
	"github.com/MrEthical07/twofactor/internal/stores"
)

var (
	errEmailCodeAttempts     = fmt.Errorf("%w: too many attempts, request a new code", ErrInvalidCode)
	errEmailCodeAlreadyUsed  = fmt.Errorf("%w: code already used", ErrInvalidCode)
	errEmailCodeNotRequested = fmt.Errorf("%w: no pending code", ErrExpiredCode)
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// normalizeEmail trims and lower-cases the domain part, then checks the
// address shape.
func normalizeEmail(address string) (string, error) {
	address = strings.TrimSpace(address)
	local, domain, ok := strings.Cut(address, "@")
	if !ok || local == "" || domain == "" {
		return "", ErrInvalidEmail
	}
	address = local + "@" + strings.ToLower(domain)
	if len(address) > 254 || !emailPattern.MatchString(address) {
		return "", ErrInvalidEmail
	}
	return address, nil
}

// maskEmail keeps the first character of the local part and the domain.
func maskEmail(address string) string {
	local, domain, ok := strings.Cut(address, "@")
	if !ok || local == "" {
		return ""
	}
	return local[:1] + "***@" + domain
}

// isCodeFailure reports whether err is a rejected code that counts against
// the lockout ledger. An expired or never requested email code counts too.
func isCodeFailure(err error) bool {
	return errors.Is(err, ErrInvalidCode) || errors.Is(err, ErrExpiredCode)
}

// VerifyCode reports whether code is valid for secret at the given time,
// allowing the configured clock skew. It has no side effects and performs no
// replay check.
func (e *Engine) VerifyCode(secret []byte, code string, at time.Time) bool {
	if e == nil || e.totp == nil {
		return false
	}
	ok, _, err := e.totp.verify(secret, code, at)
	return err == nil && ok
}

// verifyTOTP checks a code and, with replay protection on, claims its time
// step so it cannot be used twice.
func (e *Engine) verifyTOTP(ctx context.Context, userID string, secret []byte, code string) error {
	ok, step, err := e.totp.verify(secret, code, e.now())
	if err != nil {
		return ErrEngineNotReady
	}
	if !ok {
		return ErrInvalidCode
	}
	if !e.config.TOTP.EnforceReplayProtection || e.replay == nil {
		return nil
	}

	claimed, err := e.replay.Claim(ctx, userID, step)
	if err != nil {
		return e.backendError(ctx, userID, err)
	}
	if !claimed {
		e.metricInc(MetricReplayDetected)
		return ErrCodeReplayed
	}
	return nil
}

// sendEmailCode writes a new code record and then hands the plaintext to
// the notifier. The record exists even when delivery fails or times out.
func (e *Engine) sendEmailCode(ctx context.Context, purpose, userID, address string) error {
	if e.notifier == nil {
		return ErrEngineNotReady
	}

	now := e.now()
	ok, wait, err := e.resend.Acquire(ctx, purpose, userID, now)
	if err != nil {
		return e.backendError(ctx, userID, err)
	}
	if !ok {
		e.metricInc(MetricEmailCodeResendLimited)
		return &CooldownError{Remaining: wait}
	}

	code, err := internal.NewOTP(e.config.EmailCode.Digits)
	if err != nil {
		_ = e.resend.Release(ctx, purpose, userID)
		return ErrEngineNotReady
	}
	record := &stores.EmailCode{
		CodeHash:  internal.HashScopedCode(userID, purpose, code),
		Email:     address,
		IssuedAt:  now.UnixMilli(),
		ExpiresAt: now.Add(e.config.EmailCode.TTL).UnixMilli(),
	}
	if err := e.emailCodes.Issue(ctx, purpose, userID, record, now); err != nil {
		if relErr := e.resend.Release(ctx, purpose, userID); relErr != nil {
			e.swallowed(ctx, "resend cooldown release failed", relErr)
		}
		return e.backendError(ctx, userID, err)
	}

	nctx, cancel := e.notifyContext(ctx)
	defer cancel()
	if err := e.notifier.SendCode(nctx, address, code); err != nil {
		e.metricInc(MetricDeliveryFailure)
		wrapped := fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		e.emitAudit(ctx, EventCodeDeliveryFailed, false, userID, wrapped, map[string]string{
			"purpose":     purpose,
			"destination": maskEmail(address),
		})
		return wrapped
	}

	e.metricInc(MetricEmailCodeSent)
	return nil
}

func (e *Engine) verifyEmailCode(ctx context.Context, purpose, userID, code string) error {
	normalized, ok := normalizeNumericCode(code, e.config.EmailCode.Digits)
	if !ok {
		return ErrInvalidCode
	}

	hash := internal.HashScopedCode(userID, purpose, normalized)
	_, err := e.emailCodes.Verify(ctx, purpose, userID, hash, e.config.EmailCode.MaxAttempts, e.now())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrEmailCodeInvalid):
		return ErrInvalidCode
	case errors.Is(err, stores.ErrEmailCodeAttemptsExceeded):
		return errEmailCodeAttempts
	case errors.Is(err, stores.ErrEmailCodeUsed):
		return errEmailCodeAlreadyUsed
	case errors.Is(err, stores.ErrEmailCodeExpired):
		return ErrExpiredCode
	case errors.Is(err, stores.ErrEmailCodeNotFound):
		return errEmailCodeNotRequested
	default:
		return e.backendError(ctx, userID, err)
	}
}

func (e *Engine) consumeBackupCode(ctx context.Context, userID, code string) error {
	return internalflows.RunConsumeBackupCode(ctx, userID, code, e.backupCodeFlowDeps())
}

func (e *Engine) lockState(ctx context.Context, userID string) (internalflows.LockState, error) {
	status, err := e.lockout.CheckLocked(ctx, userID, e.now())
	if err != nil {
		return internalflows.LockState{}, err
	}
	return internalflows.LockState{Locked: status.Locked, Failures: status.Failures, Remaining: status.Remaining}, nil
}

func (e *Engine) reserveAttempt(ctx context.Context, userID string) (internalflows.Reservation, error) {
	r, err := e.lockout.ReserveAttempt(ctx, userID, e.now())
	if err != nil {
		return internalflows.Reservation{}, err
	}
	return internalflows.Reservation{
		Granted: r.Granted,
		State:   internalflows.LockState{Locked: r.Locked, Failures: r.Failures, Remaining: r.Remaining},
		Release: func(ctx context.Context) error {
			return e.lockout.ReleaseAttempt(context.WithoutCancel(ctx), userID, r)
		},
	}, nil
}

func (e *Engine) gateDeps(backup bool) internalflows.GateDeps {
	deps := internalflows.GateDeps{
		ReserveAttempt: e.reserveAttempt,
		RecordSuccess:  e.lockout.RecordSuccess,
		IsCodeFailure:  isCodeFailure,
		LockedError: func(remaining time.Duration) error {
			return &LockoutError{Remaining: remaining}
		},
		BackendError: e.backendError,
		OnSwallowed:  e.swallowed,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Metrics: internalflows.GateMetrics{
			Success:          int(MetricVerificationSuccess),
			Failure:          int(MetricVerificationFailure),
			Locked:           int(MetricVerificationLocked),
			LockoutTriggered: int(MetricLockoutTriggered),
		},
		Events: internalflows.GateEvents{
			Success:          EventVerificationSuccess,
			Failure:          EventVerificationFailure,
			Locked:           EventVerificationLocked,
			LockoutTriggered: EventLockoutTriggered,
		},
		Errors: internalflows.GateErrors{
			EngineNotReady: ErrEngineNotReady,
		},
	}
	if backup {
		deps.Metrics.Success = int(MetricBackupCodeUsed)
		deps.Metrics.Failure = int(MetricBackupCodeFailed)
		deps.Events.Success = EventBackupCodeUsed
		deps.Events.Failure = EventBackupCodeFailed
	}
	return deps
}
