package twofactor

import (
	"context"
	"time"

	internalflows "github.com/MrEthical07/twofactor/internal/flows"
)

const (
	defaultActivityLimit = 20
	maxActivityLimit     = 100
)

// Status is the read-only second-factor summary of a user.
type Status struct {
	Enabled              bool
	Method               Method
	EnabledAt            time.Time
	BackupCodesRemaining int
	MaskedEmail          string
}

// Status returns the current profile summary.
func (e *Engine) Status(ctx context.Context, userID string) (Status, error) {
	if e == nil || e.store == nil {
		return Status{}, ErrEngineNotReady
	}

	profile, err := e.getProfile(ctx, userID)
	if err != nil {
		return Status{}, e.backendError(ctx, userID, err)
	}
	if !profile.Enabled() {
		return Status{}, nil
	}

	records, err := e.listBackupCodeRecords(ctx, userID)
	if err != nil {
		return Status{}, e.backendError(ctx, userID, err)
	}

	out := Status{
		Enabled:   true,
		Method:    profile.Method(),
		EnabledAt: profile.EnabledAt,
	}
	for _, r := range records {
		if !r.Used() {
			out.BackupCodesRemaining++
		}
	}
	if f, ok := profile.Factor.(EmailFactor); ok {
		out.MaskedEmail = maskEmail(f.Address)
	}
	return out, nil
}

// RequestDisableCode sends an email code that Disable accepts. It is only
// meaningful for the email method.
func (e *Engine) RequestDisableCode(ctx context.Context, userID string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	profile, err := e.getProfile(ctx, userID)
	if err != nil {
		return e.backendError(ctx, userID, err)
	}
	if !profile.Enabled() {
		return ErrNotEnabled
	}
	f, ok := profile.Factor.(EmailFactor)
	if !ok {
		return ErrInvalidMethod
	}
	return e.sendEmailCode(ctx, internalflows.PurposeDisable, userID, f.Address)
}

// Disable turns 2FA off after re-authentication and a second-factor code.
// code is either a current method code or an unused backup code; both are
// gated by the lockout ledger. The profile, backup codes and trusted
// devices are removed.
func (e *Engine) Disable(ctx context.Context, userID, password, code string) error {
	if e == nil || e.store == nil || e.identity == nil {
		return ErrEngineNotReady
	}

	profile, err := e.getProfile(ctx, userID)
	if err != nil {
		return e.backendError(ctx, userID, err)
	}
	if !profile.Enabled() {
		return ErrNotEnabled
	}

	ictx, cancel := e.storeContext(ctx)
	ok, err := e.identity.Reauthenticate(ictx, userID, password)
	cancel()
	if err != nil {
		return e.backendError(ctx, userID, err)
	}
	if !ok {
		e.emitAudit(ctx, EventTwoFactorDisabled, false, userID, ErrInvalidCredential, nil)
		return ErrInvalidCredential
	}

	var (
		gate   internalflows.GateDeps
		verify func(context.Context) error
		method string
	)
	if digits, isNumeric := e.methodCode(profile, code); isNumeric {
		gate = e.gateDeps(false)
		method = profile.Method().String()
		verify = func(ctx context.Context) error {
			switch f := profile.Factor.(type) {
			case AuthenticatorFactor:
				return e.verifyTOTP(ctx, userID, f.Secret, digits)
			case EmailFactor:
				return e.verifyEmailCode(ctx, internalflows.PurposeDisable, userID, digits)
			default:
				return ErrNotEnabled
			}
		}
	} else {
		gate = e.gateDeps(true)
		method = "backup_code"
		verify = func(ctx context.Context) error {
			return e.consumeBackupCode(ctx, userID, code)
		}
	}

	meta := map[string]string{"method": method, "purpose": internalflows.PurposeDisable}
	if _, err := internalflows.RunGated(ctx, userID, meta, gate, verify); err != nil {
		return err
	}

	if err := e.deleteProfile(ctx, userID); err != nil {
		return e.backendError(ctx, userID, err)
	}

	sctx, cancel := e.storeContext(ctx)
	if err := e.store.DeleteBackupCodes(sctx, userID); err != nil {
		e.swallowed(ctx, "backup code cleanup failed", err)
	}
	cancel()

	sctx, cancel = e.storeContext(ctx)
	if _, err := e.store.DeleteTrustedDevices(sctx, userID); err != nil {
		e.swallowed(ctx, "trusted device cleanup failed", err)
	}
	cancel()

	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, EventTwoFactorDisabled, true, userID, nil, map[string]string{"method": method})
	return nil
}

// methodCode reports whether code has the shape of a method code rather
// than a backup code, and returns it normalized.
func (e *Engine) methodCode(profile Profile, code string) (string, bool) {
	digits := e.config.TOTP.Digits
	if profile.Method() == MethodEmail {
		digits = e.config.EmailCode.Digits
	}
	return normalizeNumericCode(code, digits)
}

// ListRecentActivity returns the newest activity records of the user.
// limit defaults to 20 and is capped at 100.
func (e *Engine) ListRecentActivity(ctx context.Context, userID string, limit int) ([]ActivityRecord, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	records, err := e.store.ListActivity(sctx, userID, limit)
	if err != nil {
		return nil, e.backendError(ctx, userID, err)
	}
	return records, nil
}
