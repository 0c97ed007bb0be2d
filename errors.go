package twofactor

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredential is returned when password re-authentication fails.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrInvalidCode is returned for a wrong TOTP, email or backup code.
	ErrInvalidCode = errors.New("invalid code")
	// ErrCodeReplayed is returned when a TOTP code for an already spent time
	// step is submitted again.
	ErrCodeReplayed = fmt.Errorf("%w: code already used", ErrInvalidCode)
	// ErrExpiredCode is returned when an email code is past its TTL.
	ErrExpiredCode = errors.New("code expired")
	// ErrAccountLocked is returned while the lockout cooldown is active. The
	// concrete error is a *LockoutError carrying the remaining time.
	ErrAccountLocked = errors.New("account locked")
	// ErrDeliveryFailed is returned when the notifier could not send a code.
	ErrDeliveryFailed = errors.New("code delivery failed")
	// ErrAlreadyEnabled is returned when enrolling a user that has 2FA on.
	ErrAlreadyEnabled = errors.New("two-factor already enabled")
	// ErrNotEnabled is returned for operations that need 2FA on.
	ErrNotEnabled = errors.New("two-factor not enabled")
	// ErrPersistenceUnavailable wraps every storage collaborator failure.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")

	// ErrFlowNotFound is returned for an unknown, expired or finished
	// enrollment flow or login challenge.
	ErrFlowNotFound = errors.New("flow not found")
	// ErrInvalidState is returned when an operation does not fit the current
	// step of a flow.
	ErrInvalidState = errors.New("invalid flow state")
	// ErrFlowAttemptsExceeded is returned when an enrollment flow is
	// discarded after too many wrong codes.
	ErrFlowAttemptsExceeded = errors.New("flow attempts exceeded")
	// ErrResendCooldown is returned when a code is requested too soon. The
	// concrete error is a *CooldownError.
	ErrResendCooldown = errors.New("resend cooldown active")
	// ErrInvalidMethod is returned for an unknown second-factor method.
	ErrInvalidMethod = errors.New("invalid method")
	// ErrInvalidEmail is returned for a malformed delivery address.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidFingerprint is returned when no usable device fingerprint
	// was supplied.
	ErrInvalidFingerprint = errors.New("invalid device fingerprint")
	// ErrEngineNotReady is returned when a required collaborator is missing.
	ErrEngineNotReady = errors.New("engine not ready")
)

// LockoutError reports an active lockout. errors.Is(err, ErrAccountLocked)
// holds for it.
type LockoutError struct {
	Remaining time.Duration
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("%s: retry in %s", ErrAccountLocked, e.Remaining.Round(time.Second))
}

// Unwrap ties the error to ErrAccountLocked.
func (e *LockoutError) Unwrap() error {
	return ErrAccountLocked
}

// CooldownError reports how long until another code may be sent.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: retry in %s", ErrResendCooldown, e.Remaining.Round(time.Second))
}

// Unwrap ties the error to ErrResendCooldown.
func (e *CooldownError) Unwrap() error {
	return ErrResendCooldown
}

// RemainingCooldown extracts the wait time from a lockout or resend error.
func RemainingCooldown(err error) (time.Duration, bool) {
	var lock *LockoutError
	if errors.As(err, &lock) {
		return lock.Remaining, true
	}
	var cd *CooldownError
	if errors.As(err, &cd) {
		return cd.Remaining, true
	}
	return 0, false
}

func persistenceError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistenceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
}
