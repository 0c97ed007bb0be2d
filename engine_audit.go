package twofactor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

// Activity event types.
const (
	EventEnrollmentStarted          = "enrollment_started"
	EventEnrollmentPasswordRejected = "enrollment_password_rejected"
	EventEnrollmentMethodChosen     = "enrollment_method_chosen"
	EventEnrollmentCodeSent         = "enrollment_code_sent"
	EventEnrollmentCodeFailed       = "enrollment_code_failed"
	EventEnrollmentCompleted        = "enrollment_completed"
	EventVerificationSuccess        = "verification_success"
	EventVerificationFailure        = "verification_failure"
	EventVerificationLocked         = "verification_locked"
	EventLockoutTriggered           = "lockout_triggered"
	EventBackupCodeUsed             = "backup_code_used"
	EventBackupCodeFailed           = "backup_code_failed"
	EventBackupCodesRegenerated     = "backup_codes_regenerated"
	EventDeviceTrustGranted         = "device_trust_granted"
	EventDeviceTrustBypass          = "device_trust_bypass"
	EventDeviceTrustRevoked         = "device_trust_revoked"
	EventDeviceTrustRevokedAll      = "device_trust_revoked_all"
	EventTwoFactorDisabled          = "two_factor_disabled"
	EventCodeDeliveryFailed         = "code_delivery_failed"
	EventPersistenceFailure         = "persistence_failure"
)

// AuditErrorCode is the stable error label stored with failed events.
type AuditErrorCode string

const (
	auditErrInvalidCredential AuditErrorCode = "invalid_credential"
	auditErrInvalidCode       AuditErrorCode = "invalid_code"
	auditErrReplay            AuditErrorCode = "code_replayed"
	auditErrExpiredCode       AuditErrorCode = "expired_code"
	auditErrAccountLocked     AuditErrorCode = "account_locked"
	auditErrDeliveryFailed    AuditErrorCode = "delivery_failed"
	auditErrAttemptsExceeded  AuditErrorCode = "attempts_exceeded"
	auditErrCooldown          AuditErrorCode = "resend_cooldown"
	auditErrInvalidState      AuditErrorCode = "invalid_state"
	auditErrUnavailable       AuditErrorCode = "backend_unavailable"
	auditErrInternal          AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	err error,
	metadata map[string]string,
) {
	if e == nil || e.audit == nil || eventType == "" {
		return
	}

	event := AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		RequestID: requestIDFromContext(ctx),
		Success:   success,
		Context:   metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// backendError records a storage failure and returns it wrapped in
// ErrPersistenceUnavailable.
func (e *Engine) backendError(ctx context.Context, userID string, err error) error {
	wrapped := persistenceError(err)
	e.metricInc(MetricPersistenceFailure)
	e.emitAudit(ctx, EventPersistenceFailure, false, userID, wrapped, nil)
	return wrapped
}

// swallowed logs a secondary failure that does not change the result of
// the current operation.
func (e *Engine) swallowed(ctx context.Context, msg string, err error) {
	if e == nil || e.logger == nil || err == nil {
		return
	}
	e.logger.WarnContext(ctx, "twofactor: "+msg, slog.Any("error", err))
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredential):
		return auditErrInvalidCredential
	case errors.Is(err, ErrCodeReplayed):
		return auditErrReplay
	case errors.Is(err, ErrInvalidCode):
		return auditErrInvalidCode
	case errors.Is(err, ErrExpiredCode):
		return auditErrExpiredCode
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrDeliveryFailed):
		return auditErrDeliveryFailed
	case errors.Is(err, ErrFlowAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrResendCooldown):
		return auditErrCooldown
	case errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrAlreadyEnabled),
		errors.Is(err, ErrNotEnabled):
		return auditErrInvalidState
	case errors.Is(err, ErrPersistenceUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
