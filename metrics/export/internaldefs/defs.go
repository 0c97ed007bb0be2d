package internaldefs

import (
	"github.com/MrEthical07/twofactor"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   twofactor.MetricID
	Name string
	Help string
}

// AuditDroppedName is the series for dispatcher drops.
const AuditDroppedName = "twofactor_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Dropped activity events due to dispatcher backpressure."

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: twofactor.MetricEnrollmentStarted, Name: "twofactor_enrollment_started_total", Help: "Enrollment flows opened after re-authentication."},
	{ID: twofactor.MetricEnrollmentPasswordRejected, Name: "twofactor_enrollment_password_rejected_total", Help: "Enrollment attempts with a wrong password."},
	{ID: twofactor.MetricEnrollmentCompleted, Name: "twofactor_enrollment_completed_total", Help: "Profiles enabled through enrollment."},
	{ID: twofactor.MetricEnrollmentCodeFailed, Name: "twofactor_enrollment_code_failed_total", Help: "Wrong first codes during enrollment."},
	{ID: twofactor.MetricChallengeStarted, Name: "twofactor_challenge_started_total", Help: "Login challenges issued."},
	{ID: twofactor.MetricChallengeBypassed, Name: "twofactor_challenge_bypassed_total", Help: "Login challenges skipped for trusted devices."},
	{ID: twofactor.MetricVerificationSuccess, Name: "twofactor_verification_success_total", Help: "Accepted second-factor codes."},
	{ID: twofactor.MetricVerificationFailure, Name: "twofactor_verification_failure_total", Help: "Rejected second-factor codes."},
	{ID: twofactor.MetricVerificationLocked, Name: "twofactor_verification_locked_total", Help: "Attempts refused during a lockout cooldown."},
	{ID: twofactor.MetricLockoutTriggered, Name: "twofactor_lockout_triggered_total", Help: "Transitions into lockout."},
	{ID: twofactor.MetricReplayDetected, Name: "twofactor_replay_detected_total", Help: "Reused authenticator time steps."},
	{ID: twofactor.MetricBackupCodeUsed, Name: "twofactor_backup_code_used_total", Help: "Consumed backup codes."},
	{ID: twofactor.MetricBackupCodeFailed, Name: "twofactor_backup_code_failed_total", Help: "Rejected backup codes."},
	{ID: twofactor.MetricBackupCodeRegenerated, Name: "twofactor_backup_code_regenerated_total", Help: "Backup code batch replacements."},
	{ID: twofactor.MetricDeviceTrustGranted, Name: "twofactor_device_trust_granted_total", Help: "Trusted device grants and refreshes."},
	{ID: twofactor.MetricDeviceTrustRevoked, Name: "twofactor_device_trust_revoked_total", Help: "Trusted device revocations."},
	{ID: twofactor.MetricEmailCodeSent, Name: "twofactor_email_code_sent_total", Help: "Email codes handed to the notifier."},
	{ID: twofactor.MetricEmailCodeResendLimited, Name: "twofactor_email_code_resend_limited_total", Help: "Email sends refused by the resend cooldown."},
	{ID: twofactor.MetricDeliveryFailure, Name: "twofactor_delivery_failure_total", Help: "Notifier errors."},
	{ID: twofactor.MetricPersistenceFailure, Name: "twofactor_persistence_failure_total", Help: "Store and Redis errors."},
	{ID: twofactor.MetricTwoFactorDisabled, Name: "twofactor_disabled_total", Help: "Profiles disabled."},
}
