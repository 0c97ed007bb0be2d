package twofactor

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricEnrollmentStarted counts flows opened after re-authentication.
	MetricEnrollmentStarted MetricID = iota
	// MetricEnrollmentPasswordRejected counts failed re-authentications.
	MetricEnrollmentPasswordRejected
	// MetricEnrollmentCompleted counts profiles enabled by enrollment.
	MetricEnrollmentCompleted
	// MetricEnrollmentCodeFailed counts wrong first codes.
	MetricEnrollmentCodeFailed
	// MetricChallengeStarted counts login challenges issued.
	MetricChallengeStarted
	// MetricChallengeBypassed counts challenges skipped for trusted devices.
	MetricChallengeBypassed
	// MetricVerificationSuccess counts accepted second-factor codes.
	MetricVerificationSuccess
	// MetricVerificationFailure counts rejected second-factor codes.
	MetricVerificationFailure
	// MetricVerificationLocked counts attempts refused during a cooldown.
	MetricVerificationLocked
	// MetricLockoutTriggered counts transitions into lockout.
	MetricLockoutTriggered
	// MetricReplayDetected counts reused TOTP time steps.
	MetricReplayDetected
	// MetricBackupCodeUsed counts consumed backup codes.
	MetricBackupCodeUsed
	// MetricBackupCodeFailed counts rejected backup codes.
	MetricBackupCodeFailed
	// MetricBackupCodeRegenerated counts batch replacements.
	MetricBackupCodeRegenerated
	// MetricDeviceTrustGranted counts trust grants and refreshes.
	MetricDeviceTrustGranted
	// MetricDeviceTrustRevoked counts single and bulk revocations.
	MetricDeviceTrustRevoked
	// MetricEmailCodeSent counts delivered email codes.
	MetricEmailCodeSent
	// MetricEmailCodeResendLimited counts sends refused by the cooldown.
	MetricEmailCodeResendLimited
	// MetricDeliveryFailure counts notifier errors.
	MetricDeliveryFailure
	// MetricPersistenceFailure counts store and Redis errors.
	MetricPersistenceFailure
	// MetricTwoFactorDisabled counts disabled profiles.
	MetricTwoFactorDisabled
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters. A nil or disabled Metrics
// ignores every call.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// NewMetrics returns counters configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Enabled reports whether counting is on.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to the counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value returns the current counter value.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{Counters: make(map[MetricID]uint64, int(metricIDCount))}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
