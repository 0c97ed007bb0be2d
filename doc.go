// Package twofactor provides a second-factor engine for applications that
// already authenticate users with a password: authenticator-app (TOTP) and
// email-code enrollment, single-use backup codes, a login challenge with
// lockout, and remembered devices.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// twofactor is the public surface. It exposes [Engine], [Builder], [Config],
// the value types (Profile, Challenge, TrustedDevice, ActivityRecord, etc.)
// and the collaborator interfaces [Store], [Identity], [Notifier] and
// [AuditSink]. Flow orchestration, ticket signing, counters and the
// short-lived Redis records live under internal/ and are never exported.
// Durable storage is pluggable: store/redisstore and store/pgstore both
// implement [Store].
//
// # What this package must NOT do
//
//   - Issue sessions or access tokens. A successful challenge only reports
//     that the second factor passed.
//   - Store secrets, codes or backup codes in a form that can be read back
//     as the code the user types, except the TOTP shared secret itself.
//   - Import any sub-package that re-imports twofactor (no import cycles).
//
// # Concurrency contract
//
// Every code check is gated by the per-user lockout ledger and records one
// outcome. A backup code is consumed by a single atomic store operation, so
// concurrent submissions of the same code yield exactly one success. A
// TOTP step accepted once for a user is rejected on reuse.
package twofactor
