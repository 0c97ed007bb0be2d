// Package internal contains helpers private to twofactor: secure random
// generation, scoped code hashing and device fingerprint derivation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: pure-function orchestrators for the enrollment, login challenge
//     and backup-code operations
//   - limiters: Redis-backed lockout ledger, resend cooldown and replay guard
//   - stores: short-lived Redis records for flows, challenges and email codes
//   - ticket: signed flow tickets
//
// # What this package must NOT do
//
//   - Export types that appear in the public twofactor API.
//   - Be imported by any package outside the twofactor module.
package internal
