// Package limiters provides the Redis-backed counters that gate second-factor
// verification.
//
// # Limiters
//
//   - [LockoutLedger] is the shared per-user failure ledger with cooldown.
//   - [ResendLimiter] enforces the minimum interval between code deliveries.
//   - [ReplayGuard] claims matched TOTP time steps so a code works once.
//
// Time is always supplied by the caller so that an injected clock drives every
// expiry decision. Redis TTLs only bound storage, never semantics.
//
// # Architecture boundaries
//
// Each limiter owns its own Redis key namespace and error types. Policy
// thresholds come from Config structs supplied at construction time.
//
// # What this package must NOT do
//
//   - Import twofactor or any sibling internal package.
//   - Make policy decisions beyond counting; flow functions decide consequences.
package limiters
