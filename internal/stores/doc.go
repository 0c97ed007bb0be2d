// Package stores provides Redis-backed, short-lived records for the
// second-factor flows: enrollment flows, login challenges and email codes.
//
// # Design
//
// Each store persists a versioned, binary-encoded record in Redis with a TTL.
// Mutations use WATCH/MULTI optimistic transactions with retry on contention.
// Expiry is decided against the caller's clock from the ExpiresAt field; the
// Redis TTL only reclaims storage. Code comparisons are constant-time.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for transient
// records. It does NOT generate codes, enforce lockout, or make
// authentication decisions; those belong to internal/flows.
//
// # What this package must NOT do
//
//   - Import twofactor or any sibling internal package.
//   - Store plaintext codes.
//   - Use non-constant-time comparisons for code matching.
package stores
