// Package flows contains the orchestration behind every multi-step Engine
// operation: enrollment, login challenges, the lockout gate and backup code
// issue and consume.
//
// Each Run function takes a Deps struct of function fields and sentinel
// errors supplied by the root package, so the state machines can be tested
// without Redis or a Store.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import the root package (to avoid import cycles).
//   - Perform I/O except through its Deps.
package flows
