// Package audit implements async event dispatching for security-relevant
// second-factor operations.
//
// # Components
//
//   - [Sink] is the interface for event consumers (channel, JSON writer, fan-out, no-op).
//   - [Dispatcher] is a buffered relay with drop-if-full or block-if-full semantics.
//     With Async disabled it delivers inline, which keeps tests deterministic.
//     Each sink is called separately under DeliveryTimeout with the emitting
//     request's values, and a panicking sink only loses its own delivery.
//   - [Event] is the structured record with timestamp, type, user, IP and context.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which
// events to emit; the Engine and the flow functions do.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import twofactor or any sibling internal package.
//   - Return sink errors to emitters.
package audit
