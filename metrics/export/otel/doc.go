// Package otel exports engine counters as OpenTelemetry observable counters.
//
// One callback reads the engine snapshot per collection cycle. Callers own
// the MeterProvider.
package otel
