// Package prometheus exposes engine counters through a client_golang
// Collector.
//
// [NewPrometheusExporter] returns a Collector that reads
// [twofactor.Engine.MetricsSnapshot] on every scrape. It never registers
// with the global registry; callers pick the registry or mount Handler.
package prometheus
