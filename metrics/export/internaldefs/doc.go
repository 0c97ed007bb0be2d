// Package internaldefs holds the metric names shared by the exporters so
// that Prometheus and OTel expose identical series.
//
// # What this package must NOT do
//
//   - Import any exporter package.
//   - Perform I/O.
package internaldefs
