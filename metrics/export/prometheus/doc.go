// Package prometheus renders engine counters in the Prometheus text
// exposition format.
//
// Counter names are prefixed gatekeeper_ and end in _total; the single
// histogram is gatekeeper_authenticate_latency_seconds. Gauges registered
// with [Exporter.AddGauge] are appended after the engine metrics.
//
// # What this package must NOT do
//
//   - Register metrics in a global registry; callers mount the Handler.
//   - Mutate engine state.
package prometheus
