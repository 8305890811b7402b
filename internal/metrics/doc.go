// Package metrics provides lock-free counters and a latency histogram for the
// gateway's authentication paths.
//
// Counters live in cache-line-padded uint64 slots and are incremented with
// sync/atomic. The histogram uses 8 fixed buckets (≤5ms … +Inf). Neither
// allocates on the write path.
//
// Export (Prometheus text) lives in metrics/export and reads Snapshot values.
package metrics
