// Package rate provides per-client token-bucket admission control.
//
// Each key (normally a client IP) owns one bucket from golang.org/x/time/rate.
// Buckets refill continuously, are created lazily on first use, and live in a
// map owned by the [Limiter] instance. Exactly one bucket exists per key even
// when the first requests for that key race.
//
// # What this package must NOT do
//
//   - Block or queue callers; TryConsume always answers immediately.
//   - Keep package-level state; every Limiter is constructed explicitly.
package rate
