// Package limiters holds the per-account lockout policy.
//
// The policy is pure: it takes the stored counters and a clock reading and
// returns the next counters. Persisting them atomically is the caller's job,
// so concurrent failures for one account never lose an increment.
//
// # What this package must NOT do
//
//   - Import gatekeeper or any storage backend.
//   - Read the wall clock; every decision takes an explicit now.
package limiters
