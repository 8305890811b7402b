// Package stores implements gatekeeper.AccountStore over process memory,
// Redis and Postgres.
//
// Every implementation treats SaveAccount as a compare-and-swap on
// Account.Version: a save built from a stale read returns
// gatekeeper.ErrVersionConflict and the engine retries from a fresh read.
// Redis does this with WATCH/MULTI, Postgres with a version-conditioned
// UPDATE, memory with a mutex.
//
// Backend failures are wrapped with gatekeeper.ErrAccountStoreUnavailable.
// Stores never log account fields; password hashes and one-time codes stay
// inside the record.
package stores
