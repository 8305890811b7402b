// Package gatekeeper is the credential and session-security layer in front
// of the LoanFlow services.
//
// An [Engine] authenticates users once, issues a short-lived access token
// and a longer-lived refresh token, keeps per-account lockout and one-time
// code state, and turns a presented token into a verified [Identity] for the
// request gate. Engine methods are safe for concurrent use after
// [Builder.Build].
//
// # Architecture boundaries
//
// gatekeeper is the public surface: [Engine], [Builder], [Config], the
// [Account] model and its [AccountStore] and [Notifier] collaborators.
// Token signing, lockout policy, rate limiting, code generation and event
// dispatch live under jwt/ and internal/.
//
// # What this package must NOT do
//
//   - Persist tokens; they are self-contained and expire on their own.
//   - Hold a lock across a store round-trip. Account mutations go through a
//     version-checked compare-and-swap that is retried on conflict.
//   - Send mail on the request path. Notifications are queued and a failed
//     delivery never fails the request that caused it.
package gatekeeper
