// Package middleware holds the net/http checkpoints that sit in front of
// every LoanFlow route.
//
//   - [RateLimit] turns away bursts against the credential endpoints,
//     keyed by client IP.
//   - [Gate] authenticates the request with the engine and forwards the
//     verified identity to downstream handlers as signed headers.
//   - [RequireRole] is the second, role-based checkpoint.
//   - [TrustedIdentity] is used by downstream services to accept only
//     identity headers the gate signed.
//
// Rejections use the JSON envelope {success, message, errorCode} and never
// say why a credential failed.
package middleware
