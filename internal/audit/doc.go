// Package audit relays security events and other fire-and-forget work off the
// request path.
//
// # Components
//
//   - [Dispatcher] is a bounded async relay with drop-if-full or
//     block-if-full semantics. It is generic so the notifier reuses it for
//     outbound mail.
//   - [Sink] consumes audit [Event] values: no-op, channel, JSON lines or zap.
//
// # What this package must NOT do
//
//   - Decide which events to emit; the Engine does that.
//   - Import gatekeeper or any sibling internal package.
package audit
