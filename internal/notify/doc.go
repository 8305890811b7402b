// Package notify delivers outbound account mail: welcome messages and
// one-time codes.
//
// [Async] wraps any [Sender] so callers never wait on delivery and a failed
// send is logged instead of surfacing to the request that triggered it.
package notify
