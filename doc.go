// Package crequests is an asynchronous HTTP/HTTPS client. A Session
// accumulates request options and hands out a *Future for every request it
// sends; the future resolves once the underlying connection reaches a
// terminal state.
//
// The interesting part of this package lives in internal/connection: a
// per-request state machine that drives DNS resolution, TCP/TLS connect,
// request write, status/header parsing, body framing and redirect chaining,
// one asynchronous stage at a time.
package crequests
