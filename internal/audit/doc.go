// Package audit implements async event dispatching for authentication attempts.
//
// # Components
//
//   - [Sink] is the interface for event consumers (channel, JSON writer, slog, no-op).
//   - [Dispatcher] is a buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event] is a structured record of one authentication occurrence.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does not decide which
// events to emit; the Engine does that.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import otpauth or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
