// Package events implements async dispatch of client lifecycle events.
//
// # Components
//
//   - [Sink] is the interface for event consumers (channel, JSON writer, logrus, no-op).
//   - [Dispatcher] is a buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event] is the structured record: timestamp, type, bin, session fingerprint, code, metadata.
//
// # Architecture boundaries
//
// This package owns buffering and sink delivery. It does NOT decide which events to
// emit; that belongs to the Client.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import goRecycle or any sibling internal package.
//   - Carry raw session or bearer tokens.
package events
