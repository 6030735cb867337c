// Package internal contains helpers private to goRecycle.
//
// # Sub-packages
//
//   - events — async event dispatch (Dispatcher + Sink)
//   - fakebackend — in-process backend used by tests, the simulator and the example
//
// # What this package must NOT do
//
//   - Export types that appear in the public goRecycle API.
package internal
