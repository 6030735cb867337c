// Package session owns the recycling session: its lifecycle state machine, its
// countdown and the set of item codes already accepted while it is active.
//
// # Lifecycle
//
// A [Manager] moves between three states:
//
//	NoSession --Open--> Active --Tick(remaining == 0)--> Ended --Close--> NoSession
//	                    Active --Close--------------------------------> NoSession
//
// Remaining time is a pure function of (now, StartedAt, DurationSeconds); see
// [Remaining]. The countdown task only decides when to recompute it, so pausing the
// process never drifts the clock.
//
// # Persistence
//
// [Store] keeps a binary [Snapshot] of the active session in Redis with a TTL equal to
// the remaining time, so a restarted client can [Manager.Restore] it.
//
// # What this package must NOT do
//
//   - Call the backend. Expiry is a local timeout; the explicit end-session request is
//     the caller's job.
//   - Register a code before the backend has confirmed it.
//   - Expose the accepted set for mutation outside the Manager methods.
package session
