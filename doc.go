// Package goRecycle is the client core of a recycling-rewards program: a user scans a
// bin's code to open a time-boxed recycling session, then scans item barcodes for
// points. Duplicate scans need photographic proof before they are allowed.
//
// A [Client] is built once per running app through [Builder.Build] and is safe to call
// from multiple goroutines. It owns the session state machine
//
//	NoSession --StartSession--> Active --countdown reaches 0--> Ended --> NoSession
//	                              |
//	                              +--EndSession / 401 / Logout--> NoSession
//
// and reconciles it with device connectivity, GPS accuracy and credential validity.
//
// # Architecture boundaries
//
// goRecycle is the public surface. It exposes [Client], [Builder], [Config] and value
// types ([SessionInfo], [ScanResult], [MetricsSnapshot]). Each concern lives in its own
// package and can be used on its own: session (lifecycle and persistence), scan (the
// duplicate decision), proof (photo escalation), location, network, auth and api (the
// typed backend client). Event dispatch lives under internal/.
//
// # What this package must NOT do
//
//   - Record a scanned code as accepted before the backend confirms it.
//   - Resubmit a user action on its own. Only the reachability probe is repeated.
//   - Log bearer or session tokens. Logs and events carry a fingerprint instead.
//   - Import any sub-package that re-imports goRecycle (no import cycles).
package goRecycle
