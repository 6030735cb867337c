// Package network tracks whether the backend is reachable from this device.
//
// A [Monitor] combines the platform connectivity signal with a GET /ping probe:
//
//	Checking --no connectivity--------------> NoInternet
//	         --connectivity, probe 2xx------> Online
//	         --connectivity, probe failure--> ServiceUnavailable
//
// A disconnect notification moves the status to NoInternet at once. Every disconnect
// bumps an epoch and a check only publishes its outcome if the epoch is unchanged, so a
// probe that completes after the disconnect cannot overwrite it.
//
// Overlapping checks share one probe (singleflight). Re-checks triggered by transport
// failures are throttled with a token bucket.
//
// # What this package must NOT do
//
//   - Retry user actions. Only the reachability probe is repeated.
//   - Route the probe through [Monitor.Transport]; that would re-trigger itself.
package network
