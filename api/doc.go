// Package api is the typed HTTP client for the recycling backend.
//
// Every request carries JSON content headers, Accept-Language and an X-Request-ID.
// Authorization and reachability re-checks are not handled here; they are layered in as
// http.RoundTrippers (see auth.Gate.Transport and network.Monitor.Transport).
//
// Status handling:
//
//	2xx      decoded into the endpoint result
//	401      *Error wrapping ErrAuthExpired
//	4xx      *ValidationError carrying the backend message, field errors and requires_proof
//	>= 500   *Error wrapping ErrServiceUnavailable
//	no reply error wrapping ErrTransport
//
// Request DTOs are validated before anything is sent; failures come back as a
// *ValidationError keyed by JSON field name, the same shape the backend uses.
//
// # What this package must NOT do
//
//   - Retry requests.
//   - Route Ping through the authorized transport.
package api
