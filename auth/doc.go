// Package auth holds the bearer credential of the signed-in user and applies it to
// outgoing requests.
//
// The credential is opaque to the client. When it happens to be a JWT carrying an exp
// claim, [Gate.Valid] treats it as absent once expired; the signature is never checked
// because the client holds no key.
//
// [Gate.Transport] decorates requests with "Authorization: Bearer <token>". A 401
// answer invalidates the credential and runs the registered hooks before the response
// is handed back, so callers never observe a 401 while a session is still open.
//
// # What this package must NOT do
//
//   - Log the raw credential. Use the fingerprint.
//   - Refresh or re-acquire credentials on its own.
package auth
