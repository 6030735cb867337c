// Package proof implements the escalation path for duplicate scans: capture a photo,
// upload it against the active session and, once the backend accepts it, unlock
// duplicate scanning for the rest of that session.
//
// # Flow
//
//	Require -> Capture -> Submit --accepted--> Unlocker.UnlockProofFor(token)
//	                             --rejected--> pending photo retained
//	Cancel (any time) -> idle, nothing unlocked
//
// # What this package must NOT do
//
//   - Unlock anything before the upload was accepted.
//   - Keep capture mode alive after Cancel or a successful Submit.
package proof
