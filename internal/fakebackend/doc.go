// Package fakebackend is an in-process implementation of the recycling backend API.
// It serves the client's tests, the simulator and the local example server.
//
// Accounts are kept in memory with argon2id password hashes. Bearer tokens are HS256
// JWTs with an exp claim, revocable on logout. Duplicate barcodes within a session are
// answered with requires_proof until a proof photo is uploaded for that session.
//
// # What this package must NOT do
//
//   - Persist anything. A Server starts empty apart from its seeded bins and users.
//   - Be used as a production backend.
package fakebackend
