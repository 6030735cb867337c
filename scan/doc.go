// Package scan decides what happens to a decoded item barcode inside an active
// recycling session.
//
// [Verify] is a pure function over the code, the set of codes already accepted in the
// session and the session's proof flag. It never talks to the backend: a [DecisionNew]
// or [DecisionDuplicateAllowed] only permits a submission, and the backend can still
// answer that proof is required.
//
// # What this package must NOT do
//
//   - Mutate the accepted set. Registration happens only after backend confirmation.
//   - Import session, proof or any transport package.
package scan
