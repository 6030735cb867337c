package scan

// Decision is the local verdict for one scanned code.
type Decision uint8

const (
	// DecisionNew means the code has not been accepted in this session yet.
	DecisionNew Decision = iota
	// DecisionDuplicateAllowed means the code was accepted before and the session
	// already holds an accepted proof photo.
	DecisionDuplicateAllowed
	// DecisionProofRequired means the code was accepted before and no proof photo has
	// been accepted; the caller must switch to proof capture and must not submit.
	DecisionProofRequired
)

func (d Decision) String() string {
	switch d {
	case DecisionNew:
		return "new"
	case DecisionDuplicateAllowed:
		return "duplicate_allowed"
	case DecisionProofRequired:
		return "proof_required"
	default:
		return "unknown"
	}
}

// Submittable reports whether the decision permits a direct backend submission.
func (d Decision) Submittable() bool {
	return d == DecisionNew || d == DecisionDuplicateAllowed
}

// Set is the read side of a session's accepted-code set.
type Set interface {
	Contains(code string) bool
}

// Codes is a map-backed [Set].
type Codes map[string]struct{}

// Contains reports membership in O(1).
func (c Codes) Contains(code string) bool {
	_, ok := c[code]
	return ok
}

// Verify returns the decision for code given the accepted set and proof flag.
func Verify(code string, scanned Set, proofUnlocked bool) Decision {
	if scanned == nil || !scanned.Contains(code) {
		return DecisionNew
	}
	if proofUnlocked {
		return DecisionDuplicateAllowed
	}
	return DecisionProofRequired
}
