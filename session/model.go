package session

import (
	"math"
	"sort"
	"time"

	"github.com/MrEthical07/goRecycle/scan"
)

// State is the lifecycle state of a [Manager].
type State uint8

const (
	// StateNoSession means no session exists; Open is allowed.
	StateNoSession State = iota
	// StateActive means scans and proof uploads are accepted.
	StateActive
	// StateEnded means the session ran out of time and awaits Close.
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateNoSession:
		return "no_session"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// CloseReason records why a session was closed.
type CloseReason uint8

const (
	ReasonUserRequested CloseReason = iota
	ReasonExpired
	ReasonAuthInvalidated
	ReasonLogout
)

func (r CloseReason) String() string {
	switch r {
	case ReasonUserRequested:
		return "user_requested"
	case ReasonExpired:
		return "expired"
	case ReasonAuthInvalidated:
		return "auth_invalidated"
	case ReasonLogout:
		return "logout"
	default:
		return "unknown"
	}
}

// session is the mutable record owned by a Manager. It never leaves the package.
type session struct {
	token         string
	binLabel      string
	startedAt     time.Time
	duration      int
	scanned       scan.Codes
	proofUnlocked bool
}

// Snapshot is an immutable copy of a session.
type Snapshot struct {
	Token           string
	BinLabel        string
	StartedAt       time.Time
	DurationSeconds int
	Codes           []string
	ProofUnlocked   bool
	State           State
}

// Remaining returns the whole seconds left in the snapshot at now.
func (s Snapshot) Remaining(now time.Time) int {
	return Remaining(now, s.StartedAt, s.DurationSeconds)
}

// Contains reports whether code was accepted in the snapshot.
func (s Snapshot) Contains(code string) bool {
	for _, c := range s.Codes {
		if c == code {
			return true
		}
	}
	return false
}

// Remaining computes max(0, floor(durationSeconds - (now - startedAt))).
//
// A clock that reads earlier than startedAt counts as zero elapsed time.
func Remaining(now, startedAt time.Time, durationSeconds int) int {
	if durationSeconds <= 0 {
		return 0
	}
	elapsed := now.Sub(startedAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	left := math.Floor(float64(durationSeconds) - elapsed)
	if left <= 0 {
		return 0
	}
	return int(left)
}

func (s *session) snapshot(state State) Snapshot {
	codes := make([]string, 0, len(s.scanned))
	for c := range s.scanned {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return Snapshot{
		Token:           s.token,
		BinLabel:        s.binLabel,
		StartedAt:       s.startedAt,
		DurationSeconds: s.duration,
		Codes:           codes,
		ProofUnlocked:   s.proofUnlocked,
		State:           state,
	}
}

func fromSnapshot(snap Snapshot) *session {
	scanned := make(scan.Codes, len(snap.Codes))
	for _, c := range snap.Codes {
		scanned[c] = struct{}{}
	}
	return &session{
		token:         snap.Token,
		binLabel:      snap.BinLabel,
		startedAt:     snap.StartedAt,
		duration:      snap.DurationSeconds,
		scanned:       scanned,
		proofUnlocked: snap.ProofUnlocked,
	}
}
