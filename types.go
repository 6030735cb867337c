package goRecycle

import (
	"time"

	"github.com/MrEthical07/goRecycle/api"
	"github.com/MrEthical07/goRecycle/auth"
	"github.com/MrEthical07/goRecycle/location"
	"github.com/MrEthical07/goRecycle/network"
	"github.com/MrEthical07/goRecycle/proof"
	"github.com/MrEthical07/goRecycle/scan"
	"github.com/MrEthical07/goRecycle/session"
)

// Host collaborators. The host application implements these.
type (
	Camera           = proof.Camera
	Photo            = proof.Photo
	LocationProvider = location.Provider
	Fix              = location.Fix
	Connectivity     = network.Connectivity
	CredentialStore  = auth.CredentialStore
)

// NetworkStatus is the reachability status reported by [Client.NetworkStatus].
type NetworkStatus = network.Status

const (
	NetworkChecking           = network.StatusChecking
	NetworkOnline             = network.StatusOnline
	NetworkNoInternet         = network.StatusNoInternet
	NetworkServiceUnavailable = network.StatusServiceUnavailable
)

// SessionState is the lifecycle state of the recycling session.
type SessionState = session.State

const (
	SessionNone   = session.StateNoSession
	SessionActive = session.StateActive
	SessionEnded  = session.StateEnded
)

// Backend value types.
type (
	Profile          = api.Profile
	ProfileRequest   = api.ProfileRequest
	Leaderboard      = api.Leaderboard
	LeaderboardEntry = api.LeaderboardEntry
	LeaderboardScope = api.LeaderboardScope
	ValidationError  = api.ValidationError
)

const (
	LeaderboardCurrentSeason = api.ScopeCurrentSeason
	LeaderboardAllTime       = api.ScopeAllTime
)

// SessionInfo describes the recycling session. The session token is never exposed.
type SessionInfo struct {
	BinLabel        string
	StartedAt       time.Time
	DurationSeconds int
	Remaining       int
	AcceptedCount   int
	ProofUnlocked   bool
	State           SessionState
}

func sessionInfo(snap session.Snapshot, now time.Time) SessionInfo {
	info := SessionInfo{
		BinLabel:        snap.BinLabel,
		StartedAt:       snap.StartedAt,
		DurationSeconds: snap.DurationSeconds,
		AcceptedCount:   len(snap.Codes),
		ProofUnlocked:   snap.ProofUnlocked,
		State:           snap.State,
	}
	if snap.State == session.StateActive {
		info.Remaining = snap.Remaining(now)
	}
	return info
}

// ScanOutcome is what happened to one scanned code.
type ScanOutcome uint8

const (
	// ScanAccepted means the backend confirmed the item and awarded points.
	ScanAccepted ScanOutcome = iota
	// ScanProofRequired means the code is a duplicate and proof capture was entered.
	ScanProofRequired
	// ScanRejected means the backend refused the item with a structured answer.
	ScanRejected
	// ScanIgnored means the scan was dropped before any backend call.
	ScanIgnored
	// ScanDiscarded means the backend answered after the session had closed.
	ScanDiscarded
)

func (o ScanOutcome) String() string {
	switch o {
	case ScanAccepted:
		return "accepted"
	case ScanProofRequired:
		return "proof_required"
	case ScanRejected:
		return "rejected"
	case ScanIgnored:
		return "ignored"
	case ScanDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// ScanResult is returned by [Client.HandleScan] alongside any error.
type ScanResult struct {
	Code          string
	Decision      scan.Decision
	Outcome       ScanOutcome
	PointsAwarded int
	ItemName      string
	Status        string
	Message       string
}
