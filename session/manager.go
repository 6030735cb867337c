package session

import (
	"errors"
	"sync"
	"time"

	"github.com/MrEthical07/goRecycle/scan"
	"github.com/sirupsen/logrus"
)

var (
	// ErrSessionActive is returned by Open and Restore while a session is active.
	ErrSessionActive = errors.New("session already active")
	// ErrNoSession is returned when an operation needs an active session and none exists.
	ErrNoSession = errors.New("no active session")
	// ErrSessionExpired is returned when the session ran out of time.
	ErrSessionExpired = errors.New("session expired")
	// ErrInvalidSession is returned by Open for an empty token or non-positive duration.
	ErrInvalidSession = errors.New("invalid session parameters")
)

const defaultTickInterval = time.Second

// EventKind identifies a Manager transition.
type EventKind uint8

const (
	EventOpened EventKind = iota
	EventRestored
	EventAccepted
	EventProofUnlocked
	EventExpired
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "session_opened"
	case EventRestored:
		return "session_restored"
	case EventAccepted:
		return "scan_accepted"
	case EventProofUnlocked:
		return "proof_unlocked"
	case EventExpired:
		return "session_expired"
	case EventClosed:
		return "session_closed"
	default:
		return "unknown"
	}
}

// Event describes one transition. Snapshot is the session as it was right after the
// transition (for EventClosed, right before it was cleared).
type Event struct {
	Kind     EventKind
	Reason   CloseReason
	Code     string
	At       time.Time
	Snapshot Snapshot
}

// Listener receives Manager events. It is called outside the Manager lock, so it may
// call back into the Manager.
type Listener func(Event)

// Options configures a Manager. Zero values select defaults.
type Options struct {
	Clock        func() time.Time
	TickInterval time.Duration
	Listener     Listener
	Logger       logrus.FieldLogger
}

// Manager owns at most one recycling session. All methods are safe for concurrent use;
// they are the only write path into session state.
type Manager struct {
	mu       sync.Mutex
	state    State
	sess     *session
	stopTick chan struct{}

	clock    func() time.Time
	interval time.Duration
	listener Listener
	log      logrus.FieldLogger
}

// NewManager returns a Manager in StateNoSession.
func NewManager(opts Options) *Manager {
	m := &Manager{
		clock:    opts.Clock,
		interval: opts.TickInterval,
		listener: opts.Listener,
		log:      opts.Logger,
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.interval <= 0 {
		m.interval = defaultTickInterval
	}
	if m.log == nil {
		m.log = logrus.StandardLogger().WithField("pkg", "session")
	}
	return m
}

// Open creates a new active session with an empty accepted set and a locked proof flag.
func (m *Manager) Open(token, binLabel string, durationSeconds int) (Snapshot, error) {
	if token == "" || durationSeconds <= 0 {
		return Snapshot{}, ErrInvalidSession
	}

	var events []Event

	m.mu.Lock()
	if m.state == StateActive {
		m.mu.Unlock()
		return Snapshot{}, ErrSessionActive
	}
	now := m.clock()
	if m.state == StateEnded {
		events = append(events, m.clearLocked(ReasonExpired, now))
	}
	m.sess = &session{
		token:     token,
		binLabel:  binLabel,
		startedAt: now,
		duration:  durationSeconds,
		scanned:   make(scan.Codes),
	}
	m.state = StateActive
	m.startCountdownLocked()
	snap := m.sess.snapshot(m.state)
	events = append(events, Event{Kind: EventOpened, At: now, Snapshot: snap})
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"bin":      binLabel,
		"duration": durationSeconds,
	}).Info("recycling session opened")
	m.emit(events...)
	return snap, nil
}

// Restore re-adopts a persisted session. The countdown continues from the snapshot's
// StartedAt; a snapshot with no time left is rejected with ErrSessionExpired.
func (m *Manager) Restore(snap Snapshot) error {
	if snap.Token == "" || snap.DurationSeconds <= 0 {
		return ErrInvalidSession
	}

	m.mu.Lock()
	if m.state == StateActive {
		m.mu.Unlock()
		return ErrSessionActive
	}
	now := m.clock()
	if snap.Remaining(now) == 0 {
		m.mu.Unlock()
		return ErrSessionExpired
	}
	m.sess = fromSnapshot(snap)
	m.state = StateActive
	m.startCountdownLocked()
	restored := m.sess.snapshot(m.state)
	m.mu.Unlock()

	m.log.WithField("bin", snap.BinLabel).Info("recycling session restored")
	m.emit(Event{Kind: EventRestored, At: now, Snapshot: restored})
	return nil
}

// Tick recomputes the remaining time at now. When it reaches zero while Active the
// session moves to Ended and EventExpired is emitted. Tick returns the remaining seconds
// and the state after the recompute.
func (m *Manager) Tick(now time.Time) (int, State) {
	m.mu.Lock()
	if m.state != StateActive || m.sess == nil {
		state := m.state
		m.mu.Unlock()
		return 0, state
	}
	remaining := Remaining(now, m.sess.startedAt, m.sess.duration)
	if remaining > 0 {
		m.mu.Unlock()
		return remaining, StateActive
	}
	m.state = StateEnded
	m.stopCountdownLocked()
	snap := m.sess.snapshot(m.state)
	m.mu.Unlock()

	m.log.WithField("bin", snap.BinLabel).Info("recycling session expired")
	m.emit(Event{Kind: EventExpired, Reason: ReasonExpired, At: now, Snapshot: snap})
	return 0, StateEnded
}

// Close clears the session from Active or Ended and returns the Manager to NoSession.
// It is a no-op in NoSession and reports whether anything was closed.
func (m *Manager) Close(reason CloseReason) bool {
	m.mu.Lock()
	if m.state == StateNoSession {
		m.mu.Unlock()
		return false
	}
	ev := m.clearLocked(reason, m.clock())
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"bin":    ev.Snapshot.BinLabel,
		"reason": reason.String(),
	}).Info("recycling session closed")
	m.emit(ev)
	return true
}

// CloseFor closes the session only if token still identifies it.
func (m *Manager) CloseFor(token string, reason CloseReason) bool {
	m.mu.Lock()
	if m.state == StateNoSession || m.sess == nil || m.sess.token != token {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()
	return m.Close(reason)
}

// RegisterAccepted adds code to the accepted set. It is silently ignored unless a
// session is Active.
func (m *Manager) RegisterAccepted(code string) {
	m.register("", code)
}

// RegisterAcceptedFor is RegisterAccepted bound to a session token: a confirmation that
// belongs to a session which has since been closed or replaced is dropped.
func (m *Manager) RegisterAcceptedFor(token, code string) bool {
	if token == "" {
		return false
	}
	return m.register(token, code)
}

func (m *Manager) register(token, code string) bool {
	m.mu.Lock()
	if m.state != StateActive || m.sess == nil || (token != "" && m.sess.token != token) {
		m.mu.Unlock()
		return false
	}
	_, seen := m.sess.scanned[code]
	m.sess.scanned[code] = struct{}{}
	snap := m.sess.snapshot(m.state)
	now := m.clock()
	m.mu.Unlock()

	if !seen {
		m.emit(Event{Kind: EventAccepted, Code: code, At: now, Snapshot: snap})
	}
	return true
}

// UnlockProof marks the active session as holding an accepted proof photo.
func (m *Manager) UnlockProof() {
	m.unlock("")
}

// UnlockProofFor is UnlockProof bound to a session token.
func (m *Manager) UnlockProofFor(token string) bool {
	if token == "" {
		return false
	}
	return m.unlock(token)
}

func (m *Manager) unlock(token string) bool {
	m.mu.Lock()
	if m.state != StateActive || m.sess == nil || (token != "" && m.sess.token != token) {
		m.mu.Unlock()
		return false
	}
	already := m.sess.proofUnlocked
	m.sess.proofUnlocked = true
	snap := m.sess.snapshot(m.state)
	now := m.clock()
	m.mu.Unlock()

	if !already {
		m.log.WithField("bin", snap.BinLabel).Info("duplicate scanning unlocked by proof")
		m.emit(Event{Kind: EventProofUnlocked, At: now, Snapshot: snap})
	}
	return true
}

// Verify runs the scan verifier against the current session.
func (m *Manager) Verify(code string) (scan.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateActive:
		return scan.Verify(code, m.sess.scanned, m.sess.proofUnlocked), nil
	case StateEnded:
		return scan.DecisionNew, ErrSessionExpired
	default:
		return scan.DecisionNew, ErrNoSession
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns a copy of the current session, if any.
func (m *Manager) Snapshot() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return Snapshot{State: m.state}, false
	}
	return m.sess.snapshot(m.state), true
}

// Remaining returns the seconds left at now, or 0 without an active session.
func (m *Manager) Remaining(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive || m.sess == nil {
		return 0
	}
	return Remaining(now, m.sess.startedAt, m.sess.duration)
}

// Token returns the active session token.
func (m *Manager) Token() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive || m.sess == nil {
		return "", false
	}
	return m.sess.token, true
}

// Shutdown stops the countdown without touching session state.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.stopCountdownLocked()
	m.mu.Unlock()
}

func (m *Manager) clearLocked(reason CloseReason, now time.Time) Event {
	var snap Snapshot
	if m.sess != nil {
		snap = m.sess.snapshot(m.state)
	}
	m.stopCountdownLocked()
	m.sess = nil
	m.state = StateNoSession
	return Event{Kind: EventClosed, Reason: reason, At: now, Snapshot: snap}
}

func (m *Manager) startCountdownLocked() {
	m.stopCountdownLocked()
	stop := make(chan struct{})
	m.stopTick = stop

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if _, state := m.Tick(m.clock()); state != StateActive {
					return
				}
			}
		}
	}()
}

func (m *Manager) stopCountdownLocked() {
	if m.stopTick != nil {
		close(m.stopTick)
		m.stopTick = nil
	}
}

func (m *Manager) emit(events ...Event) {
	if m.listener == nil {
		return
	}
	for _, ev := range events {
		m.listener(ev)
	}
}
