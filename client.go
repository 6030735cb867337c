package goRecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goRecycle/api"
	"github.com/MrEthical07/goRecycle/auth"
	"github.com/MrEthical07/goRecycle/internal/events"
	"github.com/MrEthical07/goRecycle/location"
	"github.com/MrEthical07/goRecycle/network"
	"github.com/MrEthical07/goRecycle/proof"
	"github.com/MrEthical07/goRecycle/scan"
	"github.com/MrEthical07/goRecycle/session"
	"github.com/sirupsen/logrus"
)

// Client is the single authoritative instance of the recycling core in a running app.
// All methods are safe for concurrent use.
type Client struct {
	config   Config
	deviceID string
	clock    func() time.Time
	log      logrus.FieldLogger

	api      *api.Client
	auth     *auth.Gate
	network  *network.Monitor
	location *location.Gate
	sessions *session.Manager
	proof    *proof.Gate
	store    *session.Store

	events  *events.Dispatcher
	metrics *Metrics

	// inFlight is the single slot shared by scan submissions and proof uploads.
	inFlight  atomic.Bool
	closed    atomic.Bool
	persistMu sync.Mutex
}

// Start loads the stored credential, starts the network monitor and the location
// watch, then restores a persisted session if one is still running. Failures of the
// location watch are logged; the gate falls back to one-shot fixes.
func (c *Client) Start(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	if err := c.auth.Load(ctx); err != nil {
		c.log.WithError(err).Warn("stored credential unavailable")
	}
	if err := c.network.Start(ctx); err != nil {
		return err
	}
	if c.config.Location.Watch {
		if err := c.location.Start(ctx); err != nil {
			c.log.WithError(err).Warn("location watch not started")
		}
	}
	if _, _, err := c.Restore(ctx); err != nil {
		c.log.WithError(err).Warn("session restore failed")
	}
	return nil
}

/*
====================================
SESSION
====================================
*/

// StartSession opens a recycling session at the bin identified by qrKey. The gates run
// in order: no active session, valid credential, network online, location services
// on, accurate fix. Only then is the backend asked.
func (c *Client) StartSession(ctx context.Context, qrKey string) (info SessionInfo, err error) {
	if c.closed.Load() {
		return SessionInfo{}, ErrClientClosed
	}
	defer func() {
		if err != nil {
			c.metrics.Inc(MetricSessionStartRejected)
			c.emit(ctx, eventSessionStartRejected, "", "", "", err, nil)
		}
	}()

	if c.sessions.State() == session.StateActive {
		return SessionInfo{}, ErrSessionActive
	}
	if err := c.requireCredential(ctx); err != nil {
		return SessionInfo{}, err
	}
	if err := c.requireOnline(ctx); err != nil {
		return SessionInfo{}, err
	}
	if err := c.location.EnsureServicesEnabled(ctx); err != nil {
		return SessionInfo{}, err
	}
	fix, err := c.location.GetFix(ctx, c.config.Location.MaxAccuracyMeters)
	if err != nil {
		return SessionInfo{}, err
	}

	res, err := c.api.StartSession(ctx, api.StartSessionRequest{
		QRKey:     qrKey,
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
	})
	if err != nil {
		return SessionInfo{}, err
	}

	snap, err := c.sessions.Open(res.SessionToken, res.BinName, int(math.Floor(res.TimeLeft)))
	if err != nil {
		return SessionInfo{}, err
	}
	return sessionInfo(snap, c.clock()), nil
}

// EndSession ends the session on the backend and then locally. The local session is
// closed even when the backend call fails; that error is still returned. A session
// that already ran out of time is closed locally without a backend call.
// A credential that expired closes the session without a backend call and yields
// ErrAuthExpired.
func (c *Client) EndSession(ctx context.Context) (string, error) {
	if c.closed.Load() {
		return "", ErrClientClosed
	}

	switch c.sessions.State() {
	case session.StateNoSession:
		return "", ErrNoSession
	case session.StateEnded:
		c.sessions.Close(session.ReasonExpired)
		return "", nil
	}

	if err := c.requireCredential(ctx); err != nil {
		return "", err
	}
	token, ok := c.sessions.Token()
	if !ok {
		return "", ErrNoSession
	}
	out, err := c.api.EndSession(ctx, api.EndSessionRequest{SessionToken: token})
	c.sessions.CloseFor(token, session.ReasonUserRequested)
	if err != nil {
		return "", err
	}
	return out.Message, nil
}

// Restore re-adopts the persisted session of this device. It reports false when there
// was nothing to restore. Snapshots that ran out of time, are corrupt, or belong to a
// signed-out user are deleted.
func (c *Client) Restore(ctx context.Context) (SessionInfo, bool, error) {
	if c.closed.Load() {
		return SessionInfo{}, false, ErrClientClosed
	}
	if c.store == nil {
		return SessionInfo{}, false, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, c.config.Persistence.OpTimeout)
	defer cancel()

	snap, err := c.store.Load(opCtx, c.deviceID)
	switch {
	case errors.Is(err, session.ErrSnapshotNotFound):
		return SessionInfo{}, false, nil
	case errors.Is(err, session.ErrSnapshotCorrupt):
		c.dropSnapshot(opCtx)
		return SessionInfo{}, false, err
	case err != nil:
		c.persistenceFailed(err)
		return SessionInfo{}, false, err
	}

	if !c.Authenticated() {
		c.dropSnapshot(opCtx)
		return SessionInfo{}, false, nil
	}

	if err := c.sessions.Restore(snap); err != nil {
		if errors.Is(err, session.ErrSessionExpired) || errors.Is(err, session.ErrInvalidSession) {
			c.dropSnapshot(opCtx)
			return SessionInfo{}, false, nil
		}
		return SessionInfo{}, false, err
	}

	current, _ := c.sessions.Snapshot()
	return sessionInfo(current, c.clock()), true, nil
}

// Session returns the current session, if any.
func (c *Client) Session() (SessionInfo, bool) {
	snap, ok := c.sessions.Snapshot()
	if !ok {
		return SessionInfo{State: snap.State}, false
	}
	return sessionInfo(snap, c.clock()), true
}

// Remaining returns the whole seconds left in the active session.
func (c *Client) Remaining() int {
	return c.sessions.Remaining(c.clock())
}

/*
====================================
SCANNING
====================================
*/

// HandleScan processes one decoded barcode. It is the entry point for the camera's
// scan events.
//
// The scan is ignored while another submission or proof upload is in flight and while
// proof capture is active. A duplicate without unlocked proof enters proof capture
// without a backend call. Otherwise the code is submitted and recorded as accepted
// only after the backend confirms it. An answer that arrives after the session closed
// is discarded with ErrSessionClosed.
func (c *Client) HandleScan(ctx context.Context, code string) (ScanResult, error) {
	res := ScanResult{Code: code, Outcome: ScanIgnored}
	if c.closed.Load() {
		return res, ErrClientClosed
	}

	if !c.inFlight.CompareAndSwap(false, true) {
		c.metrics.Inc(MetricScanIgnored)
		return res, ErrSubmissionInFlight
	}
	defer c.inFlight.Store(false)

	if c.proof.Active() {
		c.metrics.Inc(MetricScanIgnored)
		return res, ErrProofCaptureActive
	}

	decision, err := c.sessions.Verify(code)
	if err != nil {
		return res, err
	}
	snap, ok := c.sessions.Snapshot()
	if !ok || snap.State != session.StateActive {
		return res, ErrNoSession
	}
	if err := c.requireCredential(ctx); err != nil {
		return res, err
	}
	if err := c.requireOnline(ctx); err != nil {
		return res, err
	}
	res.Decision = decision

	if decision == scan.DecisionProofRequired {
		c.enterProof(ctx, snap, code)
		res.Outcome = ScanProofRequired
		return res, ErrProofRequired
	}

	started := time.Now()
	out, err := c.api.SubmitItem(ctx, api.SubmitItemRequest{
		SessionToken: snap.Token,
		Barcode:      code,
	})
	c.metrics.Observe(MetricSubmitLatency, time.Since(started))

	if errors.Is(err, api.ErrAuthExpired) {
		return res, err
	}
	if !c.sessionIs(snap.Token) {
		c.metrics.Inc(MetricScanDiscarded)
		c.emit(ctx, eventScanDiscarded, snap.BinLabel, snap.Token, code, ErrSessionClosed, nil)
		res.Outcome = ScanDiscarded
		return res, ErrSessionClosed
	}

	if err != nil {
		var verr *api.ValidationError
		switch {
		case errors.Is(err, api.ErrProofRequired):
			c.enterProof(ctx, snap, code)
			res.Outcome = ScanProofRequired
			if errors.As(err, &verr) {
				res.Message = verr.Message
			}
			return res, ErrProofRequired
		case errors.As(err, &verr):
			c.metrics.Inc(MetricScanRejected)
			c.emit(ctx, eventScanRejected, snap.BinLabel, snap.Token, code, err, nil)
			res.Outcome = ScanRejected
			res.Message = verr.Message
			return res, err
		default:
			c.log.WithError(err).Warn("item submission failed")
			return res, err
		}
	}

	if !c.sessions.RegisterAcceptedFor(snap.Token, code) {
		c.metrics.Inc(MetricScanDiscarded)
		c.emit(ctx, eventScanDiscarded, snap.BinLabel, snap.Token, code, ErrSessionClosed, nil)
		res.Outcome = ScanDiscarded
		return res, ErrSessionClosed
	}

	c.metrics.Inc(MetricScanAccepted)
	if decision == scan.DecisionDuplicateAllowed {
		c.metrics.Inc(MetricScanDuplicateAllowed)
	}
	c.emit(ctx, eventScanAccepted, snap.BinLabel, snap.Token, code, nil, map[string]string{
		"points":   strconv.Itoa(out.PointsAwarded),
		"decision": decision.String(),
	})

	res.Outcome = ScanAccepted
	res.PointsAwarded = out.PointsAwarded
	res.ItemName = out.ItemName
	res.Status = out.Status
	res.Message = out.Message
	return res, nil
}

func (c *Client) enterProof(ctx context.Context, snap session.Snapshot, code string) {
	c.proof.Require()
	c.metrics.Inc(MetricScanProofRequired)
	c.emit(ctx, eventProofRequired, snap.BinLabel, snap.Token, code, nil, nil)
}

/*
====================================
PROOF
====================================
*/

// ProofActive reports whether proof capture is active.
func (c *Client) ProofActive() bool {
	return c.proof.Active()
}

// CaptureProof takes the proof photo. A new capture replaces the pending one.
func (c *Client) CaptureProof(ctx context.Context) (Photo, error) {
	if c.closed.Load() {
		return Photo{}, ErrClientClosed
	}
	return c.proof.Capture(ctx)
}

// SubmitProof uploads the pending proof photo. It shares the in-flight slot with
// HandleScan. On acceptance duplicates are allowed for the rest of the session; on
// rejection the photo stays pending for another attempt.
func (c *Client) SubmitProof(ctx context.Context) (string, error) {
	if c.closed.Load() {
		return "", ErrClientClosed
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return "", ErrSubmissionInFlight
	}
	defer c.inFlight.Store(false)

	snap, ok := c.sessions.Snapshot()
	if !ok || snap.State != session.StateActive {
		return "", ErrNoSession
	}
	if err := c.requireCredential(ctx); err != nil {
		return "", err
	}
	if err := c.requireOnline(ctx); err != nil {
		return "", err
	}

	started := time.Now()
	msg, err := c.proof.Submit(ctx, snap.Token)
	c.metrics.Observe(MetricSubmitLatency, time.Since(started))

	switch {
	case err == nil:
		c.metrics.Inc(MetricProofUploaded)
		c.emit(ctx, eventProofUploaded, snap.BinLabel, snap.Token, "", nil, nil)
		return msg, nil
	case errors.Is(err, proof.ErrSessionGone):
		c.metrics.Inc(MetricScanDiscarded)
		return msg, ErrSessionClosed
	case errors.Is(err, proof.ErrUploadRejected):
		c.metrics.Inc(MetricProofRejected)
		c.emit(ctx, eventProofRejected, snap.BinLabel, snap.Token, "", err, nil)
		return msg, err
	default:
		return msg, err
	}
}

// CancelProof leaves proof capture and drops the pending photo.
func (c *Client) CancelProof() {
	c.proof.Cancel()
}

type proofUploader struct {
	api *api.Client
}

func (u proofUploader) UploadProof(ctx context.Context, sessionToken string, photo proof.Photo) (string, error) {
	out, err := u.api.UploadProof(ctx, sessionToken, photo.Path, photo.ContentType)
	if err != nil {
		var verr *api.ValidationError
		if errors.As(err, &verr) {
			return verr.Message, fmt.Errorf("%w: %w", proof.ErrUploadRejected, err)
		}
		return "", err
	}
	return out.Message, nil
}

/*
====================================
ACCOUNT
====================================
*/

// Login exchanges credentials for a bearer token and stores it.
func (c *Client) Login(ctx context.Context, email, password string) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	res, err := c.api.Login(ctx, api.LoginRequest{Email: email, Password: password})
	if err != nil {
		c.emit(ctx, eventAuthLogin, "", "", "", err, nil)
		return err
	}
	if err := c.auth.Set(ctx, res.Token); err != nil {
		return err
	}
	c.emit(ctx, eventAuthLogin, "", "", "", nil, nil)
	return nil
}

// Register creates an account. When the backend signs the new user in, the returned
// credential is stored and Register reports true.
func (c *Client) Register(ctx context.Context, email, password, confirmation string) (bool, error) {
	if c.closed.Load() {
		return false, ErrClientClosed
	}
	res, err := c.api.Register(ctx, api.RegisterRequest{
		Email:                email,
		Password:             password,
		PasswordConfirmation: confirmation,
	})
	if err != nil {
		return false, err
	}
	if res.Token == "" {
		return false, nil
	}
	if err := c.auth.Set(ctx, res.Token); err != nil {
		return false, err
	}
	return true, nil
}

// Logout revokes the credential on the backend, best effort, then closes any session
// and clears the credential locally.
func (c *Client) Logout(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if c.Authenticated() {
		if err := c.api.Logout(ctx); err != nil {
			c.log.WithError(err).Warn("backend logout failed")
		}
	}
	c.sessions.Close(session.ReasonLogout)
	c.proof.Cancel()
	err := c.auth.Set(ctx, "")
	c.emit(ctx, eventAuthLogout, "", "", "", err, nil)
	return err
}

// Authenticated reports whether a usable credential is held.
func (c *Client) Authenticated() bool {
	return c.auth.Valid(c.clock())
}

// requireCredential returns ErrAuthExpired after clearing a held credential that ran
// out, which force-closes the session through the invalidation hook. With no credential
// at all it returns ErrNotAuthenticated.
func (c *Client) requireCredential(ctx context.Context) error {
	if c.Authenticated() {
		return nil
	}
	if c.auth.InvalidateExpired(ctx, c.clock()) {
		return ErrAuthExpired
	}
	return ErrNotAuthenticated
}

// Profile returns the signed-in user's profile. ok is false while none exists.
func (c *Client) Profile(ctx context.Context) (profile Profile, ok bool, err error) {
	if !c.Authenticated() {
		return Profile{}, false, ErrNotAuthenticated
	}
	return c.api.Me(ctx)
}

// StoreProfile creates the signed-in user's profile.
func (c *Client) StoreProfile(ctx context.Context, req ProfileRequest) (Profile, error) {
	if !c.Authenticated() {
		return Profile{}, ErrNotAuthenticated
	}
	return c.api.StoreProfile(ctx, req)
}

func (c *Client) Leaderboard(ctx context.Context, scope LeaderboardScope) (Leaderboard, error) {
	if !c.Authenticated() {
		return Leaderboard{}, ErrNotAuthenticated
	}
	return c.api.Leaderboard(ctx, scope)
}

/*
====================================
NETWORK
====================================
*/

// NetworkStatus returns the last published reachability status.
func (c *Client) NetworkStatus() NetworkStatus {
	return c.network.Status()
}

// RetryNetwork runs a reachability check now and returns its outcome.
func (c *Client) RetryNetwork(ctx context.Context) NetworkStatus {
	return c.network.Retry(ctx)
}

func (c *Client) requireOnline(ctx context.Context) error {
	status := c.network.Status()
	if status == network.StatusChecking {
		status = c.network.Check(ctx)
	}
	switch status {
	case network.StatusOnline:
		return nil
	case network.StatusNoInternet:
		return ErrNoInternet
	default:
		return ErrServiceUnavailable
	}
}

func (c *Client) ping(ctx context.Context) error {
	return c.api.Ping(ctx)
}

/*
====================================
LIFECYCLE
====================================
*/

// DeviceID returns the identifier persisted state is keyed by.
func (c *Client) DeviceID() string {
	return c.deviceID
}

// MetricsSnapshot returns the current counters.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	if c == nil || c.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return c.metrics.Snapshot()
}

// EventsDropped returns the number of events lost to a full buffer.
func (c *Client) EventsDropped() uint64 {
	if c == nil || c.events == nil {
		return 0
	}
	return c.events.Dropped()
}

// Close stops background work and flushes queued events. The session is kept, both in
// memory and in its persisted snapshot, so a later process can restore it.
func (c *Client) Close() {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.sessions.Shutdown()
	c.location.Close()
	c.network.Close()
	c.events.Close()
}

/*
====================================
COMPONENT HOOKS
====================================
*/

func (c *Client) onSessionEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventOpened:
		c.metrics.Inc(MetricSessionOpened)
		c.persist(ev.Snapshot)
		c.emitAt(ev.At, eventSessionStarted, ev.Snapshot.BinLabel, ev.Snapshot.Token, map[string]string{
			"duration": strconv.Itoa(ev.Snapshot.DurationSeconds),
		})
	case session.EventRestored:
		c.metrics.Inc(MetricSessionRestored)
		c.emitAt(ev.At, eventSessionRestored, ev.Snapshot.BinLabel, ev.Snapshot.Token, nil)
	case session.EventAccepted, session.EventProofUnlocked:
		c.persist(ev.Snapshot)
	case session.EventExpired:
		c.metrics.Inc(MetricSessionExpired)
		c.emitAt(ev.At, eventSessionExpired, ev.Snapshot.BinLabel, ev.Snapshot.Token, nil)
		c.sessions.CloseFor(ev.Snapshot.Token, session.ReasonExpired)
	case session.EventClosed:
		c.metrics.Inc(MetricSessionClosed)
		c.proof.Cancel()
		c.unpersist(ev.Snapshot.Token)
		c.emitAt(ev.At, eventSessionClosed, ev.Snapshot.BinLabel, ev.Snapshot.Token, map[string]string{
			"reason":   ev.Reason.String(),
			"accepted": strconv.Itoa(len(ev.Snapshot.Codes)),
		})
	}
}

// onAuthInvalidated runs inside the RoundTripper before the 401 response is returned.
func (c *Client) onAuthInvalidated() {
	c.metrics.Inc(MetricAuthInvalidated)
	c.sessions.Close(session.ReasonAuthInvalidated)
	c.proof.Cancel()
	c.emit(context.Background(), eventAuthInvalidated, "", "", "", ErrAuthExpired, nil)
}

func (c *Client) onNetworkChange(from, to network.Status) {
	switch to {
	case network.StatusOnline:
		c.metrics.Inc(MetricNetworkOnline)
	case network.StatusNoInternet:
		c.metrics.Inc(MetricNetworkNoInternet)
	case network.StatusServiceUnavailable:
		c.metrics.Inc(MetricNetworkServiceUnavailable)
	}
	c.emit(context.Background(), eventNetworkStatusChanged, "", "", "", nil, map[string]string{
		"from": from.String(),
		"to":   to.String(),
	})
}

func (c *Client) sessionIs(token string) bool {
	current, ok := c.sessions.Token()
	return ok && current == token
}

/*
====================================
PERSISTENCE
====================================
*/

// persist saves snap unless its session has already been closed, so a late save can
// never resurrect a deleted snapshot.
func (c *Client) persist(snap session.Snapshot) {
	if c.store == nil {
		return
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if !c.sessionIs(snap.Token) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.Persistence.OpTimeout)
	defer cancel()
	if err := c.store.Save(ctx, c.deviceID, snap, c.clock()); err != nil {
		c.persistenceFailed(err)
	}
}

func (c *Client) unpersist(token string) {
	if c.store == nil {
		return
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if token != "" && c.sessionIs(token) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.Persistence.OpTimeout)
	defer cancel()
	c.dropSnapshot(ctx)
}

func (c *Client) dropSnapshot(ctx context.Context) {
	if err := c.store.Delete(ctx, c.deviceID); err != nil {
		c.persistenceFailed(err)
	}
}

func (c *Client) persistenceFailed(err error) {
	c.metrics.Inc(MetricPersistenceFailure)
	c.log.WithError(err).Warn("session persistence failed")
	c.emit(context.Background(), eventPersistenceFailure, "", "", "", err, nil)
}
