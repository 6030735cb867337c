package goRecycle

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goRecycle/internal/fakebackend"
	"github.com/MrEthical07/goRecycle/scan"
)

func TestBuildRequiresCollaborators(t *testing.T) {
	cfg := validTestConfig()
	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("expected missing providers to fail")
	}

	b := New().
		WithConfig(cfg).
		WithCamera(&fakeCamera{dir: t.TempDir()}).
		WithLocationProvider(&fakeLocation{}).
		WithConnectivity(&fakeConnectivity{}).
		WithLogger(quietLogger())
	c, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer c.Close()
	if c.DeviceID() == "" {
		t.Fatal("expected generated device id")
	}
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestStartSessionGateOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.client.StartSession(ctx, testBin); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	env.login(t)

	env.conn.set(false)
	waitFor(t, "no internet", func() bool { return env.client.NetworkStatus() == NetworkNoInternet })
	if _, err := env.client.StartSession(ctx, testBin); !errors.Is(err, ErrNoInternet) {
		t.Fatalf("expected ErrNoInternet, got %v", err)
	}

	env.backend.SetPingStatus(http.StatusServiceUnavailable)
	env.conn.set(true)
	waitFor(t, "service unavailable", func() bool { return env.client.NetworkStatus() == NetworkServiceUnavailable })
	if _, err := env.client.StartSession(ctx, testBin); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}

	env.backend.SetPingStatus(http.StatusOK)
	if got := env.client.RetryNetwork(ctx); got != NetworkOnline {
		t.Fatalf("expected online after retry, got %v", got)
	}

	env.loc.set(false, 12)
	if _, err := env.client.StartSession(ctx, testBin); !errors.Is(err, ErrLocationServicesDisabled) {
		t.Fatalf("expected ErrLocationServicesDisabled, got %v", err)
	}

	env.loc.set(true, 61)
	if _, err := env.client.StartSession(ctx, testBin); !errors.Is(err, ErrGpsAccuracyLow) {
		t.Fatalf("expected ErrGpsAccuracyLow, got %v", err)
	}
	if env.backend.Calls("/start-session") != 0 {
		t.Fatal("expected no backend call while a gate fails")
	}

	env.loc.set(true, 60)
	if _, err := env.client.StartSession(ctx, "unknown-bin"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected backend validation error, got %v", err)
	}

	info, err := env.client.StartSession(ctx, testBin)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if info.BinLabel != "Library" || info.DurationSeconds != 180 || info.Remaining != 180 {
		t.Fatalf("unexpected session info %+v", info)
	}
	if _, err := env.client.StartSession(ctx, testBin); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
	if env.backend.Calls("/start-session") != 2 {
		t.Fatalf("expected 2 start-session calls, got %d", env.backend.Calls("/start-session"))
	}
	if got := env.client.MetricsSnapshot().Counters[MetricSessionStartRejected]; got != 7 {
		t.Fatalf("expected 7 rejected starts, got %d", got)
	}
}

func TestScanDuplicateProofFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.startSession(t)

	const code = "4006381333931"
	res, err := env.client.HandleScan(ctx, code)
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if res.Outcome != ScanAccepted || res.Decision != scan.DecisionNew || res.PointsAwarded == 0 {
		t.Fatalf("unexpected first result %+v", res)
	}

	submits := env.backend.Calls("/submit-item")
	res, err = env.client.HandleScan(ctx, code)
	if !errors.Is(err, ErrProofRequired) || res.Outcome != ScanProofRequired {
		t.Fatalf("expected local proof requirement, got %+v %v", res, err)
	}
	if env.backend.Calls("/submit-item") != submits {
		t.Fatal("expected duplicate to be stopped before the backend")
	}
	if !env.client.ProofActive() {
		t.Fatal("expected proof capture mode")
	}

	if _, err := env.client.HandleScan(ctx, "other"); !errors.Is(err, ErrProofCaptureActive) {
		t.Fatalf("expected scans ignored during capture, got %v", err)
	}
	if _, err := env.client.SubmitProof(ctx); !errors.Is(err, ErrNoPendingPhoto) {
		t.Fatalf("expected ErrNoPendingPhoto, got %v", err)
	}

	if _, err := env.client.CaptureProof(ctx); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if _, err := env.client.SubmitProof(ctx); err != nil {
		t.Fatalf("submit proof: %v", err)
	}
	if env.client.ProofActive() {
		t.Fatal("expected capture mode left after upload")
	}
	info, _ := env.client.Session()
	if !info.ProofUnlocked || info.AcceptedCount != 1 {
		t.Fatalf("unexpected session %+v", info)
	}

	res, err = env.client.HandleScan(ctx, code)
	if err != nil || res.Decision != scan.DecisionDuplicateAllowed || res.Outcome != ScanAccepted {
		t.Fatalf("expected duplicate allowed, got %+v %v", res, err)
	}

	snap := env.client.MetricsSnapshot()
	if snap.Counters[MetricScanAccepted] != 2 || snap.Counters[MetricScanDuplicateAllowed] != 1 {
		t.Fatalf("unexpected counters %v", snap.Counters)
	}
	if snap.Counters[MetricProofUploaded] != 1 || snap.Counters[MetricScanProofRequired] != 1 {
		t.Fatalf("unexpected proof counters %v", snap.Counters)
	}
}

func TestBackendRequiresProof(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.startSession(t)

	env.backend.MarkScanned("9780306406157")
	res, err := env.client.HandleScan(ctx, "9780306406157")
	if !errors.Is(err, ErrProofRequired) || res.Outcome != ScanProofRequired {
		t.Fatalf("expected backend proof requirement, got %+v %v", res, err)
	}
	if res.Decision != scan.DecisionNew || res.Message == "" {
		t.Fatalf("expected local decision New with backend message, got %+v", res)
	}
	if info, _ := env.client.Session(); info.AcceptedCount != 0 {
		t.Fatal("expected nothing registered without confirmation")
	}
	if !env.client.ProofActive() {
		t.Fatal("expected proof capture mode")
	}

	env.client.CancelProof()
	if env.client.ProofActive() {
		t.Fatal("expected capture cancelled")
	}
	if info, _ := env.client.Session(); info.ProofUnlocked {
		t.Fatal("expected cancel not to unlock")
	}
}

func TestRejectedProofKeepsPhoto(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.startSession(t)

	if _, err := env.client.HandleScan(ctx, "a"); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if _, err := env.client.HandleScan(ctx, "a"); !errors.Is(err, ErrProofRequired) {
		t.Fatalf("expected proof required, got %v", err)
	}
	if _, err := env.client.CaptureProof(ctx); err != nil {
		t.Fatalf("capture: %v", err)
	}

	env.backend.SetRejectProof(true)
	msg, err := env.client.SubmitProof(ctx)
	if !errors.Is(err, ErrProofUploadRejected) || !errors.Is(err, ErrValidation) || msg == "" {
		t.Fatalf("expected rejection with message, got %q %v", msg, err)
	}
	if !env.client.ProofActive() {
		t.Fatal("expected capture mode kept after rejection")
	}

	env.backend.SetRejectProof(false)
	if _, err := env.client.SubmitProof(ctx); err != nil {
		t.Fatalf("retry with pending photo: %v", err)
	}
	if env.camera.shots.Load() != 1 {
		t.Fatalf("expected one photo taken, got %d", env.camera.shots.Load())
	}
	if env.client.MetricsSnapshot().Counters[MetricProofRejected] != 1 {
		t.Fatal("expected one rejected proof")
	}
}

func TestRejectedItemDoesNotCloseSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.startSession(t)

	env.backend.RejectBarcode("junk", "This item is not recyclable.")
	res, err := env.client.HandleScan(ctx, "junk")
	var verr *ValidationError
	if !errors.As(err, &verr) || res.Outcome != ScanRejected {
		t.Fatalf("expected structured rejection, got %+v %v", res, err)
	}
	if verr.First("barcode") != "This item is not recyclable." {
		t.Fatalf("unexpected field message %q", verr.First("barcode"))
	}
	if info, ok := env.client.Session(); !ok || info.State != SessionActive || info.AcceptedCount != 0 {
		t.Fatalf("expected session untouched, got %+v", info)
	}
}

func TestCountdownExpiresSession(t *testing.T) {
	env := newTestEnv(t, withRedis())
	env.startSession(t)

	if !env.mr.Exists("gorecycle:rs:device-1") {
		t.Fatal("expected persisted snapshot")
	}

	env.clock.Advance(179 * time.Second)
	if got := env.client.Remaining(); got != 1 {
		t.Fatalf("expected 1s remaining, got %d", got)
	}

	env.clock.Advance(2 * time.Second)
	waitFor(t, "session expiry", func() bool {
		_, ok := env.client.Session()
		return !ok
	})

	if _, err := env.client.HandleScan(context.Background(), "late"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after expiry, got %v", err)
	}
	if env.mr.Exists("gorecycle:rs:device-1") {
		t.Fatal("expected snapshot deleted after expiry")
	}
	snap := env.client.MetricsSnapshot()
	if snap.Counters[MetricSessionExpired] != 1 || snap.Counters[MetricSessionClosed] != 1 {
		t.Fatalf("unexpected counters %v", snap.Counters)
	}
	env.waitEvent(t, eventSessionExpired)
	env.waitEvent(t, eventSessionClosed)
}

func TestUnauthorizedForceClosesSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.startSession(t)

	env.backend.RevokeAll()
	if _, err := env.client.HandleScan(ctx, "x"); !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
	if _, ok := env.client.Session(); ok {
		t.Fatal("expected session force-closed")
	}
	if env.client.Authenticated() {
		t.Fatal("expected credential cleared")
	}
	if env.client.MetricsSnapshot().Counters[MetricAuthInvalidated] != 1 {
		t.Fatal("expected one auth invalidation")
	}
	if _, err := env.client.StartSession(ctx, testBin); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func startLongSession(t *testing.T, env *testEnv) {
	t.Helper()
	env.backend.AddBin(fakebackend.Bin{QRKey: "bin-depot", Name: "Depot", DurationSeconds: 3 * 24 * 60 * 60})
	env.login(t)
	if _, err := env.client.StartSession(context.Background(), "bin-depot"); err != nil {
		t.Fatalf("start session: %v", err)
	}
}

func TestExpiredCredentialClosesSessionWithoutSubmitting(t *testing.T) {
	env := newTestEnv(t, withRedis())
	ctx := context.Background()
	startLongSession(t, env)

	// Tokens from the fake backend live 24h.
	env.clock.Advance(25 * time.Hour)
	if env.client.Authenticated() {
		t.Fatal("expected credential past its exp")
	}

	submits := env.backend.Calls("/submit-item")
	res, err := env.client.HandleScan(ctx, "late")
	if !errors.Is(err, ErrAuthExpired) || res.Outcome != ScanIgnored {
		t.Fatalf("expected ErrAuthExpired, got %+v %v", res, err)
	}
	if env.backend.Calls("/submit-item") != submits {
		t.Fatal("expected no submission without a valid credential")
	}
	if _, ok := env.client.Session(); ok {
		t.Fatal("expected session force-closed")
	}
	if env.mr.Exists("gorecycle:cred:device-1") || env.mr.Exists("gorecycle:rs:device-1") {
		t.Fatal("expected credential and snapshot removed")
	}
	if env.client.MetricsSnapshot().Counters[MetricAuthInvalidated] != 1 {
		t.Fatal("expected one auth invalidation")
	}

	if _, err := env.client.HandleScan(ctx, "later"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession afterwards, got %v", err)
	}
	if _, err := env.client.StartSession(ctx, "bin-depot"); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestExpiredCredentialBlocksProofUpload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	startLongSession(t, env)

	if _, err := env.client.HandleScan(ctx, "d"); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if _, err := env.client.HandleScan(ctx, "d"); !errors.Is(err, ErrProofRequired) {
		t.Fatalf("expected proof required, got %v", err)
	}
	if _, err := env.client.CaptureProof(ctx); err != nil {
		t.Fatalf("capture: %v", err)
	}

	env.clock.Advance(25 * time.Hour)
	if _, err := env.client.SubmitProof(ctx); !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired on upload, got %v", err)
	}
	if env.backend.Calls("/upload-proof") != 0 {
		t.Fatal("expected no upload without a valid credential")
	}
	if env.client.ProofActive() {
		t.Fatal("expected capture mode left with the session")
	}
	if _, ok := env.client.Session(); ok {
		t.Fatal("expected session force-closed")
	}
}

func TestExpiredCredentialEndsSessionLocally(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	startLongSession(t, env)

	env.clock.Advance(25 * time.Hour)
	if _, err := env.client.EndSession(ctx); !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired on end, got %v", err)
	}
	if env.backend.Calls("/end-session") != 0 {
		t.Fatal("expected no end-session call without a valid credential")
	}
	if _, ok := env.client.Session(); ok {
		t.Fatal("expected session closed locally")
	}
	if _, err := env.client.EndSession(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession afterwards, got %v", err)
	}
}

func TestLateResponseDiscarded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.startSession(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	env.backend.SetSubmitHook(func(string) {
		close(entered)
		<-release
	})

	var (
		wg  sync.WaitGroup
		res ScanResult
		err error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err = env.client.HandleScan(ctx, "slow")
	}()
	<-entered

	if _, busy := env.client.HandleScan(ctx, "other"); !errors.Is(busy, ErrSubmissionInFlight) {
		t.Fatalf("expected ErrSubmissionInFlight, got %v", busy)
	}
	if _, endErr := env.client.EndSession(ctx); endErr != nil {
		t.Fatalf("end session: %v", endErr)
	}
	close(release)
	wg.Wait()

	if !errors.Is(err, ErrSessionClosed) || res.Outcome != ScanDiscarded {
		t.Fatalf("expected discarded late answer, got %+v %v", res, err)
	}
	if env.client.MetricsSnapshot().Counters[MetricScanDiscarded] != 1 {
		t.Fatal("expected one discarded scan")
	}
}

func TestEndSession(t *testing.T) {
	env := newTestEnv(t, withRedis())
	ctx := context.Background()

	if _, err := env.client.EndSession(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}

	env.startSession(t)
	msg, err := env.client.EndSession(ctx)
	if err != nil || msg == "" {
		t.Fatalf("end session: %q %v", msg, err)
	}
	if _, ok := env.client.Session(); ok {
		t.Fatal("expected no session")
	}
	if env.mr.Exists("gorecycle:rs:device-1") {
		t.Fatal("expected snapshot deleted")
	}

	if _, err := env.client.StartSession(ctx, testBin); err != nil {
		t.Fatalf("second start: %v", err)
	}
	env.backend.SetUnavailable(true)
	if _, err := env.client.EndSession(ctx); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected backend failure reported, got %v", err)
	}
	if _, ok := env.client.Session(); ok {
		t.Fatal("expected local close despite backend failure")
	}
}

func TestNetworkLossBlocksScans(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.startSession(t)

	env.conn.set(false)
	waitFor(t, "no internet", func() bool { return env.client.NetworkStatus() == NetworkNoInternet })
	if _, err := env.client.HandleScan(ctx, "x"); !errors.Is(err, ErrNoInternet) {
		t.Fatalf("expected ErrNoInternet, got %v", err)
	}
	if _, ok := env.client.Session(); !ok {
		t.Fatal("expected session kept while offline")
	}

	env.conn.set(true)
	waitFor(t, "online", func() bool { return env.client.NetworkStatus() == NetworkOnline })
	if _, err := env.client.HandleScan(ctx, "x"); err != nil {
		t.Fatalf("scan after reconnect: %v", err)
	}
}

func TestRestoreAfterRestart(t *testing.T) {
	env := newTestEnv(t, withRedis())
	ctx := context.Background()
	env.startSession(t)
	if _, err := env.client.HandleScan(ctx, "kept"); err != nil {
		t.Fatalf("scan: %v", err)
	}
	env.clock.Advance(30 * time.Second)
	env.client.Close()

	second := env.build(t, "device-1", withRedis())
	info, ok := second.Session()
	if !ok {
		t.Fatal("expected session restored on start")
	}
	if info.AcceptedCount != 1 || info.Remaining != 150 || info.BinLabel != "Library" {
		t.Fatalf("unexpected restored session %+v", info)
	}
	if _, err := second.HandleScan(ctx, "kept"); !errors.Is(err, ErrProofRequired) {
		t.Fatalf("expected restored set to require proof, got %v", err)
	}
	if second.MetricsSnapshot().Counters[MetricSessionRestored] != 1 {
		t.Fatal("expected restore counted")
	}

	other := env.build(t, "device-2", withRedis())
	if _, ok := other.Session(); ok {
		t.Fatal("expected other device to have no session")
	}
}

func TestLogoutClosesSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.startSession(t)

	if err := env.client.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if env.client.Authenticated() {
		t.Fatal("expected signed out")
	}
	if _, ok := env.client.Session(); ok {
		t.Fatal("expected session closed on logout")
	}
	if env.backend.Calls("/logout") != 1 {
		t.Fatal("expected backend logout")
	}
	seen := env.waitEvent(t, eventAuthLogout)
	found := false
	for _, s := range seen {
		if s == eventSessionClosed {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected session_closed before auth_logout, saw %v", seen)
	}
}

func TestAccountFlows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, _, err := env.client.Profile(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if _, err := env.client.Register(ctx, "eli@example.test", "short", "short"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected local validation error, got %v", err)
	}

	signedIn, err := env.client.Register(ctx, "eli@example.test", "recycle-more", "recycle-more")
	if err != nil || !signedIn {
		t.Fatalf("register: %v %v", signedIn, err)
	}
	if _, ok, err := env.client.Profile(ctx); err != nil || ok {
		t.Fatalf("expected no profile, got %v %v", ok, err)
	}

	stored, err := env.client.StoreProfile(ctx, ProfileRequest{
		FirstName: "Eli",
		LastName:  "Moss",
		Username:  "eli",
		BirthDate: "2001-02-03",
	})
	if err != nil || stored.Username != "eli" {
		t.Fatalf("store profile: %+v %v", stored, err)
	}

	if _, err := env.client.StartSession(ctx, testBin); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.client.HandleScan(ctx, "p1"); err != nil {
		t.Fatalf("scan: %v", err)
	}

	board, err := env.client.Leaderboard(ctx, LeaderboardCurrentSeason)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board.Entries) != 1 || board.Entries[0].Username != "eli" || board.UserStats == nil {
		t.Fatalf("unexpected leaderboard %+v", board)
	}
	if rank, ok := board.UserStats.Rank.Position(); !ok || rank != 1 {
		t.Fatalf("expected rank 1, got %q", board.UserStats.Rank)
	}
}

func TestClosedClientRejectsCalls(t *testing.T) {
	env := newTestEnv(t)
	env.client.Close()
	env.client.Close()

	if _, err := env.client.StartSession(context.Background(), testBin); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed, got %v", err)
	}
	if _, err := env.client.HandleScan(context.Background(), "x"); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed, got %v", err)
	}
}

func TestCaptureFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.startSession(t)

	if _, err := env.client.CaptureProof(ctx); !errors.Is(err, ErrProofNotActive) {
		t.Fatalf("expected ErrProofNotActive, got %v", err)
	}
	if _, err := env.client.HandleScan(ctx, "c"); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if _, err := env.client.HandleScan(ctx, "c"); !errors.Is(err, ErrProofRequired) {
		t.Fatalf("expected proof required, got %v", err)
	}
	env.camera.err = errCameraBroken
	if _, err := env.client.CaptureProof(ctx); !errors.Is(err, ErrProofCaptureFailed) {
		t.Fatalf("expected ErrProofCaptureFailed, got %v", err)
	}
	if !env.client.ProofActive() {
		t.Fatal("expected capture mode kept after camera failure")
	}
}
