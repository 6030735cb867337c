package fakebackend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrEthical07/goRecycle/api"
)

func newTestAPI(t *testing.T) (*Server, *api.Client, *bearer) {
	t.Helper()
	srv := New(Options{})
	srv.AddBin(Bin{QRKey: "bin-1", Name: "Library", DurationSeconds: 120})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	b := &bearer{next: http.DefaultTransport}
	client, err := api.New(api.Options{BaseURL: ts.URL, Language: "en", Transport: b})
	if err != nil {
		t.Fatalf("api client: %v", err)
	}
	return srv, client, b
}

type bearer struct {
	token string
	next  http.RoundTripper
}

func (b *bearer) RoundTrip(req *http.Request) (*http.Response, error) {
	if b.token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	return b.next.RoundTrip(req)
}

func TestHasherRoundTrip(t *testing.T) {
	h := hasher{config: defaultHasherConfig}
	encoded, err := h.hash("correct-horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	ok, err := h.verify("correct-horse", encoded)
	if err != nil || !ok {
		t.Fatalf("expected match, got %v %v", ok, err)
	}
	ok, err = h.verify("wrong-horse", encoded)
	if err != nil || ok {
		t.Fatalf("expected mismatch, got %v %v", ok, err)
	}
	if _, err := h.verify("x", "$bcrypt$nope"); err == nil {
		t.Fatal("expected malformed hash to fail")
	}
}

func TestRegisterLoginAndGuard(t *testing.T) {
	srv, client, b := newTestAPI(t)
	ctx := context.Background()

	if _, _, err := client.Me(ctx); !errors.Is(err, api.ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired without token, got %v", err)
	}

	reg, err := client.Register(ctx, api.RegisterRequest{
		Email:                "ana@example.test",
		Password:             "recycle-all",
		PasswordConfirmation: "recycle-all",
	})
	if err != nil || reg.Token == "" {
		t.Fatalf("register: %v %+v", err, reg)
	}

	_, err = client.Login(ctx, api.LoginRequest{Email: "ana@example.test", Password: "wrong-pass"})
	if !errors.Is(err, api.ErrValidation) {
		t.Fatalf("expected validation error for bad password, got %v", err)
	}

	res, err := client.Login(ctx, api.LoginRequest{Email: "ANA@example.test", Password: "recycle-all"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	b.token = res.Token

	if _, ok, err := client.Me(ctx); err != nil || ok {
		t.Fatalf("expected no profile yet, got ok=%v err=%v", ok, err)
	}

	if err := client.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, _, err := client.Me(ctx); !errors.Is(err, api.ErrAuthExpired) {
		t.Fatalf("expected revoked token to be rejected, got %v", err)
	}
	if srv.Calls("/profile/me") != 2 {
		t.Fatalf("expected 2 profile calls, got %d", srv.Calls("/profile/me"))
	}
}

func TestDuplicateNeedsProof(t *testing.T) {
	srv, client, b := newTestAPI(t)
	ctx := context.Background()

	token, err := srv.AddUser("ben@example.test", "recycle-all")
	if err != nil {
		t.Fatalf("add user: %v", err)
	}
	b.token = token

	start, err := client.StartSession(ctx, api.StartSessionRequest{QRKey: "bin-1", Latitude: 52.5, Longitude: 13.4})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if start.BinName != "Library" || start.TimeLeft != 120 {
		t.Fatalf("unexpected start result %+v", start)
	}

	item := api.SubmitItemRequest{SessionToken: start.SessionToken, Barcode: "4006381333931"}
	if _, err := client.SubmitItem(ctx, item); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := client.SubmitItem(ctx, item); !errors.Is(err, api.ErrProofRequired) {
		t.Fatalf("expected proof required, got %v", err)
	}

	photo := filepath.Join(t.TempDir(), "proof.jpg")
	if err := os.WriteFile(photo, []byte{0xff, 0xd8, 0xff}, 0o600); err != nil {
		t.Fatalf("write photo: %v", err)
	}
	if _, err := client.UploadProof(ctx, start.SessionToken, photo, "image/jpeg"); err != nil {
		t.Fatalf("upload: %v", err)
	}

	out, err := client.SubmitItem(ctx, item)
	if err != nil {
		t.Fatalf("submit after proof: %v", err)
	}
	if out.Status != "pending" || out.PointsAwarded != PointsPerItem {
		t.Fatalf("unexpected result %+v", out)
	}
	if srv.Points("ben@example.test") != 2*PointsPerItem {
		t.Fatalf("expected %d points, got %d", 2*PointsPerItem, srv.Points("ben@example.test"))
	}

	if _, err := client.EndSession(ctx, api.EndSessionRequest{SessionToken: start.SessionToken}); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := client.SubmitItem(ctx, item); !errors.Is(err, api.ErrRejected) {
		t.Fatalf("expected ended session to reject, got %v", err)
	}
}

func TestUnavailableAndPing(t *testing.T) {
	srv, client, _ := newTestAPI(t)
	ctx := context.Background()

	srv.SetUnavailable(true)
	if _, err := client.Login(ctx, api.LoginRequest{Email: "a@b.test", Password: "x"}); !errors.Is(err, api.ErrServiceUnavailable) {
		t.Fatalf("expected 503, got %v", err)
	}
	if err := client.Ping(ctx); err != nil {
		t.Fatalf("expected ping to pass while unavailable, got %v", err)
	}

	srv.SetPingStatus(http.StatusBadGateway)
	if err := client.Ping(ctx); !errors.Is(err, api.ErrServiceUnavailable) {
		t.Fatalf("expected failed ping, got %v", err)
	}
}

func TestLeaderboardRanksProfiles(t *testing.T) {
	srv, client, b := newTestAPI(t)
	ctx := context.Background()

	token, err := srv.AddUser("cleo@example.test", "recycle-all")
	if err != nil {
		t.Fatalf("add user: %v", err)
	}
	b.token = token

	if _, err := client.StoreProfile(ctx, api.ProfileRequest{
		FirstName: "Cleo",
		LastName:  "Green",
		Username:  "cleo",
		BirthDate: "1999-04-01",
	}); err != nil {
		t.Fatalf("store profile: %v", err)
	}

	board, err := client.Leaderboard(ctx, api.ScopeAllTime)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board.Entries) != 0 || board.UserStats == nil {
		t.Fatalf("unexpected board %+v", board)
	}
	if _, ranked := board.UserStats.Rank.Position(); ranked {
		t.Fatalf("expected unranked user, got %q", board.UserStats.Rank)
	}
}
