package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestOpaqueCredentialNeverExpires(t *testing.T) {
	g := NewGate(nil, nil, nil)
	if err := g.Set(context.Background(), "opaque-laravel-token|123"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !g.Valid(time.Now().Add(24 * 365 * time.Hour)) {
		t.Fatal("expected opaque token to stay valid")
	}
	if tok, ok := g.Token(); !ok || tok != "opaque-laravel-token|123" {
		t.Fatalf("unexpected token %q %v", tok, ok)
	}
}

func TestExpiredJWTIsTreatedAsAbsent(t *testing.T) {
	now := time.Now()
	g := NewGate(nil, func() time.Time { return now }, nil)

	if err := g.Set(context.Background(), signedToken(t, now.Add(time.Minute))); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !g.Valid(now) {
		t.Fatal("expected token valid before exp")
	}
	if g.Valid(now.Add(2 * time.Minute)) {
		t.Fatal("expected token invalid after exp")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := g.Token(); ok {
		t.Fatal("expected Token to hide an expired credential")
	}
}

func TestInvalidateRunsHooksAndClearsStore(t *testing.T) {
	store := &MemoryStore{}
	g := NewGate(store, nil, nil)
	ctx := context.Background()
	if err := g.Set(ctx, "tok"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var calls int
	g.OnInvalidate(func() { calls++ })

	if err := g.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected hook once, got %d", calls)
	}
	if persisted, _ := store.Load(ctx); persisted != "" {
		t.Fatalf("expected store cleared, got %q", persisted)
	}
	if _, ok := g.Token(); ok {
		t.Fatal("expected no credential")
	}
}

func TestLoadRestoresPersistedCredential(t *testing.T) {
	store := &MemoryStore{}
	ctx := context.Background()
	_ = store.Save(ctx, "persisted")

	g := NewGate(store, nil, nil)
	if err := g.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tok, ok := g.Token(); !ok || tok != "persisted" {
		t.Fatalf("expected persisted token, got %q %v", tok, ok)
	}
}

func TestTransportAttachesBearer(t *testing.T) {
	var seen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := NewGate(nil, nil, nil)
	client := &http.Client{Transport: g.Transport(nil)}

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if got, _ := seen.Load().(string); got != "" {
		t.Fatalf("expected no header without credential, got %q", got)
	}

	_ = g.Set(context.Background(), "tok-1")
	resp, err = client.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if got, _ := seen.Load().(string); got != "Bearer tok-1" {
		t.Fatalf("expected bearer header, got %q", got)
	}
}

func TestTransport401InvalidatesBeforeResponseReturns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := NewGate(nil, nil, nil)
	_ = g.Set(context.Background(), "tok-1")

	var hookRan atomic.Bool
	g.OnInvalidate(func() { hookRan.Store(true) })

	client := &http.Client{Transport: g.Transport(nil)}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 passthrough, got %d", resp.StatusCode)
	}
	if !hookRan.Load() {
		t.Fatal("expected invalidation hook to run before the response was returned")
	}
	if _, ok := g.Token(); ok {
		t.Fatal("expected credential cleared")
	}
}

func TestTransport401ForOldTokenKeepsNewLogin(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := NewGate(nil, nil, nil)
	_ = g.Set(context.Background(), "old")
	client := &http.Client{Transport: g.Transport(nil)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, err := client.Get(srv.URL)
		if err == nil {
			resp.Body.Close()
		}
	}()

	// Wait until the request carrying "old" is on the wire, then log in again.
	time.Sleep(50 * time.Millisecond)
	_ = g.Set(context.Background(), "new")
	close(release)
	<-done

	if tok, ok := g.Token(); !ok || tok != "new" {
		t.Fatalf("expected new login to survive, got %q %v", tok, ok)
	}
}

func TestTransport401ClearsExpiredHeldCredential(t *testing.T) {
	var seen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	now := time.Now()
	store := &MemoryStore{}
	g := NewGate(store, func() time.Time { return now }, nil)
	_ = g.Set(context.Background(), signedToken(t, now.Add(time.Minute)))

	var hookRan atomic.Bool
	g.OnInvalidate(func() { hookRan.Store(true) })

	now = now.Add(2 * time.Minute)
	client := &http.Client{Transport: g.Transport(nil)}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()

	if got, _ := seen.Load().(string); got != "" {
		t.Fatalf("expected expired credential not attached, got %q", got)
	}
	if !hookRan.Load() {
		t.Fatal("expected invalidation hook for the held credential")
	}
	if g.Credential().Token != "" {
		t.Fatal("expected slot cleared")
	}
	if persisted, _ := store.Load(context.Background()); persisted != "" {
		t.Fatalf("expected store cleared, got %q", persisted)
	}
}

func TestInvalidateExpiredOnlyClearsExpired(t *testing.T) {
	now := time.Now()
	g := NewGate(nil, func() time.Time { return now }, nil)
	ctx := context.Background()

	var calls int
	g.OnInvalidate(func() { calls++ })

	if g.InvalidateExpired(ctx, now) {
		t.Fatal("expected nothing to clear without a credential")
	}
	_ = g.Set(ctx, signedToken(t, now.Add(time.Minute)))
	if g.InvalidateExpired(ctx, now) {
		t.Fatal("expected valid credential kept")
	}
	if !g.InvalidateExpired(ctx, now.Add(2*time.Minute)) {
		t.Fatal("expected expired credential cleared")
	}
	if calls != 1 {
		t.Fatalf("expected hook once, got %d", calls)
	}
	if g.InvalidateExpired(ctx, now.Add(2*time.Minute)) {
		t.Fatal("expected second call to find nothing")
	}
}

func TestRedisStoreExpiresWithToken(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := NewRedisStore(rdb, "gr", "device-1")
	ctx := context.Background()
	tok := signedToken(t, time.Now().Add(10*time.Minute))

	if err := store.Save(ctx, tok); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ttl := mr.TTL("gr:cred:device-1"); ttl <= 9*time.Minute || ttl > 10*time.Minute {
		t.Fatalf("expected ttl near 10m, got %v", ttl)
	}
	got, err := store.Load(ctx)
	if err != nil || got != tok {
		t.Fatalf("Load: %q %v", got, err)
	}

	mr.FastForward(11 * time.Minute)
	if got, _ := store.Load(ctx); got != "" {
		t.Fatalf("expected expired credential gone, got %q", got)
	}
}

func TestRedisStoreOpaqueTokenHasNoTTL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := NewRedisStore(rdb, "", "device-1")
	if err := store.Save(context.Background(), "opaque"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ttl := mr.TTL("gorecycle:cred:device-1"); ttl != 0 {
		t.Fatalf("expected no ttl, got %v", ttl)
	}
	if err := store.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got, _ := store.Load(context.Background()); got != "" {
		t.Fatalf("expected cleared, got %q", got)
	}
}
