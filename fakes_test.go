package goRecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goRecycle/internal/fakebackend"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	testEmail    = "dana@example.test"
	testPassword = "recycle-all"
	testBin      = "bin-library"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeLocation struct {
	mu      sync.Mutex
	enabled bool
	fix     Fix
	err     error
}

func (l *fakeLocation) set(enabled bool, accuracy float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
	l.fix = Fix{Latitude: 52.52, Longitude: 13.40, Accuracy: accuracy, At: time.Now()}
}

func (l *fakeLocation) ServicesEnabled(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled, nil
}

func (l *fakeLocation) CurrentPosition(context.Context) (Fix, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fix, l.err
}

func (l *fakeLocation) Watch(ctx context.Context) (<-chan Fix, error) {
	ch := make(chan Fix)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

type fakeConnectivity struct {
	mu        sync.Mutex
	connected bool
	subs      []chan bool
}

func (c *fakeConnectivity) Connected(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected, nil
}

func (c *fakeConnectivity) Subscribe(ctx context.Context) (<-chan bool, error) {
	ch := make(chan bool, 4)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, sub := range c.subs {
			if sub == ch {
				c.subs = append(c.subs[:i], c.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}()
	return ch, nil
}

func (c *fakeConnectivity) set(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = connected
	for _, sub := range c.subs {
		sub <- connected
	}
}

type fakeCamera struct {
	dir   string
	shots atomic.Int32
	err   error
}

func (c *fakeCamera) TakePhoto(context.Context) (Photo, error) {
	if c.err != nil {
		return Photo{}, c.err
	}
	n := c.shots.Add(1)
	path := filepath.Join(c.dir, fmt.Sprintf("proof-%d.jpg", n))
	if err := os.WriteFile(path, []byte{0xff, 0xd8, 0xff, 0xe0}, 0o600); err != nil {
		return Photo{}, err
	}
	return Photo{Path: path, ContentType: "image/jpeg", TakenAt: time.Now()}, nil
}

type testEnv struct {
	client  *Client
	backend *fakebackend.Server
	url     string
	clock   *fakeClock
	loc     *fakeLocation
	conn    *fakeConnectivity
	camera  *fakeCamera
	events  *ChannelSink
	mr      *miniredis.Miniredis
	rdb     *redis.Client
}

type envOption func(*testEnv, *Builder)

func withRedis() envOption {
	return func(env *testEnv, b *Builder) {
		b.WithRedis(env.rdb)
	}
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// newTestEnv builds a started client against a fake backend with one bin and one
// account, online, with an accurate fix.
func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	backend := fakebackend.New(fakebackend.Options{Logger: quietLogger()})
	backend.AddBin(fakebackend.Bin{QRKey: testBin, Name: "Library", DurationSeconds: 180})
	if _, err := backend.AddUser(testEmail, testPassword); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	ts := httptest.NewServer(backend)
	t.Cleanup(ts.Close)

	env := &testEnv{
		backend: backend,
		url:     ts.URL,
		clock:   newFakeClock(),
		loc:     &fakeLocation{},
		conn:    &fakeConnectivity{connected: true},
		camera:  &fakeCamera{dir: t.TempDir()},
		events:  NewChannelSink(512),
		mr:      mr,
		rdb:     rdb,
	}
	env.loc.set(true, 12)
	env.client = env.build(t, "device-1", opts...)
	return env
}

func (env *testEnv) build(t *testing.T, deviceID string, opts ...envOption) *Client {
	t.Helper()

	cfg := DefaultConfig()
	cfg.API.BaseURL = env.url
	cfg.Session.TickInterval = 10 * time.Millisecond
	cfg.Location.Watch = false
	cfg.Persistence.DeviceID = deviceID

	b := New().
		WithConfig(cfg).
		WithCamera(env.camera).
		WithLocationProvider(env.loc).
		WithConnectivity(env.conn).
		WithEventSink(env.events).
		WithLogger(quietLogger()).
		WithClock(env.clock.Now)
	for _, opt := range opts {
		opt(env, b)
	}

	c, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(c.Close)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return c
}

func (env *testEnv) login(t *testing.T) {
	t.Helper()
	if err := env.client.Login(context.Background(), testEmail, testPassword); err != nil {
		t.Fatalf("login: %v", err)
	}
}

func (env *testEnv) startSession(t *testing.T) SessionInfo {
	t.Helper()
	env.login(t)
	info, err := env.client.StartSession(context.Background(), testBin)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return info
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// waitEvent waits until the dispatcher delivered want, returning every event type
// seen so far.
func (env *testEnv) waitEvent(t *testing.T, want string) []string {
	t.Helper()
	var seen []string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-env.events.Events():
			seen = append(seen, ev.EventType)
			if ev.EventType == want {
				return seen
			}
		case <-timeout:
			t.Fatalf("event %q not delivered, saw %v", want, seen)
			return nil
		}
	}
}

var errCameraBroken = errors.New("camera broken")
