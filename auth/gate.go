package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/MrEthical07/goRecycle/internal"
	"github.com/sirupsen/logrus"
)

// ErrNotAuthenticated is returned when no valid credential is held.
var ErrNotAuthenticated = errors.New("not authenticated")

// Gate owns the credential slot. It is safe for concurrent use.
type Gate struct {
	store CredentialStore
	clock func() time.Time
	log   logrus.FieldLogger

	mu    sync.Mutex
	cred  Credential
	hooks []func()
}

// NewGate creates a Gate. A nil store selects a MemoryStore.
func NewGate(store CredentialStore, clock func() time.Time, logger logrus.FieldLogger) *Gate {
	if store == nil {
		store = &MemoryStore{}
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = logrus.StandardLogger().WithField("pkg", "auth")
	}
	return &Gate{store: store, clock: clock, log: logger}
}

// Load reads the persisted credential into the slot.
func (g *Gate) Load(ctx context.Context) error {
	token, err := g.store.Load(ctx)
	if err != nil {
		return err
	}
	cred := NewCredential(token)

	g.mu.Lock()
	g.cred = cred
	g.mu.Unlock()

	if token != "" {
		g.log.WithField("credential", internal.Fingerprint(token)).Debug("credential loaded")
	}
	return nil
}

// Set stores a new credential. An empty token is the same as Invalidate without hooks.
func (g *Gate) Set(ctx context.Context, token string) error {
	if token == "" {
		g.mu.Lock()
		g.cred = Credential{}
		g.mu.Unlock()
		return g.store.Clear(ctx)
	}

	if err := g.store.Save(ctx, token); err != nil {
		return err
	}
	g.mu.Lock()
	g.cred = NewCredential(token)
	g.mu.Unlock()

	g.log.WithField("credential", internal.Fingerprint(token)).Info("credential stored")
	return nil
}

// Token returns the credential if one is held and not known to be expired.
func (g *Gate) Token() (string, bool) {
	held, usable := g.held()
	if !usable {
		return "", false
	}
	return held, true
}

// held returns the raw slot and whether it may be sent.
func (g *Gate) held() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cred.Token, g.cred.Token != "" && !g.cred.Expired(g.clock())
}

// Valid reports whether a usable credential is held at now.
func (g *Gate) Valid(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cred.Token != "" && !g.cred.Expired(now)
}

// Credential returns a copy of the slot.
func (g *Gate) Credential() Credential {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cred
}

// OnInvalidate registers a hook run after the credential is invalidated.
func (g *Gate) OnInvalidate(fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hooks = append(g.hooks, fn)
}

// Invalidate clears the credential and runs the hooks.
func (g *Gate) Invalidate(ctx context.Context) error {
	g.mu.Lock()
	token := g.cred.Token
	g.cred = Credential{}
	hooks := append([]func(){}, g.hooks...)
	g.mu.Unlock()

	err := g.store.Clear(ctx)
	if err != nil {
		g.log.WithError(err).Warn("credential store clear failed")
	}
	if token != "" {
		g.log.WithField("credential", internal.Fingerprint(token)).Info("credential invalidated")
	}
	for _, fn := range hooks {
		fn()
	}
	return err
}

// InvalidateExpired clears a credential that is still held but expired at now and runs
// the hooks. It reports whether it did.
func (g *Gate) InvalidateExpired(ctx context.Context, now time.Time) bool {
	g.mu.Lock()
	token := g.cred.Token
	expired := token != "" && g.cred.Expired(now)
	g.mu.Unlock()
	if !expired {
		return false
	}
	return g.invalidateIf(ctx, token)
}

// invalidateIf invalidates only while token is still the held credential, so a 401 for
// an old token cannot wipe a newer login.
func (g *Gate) invalidateIf(ctx context.Context, token string) bool {
	g.mu.Lock()
	current := g.cred.Token
	g.mu.Unlock()
	if current == "" || current != token {
		return false
	}
	_ = g.Invalidate(ctx)
	return true
}

// Transport wraps next with bearer decoration and 401 handling.
func (g *Gate) Transport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &transport{gate: g, next: next}
}

type transport struct {
	gate *Gate
	next http.RoundTripper
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, ok := t.gate.held()
	if ok {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	// An expired credential is not attached but still held; the 401 clears it too.
	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		t.gate.invalidateIf(context.WithoutCancel(req.Context()), token)
	}
	return resp, nil
}
