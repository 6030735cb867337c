package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrLocationServicesDisabled is returned when the platform location service is off.
	ErrLocationServicesDisabled = errors.New("location services disabled")
	// ErrGpsUnavailable is returned when no fix could be obtained.
	ErrGpsUnavailable = errors.New("gps unavailable")
	// ErrAccuracyTooLow is returned when the fix accuracy radius exceeds the threshold.
	ErrAccuracyTooLow = errors.New("gps accuracy too low")
)

const (
	// DefaultMaxAccuracy is the accuracy threshold in meters used when none is given.
	DefaultMaxAccuracy    = 60.0
	defaultOneShotTimeout = 10 * time.Second
)

// Fix is one position sample. Accuracy is the radius in meters.
type Fix struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
	At        time.Time
}

// Provider is the platform location service.
type Provider interface {
	ServicesEnabled(ctx context.Context) (bool, error)
	CurrentPosition(ctx context.Context) (Fix, error)
	// Watch streams fixes until ctx is cancelled, then closes the channel.
	Watch(ctx context.Context) (<-chan Fix, error)
}

// Options configures a Gate.
type Options struct {
	MaxAccuracy    float64
	OneShotTimeout time.Duration
	Logger         logrus.FieldLogger
}

// Gate is safe for concurrent use.
type Gate struct {
	provider Provider
	maxAcc   float64
	oneShot  time.Duration
	log      logrus.FieldLogger

	mu     sync.Mutex
	latest *Fix
	cancel context.CancelFunc
	done   chan struct{}
}

// NewGate creates a Gate over provider.
func NewGate(provider Provider, opts Options) *Gate {
	g := &Gate{
		provider: provider,
		maxAcc:   opts.MaxAccuracy,
		oneShot:  opts.OneShotTimeout,
		log:      opts.Logger,
	}
	if g.maxAcc <= 0 {
		g.maxAcc = DefaultMaxAccuracy
	}
	if g.oneShot <= 0 {
		g.oneShot = defaultOneShotTimeout
	}
	if g.log == nil {
		g.log = logrus.StandardLogger().WithField("pkg", "location")
	}
	return g
}

// EnsureServicesEnabled returns ErrLocationServicesDisabled unless the platform service
// is on. A provider error counts as disabled.
func (g *Gate) EnsureServicesEnabled(ctx context.Context) error {
	enabled, err := g.provider.ServicesEnabled(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLocationServicesDisabled, err)
	}
	if !enabled {
		return ErrLocationServicesDisabled
	}
	return nil
}

// Start opens the standing watch subscription. It is a no-op while a watch is running.
func (g *Gate) Start(ctx context.Context) error {
	if err := g.EnsureServicesEnabled(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return nil
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	fixes, err := g.provider.Watch(watchCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrGpsUnavailable, err)
	}

	done := make(chan struct{})
	g.cancel = cancel
	g.done = done
	go g.consume(fixes, done)
	return nil
}

func (g *Gate) consume(fixes <-chan Fix, done chan struct{}) {
	defer close(done)
	for fix := range fixes {
		f := fix
		g.mu.Lock()
		g.latest = &f
		g.mu.Unlock()
	}

	g.mu.Lock()
	// The provider ended the stream on its own; allow a later Start to resubscribe.
	if g.done == done {
		g.cancel()
		g.cancel = nil
		g.done = nil
	}
	g.mu.Unlock()
	g.log.Debug("location watch stopped")
}

// Close tears down the watch subscription and waits for it to stop.
func (g *Gate) Close() {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.cancel, g.done = nil, nil
	g.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Latest returns the most recent fix seen by the watch or a one-shot request.
func (g *Gate) Latest() (Fix, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.latest == nil {
		return Fix{}, false
	}
	return *g.latest, true
}

// GetFix returns a fix whose accuracy is within maxAccuracy meters (DefaultMaxAccuracy
// when maxAccuracy <= 0). The fix is returned alongside ErrAccuracyTooLow so callers can
// show how far off it is.
func (g *Gate) GetFix(ctx context.Context, maxAccuracy float64) (Fix, error) {
	if maxAccuracy <= 0 {
		maxAccuracy = g.maxAcc
	}

	fix, ok := g.Latest()
	if !ok {
		oneShotCtx, cancel := context.WithTimeout(ctx, g.oneShot)
		defer cancel()

		var err error
		fix, err = g.provider.CurrentPosition(oneShotCtx)
		if err != nil {
			g.log.WithError(err).Warn("one-shot location request failed")
			return Fix{}, fmt.Errorf("%w: %v", ErrGpsUnavailable, err)
		}

		g.mu.Lock()
		if g.latest == nil {
			f := fix
			g.latest = &f
		}
		g.mu.Unlock()
	}

	if fix.Accuracy > 0 && fix.Accuracy > maxAccuracy {
		return fix, fmt.Errorf("%w: %.0fm > %.0fm", ErrAccuracyTooLow, fix.Accuracy, maxAccuracy)
	}
	return fix, nil
}
