package network

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ErrMonitorClosed is returned by Start after Close.
var ErrMonitorClosed = errors.New("network monitor closed")

// Status is the reachability of the backend.
type Status uint8

const (
	StatusChecking Status = iota
	StatusOnline
	StatusNoInternet
	StatusServiceUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusChecking:
		return "checking"
	case StatusOnline:
		return "online"
	case StatusNoInternet:
		return "no_internet"
	case StatusServiceUnavailable:
		return "service_unavailable"
	default:
		return "unknown"
	}
}

// Connectivity is the platform network signal.
type Connectivity interface {
	Connected(ctx context.Context) (bool, error)
	// Subscribe streams connectivity changes until ctx is cancelled.
	Subscribe(ctx context.Context) (<-chan bool, error)
}

// Prober checks that the backend answers. A nil error means a 2xx response.
type Prober interface {
	Ping(ctx context.Context) error
}

// Listener is called after every status change, outside the Monitor lock.
type Listener func(from, to Status)

// Options configures a Monitor.
type Options struct {
	ProbeTimeout time.Duration
	// RecheckEvery is the minimum spacing between throttled re-checks.
	RecheckEvery time.Duration
	RecheckBurst int
	Logger       logrus.FieldLogger
}

const (
	defaultProbeTimeout = 5 * time.Second
	defaultRecheckEvery = 2 * time.Second
)

// Monitor is safe for concurrent use.
type Monitor struct {
	conn    Connectivity
	prober  Prober
	timeout time.Duration
	limiter *rate.Limiter
	group   singleflight.Group
	log     logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	status    Status
	epoch     uint64
	started   bool
	listeners []Listener
}

// NewMonitor creates a Monitor in StatusChecking.
func NewMonitor(conn Connectivity, prober Prober, opts Options) *Monitor {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	if opts.RecheckEvery <= 0 {
		opts.RecheckEvery = defaultRecheckEvery
	}
	if opts.RecheckBurst <= 0 {
		opts.RecheckBurst = 1
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger().WithField("pkg", "network")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		conn:    conn,
		prober:  prober,
		timeout: opts.ProbeTimeout,
		limiter: rate.NewLimiter(rate.Every(opts.RecheckEvery), opts.RecheckBurst),
		log:     opts.Logger,
		ctx:     ctx,
		cancel:  cancel,
		status:  StatusChecking,
	}
}

// OnChange registers a status listener.
func (m *Monitor) OnChange(l Listener) {
	if l == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Status returns the current status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Online reports whether the status is StatusOnline.
func (m *Monitor) Online() bool {
	return m.Status() == StatusOnline
}

// Start runs the initial check and subscribes to connectivity changes. Calling it
// twice is a no-op.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return ErrMonitorClosed
	}
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	changes, err := m.conn.Subscribe(m.ctx)
	if err != nil {
		m.log.WithError(err).Warn("connectivity subscription failed")
	} else {
		m.wg.Add(1)
		go m.watch(changes)
	}

	m.Check(ctx)
	return nil
}

func (m *Monitor) watch(changes <-chan bool) {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case connected, ok := <-changes:
			if !ok {
				return
			}
			if connected {
				m.reconnected()
			} else {
				m.Disconnected()
			}
		}
	}
}

// Disconnected forces StatusNoInternet and invalidates any check in flight.
func (m *Monitor) Disconnected() {
	m.mu.Lock()
	m.epoch++
	from := m.status
	m.status = StatusNoInternet
	listeners := m.snapshotListenersLocked(from)
	m.mu.Unlock()

	m.log.Info("device connectivity lost")
	m.notify(listeners, from, StatusNoInternet)
}

func (m *Monitor) reconnected() {
	if m.Status() != StatusNoInternet {
		return
	}
	m.log.Info("device connectivity restored")
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Check(m.ctx)
	}()
}

// Check runs a reachability check and returns the resulting status. Concurrent callers
// within the same epoch share one probe. If ctx ends first the current status is
// returned and the probe keeps running.
func (m *Monitor) Check(ctx context.Context) Status {
	m.mu.Lock()
	epoch := m.epoch
	m.mu.Unlock()

	ch := m.group.DoChan(strconv.FormatUint(epoch, 10), func() (any, error) {
		return m.run(epoch), nil
	})

	select {
	case res := <-ch:
		return res.Val.(Status)
	case <-ctx.Done():
		return m.Status()
	}
}

// Retry is the user-initiated form of Check.
func (m *Monitor) Retry(ctx context.Context) Status {
	return m.Check(ctx)
}

// Recheck schedules a background check unless one ran recently. It never blocks and
// reports whether a check was scheduled.
func (m *Monitor) Recheck() bool {
	if m.ctx.Err() != nil || !m.limiter.Allow() {
		return false
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Check(m.ctx)
	}()
	return true
}

func (m *Monitor) run(epoch uint64) Status {
	m.publish(StatusChecking, epoch)

	connected, err := m.conn.Connected(m.ctx)
	if err != nil || !connected {
		if err != nil {
			m.log.WithError(err).Warn("connectivity query failed")
		}
		return m.publish(StatusNoInternet, epoch)
	}

	probeCtx, cancel := context.WithTimeout(m.ctx, m.timeout)
	defer cancel()

	start := time.Now()
	err = m.prober.Ping(probeCtx)
	entry := m.log.WithField("took", time.Since(start))
	if err != nil {
		entry.WithError(err).Debug("backend probe failed")
		return m.publish(StatusServiceUnavailable, epoch)
	}
	entry.Debug("backend probe ok")
	return m.publish(StatusOnline, epoch)
}

// publish stores next unless a disconnect happened since epoch was read. It returns
// the status in effect afterwards.
func (m *Monitor) publish(next Status, epoch uint64) Status {
	m.mu.Lock()
	if m.epoch != epoch {
		current := m.status
		m.mu.Unlock()
		return current
	}
	from := m.status
	m.status = next
	listeners := m.snapshotListenersLocked(from)
	m.mu.Unlock()

	if from != next && next != StatusChecking {
		m.log.WithFields(logrus.Fields{
			"from": from.String(),
			"to":   next.String(),
		}).Info("network status changed")
	}
	m.notify(listeners, from, next)
	return next
}

func (m *Monitor) snapshotListenersLocked(from Status) []Listener {
	if from == m.status || len(m.listeners) == 0 {
		return nil
	}
	out := make([]Listener, len(m.listeners))
	copy(out, m.listeners)
	return out
}

func (m *Monitor) notify(listeners []Listener, from, to Status) {
	for _, l := range listeners {
		l(from, to)
	}
}

// Close stops the connectivity subscription and waits for background checks.
func (m *Monitor) Close() {
	m.cancel()
	m.wg.Wait()
}

// Transport wraps next so that requests failing without an HTTP response schedule a
// re-check. The error is returned unchanged.
func (m *Monitor) Transport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		resp, err := next.RoundTrip(req)
		if err != nil && req.Context().Err() == nil {
			if m.Recheck() {
				m.log.WithError(err).Debug("transport failure, re-checking reachability")
			}
		}
		return resp, err
	})
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
