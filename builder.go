package goRecycle

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/goRecycle/api"
	"github.com/MrEthical07/goRecycle/auth"
	"github.com/MrEthical07/goRecycle/internal"
	"github.com/MrEthical07/goRecycle/internal/events"
	"github.com/MrEthical07/goRecycle/location"
	"github.com/MrEthical07/goRecycle/network"
	"github.com/MrEthical07/goRecycle/proof"
	"github.com/MrEthical07/goRecycle/session"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Builder assembles a [Client]. A Builder can be used for one Build only.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	credentials  CredentialStore
	camera       Camera
	location     LocationProvider
	connectivity Connectivity
	transport    http.RoundTripper
	eventSink    EventSink
	logger       logrus.FieldLogger
	clock        func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis enables session snapshot persistence and, unless WithCredentialStore is
// used, the Redis credential slot.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.credentials = store
	return b
}

func (b *Builder) WithCamera(camera Camera) *Builder {
	b.camera = camera
	return b
}

func (b *Builder) WithLocationProvider(provider LocationProvider) *Builder {
	b.location = provider
	return b
}

func (b *Builder) WithConnectivity(conn Connectivity) *Builder {
	b.connectivity = conn
	return b
}

// WithTransport sets the base RoundTripper under the auth and network layers. The
// reachability probe uses it directly.
func (b *Builder) WithTransport(rt http.RoundTripper) *Builder {
	b.transport = rt
	return b
}

func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.eventSink = sink
	return b
}

// WithLogger replaces the logger Build would create from Config.Logging.
func (b *Builder) WithLogger(logger logrus.FieldLogger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for session timing.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the components. It performs no I/O;
// call [Client.Start] afterwards.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.location == nil {
		return nil, errors.New("location provider required")
	}
	if b.connectivity == nil {
		return nil, errors.New("connectivity provider required")
	}
	if b.camera == nil {
		return nil, errors.New("camera required")
	}

	log := b.logger
	if log == nil {
		l := logrus.New()
		level, _ := logrus.ParseLevel(cfg.Logging.Level)
		l.SetLevel(level)
		log = l
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	deviceID := cfg.Persistence.DeviceID
	if deviceID == "" {
		deviceID = internal.NewDeviceID()
	}
	log = log.WithField("device", deviceID)

	c := &Client{
		config:   cfg,
		deviceID: deviceID,
		clock:    clock,
		log:      log.WithField("pkg", "client"),
	}

	// -------- CREDENTIALS --------
	store := b.credentials
	if store == nil && b.redis != nil {
		store = auth.NewRedisStore(b.redis, cfg.Persistence.RedisPrefix, deviceID)
	}
	c.auth = auth.NewGate(store, clock, log.WithField("pkg", "auth"))

	// -------- NETWORK --------
	c.network = network.NewMonitor(b.connectivity, pingFunc(c.ping), network.Options{
		ProbeTimeout: cfg.Network.ProbeTimeout,
		RecheckEvery: cfg.Network.RecheckInterval,
		RecheckBurst: cfg.Network.RecheckBurst,
		Logger:       log.WithField("pkg", "network"),
	})

	// -------- BACKEND --------
	base := b.transport
	if base == nil {
		base = http.DefaultTransport
	}
	apiClient, err := api.New(api.Options{
		BaseURL:       cfg.API.BaseURL,
		Language:      cfg.API.Language,
		Transport:     c.auth.Transport(c.network.Transport(base)),
		PingTransport: base,
		Timeout:       cfg.API.Timeout,
		PingTimeout:   cfg.API.PingTimeout,
		Logger:        log.WithField("pkg", "api"),
	})
	if err != nil {
		return nil, err
	}
	c.api = apiClient

	// -------- SESSION --------
	c.sessions = session.NewManager(session.Options{
		Clock:        clock,
		TickInterval: cfg.Session.TickInterval,
		Listener:     c.onSessionEvent,
		Logger:       log.WithField("pkg", "session"),
	})
	if b.redis != nil {
		c.store = session.NewStore(b.redis, cfg.Persistence.RedisPrefix)
	}

	c.location = location.NewGate(b.location, location.Options{
		MaxAccuracy:    cfg.Location.MaxAccuracyMeters,
		OneShotTimeout: cfg.Location.OneShotTimeout,
		Logger:         log.WithField("pkg", "location"),
	})
	c.proof = proof.NewGate(b.camera, proofUploader{api: apiClient}, c.sessions, log.WithField("pkg", "proof"))

	// -------- OBSERVABILITY --------
	c.events = events.NewDispatcher(events.Config{
		Enabled:    cfg.Events.Enabled,
		BufferSize: cfg.Events.BufferSize,
		DropIfFull: cfg.Events.DropIfFull,
	}, b.eventSink)
	c.metrics = NewMetrics(cfg.Metrics)

	c.auth.OnInvalidate(c.onAuthInvalidated)
	c.network.OnChange(c.onNetworkChange)

	b.built = true

	return c, nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }
