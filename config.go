package goRecycle

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config is the full client configuration. Start from [DefaultConfig] and override.
type Config struct {
	API         APIConfig
	Session     SessionConfig
	Location    LocationConfig
	Network     NetworkConfig
	Persistence PersistenceConfig
	Events      EventsConfig
	Metrics     MetricsConfig
	Logging     LoggingConfig
}

/*
====================================
API CONFIG
====================================
*/

// APIConfig describes the backend.
type APIConfig struct {
	BaseURL string
	// Language is sent as Accept-Language.
	Language    string
	Timeout     time.Duration
	PingTimeout time.Duration
}

/*
====================================
SESSION / GATES
====================================
*/

// SessionConfig tunes the countdown.
type SessionConfig struct {
	TickInterval time.Duration
}

// LocationConfig tunes the location gate.
type LocationConfig struct {
	MaxAccuracyMeters float64
	OneShotTimeout    time.Duration
	// Watch keeps a standing location subscription while the client runs.
	Watch bool
}

// NetworkConfig tunes the reachability monitor.
type NetworkConfig struct {
	ProbeTimeout    time.Duration
	RecheckInterval time.Duration
	RecheckBurst    int
}

/*
====================================
PERSISTENCE
====================================
*/

// PersistenceConfig controls the Redis snapshot of the active session and the Redis
// credential slot. It only applies when the Builder has a Redis client.
type PersistenceConfig struct {
	RedisPrefix string
	DeviceID    string
	OpTimeout   time.Duration
}

/*
====================================
OBSERVABILITY
====================================
*/

// EventsConfig controls async event dispatch.
type EventsConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// LoggingConfig sets the logrus level used when the Builder creates the logger.
type LoggingConfig struct {
	Level string
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the defaults. API.BaseURL is left empty and must be set.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		API: APIConfig{
			Language:    "en",
			Timeout:     15 * time.Second,
			PingTimeout: 5 * time.Second,
		},
		Session: SessionConfig{
			TickInterval: time.Second,
		},
		Location: LocationConfig{
			MaxAccuracyMeters: 60,
			OneShotTimeout:    10 * time.Second,
			Watch:             true,
		},
		Network: NetworkConfig{
			ProbeTimeout:    5 * time.Second,
			RecheckInterval: 2 * time.Second,
			RecheckBurst:    1,
		},
		Persistence: PersistenceConfig{
			RedisPrefix: "gorecycle",
			OpTimeout:   2 * time.Second,
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	// API
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return errors.New("API BaseURL must be set")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("API BaseURL must be an absolute http(s) URL")
	}
	if strings.TrimSpace(c.API.Language) == "" {
		return errors.New("API Language must be set")
	}
	if c.API.Timeout <= 0 {
		return errors.New("API Timeout must be > 0")
	}
	if c.API.PingTimeout <= 0 {
		return errors.New("API PingTimeout must be > 0")
	}

	// Session
	if c.Session.TickInterval < 10*time.Millisecond || c.Session.TickInterval > 5*time.Second {
		return errors.New("Session TickInterval must be between 10ms and 5s")
	}

	// Location
	if c.Location.MaxAccuracyMeters <= 0 {
		return errors.New("Location MaxAccuracyMeters must be > 0")
	}
	if c.Location.OneShotTimeout <= 0 {
		return errors.New("Location OneShotTimeout must be > 0")
	}

	// Network
	if c.Network.ProbeTimeout <= 0 {
		return errors.New("Network ProbeTimeout must be > 0")
	}
	if c.Network.RecheckInterval < 0 {
		return errors.New("Network RecheckInterval must be >= 0")
	}
	if c.Network.RecheckBurst < 1 {
		return errors.New("Network RecheckBurst must be >= 1")
	}

	// Persistence
	if strings.TrimSpace(c.Persistence.RedisPrefix) == "" {
		return errors.New("Persistence RedisPrefix must be set")
	}
	if strings.Contains(c.Persistence.RedisPrefix, " ") {
		return errors.New("Persistence RedisPrefix must not contain spaces")
	}
	if c.Persistence.OpTimeout <= 0 {
		return errors.New("Persistence OpTimeout must be > 0")
	}

	// Events
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return errors.New("Events BufferSize must be > 0 when Events are enabled")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	// Logging
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return errors.New("Logging Level is not a logrus level")
	}

	return nil
}
