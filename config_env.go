package goRecycle

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables read by LoadConfigFromEnv.
const (
	EnvAPIURL          = "GORECYCLE_API_URL"
	EnvLanguage        = "GORECYCLE_LANGUAGE"
	EnvAPITimeout      = "GORECYCLE_API_TIMEOUT"
	EnvPingTimeout     = "GORECYCLE_PING_TIMEOUT"
	EnvTickInterval    = "GORECYCLE_TICK_INTERVAL"
	EnvGPSMaxAccuracy  = "GORECYCLE_GPS_MAX_ACCURACY"
	EnvGPSTimeout      = "GORECYCLE_GPS_TIMEOUT"
	EnvGPSWatch        = "GORECYCLE_GPS_WATCH"
	EnvRecheckInterval = "GORECYCLE_RECHECK_INTERVAL"
	EnvRedisPrefix     = "GORECYCLE_REDIS_PREFIX"
	EnvDeviceID        = "GORECYCLE_DEVICE_ID"
	EnvEventsEnabled   = "GORECYCLE_EVENTS"
	EnvMetricsEnabled  = "GORECYCLE_METRICS"
	EnvLogLevel        = "GORECYCLE_LOG_LEVEL"
)

// LoadConfigFromEnv loads .env files with godotenv and overlays GORECYCLE_* variables
// on the defaults. Without paths it reads ./.env if present. Variables already set in
// the process environment win over .env values.
func LoadConfigFromEnv(paths ...string) (Config, error) {
	if len(paths) == 0 {
		if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	} else if err := godotenv.Load(paths...); err != nil {
		return Config{}, fmt.Errorf("load env files: %w", err)
	}

	cfg := defaultConfig()
	var err error

	setString(&cfg.API.BaseURL, EnvAPIURL)
	setString(&cfg.API.Language, EnvLanguage)
	setString(&cfg.Persistence.RedisPrefix, EnvRedisPrefix)
	setString(&cfg.Persistence.DeviceID, EnvDeviceID)
	setString(&cfg.Logging.Level, EnvLogLevel)

	for _, d := range []struct {
		dst *time.Duration
		key string
	}{
		{&cfg.API.Timeout, EnvAPITimeout},
		{&cfg.API.PingTimeout, EnvPingTimeout},
		{&cfg.Session.TickInterval, EnvTickInterval},
		{&cfg.Location.OneShotTimeout, EnvGPSTimeout},
		{&cfg.Network.RecheckInterval, EnvRecheckInterval},
	} {
		if err = setDuration(d.dst, d.key); err != nil {
			return Config{}, err
		}
	}

	if v, ok := os.LookupEnv(EnvGPSMaxAccuracy); ok {
		f, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvGPSMaxAccuracy, perr)
		}
		cfg.Location.MaxAccuracyMeters = f
	}

	for _, b := range []struct {
		dst *bool
		key string
	}{
		{&cfg.Location.Watch, EnvGPSWatch},
		{&cfg.Events.Enabled, EnvEventsEnabled},
		{&cfg.Metrics.Enabled, EnvMetricsEnabled},
	} {
		if err = setBool(b.dst, b.key); err != nil {
			return Config{}, err
		}
	}
	if !cfg.Metrics.Enabled {
		cfg.Metrics.EnableLatencyHistograms = false
	}

	return cfg, nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}
