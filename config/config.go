// Package config loads client settings from SHOPSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage backends.
const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendRedis     = "redis"
	BackendBigcache  = "bigcache"
	BackendRistretto = "ristretto"
)

// Log backends.
const (
	LogZap    = "zap"
	LogLogrus = "logrus"
	LogSlog   = "slog"
)

type Config struct {
	BaseURL     string        `env:"SHOPSYNC_BASE_URL"`
	Timeout     time.Duration `env:"SHOPSYNC_TIMEOUT"      envDefault:"30s"`
	MaxAttempts int           `env:"SHOPSYNC_MAX_ATTEMPTS" envDefault:"3"`
	BaseDelay   time.Duration `env:"SHOPSYNC_BASE_DELAY"   envDefault:"500ms"`
	UserAgent   string        `env:"SHOPSYNC_USER_AGENT"`
	RefreshPath string        `env:"SHOPSYNC_REFRESH_PATH" envDefault:"/auth/refresh"`

	Storage Storage
	Log     Log
}

type Storage struct {
	Backend       string        `env:"SHOPSYNC_STORAGE"        envDefault:"memory"`
	SQLitePath    string        `env:"SHOPSYNC_SQLITE_PATH"    envDefault:"shopsync.db"`
	RedisAddr     string        `env:"SHOPSYNC_REDIS_ADDR"     envDefault:"127.0.0.1:6379"`
	RedisDB       int           `env:"SHOPSYNC_REDIS_DB"`
	RedisPassword string        `env:"SHOPSYNC_REDIS_PASSWORD"`
	CapacityBytes int64         `env:"SHOPSYNC_CAPACITY_BYTES" envDefault:"5242880"`
	SweepInterval time.Duration `env:"SHOPSYNC_SWEEP_INTERVAL" envDefault:"1h"`
	Codec         string        `env:"SHOPSYNC_CODEC"          envDefault:"json"`
	Compress      bool          `env:"SHOPSYNC_COMPRESS"       envDefault:"true"`
	Encrypt       bool          `env:"SHOPSYNC_ENCRYPT"        envDefault:"true"`
	DeviceKey     string        `env:"SHOPSYNC_DEVICE_KEY"`
}

type Log struct {
	Backend string `env:"SHOPSYNC_LOG_BACKEND" envDefault:"zap"`
	Level   string `env:"SHOPSYNC_LOG_LEVEL"   envDefault:"info"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("SHOPSYNC_BASE_URL is required"))
	} else if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("SHOPSYNC_BASE_URL %q is not an absolute URL", c.BaseURL))
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("SHOPSYNC_TIMEOUT must be positive"))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, errors.New("SHOPSYNC_MAX_ATTEMPTS must be at least 1"))
	}
	if c.BaseDelay < 0 {
		errs = append(errs, errors.New("SHOPSYNC_BASE_DELAY must not be negative"))
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendBigcache, BackendRistretto, BackendRedis:
	case BackendSQLite:
		if strings.TrimSpace(c.Storage.SQLitePath) == "" {
			errs = append(errs, errors.New("SHOPSYNC_SQLITE_PATH is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SHOPSYNC_STORAGE %q", c.Storage.Backend))
	}
	switch c.Storage.Codec {
	case "json", "cbor", "msgpack":
	default:
		errs = append(errs, fmt.Errorf("unknown SHOPSYNC_CODEC %q", c.Storage.Codec))
	}
	switch c.Log.Backend {
	case LogZap, LogLogrus, LogSlog:
	default:
		errs = append(errs, fmt.Errorf("unknown SHOPSYNC_LOG_BACKEND %q", c.Log.Backend))
	}
	return errors.Join(errs...)
}
