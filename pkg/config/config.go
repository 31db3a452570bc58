// Package config loads and validates ksbot configuration from the command
// line, an INI file, and the environment.
//
// Resolution order (later wins): built-in defaults, KSBOT_* environment
// variables, the --token flag, then the INI file. The config file takes
// precedence over the flag so a deployed bot can rotate its token by editing
// the file alone.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/ini.v1"
)

// Config is the resolved ksbot configuration.
type Config struct {
	// Name is the bot's display name, informational only.
	Name string
	// Token authenticates every KOOK API call. Required.
	Token string

	// StorePath is the subscription store directory.
	StorePath string
	// RecordPath is the session record file.
	RecordPath string

	LogFile   string
	LogLevel  string
	LogFormat string

	// StatusAddr is the listen address of the status HTTP server.
	// Empty disables the server.
	StatusAddr string

	// Debug lowers the feed refresh floor for local runs.
	Debug bool

	Refresh RefreshConfig
}

// RefreshConfig controls the feed scheduler.
type RefreshConfig struct {
	// MinInterval is the floor on the per-feed refresh delay, applied over
	// the feed's own TTL.
	MinInterval time.Duration
	// EnumerateInterval is how often the scheduler re-reads the feed list.
	EnumerateInterval time.Duration
	// ThrottlePieces staggers spawned push tasks across the refresh period.
	ThrottlePieces int
	// ThrottleUnit is the per-ticket stagger step.
	ThrottleUnit time.Duration
	// StaleCutoff drops inbound command messages older than this.
	StaleCutoff time.Duration
	// FeedSizeLimit caps a fetched feed body in bytes.
	FeedSizeLimit int64
}

// envOverrides mirrors the KSBOT_* environment surface.
type envOverrides struct {
	Name        string        `env:"KSBOT_NAME"`
	Token       string        `env:"KSBOT_TOKEN"`
	StorePath   string        `env:"KSBOT_STORE_PATH"`
	RecordPath  string        `env:"KSBOT_RECORD_PATH"`
	LogFile     string        `env:"KSBOT_LOG_FILE"`
	LogLevel    string        `env:"KSBOT_LOG_LEVEL"`
	LogFormat   string        `env:"KSBOT_LOG_FORMAT"`
	StatusAddr  string        `env:"KSBOT_STATUS_ADDR"`
	MinInterval time.Duration `env:"KSBOT_MIN_INTERVAL"`
	Debug       bool          `env:"KSBOT_DEBUG"`
}

const (
	releaseMinInterval = 3 * time.Minute
	debugMinInterval   = 12 * time.Second
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Name:       "ksbot",
		StorePath:  "__bot.db",
		RecordPath: "__bot.json",
		LogFile:    "bot.log",
		LogLevel:   "info",
		LogFormat:  "text",
		Refresh: RefreshConfig{
			MinInterval:       releaseMinInterval,
			EnumerateInterval: 10 * time.Second,
			ThrottlePieces:    10,
			ThrottleUnit:      time.Second,
			StaleCutoff:       5 * time.Second,
			FeedSizeLimit:     4 << 20,
		},
	}
}

// Load resolves the configuration. token is the --token flag value and
// confPath the positional INI path; either may be empty.
func Load(token, confPath string) (*Config, error) {
	cfg := Default()

	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	applyEnv(cfg, overrides)

	if token != "" {
		cfg.Token = token
	}

	if confPath != "" {
		if err := applyFile(cfg, confPath); err != nil {
			return nil, err
		}
	}

	// Debug lowers the refresh floor unless the operator pinned one.
	if cfg.Debug && overrides.MinInterval <= 0 {
		cfg.Refresh.MinInterval = debugMinInterval
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, o envOverrides) {
	if o.Name != "" {
		cfg.Name = o.Name
	}
	if o.Token != "" {
		cfg.Token = o.Token
	}
	if o.StorePath != "" {
		cfg.StorePath = o.StorePath
	}
	if o.RecordPath != "" {
		cfg.RecordPath = o.RecordPath
	}
	if o.LogFile != "" {
		cfg.LogFile = o.LogFile
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.LogFormat = o.LogFormat
	}
	if o.StatusAddr != "" {
		cfg.StatusAddr = o.StatusAddr
	}
	if o.MinInterval > 0 {
		cfg.Refresh.MinInterval = o.MinInterval
	}
	if o.Debug {
		cfg.Debug = true
	}
}

// applyFile overlays the [Main] section of an INI file.
func applyFile(cfg *Config, path string) error {
	f, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("load config file %s: %w", path, err)
	}
	main := f.Section("Main")
	if v := main.Key("Name").String(); v != "" {
		cfg.Name = v
	}
	if v := main.Key("Token").String(); v != "" {
		cfg.Token = v
	}
	return nil
}

func (c *Config) validate() error {
	if c.Token == "" {
		return fmt.Errorf("missing token: set Token in the config file, pass --token, or export KSBOT_TOKEN")
	}
	if c.StorePath == "" {
		return fmt.Errorf("store path must not be empty")
	}
	if c.RecordPath == "" {
		return fmt.Errorf("record path must not be empty")
	}
	if c.Refresh.ThrottlePieces <= 0 {
		return fmt.Errorf("throttle pieces must be positive, got %d", c.Refresh.ThrottlePieces)
	}
	return nil
}
