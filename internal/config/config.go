package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"filewatch/internal/watcher"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

type Config struct {
	Env             string        `yaml:"env" env-default:"local" env:"ENV"`
	WatchFilePath   string        `yaml:"watch_file_path" env:"WatchFilePath"`
	Strategy        string        `yaml:"strategy" env-default:"auto" env:"WATCH_STRATEGY"`
	PollInterval    time.Duration `yaml:"poll_interval" env-default:"30s" env:"POLL_INTERVAL"`
	ReadErrorPolicy string        `yaml:"read_error_policy" env-default:"default" env:"READ_ERROR_POLICY"`
	Read            Read          `yaml:"read"`
	EventLog        EventLog      `yaml:"event_log"`
	Metrics         Metrics       `yaml:"metrics"`
}

type Read struct {
	Attempts int           `yaml:"attempts" env-default:"3" env:"READ_ATTEMPTS"`
	Delay    time.Duration `yaml:"delay" env-default:"100ms" env:"READ_DELAY"`
}

// EventLog is the optional on-disk journal of notifications. Empty Path
// disables it.
type EventLog struct {
	Path       string `yaml:"path" env:"EVENT_LOG_PATH"`
	MaxEntries int    `yaml:"max_entries" env-default:"10000" env:"EVENT_LOG_MAX_ENTRIES"`
}

// Metrics is the optional Prometheus textfile export. Empty Textfile
// disables it.
type Metrics struct {
	Textfile string        `yaml:"textfile" env:"METRICS_TEXTFILE"`
	Interval time.Duration `yaml:"interval" env-default:"15s" env:"METRICS_INTERVAL"`
}

// Load reads configuration from the file at configPath, falling back to
// CONFIG_PATH, and then from the environment. Without any file only the
// environment and defaults are used.
// Priority: flag > env > default.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	var cfg Config

	if configPath == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("cannot read config from env: %w", err)
		}
	} else {
		// check if file exists
		if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file does not exist: %s", configPath)
		}
		if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
			return nil, fmt.Errorf("cannot read config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks everything but the watched path, whose problems are
// reported by the watch itself.
func (c *Config) Validate() error {
	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return fmt.Errorf("unknown env %q", c.Env)
	}

	if _, err := watcher.ParseStrategy(c.Strategy); err != nil {
		return err
	}
	if _, err := watcher.ParseReadErrorPolicy(c.ReadErrorPolicy); err != nil {
		return err
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.Read.Attempts <= 0 {
		return fmt.Errorf("read.attempts must be positive, got %d", c.Read.Attempts)
	}
	if c.Read.Delay < 0 {
		return fmt.Errorf("read.delay must not be negative, got %s", c.Read.Delay)
	}
	if c.Metrics.Textfile != "" && c.Metrics.Interval <= 0 {
		return fmt.Errorf("metrics.interval must be positive, got %s", c.Metrics.Interval)
	}
	return nil
}
