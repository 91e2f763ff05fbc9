// Package config reads the engine's TOML configuration.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the engine's runtime configuration.
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Processor ProcessorConfig `toml:"processor"`
	HTTP      HTTPConfig      `toml:"http"`
	Log       LogConfig       `toml:"log"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// ProcessorConfig tunes the outbox drain loop. Durations use Go
// notation, e.g. "30s" or "2m".
type ProcessorConfig struct {
	DrainInterval duration `toml:"drain_interval"`
	BatchLimit    int      `toml:"batch_limit"`
	LeaseWindow   duration `toml:"lease_window"`
	BackoffBase   duration `toml:"backoff_base"`
	MaxAttempts   int      `toml:"max_attempts"`
	Workers       int      `toml:"workers"`
}

// HTTPConfig controls the administrative API listener. An empty Addr
// disables the listener; the engine then runs headless.
type HTTPConfig struct {
	Addr string `toml:"addr"` // e.g. "127.0.0.1:8090"
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `toml:"level"`  // trace, debug, info, warn, error
	Pretty bool   `toml:"pretty"` // human-readable console output
}

// duration lets TOML carry durations as strings.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// Default returns a Config with working defaults for every field.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "engine.db"},
		Processor: ProcessorConfig{
			DrainInterval: duration{30 * time.Second},
			BatchLimit:    50,
			LeaseWindow:   duration{2 * time.Minute},
			BackoffBase:   duration{30 * time.Second},
			MaxAttempts:   8,
			Workers:       4,
		},
		HTTP: HTTPConfig{Addr: "127.0.0.1:8090"},
		Log:  LogConfig{Level: "info"},
	}
}

// Read decodes a Config from the reader, filling unset fields with
// defaults.
func Read(r io.Reader) (*Config, error) {
	cfg := Default()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadFromFile reads a Config from the given path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	cfg, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Processor.DrainInterval.Duration <= 0 {
		return fmt.Errorf("processor.drain_interval must be positive")
	}
	if c.Processor.BatchLimit <= 0 {
		return fmt.Errorf("processor.batch_limit must be positive")
	}
	if c.Processor.LeaseWindow.Duration <= 0 {
		return fmt.Errorf("processor.lease_window must be positive")
	}
	if c.Processor.BackoffBase.Duration <= 0 {
		return fmt.Errorf("processor.backoff_base must be positive")
	}
	if c.Processor.MaxAttempts <= 0 {
		return fmt.Errorf("processor.max_attempts must be positive")
	}
	if c.Processor.Workers <= 0 {
		return fmt.Errorf("processor.workers must be positive")
	}
	return nil
}

// DrainInterval returns the configured drain interval.
func (c *Config) DrainInterval() time.Duration { return c.Processor.DrainInterval.Duration }

// LeaseWindow returns the configured lease window.
func (c *Config) LeaseWindow() time.Duration { return c.Processor.LeaseWindow.Duration }

// BackoffBase returns the configured backoff base.
func (c *Config) BackoffBase() time.Duration { return c.Processor.BackoffBase.Duration }
