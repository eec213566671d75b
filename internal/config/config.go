// Package config provides YAML configuration loading and validation for
// the fsbridge watch binary.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure for the watch binary.
type Config struct {
	// Paths is the list of files or directories to watch. Required,
	// non-empty.
	Paths []string `yaml:"paths"`

	// Latency is the coalescing window the native layer waits to batch
	// multiple changes into one callback invocation (e.g. "500ms").
	// Defaults to 500ms when omitted.
	Latency Duration `yaml:"latency"`

	// NoDefer delivers the first event of a burst immediately instead of
	// waiting out the full latency window.
	NoDefer bool `yaml:"no_defer"`

	// JournalPath is the SQLite file used to persist the resume cursor.
	// When empty, no journal is kept and every run starts from "now".
	JournalPath string `yaml:"journal_path"`

	// Session names the resume cursor in the journal, so several watch
	// configurations can share one journal file. Defaults to "default".
	Session string `yaml:"session"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn",
	// or "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// MetricsAddr is the listen address for the /metrics and /healthz
	// HTTP server (e.g. "127.0.0.1:9300"). When empty, no HTTP server is
	// started.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Duration wraps time.Duration with YAML unmarshalling from strings like
// "250ms" or "2s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// LoadConfig reads the YAML file at path, unmarshals it into Config,
// applies defaults, and validates all required fields. It returns a typed
// error describing the first validation failure encountered.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

// applyDefaults fills in zero-value optional fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Latency == 0 {
		cfg.Latency = Duration(500 * time.Millisecond)
	}
	if cfg.Session == "" {
		cfg.Session = "default"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// validate checks that all required fields are populated and that
// enumerated fields contain only valid values.
func validate(cfg *Config) error {
	var errs []error

	if len(cfg.Paths) == 0 {
		errs = append(errs, errors.New("paths is required and must be non-empty"))
	}
	for i, p := range cfg.Paths {
		if p == "" {
			errs = append(errs, fmt.Errorf("paths[%d]: path must not be empty", i))
		}
	}
	if cfg.Latency < 0 {
		errs = append(errs, fmt.Errorf("latency %s must not be negative", time.Duration(cfg.Latency)))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}

	return errors.Join(errs...)
}
