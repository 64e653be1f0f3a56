// Package config loads and validates the xstalker configuration from
// defaults, an optional YAML file, and XSTALKER_* environment
// variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/lereldarion/xstalker/internal/aggregate"
)

// Config holds all application configuration.
type Config struct {
	Database   DatabaseConfig   `koanf:"database"`
	Tracker    TrackerConfig    `koanf:"tracker"`
	Classifier ClassifierConfig `koanf:"classifier"`
	Daemon     DaemonConfig     `koanf:"daemon"`
	Web        WebConfig        `koanf:"web"`
	Log        LogConfig        `koanf:"log"`
}

// DatabaseConfig holds persistence configuration.
type DatabaseConfig struct {
	Path string `koanf:"path"` // empty means ~/.config/xstalker/xstalker.db
}

// TrackerConfig holds engine behavior configuration.
type TrackerConfig struct {
	SlotWidth     string        `koanf:"slot_width"`     // bucket granularity; supports a "d" suffix
	FlushInterval time.Duration `koanf:"flush_interval"` // open-interval split + checkpoint cadence
	IdleTimeout   time.Duration `koanf:"idle_timeout"`   // inactivity before the source signals idle
	QueueSize     int           `koanf:"queue_size"`     // bounded fold queue; full blocks ingestion
	AppendRetries int           `koanf:"append_retries"` // extra attempts before a write failure is fatal
	RetryBackoff  time.Duration `koanf:"retry_backoff"`
	ReplayBatch   int           `koanf:"replay_batch"`
	Retention     string        `koanf:"retention"` // prune folded intervals older than this; empty disables
}

// ClassifierConfig locates the category rules file.
type ClassifierConfig struct {
	RulesPath string `koanf:"rules_path"`
}

// DaemonConfig holds daemon process configuration.
type DaemonConfig struct {
	PIDFile string `koanf:"pid_file"`
}

// WebConfig holds query API server configuration.
type WebConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or console
	File   string `koanf:"file"`   // empty logs to stderr
}

// Slot returns the parsed slot width. Valid after Validate.
func (c TrackerConfig) Slot() time.Duration {
	d, _ := aggregate.ParseSpan(c.SlotWidth)
	return d
}

// RetentionSpan returns the parsed retention span, 0 when disabled.
func (c TrackerConfig) RetentionSpan() time.Duration {
	if strings.TrimSpace(c.Retention) == "" {
		return 0
	}
	d, _ := aggregate.ParseSpan(c.Retention)
	return d
}

// Load parses config from defaults + optional file + env, then
// validates. An empty configPath skips the file layer.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"database.path":          "",
		"tracker.slot_width":     "1h",
		"tracker.flush_interval": "60s",
		"tracker.idle_timeout":   "5m",
		"tracker.queue_size":     128,
		"tracker.append_retries": 5,
		"tracker.retry_backoff":  "500ms",
		"tracker.replay_batch":   500,
		"tracker.retention":      "",
		"classifier.rules_path":  "",
		"daemon.pid_file":        fmt.Sprintf("/tmp/xstalker-%d.pid", os.Getuid()),
		"web.enabled":            false,
		"web.host":               "localhost",
		"web.port":               10000 + os.Getuid(),
		"log.level":              "info",
		"log.format":             "json",
		"log.file":               "",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("XSTALKER_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "XSTALKER_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Classifier.RulesPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Classifier.RulesPath = filepath.Join(home, ".config", "xstalker", "rules.yaml")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	slot, err := aggregate.ParseSpan(c.Tracker.SlotWidth)
	if err != nil {
		return fmt.Errorf("invalid tracker.slot_width: %w", err)
	}

	if c.Tracker.FlushInterval <= 0 {
		return fmt.Errorf("tracker.flush_interval must be > 0, got %v", c.Tracker.FlushInterval)
	}
	if c.Tracker.FlushInterval >= slot {
		return fmt.Errorf("tracker.flush_interval (%v) must be shorter than tracker.slot_width (%v)",
			c.Tracker.FlushInterval, slot)
	}

	if c.Tracker.IdleTimeout < 0 {
		return fmt.Errorf("tracker.idle_timeout cannot be negative")
	}
	if c.Tracker.QueueSize <= 0 {
		return fmt.Errorf("tracker.queue_size must be > 0, got %d", c.Tracker.QueueSize)
	}
	if c.Tracker.AppendRetries < 0 {
		return fmt.Errorf("tracker.append_retries cannot be negative")
	}
	if c.Tracker.RetryBackoff <= 0 {
		return fmt.Errorf("tracker.retry_backoff must be > 0, got %v", c.Tracker.RetryBackoff)
	}
	if c.Tracker.ReplayBatch <= 0 {
		return fmt.Errorf("tracker.replay_batch must be > 0, got %d", c.Tracker.ReplayBatch)
	}
	if c.Tracker.Retention != "" {
		if _, err := aggregate.ParseSpan(c.Tracker.Retention); err != nil {
			return fmt.Errorf("invalid tracker.retention: %w", err)
		}
	}

	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port must be between 1 and 65535, got %d", c.Web.Port)
	}
	if c.Web.Host == "" {
		return fmt.Errorf("web.host cannot be empty")
	}

	if c.Daemon.PIDFile == "" {
		return fmt.Errorf("daemon.pid_file cannot be empty")
	}

	return nil
}

// String returns a printable summary of the config.
func (c *Config) String() string {
	return fmt.Sprintf(`Configuration:
  Database:
    Path: %s
  Tracker:
    Slot Width: %s
    Flush Interval: %v
    Idle Timeout: %v
    Queue Size: %d
    Append Retries: %d
    Retention: %s
  Classifier:
    Rules: %s
  Daemon:
    PID File: %s
  Web:
    Enabled: %v
    Host: %s
    Port: %d
  Log:
    Level: %s
    Format: %s`,
		c.Database.Path,
		c.Tracker.SlotWidth,
		c.Tracker.FlushInterval,
		c.Tracker.IdleTimeout,
		c.Tracker.QueueSize,
		c.Tracker.AppendRetries,
		c.Tracker.Retention,
		c.Classifier.RulesPath,
		c.Daemon.PIDFile,
		c.Web.Enabled,
		c.Web.Host,
		c.Web.Port,
		c.Log.Level,
		c.Log.Format,
	)
}
