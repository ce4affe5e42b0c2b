// SPDX-License-Identifier: MIT

// Package config loads venued configuration with precedence ENV > file > defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	// ListenAddr is the bind address of the API shell.
	ListenAddr string `yaml:"listen_addr"`
	// DataDir holds the sqlite database and runtime state.
	DataDir string `yaml:"data_dir"`
	// DBPath overrides the database location (defaults to <data_dir>/venued.db).
	DBPath string `yaml:"db_path"`

	LogLevel   string `yaml:"log_level"`
	LogService string `yaml:"log_service"`

	Discovery DiscoveryConfig `yaml:"discovery"`
	Queue     QueueConfig     `yaml:"queue"`
	Poller    PollerConfig    `yaml:"poller"`
	Health    HealthConfig    `yaml:"health"`
}

// DiscoveryConfig controls the mDNS listener and active scanner.
type DiscoveryConfig struct {
	// Subnet to sweep in CIDR form, e.g. "192.168.1.0/24". Empty disables the scanner.
	Subnet string `yaml:"subnet"`
	// ScanInterval between subnet sweeps.
	ScanInterval time.Duration `yaml:"scan_interval"`
	// ScanConcurrency bounds parallel port probes during a sweep.
	ScanConcurrency int `yaml:"scan_concurrency"`
	// MDNSService is the browsed service type.
	MDNSService string `yaml:"mdns_service"`
	// MDNSDisabled turns off the listener (scanner-only deployments).
	MDNSDisabled bool `yaml:"mdns_disabled"`
}

// QueueConfig controls the worker pool and queue maintenance.
type QueueConfig struct {
	Workers       int           `yaml:"workers"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	RetentionDays int           `yaml:"retention_days"`
}

// PollerConfig controls the tiered status pollers.
type PollerConfig struct {
	Tier1Interval time.Duration `yaml:"tier1_interval"`
	Tier2Interval time.Duration `yaml:"tier2_interval"`
	FanOut        int           `yaml:"fan_out"`
}

// HealthConfig controls the IR controller health monitor.
type HealthConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr: ":8089",
		DataDir:    "/var/lib/venued",
		LogLevel:   "info",
		LogService: "venued",
		Discovery: DiscoveryConfig{
			ScanInterval:    5 * time.Minute,
			ScanConcurrency: 64,
			MDNSService:     "_esphomelib._tcp",
		},
		Queue: QueueConfig{
			Workers:       3,
			PollInterval:  500 * time.Millisecond,
			RetentionDays: 7,
		},
		Poller: PollerConfig{
			Tier1Interval: 3 * time.Second,
			Tier2Interval: 5 * time.Second,
			FanOut:        10,
		},
		Health: HealthConfig{
			Interval:  5 * time.Minute,
			BatchSize: 10,
		},
	}
}

// Load builds the effective configuration: defaults, then the optional YAML
// file at path, then VENUED_* environment overrides, then validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.DBPath == "" {
		cfg.DBPath = cfg.DataDir + "/venued.db"
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is empty")
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be >= 1, got %d", c.Queue.Workers)
	}
	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue.poll_interval must be positive")
	}
	if c.Poller.FanOut < 1 {
		return fmt.Errorf("poller.fan_out must be >= 1, got %d", c.Poller.FanOut)
	}
	if c.Discovery.ScanInterval <= 0 {
		return fmt.Errorf("discovery.scan_interval must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.ListenAddr = ParseString("VENUED_LISTEN", cfg.ListenAddr)
	cfg.DataDir = ParseString("VENUED_DATA", cfg.DataDir)
	cfg.DBPath = ParseString("VENUED_DB", cfg.DBPath)
	cfg.LogLevel = ParseString("VENUED_LOG_LEVEL", cfg.LogLevel)
	cfg.Discovery.Subnet = ParseString("VENUED_SCAN_SUBNET", cfg.Discovery.Subnet)
	cfg.Discovery.ScanInterval = ParseDuration("VENUED_SCAN_INTERVAL", cfg.Discovery.ScanInterval)
	cfg.Discovery.MDNSDisabled = ParseBool("VENUED_MDNS_DISABLED", cfg.Discovery.MDNSDisabled)
	cfg.Queue.Workers = ParseInt("VENUED_WORKERS", cfg.Queue.Workers)
	cfg.Queue.PollInterval = ParseDuration("VENUED_QUEUE_POLL", cfg.Queue.PollInterval)
	cfg.Poller.FanOut = ParseInt("VENUED_POLLER_FANOUT", cfg.Poller.FanOut)
}

// ParseString returns the environment value for key, or fallback when unset.
func ParseString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// ParseInt returns the integer environment value for key, or fallback when
// unset or malformed.
func ParseInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// ParseBool returns the boolean environment value for key, or fallback when
// unset or malformed.
func ParseBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// ParseDuration returns the duration environment value for key, or fallback
// when unset or malformed.
func ParseDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
