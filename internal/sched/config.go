package sched

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	yaml "github.com/goccy/go-yaml"
)

const (
	defaultTickMS       = 1
	defaultQuantumTicks = 20
	defaultLogLevel     = "info"
)

// Config mirrors config.yml
type Config struct {
	TickMS       int    `yaml:"tick_ms"`       // 1 (by default)
	QuantumTicks int    `yaml:"quantum_ticks"` // 20 (by default)
	LogLevel     string `yaml:"log_level"`     // info (by default)
	EventLog     string `yaml:"event_log"`     // CSV event log path, empty = disabled
}

// DefaultConfig is used when no config file is present.
func DefaultConfig() Config {
	return Config{
		TickMS:       defaultTickMS,
		QuantumTicks: defaultQuantumTicks,
		LogLevel:     defaultLogLevel,
	}
}

// TickInterval is the period of the preemption timer.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.TickMS) * time.Millisecond
}

// Load reads YAML and overrides defaults; empty path or missing file = defaults only.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parse config %s: %w", path, err)
	}

	// sanity clamps
	if cfg.TickMS <= 0 {
		cfg.TickMS = defaultTickMS
	}
	if cfg.QuantumTicks <= 0 {
		cfg.QuantumTicks = defaultQuantumTicks
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}

	return cfg, nil
}
