// Package config loads lockd's operational parameters — listen address,
// TTL, sweep period, log level — from an optional YAML file layered onto
// built-in defaults, with flags taking highest precedence.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every operational knob lockd exposes. None of these affect
// the wire protocol or locking semantics; they are purely operational.
type Config struct {
	Addr           string        `yaml:"addr"`
	TTL            time.Duration `yaml:"ttl"`
	SweepPeriod    time.Duration `yaml:"sweep_period"`
	WaitTick       time.Duration `yaml:"wait_tick"`
	LogLevel       string        `yaml:"log_level"`
	MetricsEnabled bool          `yaml:"metrics_enabled"`
}

// Default returns the built-in defaults: listen on :9876, a 5-minute TTL
// with sweeps at the same period, a 5-second WaitForTurn liveness tick,
// info-level logging, metrics on.
func Default() *Config {
	return &Config{
		Addr:           ":9876",
		TTL:            5 * time.Minute,
		SweepPeriod:    5 * time.Minute,
		WaitTick:       5 * time.Second,
		LogLevel:       "info",
		MetricsEnabled: true,
	}
}

// Load reads a YAML file at path and overlays it onto Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path if it exists, otherwise returns Default().
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Normalize clamps WaitTick into the allowed range of [1s, 15s] and
// falls back to sane defaults for non-positive durations.
func (c *Config) Normalize() {
	if c.TTL <= 0 {
		c.TTL = Default().TTL
	}
	if c.SweepPeriod <= 0 {
		c.SweepPeriod = c.TTL
	}
	switch {
	case c.WaitTick <= 0:
		c.WaitTick = Default().WaitTick
	case c.WaitTick < time.Second:
		c.WaitTick = time.Second
	case c.WaitTick > 15*time.Second:
		c.WaitTick = 15 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = Default().LogLevel
	}
	if c.Addr == "" {
		c.Addr = Default().Addr
	}
}
