// Package config loads fixpoint settings from YAML.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/23skdu/longbow-fixpoint/internal/profile"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all service settings.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Forward   ForwardConfig   `yaml:"forward"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Profile   ProfileConfig   `yaml:"profile"`
}

// ServerConfig holds listener and admission settings.
type ServerConfig struct {
	Listen        string `yaml:"listen"`         // HTTP address, empty disables
	Flight        string `yaml:"flight"`         // Flight address, empty disables
	MaxConcurrent int    `yaml:"max_concurrent"` // values in flight across requests
	ChunkSize     int    `yaml:"chunk_size"`
}

// ForwardConfig describes the downstream Flight server converted batches are
// sent to.
type ForwardConfig struct {
	Server      string        `yaml:"server"`
	Dataset     string        `yaml:"dataset"`
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"` // how long the breaker stays open
}

// LogConfig selects zerolog level and output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console or json
}

// TelemetryConfig toggles tracing.
type TelemetryConfig struct {
	OTel bool `yaml:"otel"`
}

// ProfileConfig is the default sweep for error profiles.
type ProfileConfig struct {
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
	Step float64 `yaml:"step"`
	// CacheSize bounds the number of reports the server keeps.
	CacheSize int `yaml:"cache_size"`
}

// Default returns the embedded defaults.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return cfg
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Only fields present in the file are overwritten.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	return cfg, nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.MaxConcurrent <= 0 {
		return fmt.Errorf("invalid server.max_concurrent: %d (must be positive)", c.Server.MaxConcurrent)
	}
	if c.Server.ChunkSize <= 0 {
		return fmt.Errorf("invalid server.chunk_size: %d (must be positive)", c.Server.ChunkSize)
	}
	if c.Forward.Server != "" && c.Forward.Dataset == "" {
		return fmt.Errorf("forward.dataset is required when forward.server is set")
	}
	if c.Forward.MaxFailures <= 0 {
		return fmt.Errorf("invalid forward.max_failures: %d (must be positive)", c.Forward.MaxFailures)
	}
	if c.Forward.Timeout <= 0 {
		return fmt.Errorf("invalid forward.timeout: %s (must be positive)", c.Forward.Timeout)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level: %q (want debug, info, warn or error)", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log.format: %q (want console or json)", c.Log.Format)
	}
	if !(c.Profile.Step > 0) || !(c.Profile.Min <= c.Profile.Max) {
		return fmt.Errorf("invalid profile sweep [%v, %v] step %v: %w",
			c.Profile.Min, c.Profile.Max, c.Profile.Step, profile.ErrInvalidRange)
	}
	if c.Profile.CacheSize <= 0 {
		return fmt.Errorf("invalid profile.cache_size: %d (must be positive)", c.Profile.CacheSize)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
