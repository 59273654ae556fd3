// Package config loads and validates the Circuitron configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a configuration from the given YAML file path, then
// applies defaults for anything unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault searches standard locations and loads the first config found.
// Search order: ./circuitron.yaml, ~/.circuitron/config.yaml. With no file
// present, the built-in defaults are used.
func LoadDefault() (*Config, error) {
	candidates := []string{"circuitron.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".circuitron", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	cfg := &Config{}
	applyDefaults(cfg)
	return cfg, nil
}

// Default returns the built-in defaults without touching the filesystem.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Models.Planner == "" {
		cfg.Models.Planner = "gemini-2.5-pro"
	}
	if cfg.Models.Researcher == "" {
		cfg.Models.Researcher = "gemini-2.5-flash"
	}
	if cfg.Models.Coder == "" {
		cfg.Models.Coder = "gemini-2.5-pro"
	}
	if cfg.Models.Corrector == "" {
		cfg.Models.Corrector = cfg.Models.Coder
	}

	if cfg.Sandbox.Image == "" {
		cfg.Sandbox.Image = "circuitron/skidl:latest"
	}
	if cfg.Sandbox.NamePrefix == "" {
		cfg.Sandbox.NamePrefix = "circuitron"
	}
	if cfg.Sandbox.MemoryMB <= 0 {
		cfg.Sandbox.MemoryMB = 512
	}
	if cfg.Sandbox.PidsLimit <= 0 {
		cfg.Sandbox.PidsLimit = 128
	}
	if cfg.Sandbox.ExecTimeout == "" {
		cfg.Sandbox.ExecTimeout = "2m"
	}
	if cfg.Sandbox.SmokeTimeout == "" {
		cfg.Sandbox.SmokeTimeout = "30s"
	}

	if cfg.Pipeline.MaxAttempts <= 0 {
		cfg.Pipeline.MaxAttempts = 3
	}
	if cfg.Pipeline.OuterRetries < 0 {
		cfg.Pipeline.OuterRetries = 0
	}
	if cfg.Pipeline.InitialDelay == "" {
		cfg.Pipeline.InitialDelay = "2s"
	}
	if cfg.Pipeline.BaseTimeout == "" {
		cfg.Pipeline.BaseTimeout = "1m"
	}
	if cfg.Pipeline.StageRetries <= 0 {
		cfg.Pipeline.StageRetries = 1
	}

	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "output"
	}
}

// Validate checks durations and required fields.
func (c *Config) Validate() error {
	for _, d := range []struct {
		name  string
		value string
	}{
		{"sandbox.exec_timeout", c.Sandbox.ExecTimeout},
		{"sandbox.smoke_timeout", c.Sandbox.SmokeTimeout},
		{"pipeline.initial_delay", c.Pipeline.InitialDelay},
		{"pipeline.base_timeout", c.Pipeline.BaseTimeout},
	} {
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", d.name, d.value)
		}
	}
	if c.Sandbox.Image == "" {
		return fmt.Errorf("sandbox.image must not be empty")
	}
	return nil
}

// Duration parses a config duration string, falling back when unset or bad.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
