package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `
models:
  planner: gemini-2.5-pro
  coder: gemini-2.5-pro
sandbox:
  image: circuitron/skidl:1.2
  memory_mb: 1024
  pids_limit: 64
pipeline:
  max_attempts: 5
  outer_retries: 2
  initial_delay: 1s
  base_timeout: 30s
output:
  dir: /tmp/circuitron-out
event_log: /tmp/circuitron.db
`
	path := filepath.Join(t.TempDir(), "circuitron.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Sandbox.Image != "circuitron/skidl:1.2" {
		t.Errorf("image = %q", cfg.Sandbox.Image)
	}
	if cfg.Sandbox.MemoryMB != 1024 {
		t.Errorf("memory_mb = %d", cfg.Sandbox.MemoryMB)
	}
	if cfg.Pipeline.MaxAttempts != 5 {
		t.Errorf("max_attempts = %d", cfg.Pipeline.MaxAttempts)
	}
	if cfg.Pipeline.OuterRetries != 2 {
		t.Errorf("outer_retries = %d", cfg.Pipeline.OuterRetries)
	}
	if cfg.EventLog != "/tmp/circuitron.db" {
		t.Errorf("event_log = %q", cfg.EventLog)
	}
	// Defaults fill what the file omits.
	if cfg.Models.Corrector != "gemini-2.5-pro" {
		t.Errorf("corrector should default to coder, got %q", cfg.Models.Corrector)
	}
	if cfg.Sandbox.NamePrefix != "circuitron" {
		t.Errorf("name_prefix default missing, got %q", cfg.Sandbox.NamePrefix)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	yaml := `
pipeline:
  initial_delay: soon
`
	path := filepath.Join(t.TempDir(), "circuitron.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for bad duration")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/circuitron.yaml"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Pipeline.MaxAttempts != 3 {
		t.Errorf("default max_attempts = %d, want 3", cfg.Pipeline.MaxAttempts)
	}
	if cfg.Sandbox.NetworkEnabled {
		t.Errorf("network must be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("90s", time.Minute); got != 90*time.Second {
		t.Errorf("Duration(90s) = %v", got)
	}
	if got := Duration("", time.Minute); got != time.Minute {
		t.Errorf("empty should fall back, got %v", got)
	}
	if got := Duration("bogus", 5*time.Second); got != 5*time.Second {
		t.Errorf("bad value should fall back, got %v", got)
	}
}
