package config

// Config is the top-level configuration parsed from circuitron YAML.
// It is constructed once per process and passed by reference into the
// orchestrator; stage-level variation happens through per-call parameters,
// never by mutating this struct.
type Config struct {
	Models   Models   `yaml:"models"`
	Sandbox  Sandbox  `yaml:"sandbox"`
	Pipeline Pipeline `yaml:"pipeline"`
	Output   Output   `yaml:"output"`
	EventLog string   `yaml:"event_log"` // sqlite path; empty disables the log
}

// Models maps pipeline roles to model identifiers.
type Models struct {
	Planner    string `yaml:"planner"`
	Researcher string `yaml:"researcher"`
	Coder      string `yaml:"coder"`
	Corrector  string `yaml:"corrector"`
}

// Sandbox configures the ephemeral execution environments.
type Sandbox struct {
	Image          string `yaml:"image"`
	NamePrefix     string `yaml:"name_prefix"`
	MemoryMB       int    `yaml:"memory_mb"`
	PidsLimit      int    `yaml:"pids_limit"`
	NetworkEnabled bool   `yaml:"network_enabled"`
	ExecTimeout    string `yaml:"exec_timeout"`
	SmokeTimeout   string `yaml:"smoke_timeout"`
}

// Pipeline configures the orchestrator's retry and correction behavior.
type Pipeline struct {
	MaxAttempts  int    `yaml:"max_attempts"`  // correction ceiling per phase
	OuterRetries int    `yaml:"outer_retries"` // full-sequence restarts
	InitialDelay string `yaml:"initial_delay"` // backoff base
	BaseTimeout  string `yaml:"base_timeout"`  // backoff cap is 3x this
	StageRetries int    `yaml:"stage_retries"` // transient retries per stage
	RuntimeCheck bool   `yaml:"runtime_check"` // sandboxed smoke test before ERC
}

// Output configures where final artifacts land.
type Output struct {
	Dir string `yaml:"dir"`
}
