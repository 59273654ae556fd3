// Package stage defines the pipeline's stage contracts: each stage is a
// configuration value describing one agent invocation, and the Executor
// drives a black-box Agent through it with bounded turns, a hard deadline,
// and failures normalized into the system's error taxonomy.
package stage

import (
	"time"
)

// Definition describes one pipeline stage. Stages are values, not types:
// a name, an output-schema label the agent resolves, a turn budget, a
// deadline, and the tool set the agent may use.
type Definition struct {
	Name         string
	Model        string
	OutputSchema string
	MaxTurns     int
	Timeout      time.Duration
	AllowedTools []string
}

// WithModel returns a copy of the definition with the model overridden.
// Per-call overrides replace global mutation of shared settings.
func (d Definition) WithModel(model string) Definition {
	d.Model = model
	return d
}

// The fixed stage topology. Known at build time, not user-configurable.
var (
	Guardrail = Definition{
		Name:         "guardrail",
		OutputSchema: "guardrail_verdict",
		MaxTurns:     1,
		Timeout:      30 * time.Second,
	}
	Plan = Definition{
		Name:         "plan",
		OutputSchema: "plan",
		MaxTurns:     6,
		Timeout:      3 * time.Minute,
	}
	PlanEdit = Definition{
		Name:         "plan-edit",
		OutputSchema: "plan_decision",
		MaxTurns:     4,
		Timeout:      2 * time.Minute,
	}
	PartSearch = Definition{
		Name:         "part-search",
		OutputSchema: "part_search_results",
		MaxTurns:     10,
		Timeout:      5 * time.Minute,
		AllowedTools: []string{"search_parts"},
	}
	PartSelection = Definition{
		Name:         "part-selection",
		OutputSchema: "part_selection",
		MaxTurns:     4,
		Timeout:      2 * time.Minute,
	}
	DocResearch = Definition{
		Name:         "doc-research",
		OutputSchema: "research_findings",
		MaxTurns:     10,
		Timeout:      5 * time.Minute,
		AllowedTools: []string{"fetch_datasheet", "search_docs"},
	}
	CodeGen = Definition{
		Name:         "code-generation",
		OutputSchema: "generated_code",
		MaxTurns:     8,
		Timeout:      5 * time.Minute,
	}
	Validate = Definition{
		Name:         "validation",
		OutputSchema: "validation_report",
		MaxTurns:     4,
		Timeout:      3 * time.Minute,
	}
	Correct = Definition{
		Name:         "correction",
		OutputSchema: "generated_code",
		MaxTurns:     6,
		Timeout:      4 * time.Minute,
	}
	RuntimeCorrect = Definition{
		Name:         "runtime-correction",
		OutputSchema: "generated_code",
		MaxTurns:     6,
		Timeout:      4 * time.Minute,
	}
)

// Verdict is the tagged result of the guardrail screen. Rejection is an
// expected outcome, not an exception; the orchestrator branches on it.
type Verdict struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}
