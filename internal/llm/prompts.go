package llm

import (
	"fmt"
	"strings"

	"github.com/Shaurya-Sethi/circuitron-sub000/internal/stage"
)

// Per-schema system instructions. Each tells the model exactly which JSON
// shape to emit; the executor decodes into the matching Go type.
var instructions = map[string]string{
	"guardrail_verdict": `You screen requests for an electronics design assistant.
Accept only requests to design, modify, or analyze electronic circuits.
Reject anything else, including general programming, prose, or off-topic requests.
Respond with JSON: {"accepted": bool, "reason": string}.`,

	"plan": `You are an electronics design planner. Produce a concise structured plan
for the requested circuit: a one-line summary, the electrical requirements you
inferred (voltages, currents, interfaces), and the functional blocks needed.
Respond with JSON: {"summary": string, "requirements": [string], "blocks": [string], "open_questions": [string]}.`,

	"plan_decision": `You revise circuit design plans based on human feedback.
If the feedback can be folded into the existing plan, respond with
{"decision": "apply_edits", "updated_plan": <full plan object>}.
If the feedback invalidates the plan's approach, respond with
{"decision": "regenerate"} and no plan.`,

	"part_search_results": `You find candidate electronic components for a design plan.
For every functional block, list real, orderable part numbers.
Respond with JSON: {"candidates": [{"number": string, "description": string, "footprint": string, "stock": int}]}.`,

	"part_selection": `You choose the final components from a candidate list, preferring
in-stock parts with common footprints that satisfy the plan's requirements.
Respond with JSON: {"parts": [{"number": string, "description": string, "footprint": string}], "rationale": [string]}.`,

	"research_findings": `You research component documentation for a circuit design.
Summarize the usage notes that matter for wiring: pin functions, required
external components, decoupling, and known pitfalls.
Respond with JSON: {"notes": [string], "pin_notes": [string], "references": [string]}.`,

	"generated_code": `You write SKiDL circuit description code in Python.
Output a complete, runnable script that defines the circuit, supports
"--erc" to run the electrical rule check and "--generate --out DIR" to write
netlist and schematic artifacts. When correcting code, apply the requested
fixes and nothing else, and never repeat a strategy listed as unhelpful.
Respond with JSON: {"source": string, "corrections_applied": [string], "strategy": string}.`,

	"validation_report": `You review SKiDL circuit code for structural problems before it
runs: missing imports, undefined nets, unconnected pins declared in the code,
and footprint mismatches. Do not execute anything.
Respond with JSON: {"passed": bool, "issues": [string]}.`,
}

// systemInstruction selects the instruction for a stage and appends its
// tool allowance when the stage has one.
func systemInstruction(def stage.Definition) string {
	instr, ok := instructions[def.OutputSchema]
	if !ok {
		instr = fmt.Sprintf("Respond with JSON matching the %q schema.", def.OutputSchema)
	}
	if len(def.AllowedTools) > 0 {
		instr += fmt.Sprintf("\nYou may use these tools: %s.", strings.Join(def.AllowedTools, ", "))
	}
	return instr
}
