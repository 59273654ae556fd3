// Package erc parses the output of the electrical-rule check that runs
// inside the sandbox against generated circuit code. Parsing is pure: the
// sandbox executes, this package only interprets stdout/stderr.
package erc

import (
	"fmt"
	"strings"
)

// Report is the normalized outcome of one rule-check run.
type Report struct {
	Passed   bool     `json:"passed"`
	Issues   []string `json:"issues,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Summary  string   `json:"summary"`
}

// maxRawLen caps how much raw output a fallback report retains. The tail is
// kept because tracebacks and error totals come last.
const maxRawLen = 8000

// Parse interprets skidl-style ERC output. Lines tagged "ERC ERROR:" become
// issues, "ERC WARNING:" become warnings; anything else failing without
// recognizable markers falls back to the raw output tail.
func Parse(stdout string, stderr string, exitCode int) *Report {
	combined := stdout
	if stderr != "" {
		if combined != "" {
			combined += "\n"
		}
		combined += stderr
	}

	var issues, warnings []string
	for _, line := range strings.Split(combined, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "ERC ERROR:"):
			issues = append(issues, strings.TrimSpace(strings.TrimPrefix(line, "ERC ERROR:")))
		case strings.HasPrefix(line, "ERC WARNING:"):
			warnings = append(warnings, strings.TrimSpace(strings.TrimPrefix(line, "ERC WARNING:")))
		}
	}

	passed := exitCode == 0 && len(issues) == 0

	if passed {
		summary := "ERC passed"
		if len(warnings) > 0 {
			summary = fmt.Sprintf("ERC passed with %d warning(s)", len(warnings))
		}
		return &Report{Passed: true, Warnings: warnings, Summary: summary}
	}

	if len(issues) == 0 {
		// Failed without ERC markers, so a crash or traceback. Surface the
		// output itself so the correction stage can see what broke.
		raw := strings.TrimSpace(combined)
		if len(raw) > maxRawLen {
			raw = "…(truncated)\n" + raw[len(raw)-maxRawLen:]
		}
		if raw == "" {
			raw = fmt.Sprintf("rule check exited with code %d and no output", exitCode)
		}
		return &Report{
			Passed:  false,
			Issues:  []string{raw},
			Summary: fmt.Sprintf("rule check failed (exit code %d, no ERC markers)", exitCode),
		}
	}

	return &Report{
		Passed:   false,
		Issues:   issues,
		Warnings: warnings,
		Summary:  fmt.Sprintf("%d ERC error(s), %d warning(s)", len(issues), len(warnings)),
	}
}
