// Package telemetry aggregates token usage across stage executions.
// The aggregator is the only structure in the system intended for
// concurrent writers: usage callbacks may fire from instrumentation
// outside the orchestrator's own flow.
package telemetry

import (
	"sync"
)

// Usage holds token counts for a single recorded event.
type Usage struct {
	Input       int64 `json:"input"`
	Output      int64 `json:"output"`
	CachedInput int64 `json:"cached_input"`
}

// Counts holds accumulated token counters.
type Counts struct {
	Input       int64 `json:"input"`
	Output      int64 `json:"output"`
	Total       int64 `json:"total"`
	CachedInput int64 `json:"cached_input"`
}

func (c *Counts) add(u Usage) {
	c.Input += u.Input
	c.Output += u.Output
	c.CachedInput += u.CachedInput
	c.Total += u.Input + u.Output
}

// Summary is a point-in-time snapshot of accumulated usage.
type Summary struct {
	Overall Counts            `json:"overall"`
	ByModel map[string]Counts `json:"by_model"`
}

// Aggregator accumulates per-model and overall token usage.
// All mutation is guarded by a single mutex.
type Aggregator struct {
	mu      sync.Mutex
	overall Counts
	byModel map[string]Counts
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{byModel: make(map[string]Counts)}
}

// Record adds a usage event for the given model.
func (a *Aggregator) Record(model string, u Usage) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.overall.add(u)
	c := a.byModel[model]
	c.add(u)
	a.byModel[model] = c
}

// Summary returns a snapshot of the current totals.
func (a *Aggregator) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	byModel := make(map[string]Counts, len(a.byModel))
	for m, c := range a.byModel {
		byModel[m] = c
	}
	return Summary{Overall: a.overall, ByModel: byModel}
}

// Reset clears all counters. Called at run start.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.overall = Counts{}
	a.byModel = make(map[string]Counts)
}
