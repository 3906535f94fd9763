// Package metrics provides an explicit aggregator for engine counters.
// The aggregator is passed by reference into the scheduler and cache rather
// than living in ambient package state, so tests and concurrent cycles each
// get their own counts.
package metrics

import (
	"sync/atomic"
	"time"
)

// Aggregator collects engine-wide counters. Safe for concurrent use.
type Aggregator struct {
	cyclesCompleted atomic.Int64
	cyclesFailed    atomic.Int64
	stepsExecuted   atomic.Int64
	stepsFailed     atomic.Int64
	stepsDenied     atomic.Int64
	cacheHits       atomic.Int64
	cacheMisses     atomic.Int64
	evolutionRuns   atomic.Int64
	promotions      atomic.Int64
	execNanos       atomic.Int64
}

// New creates an empty aggregator.
func New() *Aggregator {
	return &Aggregator{}
}

// CycleCompleted records one finished cycle.
func (a *Aggregator) CycleCompleted(success bool) {
	a.cyclesCompleted.Add(1)
	if !success {
		a.cyclesFailed.Add(1)
	}
}

// StepExecuted records one step attempt and its wall time.
func (a *Aggregator) StepExecuted(success bool, elapsed time.Duration) {
	a.stepsExecuted.Add(1)
	a.execNanos.Add(int64(elapsed))
	if !success {
		a.stepsFailed.Add(1)
	}
}

// StepDenied records a safety-gate denial.
func (a *Aggregator) StepDenied() {
	a.stepsDenied.Add(1)
}

// CacheHit records a decision-cache hit.
func (a *Aggregator) CacheHit() { a.cacheHits.Add(1) }

// CacheMiss records a decision-cache miss.
func (a *Aggregator) CacheMiss() { a.cacheMisses.Add(1) }

// EvolutionRun records one evolution attempt and whether genes were promoted.
func (a *Aggregator) EvolutionRun(promoted bool) {
	a.evolutionRuns.Add(1)
	if promoted {
		a.promotions.Add(1)
	}
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	CyclesCompleted int64         `json:"cycles_completed"`
	CyclesFailed    int64         `json:"cycles_failed"`
	StepsExecuted   int64         `json:"steps_executed"`
	StepsFailed     int64         `json:"steps_failed"`
	StepsDenied     int64         `json:"steps_denied"`
	CacheHits       int64         `json:"cache_hits"`
	CacheMisses     int64         `json:"cache_misses"`
	EvolutionRuns   int64         `json:"evolution_runs"`
	Promotions      int64         `json:"promotions"`
	TotalExecTime   time.Duration `json:"total_exec_time"`
}

// Snapshot returns a consistent-enough copy of current counters.
func (a *Aggregator) Snapshot() Snapshot {
	return Snapshot{
		CyclesCompleted: a.cyclesCompleted.Load(),
		CyclesFailed:    a.cyclesFailed.Load(),
		StepsExecuted:   a.stepsExecuted.Load(),
		StepsFailed:     a.stepsFailed.Load(),
		StepsDenied:     a.stepsDenied.Load(),
		CacheHits:       a.cacheHits.Load(),
		CacheMisses:     a.cacheMisses.Load(),
		EvolutionRuns:   a.evolutionRuns.Load(),
		Promotions:      a.promotions.Load(),
		TotalExecTime:   time.Duration(a.execNanos.Load()),
	}
}
