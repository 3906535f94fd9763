// Package scheduler turns a step dependency graph into ordered parallel
// batches and executes them against an injected step executor.
//
// Batches are hard synchronization barriers: every step of batch N completes
// (success, failure, or safety denial) before batch N+1 starts. A failed step
// does not abort its siblings, and the scheduler performs no skip-on-failure
// of dependents - a later-batch step whose prerequisite failed still runs
// (documented policy; it typically fails on missing input).
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ouroboros/internal/logging"
	"ouroboros/internal/metrics"
	"ouroboros/internal/planner"
	"ouroboros/internal/types"
)

// Schedule collects not-yet-scheduled indices whose prerequisites are all
// already scheduled; each collection becomes the next batch. If an iteration
// collects nothing while steps remain, a dependency cycle is present: the
// batches computed so far are returned with cycleDetected=true instead of
// looping forever, so the caller can fall back to sequential batches.
func Schedule(g planner.Graph, stepCount int) (batches [][]int, cycleDetected bool) {
	scheduled := make(map[int]bool, stepCount)

	for len(scheduled) < stepCount {
		var ready []int
		for i := 0; i < stepCount; i++ {
			if scheduled[i] {
				continue
			}
			ok := true
			for dep := range g[i] {
				if !scheduled[dep] {
					ok = false
					break
				}
			}
			if ok {
				ready = append(ready, i)
			}
		}

		if len(ready) == 0 {
			logging.SchedulerWarn("dependency cycle: %d of %d steps unschedulable",
				stepCount-len(scheduled), stepCount)
			return batches, true
		}

		sort.Ints(ready)
		batches = append(batches, ready)
		for _, i := range ready {
			scheduled[i] = true
		}
	}
	return batches, false
}

// SequentialBatches returns one-step-per-batch scheduling for n steps,
// the fallback used when a cycle is detected or parallelism is not worth it.
func SequentialBatches(n int) [][]int {
	batches := make([][]int, n)
	for i := 0; i < n; i++ {
		batches[i] = []int{i}
	}
	return batches
}

// SpeedupPolicy decides whether batched-parallel execution is worth it for
// a given graph shape. Replaceable without touching the scheduler's
// correctness contract.
type SpeedupPolicy func(stepCount, batchCount int) bool

// DefaultSpeedupPolicy estimates speedup as stepCount/batchCount and goes
// parallel when the estimate meets the threshold and more than one step
// exists. The threshold is a policy default, not part of the contract.
func DefaultSpeedupPolicy(threshold float64) SpeedupPolicy {
	return func(stepCount, batchCount int) bool {
		if stepCount <= 1 || batchCount == 0 {
			return false
		}
		return float64(stepCount)/float64(batchCount) >= threshold
	}
}

// Scheduler executes plan steps in dependency-ordered batches.
type Scheduler struct {
	executor      types.ToolExecutor
	gate          types.SafetyGate
	policy        SpeedupPolicy
	maxConcurrent int
	agg           *metrics.Aggregator
}

// New creates a scheduler. Executor and gate are required collaborators.
func New(executor types.ToolExecutor, gate types.SafetyGate, policy SpeedupPolicy, maxConcurrent int, agg *metrics.Aggregator) *Scheduler {
	if executor == nil {
		panic("scheduler: executor is required")
	}
	if gate == nil {
		panic("scheduler: safety gate is required")
	}
	if policy == nil {
		policy = DefaultSpeedupPolicy(1.5)
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if agg == nil {
		agg = metrics.New()
	}
	return &Scheduler{
		executor:      executor,
		gate:          gate,
		policy:        policy,
		maxConcurrent: maxConcurrent,
		agg:           agg,
	}
}

// Run schedules and executes the steps of a plan. Cycles fall back to fully
// sequential batches (logged, not fatal), and the speedup policy decides
// between batched-parallel and sequential mode.
func (s *Scheduler) Run(ctx context.Context, steps []types.PlanStep, g planner.Graph) []types.StepResult {
	batches, cycle := Schedule(g, len(steps))
	if cycle {
		logging.SchedulerWarn("falling back to sequential execution")
		batches = SequentialBatches(len(steps))
	} else if !s.policy(len(steps), len(batches)) {
		logging.SchedulerDebug("speedup policy chose sequential mode (%d steps, %d batches)",
			len(steps), len(batches))
		batches = SequentialBatches(len(steps))
	}
	return s.Execute(ctx, steps, batches)
}

// Execute runs the given batches in order. Steps within one batch run
// concurrently with bounded parallelism; results are placed by original step
// index regardless of completion order. On cancellation, in-flight steps
// unwind, no further steps start, and completed results are retained.
func (s *Scheduler) Execute(ctx context.Context, steps []types.PlanStep, batches [][]int) []types.StepResult {
	timer := logging.StartTimer(logging.CategoryScheduler, "Execute")
	defer timer.Stop()

	byIndex := make([]*types.StepResult, len(steps))
	var mu sync.Mutex

	for bi, batch := range batches {
		if ctx.Err() != nil {
			logging.SchedulerWarn("cancelled before batch %d/%d", bi+1, len(batches))
			break
		}
		logging.SchedulerDebug("batch %d/%d: steps %v", bi+1, len(batches), batch)

		var g errgroup.Group
		g.SetLimit(s.maxConcurrent)
		for _, idx := range batch {
			if idx < 0 || idx >= len(steps) {
				continue
			}
			if ctx.Err() != nil {
				break
			}
			idx := idx
			g.Go(func() error {
				res := s.runStep(ctx, idx, steps[idx])
				mu.Lock()
				byIndex[idx] = &res
				mu.Unlock()
				return nil
			})
		}
		// Batch barrier: every step of this batch finishes before the next
		// batch starts.
		g.Wait()
	}

	results := make([]types.StepResult, 0, len(steps))
	for _, r := range byIndex {
		if r != nil {
			results = append(results, *r)
		}
	}
	return results
}

// runStep passes one step through the safety gate and executor, producing
// exactly one StepResult.
func (s *Scheduler) runStep(ctx context.Context, idx int, step types.PlanStep) types.StepResult {
	start := time.Now()

	decision := s.gate.Check(step.Action, step.Params)
	if !decision.Allowed {
		s.agg.StepDenied()
		logging.SchedulerWarn("step %d (%s) denied: %s", idx, step.Action, decision.Reason)
		return types.StepResult{
			StepIndex: idx,
			Step:      &step,
			Success:   false,
			Error:     decision.Reason,
			Duration:  time.Since(start),
			Observed:  map[string]interface{}{"risk_score": decision.RiskScore},
		}
	}

	output, err := s.executor.Invoke(ctx, step.Action, step.Params)
	elapsed := time.Since(start)

	res := types.StepResult{
		StepIndex: idx,
		Step:      &step,
		Success:   err == nil,
		Output:    output,
		Duration:  elapsed,
	}
	if err != nil {
		res.Error = err.Error()
		logging.SchedulerDebug("step %d (%s) failed in %v: %v", idx, step.Action, elapsed, err)
	} else {
		logging.SchedulerDebug("step %d (%s) ok in %v", idx, step.Action, elapsed)
	}
	s.agg.StepExecuted(res.Success, elapsed)
	return res
}

// Succeeded reports whether every result succeeded. Overall success is the
// conjunction of all step success flags.
func Succeeded(results []types.StepResult) bool {
	for _, r := range results {
		if !r.Success {
			return false
		}
	}
	return true
}
