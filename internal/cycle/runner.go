// Package cycle drives the four-phase improvement loop: plan, execute,
// verify, learn. One RunCycle call is one full rotation of the phase
// machine, whatever happens inside it; failures finish the rotation rather
// than leaving the model stuck mid-phase.
package cycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ouroboros/internal/cache"
	"ouroboros/internal/config"
	"ouroboros/internal/evolution"
	"ouroboros/internal/logging"
	"ouroboros/internal/metrics"
	"ouroboros/internal/planner"
	"ouroboros/internal/scheduler"
	"ouroboros/internal/selfmodel"
	"ouroboros/internal/types"
)

// Options configures a Runner. Reasoner and Executor are required; every
// other collaborator has a default or is optional.
type Options struct {
	Reasoner types.Reasoner
	Executor types.ToolExecutor
	Gate     types.SafetyGate       // Default: pattern gate over the self-model
	Verifier types.SymbolicVerifier // Optional: nil means every plan is certain-true
	Store    types.ExperienceStore  // Optional: nil disables persistence
	Parse    planner.ParseFunc      // Default: the built-in plan grammar

	Scheduler config.SchedulerConfig
	Cache     config.CacheConfig
	Evolution evolution.Config
	Metrics   *metrics.Aggregator
	Seed      int64 // Evolver RNG seed; 0 means time-based
}

// Runner owns the self-model and the collaborators of each phase.
type Runner struct {
	model    *selfmodel.Model
	builder  *planner.Builder
	sched    *scheduler.Scheduler
	verifier types.SymbolicVerifier
	store    types.ExperienceStore
	plans    *cache.Cache[*types.Plan]
	evolver  *evolution.Evolver
	agg      *metrics.Aggregator
}

// New creates a runner. Missing required collaborators are a construction-time
// programming error.
func New(opts Options) *Runner {
	if opts.Reasoner == nil {
		panic("cycle: reasoner is required")
	}
	if opts.Executor == nil {
		panic("cycle: executor is required")
	}
	if opts.Parse == nil {
		opts.Parse = planner.ParseSteps
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	model := selfmodel.New()
	gate := opts.Gate
	if gate == nil {
		gate = selfmodel.NewPatternGate(model)
	}

	return &Runner{
		model:   model,
		builder: planner.NewBuilder(opts.Reasoner, opts.Parse),
		sched: scheduler.New(opts.Executor, gate,
			scheduler.DefaultSpeedupPolicy(opts.Scheduler.SpeedupThreshold),
			opts.Scheduler.MaxConcurrentSteps, opts.Metrics),
		verifier: opts.Verifier,
		store:    opts.Store,
		plans: cache.New[*types.Plan](opts.Cache.Capacity, opts.Cache.DefaultTTL,
			opts.Cache.SweepInterval, opts.Metrics),
		evolver: evolution.New(opts.Evolution, opts.Seed),
		agg:     opts.Metrics,
	}
}

// Model exposes the self-model for inspection.
func (r *Runner) Model() *selfmodel.Model { return r.model }

// Reflect returns the model's current self-assessment text.
func (r *Runner) Reflect() string { return r.model.SelfReflect() }

// Metrics returns a snapshot of the engine counters.
func (r *Runner) Metrics() metrics.Snapshot { return r.agg.Snapshot() }

// CacheStats returns plan cache statistics.
func (r *Runner) CacheStats() cache.Stats { return r.plans.Stats() }

// Close stops background workers owned by the runner.
func (r *Runner) Close() { r.plans.Stop() }

// RunCycle executes one full improvement cycle for the goal. The returned
// result always carries an explicit success flag; an error is returned only
// for failures before any step could run (empty goal, reasoner failure,
// unparseable plan).
func (r *Runner) RunCycle(ctx context.Context, goal string) (*types.CycleResult, error) {
	start := time.Now()
	res := &types.CycleResult{
		ID:   uuid.NewString(),
		Goal: goal,
	}
	logging.Cycle("cycle %s starting: goal=%q", res.ID, goal)

	// Phase /plan
	if err := r.model.SetGoal(goal); err != nil {
		r.model.AdvancePhase() // -> /execute
		r.finishRotation(res, start, false)
		return res, err
	}
	plan, err := r.buildPlan(ctx, goal)
	r.model.AdvancePhase() // -> /execute
	if err != nil {
		logging.CycleError("cycle %s: planning failed: %v", res.ID, err)
		res.Errors = err.Error()
		r.finishRotation(res, start, false)
		return res, err
	}
	res.Plan = plan

	// Phase /execute
	graph := planner.BuildGraph(plan.Steps)
	results := r.sched.Run(ctx, plan.Steps, graph)
	res.Results = results
	res.Cancelled = ctx.Err() != nil
	r.model.AdvancePhase() // -> /verify

	// Phase /verify
	verdict := r.verify(ctx, plan)
	res.Verdict = verdict
	success := !res.Cancelled &&
		len(results) == len(plan.Steps) &&
		scheduler.Succeeded(results) &&
		verdict != types.VerdictCertainFalse
	res.Success = success
	res.Errors = collectErrors(results, verdict)
	r.model.AdvancePhase() // -> /learn

	// Phase /learn
	res.Promoted = r.learn(ctx, res, time.Since(start))
	r.model.AdvancePhase() // -> /plan, cycle count advances
	res.CycleNumber = r.model.CycleCount()
	res.Duration = time.Since(start)

	r.agg.CycleCompleted(success)
	logging.Cycle("cycle %s finished: success=%v steps=%d verdict=%s in %v",
		res.ID, success, len(results), verdict, res.Duration)
	return res, nil
}

// buildPlan fronts the plan builder with the decision cache. The key covers
// goal and strategy genes, so a promoted strategy change naturally misses.
func (r *Runner) buildPlan(ctx context.Context, goal string) (*types.Plan, error) {
	genes := r.model.StrategyGenes()
	keyContext := make(map[string]string, len(genes))
	for name, weight := range genes {
		keyContext[name] = fmt.Sprintf("%.3f", weight)
	}
	key := cache.Key(goal, keyContext)

	return r.plans.GetOrCompute(key, 0, func() (*types.Plan, error) {
		return r.builder.Build(ctx, goal, r.model.SelfReflect(), genes)
	})
}

// verify runs the symbolic verifier over the rendered plan. A nil verifier
// certifies everything; a verifier error means the policy could not decide.
func (r *Runner) verify(ctx context.Context, plan *types.Plan) types.Verdict {
	if r.verifier == nil {
		return types.VerdictCertainTrue
	}
	verdict, err := r.verifier.Verify(ctx, RenderPlan(plan))
	if err != nil {
		logging.CycleError("verification errored, treating as uncertain: %v", err)
		return types.VerdictUncertain
	}
	logging.CycleDebug("verification verdict: %s", verdict)
	return verdict
}

// learn records the cycle as an experience, persists it, and runs one
// evolution round. Returns whether a strategy was promoted.
func (r *Runner) learn(ctx context.Context, res *types.CycleResult, elapsed time.Duration) bool {
	exp := types.Experience{
		Goal:         res.Goal,
		Success:      res.Success,
		QualityScore: qualityScore(res.Results),
		Insights:     insights(res),
		Duration:     elapsed,
		Timestamp:    time.Now(),
	}
	r.model.RecordExperience(exp)

	if r.store != nil {
		storeCtx := ctx
		if ctx.Err() != nil {
			// Still persist what we learned from a cancelled cycle.
			storeCtx = context.Background()
		}
		if err := r.store.Store(storeCtx, exp); err != nil {
			logging.CycleError("failed to persist experience: %v", err)
		}
	}

	seed := evolution.SeedFromModel(r.model)
	best, ok := r.evolver.Evolve(seed, r.model.Experiences())
	if !ok {
		return false
	}
	promoted := r.evolver.Promote(r.model, best)
	r.agg.EvolutionRun(promoted)
	return promoted
}

// finishRotation completes the phase rotation after an early exit so the
// model lands back at /plan, then stamps the result. Callers must already
// have advanced out of /plan.
func (r *Runner) finishRotation(res *types.CycleResult, start time.Time, success bool) {
	for r.model.Phase() != selfmodel.PhasePlan {
		r.model.AdvancePhase()
	}
	res.CycleNumber = r.model.CycleCount()
	res.Success = success
	res.Duration = time.Since(start)
	r.agg.CycleCompleted(success)
}

// RenderPlan writes the plan back out in the step grammar, one step per
// line, for symbolic verification.
func RenderPlan(plan *types.Plan) string {
	var b strings.Builder
	for _, step := range plan.Steps {
		b.WriteString(step.Action)
		b.WriteByte('(')
		first := true
		for k, v := range step.Params {
			if !first {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, v)
			first = false
		}
		b.WriteByte(')')
		if step.Expected != "" {
			fmt.Fprintf(&b, " -> %s", step.Expected)
		}
		fmt.Fprintf(&b, " [%.2f]", step.Confidence)
		b.WriteByte('\n')
	}
	return b.String()
}

// qualityScore is the fraction of steps that succeeded.
func qualityScore(results []types.StepResult) float64 {
	if len(results) == 0 {
		return 0
	}
	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	return float64(ok) / float64(len(results))
}

func insights(res *types.CycleResult) []string {
	var out []string
	for _, r := range res.Results {
		if !r.Success && r.Step != nil {
			out = append(out, fmt.Sprintf("step %d (%s) failed: %s", r.StepIndex, r.Step.Action, r.Error))
		}
	}
	if res.Verdict == types.VerdictCertainFalse {
		out = append(out, "plan rejected by policy")
	}
	return out
}

func collectErrors(results []types.StepResult, verdict types.Verdict) string {
	var parts []string
	for _, r := range results {
		if !r.Success && r.Error != "" {
			parts = append(parts, fmt.Sprintf("step %d: %s", r.StepIndex, r.Error))
		}
	}
	if verdict == types.VerdictCertainFalse {
		parts = append(parts, "policy violation")
	}
	return strings.Join(parts, "; ")
}
