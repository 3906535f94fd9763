package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ouroboros/internal/logging"
	"ouroboros/internal/types"
)

// ParseFunc turns raw reasoner output into plan steps. The engine treats
// reasoner output as opaque text; the parser is supplied by the caller.
type ParseFunc func(text string) ([]types.PlanStep, error)

// Builder produces plans by prompting a reasoner and parsing its reply.
type Builder struct {
	reasoner types.Reasoner
	parse    ParseFunc
}

// NewBuilder creates a plan builder. Both collaborators are required;
// missing ones are a construction-time programming error.
func NewBuilder(r types.Reasoner, parse ParseFunc) *Builder {
	if r == nil {
		panic("planner: reasoner is required")
	}
	if parse == nil {
		panic("planner: parse func is required")
	}
	return &Builder{reasoner: r, parse: parse}
}

// Build produces a plan for the goal. The reflection text and strategy
// genes shape the prompt: higher planning_depth asks for more granular
// decomposition, higher tool_preference biases steps toward tool actions.
func (b *Builder) Build(ctx context.Context, goal, reflection string, genes map[string]float64) (*types.Plan, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, &types.ValidationError{Field: "goal", Reason: "must not be empty"}
	}

	timer := logging.StartTimer(logging.CategoryPlanner, "Build")
	defer timer.Stop()

	prompt := buildPrompt(goal, reflection, genes)
	text, err := b.reasoner.GenerateText(ctx, prompt)
	if err != nil {
		return nil, &types.ReasonerError{Op: "plan", Err: err}
	}

	steps, err := b.parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("parse plan: no steps produced")
	}
	for i := range steps {
		if strings.TrimSpace(steps[i].Action) == "" {
			return nil, &types.ValidationError{
				Field:  fmt.Sprintf("steps[%d].action", i),
				Reason: "must not be empty",
			}
		}
		steps[i].Confidence = types.Clamp01(steps[i].Confidence)
	}

	plan := &types.Plan{
		Goal:       goal,
		Steps:      steps,
		Confidence: map[string]float64{"overall": overallConfidence(steps)},
		CreatedAt:  time.Now(),
	}
	logging.Planner("plan built: goal=%q steps=%d", goal, len(steps))
	return plan, nil
}

// buildPrompt renders the planning prompt. Gene weights translate into
// plain-language knobs so the reasoner does not need to know the gene model.
func buildPrompt(goal, reflection string, genes map[string]float64) string {
	var b strings.Builder
	b.WriteString("Decompose the following goal into an ordered list of executable steps.\n")
	fmt.Fprintf(&b, "Goal: %s\n\n", goal)

	if reflection != "" {
		b.WriteString("Current self-assessment:\n")
		b.WriteString(reflection)
		b.WriteString("\n")
	}

	depth := genes["planning_depth"]
	granularity := genes["decomposition_granularity"]
	toolPref := genes["tool_preference"]

	switch {
	case depth > 0.7:
		b.WriteString("Plan thoroughly: include intermediate validation steps.\n")
	case depth < 0.3:
		b.WriteString("Plan minimally: only essential steps.\n")
	}
	if granularity > 0.7 {
		b.WriteString("Prefer many small steps over few large ones.\n")
	}
	if toolPref > 0.7 {
		b.WriteString("Prefer concrete tool invocations over reasoning-only steps.\n")
	}

	b.WriteString("\nFormat each step on its own line as:\n")
	b.WriteString("  action(param=value, ...) -> expected outcome [confidence]\n")
	b.WriteString("Reference a previous step's output with $<action> or output_<action>.\n")
	return b.String()
}

func overallConfidence(steps []types.PlanStep) float64 {
	if len(steps) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range steps {
		sum += s.Confidence
	}
	return types.Clamp01(sum / float64(len(steps)))
}
