// Package verification checks plans against a Datalog policy before any step
// runs. It is the default symbolic collaborator behind the verify phase: the
// plan is asserted as facts, policy rules derive violations, and the outcome
// is a three-valued verdict instead of a boolean.
package verification

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"ouroboros/internal/logging"
	"ouroboros/internal/planner"
	"ouroboros/internal/types"
)

// defaultPolicy is the built-in plan policy. plan_step, step_depends and
// step_risky are asserted per plan; denied_action and risky_action are the
// fixed policy vocabulary. A violation is certain-false, a tainted step is
// merely uncertain, and taint propagates along dependency edges.
const defaultPolicy = `
denied_action("modify_own_code").
denied_action("disable_safety_gate").
denied_action("disable_logging").
denied_action("exfiltrate_data").
denied_action("self_replicate").

risky_action("shell_exec").
risky_action("write_file").
risky_action("http_request").

plan_violation(Index, Action) :- plan_step(Index, Action), denied_action(Action).

tainted(Index) :- plan_step(Index, Action), risky_action(Action).
tainted(Index) :- step_risky(Index).
tainted(Index) :- step_depends(Index, Dep), tainted(Dep).
`

var (
	violationSym = ast.PredicateSym{Symbol: "plan_violation", Arity: 2}
	taintedSym   = ast.PredicateSym{Symbol: "tainted", Arity: 1}
)

// PolicyVerifier evaluates plan text against the policy. It implements the
// symbolic verifier contract used by the verify phase.
type PolicyVerifier struct {
	parse  planner.ParseFunc
	policy string
	strict bool
}

// Option adjusts verifier construction.
type Option func(*PolicyVerifier)

// WithPolicy replaces the built-in policy source.
func WithPolicy(policy string) Option {
	return func(v *PolicyVerifier) { v.policy = policy }
}

// WithStrict treats unparseable plans as certain-false instead of uncertain.
func WithStrict(strict bool) Option {
	return func(v *PolicyVerifier) { v.strict = strict }
}

// New creates a policy verifier. parseFn may be nil, in which case the
// default plan grammar is used.
func New(parseFn planner.ParseFunc, opts ...Option) *PolicyVerifier {
	v := &PolicyVerifier{
		parse:  parseFn,
		policy: defaultPolicy,
	}
	if v.parse == nil {
		v.parse = planner.ParseSteps
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify parses the plan text, asserts its facts alongside the policy, and
// evaluates the program. A derived plan_violation yields certain-false, a
// derived taint yields uncertain, otherwise the plan is certain-true.
// Unparseable plan text cannot be certified and is reported as uncertain
// (certain-false in strict mode).
func (v *PolicyVerifier) Verify(ctx context.Context, planText string) (types.Verdict, error) {
	timer := logging.StartTimer(logging.CategoryVerify, "Verify")
	defer timer.Stop()

	steps, err := v.parse(planText)
	if err != nil || len(steps) == 0 {
		logging.VerifyDebug("plan text did not parse, cannot certify: %v", err)
		if v.strict {
			return types.VerdictCertainFalse, nil
		}
		return types.VerdictUncertain, nil
	}
	if err := ctx.Err(); err != nil {
		return types.VerdictUncertain, err
	}

	program := v.policy + "\n" + planFacts(steps)
	unit, err := parse.Unit(bytes.NewReader([]byte(program)))
	if err != nil {
		return types.VerdictUncertain, fmt.Errorf("failed to parse policy program: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return types.VerdictUncertain, fmt.Errorf("failed to analyze policy program: %w", err)
	}

	store := factstore.NewSimpleInMemoryStore()
	if _, err := mengine.EvalProgramWithStats(info, store); err != nil {
		return types.VerdictUncertain, fmt.Errorf("policy evaluation failed: %w", err)
	}

	violations := collect(store, violationSym)
	if len(violations) > 0 {
		logging.Verify("plan rejected: %s", strings.Join(violations, "; "))
		return types.VerdictCertainFalse, nil
	}
	tainted := collect(store, taintedSym)
	if len(tainted) > 0 {
		logging.VerifyDebug("plan tainted at steps %s", strings.Join(tainted, ", "))
		return types.VerdictUncertain, nil
	}
	return types.VerdictCertainTrue, nil
}

// planFacts renders the parsed plan as Datalog clauses. Step indices are
// plan order; dependency edges come from the same reference scan the
// scheduler uses, so the verifier reasons over the graph that will run.
func planFacts(steps []types.PlanStep) string {
	var b strings.Builder
	for i, step := range steps {
		fmt.Fprintf(&b, "plan_step(%d, %s).\n", i, strconv.Quote(step.Action))
		if step.Confidence > 0 && step.Confidence < 0.3 {
			fmt.Fprintf(&b, "step_risky(%d).\n", i)
		}
	}
	graph := planner.BuildGraph(steps)
	for from, deps := range graph {
		for dep := range deps {
			fmt.Fprintf(&b, "step_depends(%d, %d).\n", from, dep)
		}
	}
	// The rule heads must stay derivable even when a plan asserts none of
	// these predicates, so ground every EDB predicate at least once.
	b.WriteString("step_risky(-1).\nstep_depends(-1, -1).\n")
	return b.String()
}

func collect(store factstore.FactStore, sym ast.PredicateSym) []string {
	var out []string
	_ = store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
		if len(atom.Args) > 0 && atom.Args[0].String() == "-1" {
			return nil // Grounding sentinel, not a real step
		}
		out = append(out, atom.String())
		return nil
	})
	return out
}
