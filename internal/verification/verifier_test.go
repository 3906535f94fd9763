package verification

import (
	"context"
	"testing"

	"ouroboros/internal/types"
)

func verify(t *testing.T, v *PolicyVerifier, planText string) types.Verdict {
	t.Helper()
	verdict, err := v.Verify(context.Background(), planText)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	return verdict
}

func TestVerifyBenignPlan(t *testing.T) {
	v := New(nil)
	plan := "fetch_data(url=https://example.com) -> raw json\n" +
		"summarize(input=$fetch_data) -> summary"
	if got := verify(t, v, plan); got != types.VerdictCertainTrue {
		t.Fatalf("verdict = %s, want %s", got, types.VerdictCertainTrue)
	}
}

func TestVerifyDeniedActionIsCertainFalse(t *testing.T) {
	v := New(nil)
	plan := "fetch_data(url=https://example.com)\n" +
		"modify_own_code(target=planner.go)"
	if got := verify(t, v, plan); got != types.VerdictCertainFalse {
		t.Fatalf("verdict = %s, want %s", got, types.VerdictCertainFalse)
	}
}

func TestVerifyRiskyActionIsUncertain(t *testing.T) {
	v := New(nil)
	if got := verify(t, v, "shell_exec(cmd=ls)"); got != types.VerdictUncertain {
		t.Fatalf("verdict = %s, want %s", got, types.VerdictUncertain)
	}
}

func TestVerifyTaintPropagatesAlongDependencies(t *testing.T) {
	v := New(nil)

	// summarize itself is benign but consumes the output of a risky step.
	plan := "http_request(url=https://example.com)\n" +
		"summarize(input=$http_request)"
	if got := verify(t, v, plan); got != types.VerdictUncertain {
		t.Fatalf("verdict = %s, want %s", got, types.VerdictUncertain)
	}
}

func TestVerifyLowConfidenceStepIsUncertain(t *testing.T) {
	v := New(nil)
	if got := verify(t, v, "reorganize(scope=all) [0.1]"); got != types.VerdictUncertain {
		t.Fatalf("verdict = %s, want %s", got, types.VerdictUncertain)
	}
}

func TestVerifyUnparseablePlan(t *testing.T) {
	v := New(nil)
	if got := verify(t, v, "this is not a plan"); got != types.VerdictUncertain {
		t.Fatalf("lenient verdict = %s, want %s", got, types.VerdictUncertain)
	}

	strict := New(nil, WithStrict(true))
	if got := verify(t, strict, "this is not a plan"); got != types.VerdictCertainFalse {
		t.Fatalf("strict verdict = %s, want %s", got, types.VerdictCertainFalse)
	}
}

func TestVerifyCustomPolicy(t *testing.T) {
	policy := `
denied_action("fetch_data").
plan_violation(Index, Action) :- plan_step(Index, Action), denied_action(Action).
tainted(Index) :- step_risky(Index).
tainted(Index) :- step_depends(Index, Dep), tainted(Dep).
`
	v := New(nil, WithPolicy(policy))
	if got := verify(t, v, "fetch_data(url=https://example.com)"); got != types.VerdictCertainFalse {
		t.Fatalf("verdict = %s, want %s", got, types.VerdictCertainFalse)
	}
}
