package selfmodel

import (
	"strings"
	"testing"

	"ouroboros/internal/types"
)

func TestPhaseCycle(t *testing.T) {
	m := New()

	if m.Phase() != PhasePlan {
		t.Fatalf("initial phase = %s, want %s", m.Phase(), PhasePlan)
	}

	want := []Phase{PhaseExecute, PhaseVerify, PhaseLearn, PhasePlan}
	for i, w := range want {
		got := m.AdvancePhase()
		if got != w {
			t.Fatalf("advance %d = %s, want %s", i, got, w)
		}
	}

	if m.CycleCount() != 1 {
		t.Fatalf("cycle count = %d, want 1 after one full cycle", m.CycleCount())
	}

	// A fifth call begins cycle 2 without drift.
	if got := m.AdvancePhase(); got != PhaseExecute {
		t.Fatalf("fifth advance = %s, want %s", got, PhaseExecute)
	}
	if m.CycleCount() != 1 {
		t.Fatalf("cycle count = %d, want 1 mid-cycle", m.CycleCount())
	}
}

func TestAdvancePhasePanicsOnUnknownPhase(t *testing.T) {
	m := New()
	m.phase = Phase("/bogus")

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on unknown phase")
		}
	}()
	m.AdvancePhase()
}

func TestSetGoal(t *testing.T) {
	m := New()

	if err := m.SetGoal("  "); err == nil {
		t.Fatal("empty goal accepted")
	}
	var verr *types.ValidationError
	if err := m.SetGoal(""); err == nil {
		t.Fatal("empty goal accepted")
	} else if !asValidation(err, &verr) {
		t.Fatalf("error type = %T, want *types.ValidationError", err)
	}

	if err := m.SetGoal("improve test coverage"); err != nil {
		t.Fatalf("SetGoal: %v", err)
	}
	if m.Goal() != "improve test coverage" {
		t.Fatalf("goal = %q", m.Goal())
	}
}

func asValidation(err error, target **types.ValidationError) bool {
	v, ok := err.(*types.ValidationError)
	if ok {
		*target = v
	}
	return ok
}

func TestRecordExperienceUpdatesSuccessRate(t *testing.T) {
	m := New()

	m.RecordExperience(types.Experience{Goal: "a", Success: true, QualityScore: 0.9})
	m.RecordExperience(types.Experience{Goal: "b", Success: false, QualityScore: 0.2})
	m.RecordExperience(types.Experience{Goal: "c", Success: true, QualityScore: 1.7}) // clamped

	if got := m.SuccessRate(); got < 0.66 || got > 0.67 {
		t.Fatalf("success rate = %v, want 2/3", got)
	}
	exps := m.Experiences()
	if exps[2].QualityScore != 1.0 {
		t.Fatalf("quality not clamped: %v", exps[2].QualityScore)
	}
}

func TestAssessConfidence(t *testing.T) {
	m := New()
	m.UpsertCapability(types.Capability{Name: "summarize", Confidence: 0.9})

	// Matching capability but neutral history -> Medium.
	if got := m.AssessConfidence("summarize"); got != ConfidenceMedium {
		t.Fatalf("confidence = %s, want %s", got, ConfidenceMedium)
	}

	// Build a strong history for the action.
	for i := 0; i < 9; i++ {
		m.RecordExperience(types.Experience{Goal: "summarize article", Success: true})
	}
	m.RecordExperience(types.Experience{Goal: "summarize article", Success: false})
	if got := m.AssessConfidence("summarize"); got != ConfidenceHigh {
		t.Fatalf("confidence = %s, want %s", got, ConfidenceHigh)
	}

	// Unknown action with no capability and no history -> Low.
	if got := m.AssessConfidence("teleport"); got != ConfidenceLow {
		t.Fatalf("confidence = %s, want %s", got, ConfidenceLow)
	}
}

func TestAssessConfidenceNeutralDefault(t *testing.T) {
	m := New()
	// No experiences at all: rate defaults to 0.5, not zero. Without a
	// matching capability that is still Low (0.5 is not > 0.5).
	if got := m.AssessConfidence("deploy"); got != ConfidenceLow {
		t.Fatalf("confidence = %s, want %s", got, ConfidenceLow)
	}
}

func TestIsSafeAction(t *testing.T) {
	m := New()

	cases := []struct {
		action string
		want   bool
	}{
		{action: "summarize text", want: true},
		{action: "DELETE SELF and restart", want: false},
		{action: "please Disable Safety checks", want: false},
		{action: "modify own code to be faster", want: false},
		{action: "bypass oversight entirely", want: false},
		{action: "fetch url", want: true},
	}
	for _, tc := range cases {
		t.Run(tc.action, func(t *testing.T) {
			if got := m.IsSafeAction(tc.action); got != tc.want {
				t.Fatalf("IsSafeAction(%q) = %v, want %v", tc.action, got, tc.want)
			}
		})
	}
}

func TestPatternGateScansParams(t *testing.T) {
	g := NewPatternGate(New())

	d := g.Check("run", map[string]interface{}{"cmd": "exfiltrate credentials"})
	if d.Allowed {
		t.Fatal("gate allowed a denied parameter")
	}
	if d.RiskScore != 1.0 {
		t.Fatalf("risk = %v, want 1.0", d.RiskScore)
	}

	d = g.Check("run", map[string]interface{}{"cmd": "echo hi", "n": 3})
	if !d.Allowed {
		t.Fatalf("gate denied a safe action: %s", d.Reason)
	}
	if d.RiskScore != 0.1 {
		t.Fatalf("risk = %v, want 0.1", d.RiskScore)
	}
}

func TestSelfReflect(t *testing.T) {
	m := New()
	if err := m.SetGoal("ship feature"); err != nil {
		t.Fatal(err)
	}
	m.UpsertCapability(types.Capability{Name: "code_review", Confidence: 0.95})
	m.RecordExperience(types.Experience{Goal: "ship feature", Success: true, QualityScore: 0.8})

	out := m.SelfReflect()
	for _, want := range []string{
		"phase: /plan",
		"goal: ship feature",
		"experiences: 1",
		"code_review (0.95)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("reflection missing %q:\n%s", want, out)
		}
	}

	// Deterministic for unchanged state.
	if out != m.SelfReflect() {
		t.Fatal("reflection not deterministic")
	}
}

func TestStrategyGenesDefaults(t *testing.T) {
	m := New()
	genes := m.StrategyGenes()
	if len(genes) != 4 {
		t.Fatalf("gene count = %d, want 4", len(genes))
	}
	for name, w := range genes {
		if w != DefaultGeneWeight {
			t.Fatalf("gene %s = %v, want %v", name, w, DefaultGeneWeight)
		}
	}

	m.UpsertCapability(types.Capability{Name: "planning_depth", Confidence: 0.8})
	if got := m.StrategyGenes()["planning_depth"]; got != 0.8 {
		t.Fatalf("planning_depth = %v, want 0.8", got)
	}
}
