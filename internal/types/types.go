// Package types holds the shared data model for the improvement-cycle engine.
// Kept dependency-free so every internal package can import it without cycles.
package types

import (
	"time"
)

// Clamp01 clamps v into [0,1]. Confidence scores and gene weights are
// clamped on every write so downstream math never sees out-of-range values.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// PlanStep is a single action within a Plan. Owned exclusively by its Plan.
type PlanStep struct {
	Action     string                 `json:"action"`
	Params     map[string]interface{} `json:"params,omitempty"`
	Expected   string                 `json:"expected,omitempty"`
	Confidence float64                `json:"confidence"`
}

// SetConfidence writes the confidence score, clamped into [0,1].
func (s *PlanStep) SetConfidence(v float64) {
	s.Confidence = Clamp01(v)
}

// Plan is an ordered sequence of steps for one goal.
// Immutable once produced for a cycle; a new Plan is created per goal invocation.
type Plan struct {
	Goal       string             `json:"goal"`
	Steps      []PlanStep         `json:"steps"`
	Confidence map[string]float64 `json:"confidence,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

// StepResult is the outcome of one execution attempt of one step.
// Produced exactly once per step per attempt and never mutated after creation.
type StepResult struct {
	StepIndex int                    `json:"step_index"`
	Step      *PlanStep              `json:"step,omitempty"`
	Success   bool                   `json:"success"`
	Output    string                 `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Duration  time.Duration          `json:"duration"`
	Observed  map[string]interface{} `json:"observed,omitempty"`
}

// Capability is a named skill with a confidence score.
type Capability struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// Limitation is a known weakness and how to work around it.
type Limitation struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Mitigation  string `json:"mitigation,omitempty"`
}

// Experience records the outcome of one goal attempt.
type Experience struct {
	Goal         string        `json:"goal"`
	Success      bool          `json:"success"`
	QualityScore float64       `json:"quality_score"`
	Insights     []string      `json:"insights,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// SafetyDecision is the gate's verdict for a single step.
type SafetyDecision struct {
	Allowed   bool    `json:"allowed"`
	Reason    string  `json:"reason,omitempty"`
	RiskScore float64 `json:"risk_score"`
}

// Verdict is the three-valued outcome of symbolic plan verification.
type Verdict string

const (
	VerdictCertainTrue  Verdict = "/certain_true"  // Plan provably satisfies policy
	VerdictCertainFalse Verdict = "/certain_false" // Plan provably violates policy
	VerdictUncertain    Verdict = "/uncertain"     // Policy cannot decide
)

// CycleResult is the user-visible outcome of one full improvement cycle.
// It always carries an explicit Success flag plus aggregated error text,
// even when individual steps failed or the cycle was cancelled.
type CycleResult struct {
	ID          string        `json:"id"`
	Goal        string        `json:"goal"`
	CycleNumber int           `json:"cycle_number"`
	Success     bool          `json:"success"`
	Cancelled   bool          `json:"cancelled,omitempty"`
	Errors      string        `json:"errors,omitempty"`
	Plan        *Plan         `json:"plan,omitempty"`
	Results     []StepResult  `json:"results,omitempty"`
	Verdict     Verdict       `json:"verdict,omitempty"`
	Promoted    bool          `json:"promoted,omitempty"`
	Duration    time.Duration `json:"duration"`
}
